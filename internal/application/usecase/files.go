package usecase

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/batchgate/batchgate/internal/domain/entity"
	"github.com/batchgate/batchgate/internal/domain/repository"
	"github.com/batchgate/batchgate/internal/infrastructure/eventbus"
	"github.com/batchgate/batchgate/internal/infrastructure/filestore"
	apperrors "github.com/batchgate/batchgate/pkg/errors"
)

// FileUseCase stores uploaded blobs and their metadata records. Batch
// executors register their artifacts through the same repository, so
// everything under /v1/files is served from one place.
type FileUseCase struct {
	files  repository.FileRepository
	blobs  *filestore.Store
	bus    eventbus.Bus
	logger *zap.Logger
}

// NewFileUseCase creates the file use-case.
func NewFileUseCase(files repository.FileRepository, blobs *filestore.Store, bus eventbus.Bus, logger *zap.Logger) *FileUseCase {
	return &FileUseCase{
		files:  files,
		blobs:  blobs,
		bus:    bus,
		logger: logger,
	}
}

// Upload persists the blob and registers its FileObject. Uploads only
// accept purpose "batch"; "batch_output" is reserved for generated
// artifacts.
func (uc *FileUseCase) Upload(ctx context.Context, filename, purpose string, r io.Reader) (*entity.FileObject, error) {
	if purpose != entity.FilePurposeBatch {
		return nil, apperrors.NewInvalidInputError(entity.ErrInvalidFilePurpose.Error())
	}

	id := "file-" + uuid.NewString()
	size, err := uc.blobs.Save(id, r)
	if err != nil {
		return nil, apperrors.NewInternalErrorWithCause("failed to store file", err)
	}

	obj := &entity.FileObject{
		ID:        id,
		Object:    "file",
		Bytes:     size,
		CreatedAt: time.Now().Unix(),
		Filename:  filename,
		Purpose:   purpose,
	}
	if err := uc.files.Save(ctx, obj); err != nil {
		_ = uc.blobs.Delete(id)
		return nil, err
	}

	uc.bus.Publish(ctx, eventbus.NewEvent(eventbus.EventTypeFileUploaded, eventbus.FileUploadedPayload{
		FileID:   obj.ID,
		Filename: obj.Filename,
		Bytes:    obj.Bytes,
		Purpose:  obj.Purpose,
	}))
	uc.logger.Info("file uploaded",
		zap.String("file_id", id),
		zap.String("filename", filename),
		zap.Int64("bytes", size))
	return obj, nil
}

// Get returns a file's metadata.
func (uc *FileUseCase) Get(ctx context.Context, id string) (*entity.FileObject, error) {
	return uc.files.FindByID(ctx, id)
}

// List returns all known files, uploads and artifacts alike.
func (uc *FileUseCase) List(ctx context.Context) ([]*entity.FileObject, error) {
	return uc.files.FindAll(ctx)
}

// Content opens the raw blob for download. The caller must close the
// reader.
func (uc *FileUseCase) Content(ctx context.Context, id string) (io.ReadCloser, *entity.FileObject, error) {
	obj, err := uc.files.FindByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := uc.blobs.Open(id)
	if err != nil {
		return nil, nil, apperrors.NewInternalErrorWithCause("failed to open file content", err)
	}
	return rc, obj, nil
}

// Delete removes the metadata record and the blob.
func (uc *FileUseCase) Delete(ctx context.Context, id string) error {
	if err := uc.files.Delete(ctx, id); err != nil {
		return err
	}
	if err := uc.blobs.Delete(id); err != nil {
		uc.logger.Warn("blob removal failed after metadata delete",
			zap.String("file_id", id),
			zap.Error(err))
	}
	return nil
}
