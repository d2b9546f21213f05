package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/batchgate/batchgate/internal/domain/entity"
	"github.com/batchgate/batchgate/internal/domain/repository"
	"github.com/batchgate/batchgate/internal/domain/service"
	"github.com/batchgate/batchgate/internal/infrastructure/eventbus"
	"github.com/batchgate/batchgate/internal/infrastructure/filestore"
	"github.com/batchgate/batchgate/internal/infrastructure/scheduler"
	apperrors "github.com/batchgate/batchgate/pkg/errors"
	"github.com/batchgate/batchgate/pkg/safego"
)

// batchExpiryWindow is stamped onto expires_at when execution starts. The
// gateway never enforces it; the field is informational.
const batchExpiryWindow = 24 * time.Hour

// errCancelledBeforeStart signals that a batch was cancelled while still
// pending, before its executor touched the input file.
var errCancelledBeforeStart = errors.New("batch cancelled before start")

// BatchOptions fixes the engine-facing parameters of materialized batch
// requests. Input lines never override them.
type BatchOptions struct {
	Model     string
	MaxTokens int
	Priority  int
}

// CreateBatchInput is the decoded create-batch request body.
type CreateBatchInput struct {
	InputFileID      string            `json:"input_file_id"`
	Endpoint         string            `json:"endpoint"`
	CompletionWindow string            `json:"completion_window"`
	Metadata         map[string]string `json:"metadata"`
}

// BatchUseCase owns the batch job lifecycle: creation, background
// execution over the batch dispatch class, cancellation, and artifact
// registration.
type BatchUseCase struct {
	batches repository.BatchRepository
	files   repository.FileRepository
	blobs   *filestore.Store
	sched   *scheduler.Scheduler
	codec   service.Codec
	bus     eventbus.Bus
	logger  *zap.Logger
	opts    BatchOptions

	executors sync.WaitGroup
}

// NewBatchUseCase creates the batch use-case.
func NewBatchUseCase(
	batches repository.BatchRepository,
	files repository.FileRepository,
	blobs *filestore.Store,
	sched *scheduler.Scheduler,
	codec service.Codec,
	bus eventbus.Bus,
	opts BatchOptions,
	logger *zap.Logger,
) *BatchUseCase {
	return &BatchUseCase{
		batches: batches,
		files:   files,
		blobs:   blobs,
		sched:   sched,
		codec:   codec,
		bus:     bus,
		logger:  logger,
		opts:    opts,
	}
}

// Create registers a pending batch and launches its executor in the
// background. The input file is not inspected here; problems surface as a
// failed batch, never as a failed create.
func (uc *BatchUseCase) Create(ctx context.Context, input CreateBatchInput) (*entity.Batch, error) {
	if input.InputFileID == "" || input.Endpoint == "" || input.CompletionWindow == "" {
		return nil, apperrors.NewInvalidInputError("input_file_id, endpoint and completion_window are required")
	}

	b := &entity.Batch{
		ID:               "batch_" + uuid.NewString(),
		Object:           "batch",
		Endpoint:         input.Endpoint,
		InputFileID:      input.InputFileID,
		CompletionWindow: input.CompletionWindow,
		Status:           entity.BatchStatusPending,
		CreatedAt:        time.Now().Unix(),
		Metadata:         input.Metadata,
	}
	if err := uc.batches.Save(ctx, b); err != nil {
		return nil, err
	}

	uc.bus.Publish(ctx, eventbus.NewEvent(eventbus.EventTypeBatchCreated, eventbus.BatchCreatedPayload{
		BatchID:     b.ID,
		InputFileID: b.InputFileID,
		Endpoint:    b.Endpoint,
	}))

	uc.executors.Add(1)
	safego.Go(uc.logger, "batch-executor-"+b.ID, func() {
		defer uc.executors.Done()
		uc.execute(context.Background(), b.ID)
	})

	uc.logger.Info("batch created",
		zap.String("batch_id", b.ID),
		zap.String("input_file_id", b.InputFileID))
	return b, nil
}

// Get returns a snapshot of the batch.
func (uc *BatchUseCase) Get(ctx context.Context, id string) (*entity.Batch, error) {
	return uc.batches.FindByID(ctx, id)
}

// List returns snapshots of all known batches.
func (uc *BatchUseCase) List(ctx context.Context) ([]*entity.Batch, error) {
	return uc.batches.FindAll(ctx)
}

// Cancel requests cancellation. Pending and in-progress batches move to
// cancelling and are finalized by their executor; anything else is
// rejected.
func (uc *BatchUseCase) Cancel(ctx context.Context, id string) (*entity.Batch, error) {
	var from entity.BatchStatus
	updated, err := uc.batches.Update(ctx, id, func(b *entity.Batch) error {
		if b.Status.IsTerminal() || b.Status == entity.BatchStatusCancelling {
			return apperrors.NewInvalidInputError(
				fmt.Sprintf("Batch is already in a terminal state: %s", b.Status))
		}
		from = b.Status
		return service.TransitionBatch(b, entity.BatchStatusCancelling, time.Now().Unix())
	})
	if err != nil {
		return nil, err
	}

	uc.publishStatus(ctx, updated, from)
	uc.logger.Info("batch cancellation requested", zap.String("batch_id", id))
	return updated, nil
}

// Drain waits for in-flight executors to finish writing artifacts. Call
// after the scheduler has drained, so their slots are already resolved.
func (uc *BatchUseCase) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		uc.executors.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// batchInputLine is one record of the uploaded JSONL file. Only messages
// matter; any other fields are ignored.
type batchInputLine struct {
	Messages []entity.Message `json:"messages"`
}

// materializedRequest pairs an engine payload with its artifact identity.
type materializedRequest struct {
	customID string
	payload  []byte
}

// artifactLine is the per-request record written to the output or error
// artifact.
type artifactLine struct {
	CustomID string           `json:"custom_id"`
	Response artifactResponse `json:"response"`
}

type artifactResponse struct {
	StatusCode int `json:"status_code"`
	Body       any `json:"body"`
}

// usageEnvelope extracts the usage block of a 200 engine response.
type usageEnvelope struct {
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// execute drives one batch from pending to a terminal state. It runs in
// its own goroutine and reports problems through the batch record, never
// by crashing.
func (uc *BatchUseCase) execute(ctx context.Context, id string) {
	now := time.Now().Unix()
	started, err := uc.batches.Update(ctx, id, func(b *entity.Batch) error {
		if b.Status == entity.BatchStatusCancelling {
			return errCancelledBeforeStart
		}
		if err := service.TransitionBatch(b, entity.BatchStatusInProgress, now); err != nil {
			return err
		}
		expires := now + int64(batchExpiryWindow/time.Second)
		b.ExpiresAt = &expires
		return nil
	})
	if err != nil {
		if errors.Is(err, errCancelledBeforeStart) {
			uc.finalizeCancelled(ctx, id)
			return
		}
		uc.logger.Error("batch start failed", zap.String("batch_id", id), zap.Error(err))
		return
	}
	uc.publishStatus(ctx, started, entity.BatchStatusPending)

	data, err := uc.blobs.Read(started.InputFileID)
	if err != nil {
		uc.failJob(ctx, id, fmt.Sprintf("Batch processing failed: %v", err))
		return
	}

	outputID := "file-" + uuid.NewString()
	errorID := "file-" + uuid.NewString()
	outWriter, err := uc.blobs.Create(outputID)
	if err != nil {
		uc.failJob(ctx, id, fmt.Sprintf("Batch processing failed: %v", err))
		return
	}
	errWriter, err := uc.blobs.Create(errorID)
	if err != nil {
		_ = outWriter.Close()
		_ = uc.blobs.Delete(outputID)
		uc.failJob(ctx, id, fmt.Sprintf("Batch processing failed: %v", err))
		return
	}

	requests, parseErrors := uc.materialize(data)
	for _, msg := range parseErrors {
		uc.writeLine(errWriter, map[string]string{"error": msg})
	}

	completed, failed := 0, len(parseErrors)
	var usage entity.BatchUsage

	// total counts materialized requests only; parse failures sit outside.
	_, _ = uc.batches.Update(ctx, id, func(b *entity.Batch) error {
		b.RequestCounts.Total = len(requests)
		b.RequestCounts.Failed = failed
		return nil
	})

	// Fan out in input order. A slot the scheduler refuses (shutdown) is
	// completed locally so the gather below stays uniform.
	slots := make([]*scheduler.Slot, 0, len(requests))
	for _, req := range requests {
		slot := scheduler.NewSlot(started.Endpoint, req.payload)
		slot.CustomID = req.customID
		if err := uc.sched.Submit(ctx, scheduler.ClassBatch, slot); err != nil {
			status, msg := http.StatusInternalServerError, err.Error()
			var appErr *apperrors.AppError
			if errors.As(err, &appErr) {
				status, msg = appErr.HTTPStatus(), appErr.Message
			}
			slot.Complete(status, mustJSON(map[string]string{"error": msg}))
		}
		slots = append(slots, slot)
	}

	// Gather in original index order, watching for cancellation between
	// results. In-flight slots fulfill harmlessly after a cancel; their
	// outputs are simply not written.
	cancelled := false
	for _, slot := range slots {
		if snapshot, err := uc.batches.FindByID(ctx, id); err == nil &&
			snapshot.Status == entity.BatchStatusCancelling {
			cancelled = true
			break
		}

		result, err := slot.Wait(ctx)
		if err != nil {
			break
		}

		if result.StatusCode == http.StatusOK {
			uc.writeLine(outWriter, artifactLine{
				CustomID: slot.CustomID,
				Response: artifactResponse{StatusCode: result.StatusCode, Body: rawOrString(result.Body)},
			})
			completed++
			var env usageEnvelope
			if json.Unmarshal(result.Body, &env) == nil {
				usage.PromptTokens += env.Usage.PromptTokens
				usage.CompletionTokens += env.Usage.CompletionTokens
			}
		} else {
			uc.writeLine(errWriter, artifactLine{
				CustomID: slot.CustomID,
				Response: artifactResponse{StatusCode: result.StatusCode, Body: rawOrString(result.Body)},
			})
			failed++
		}

		_, _ = uc.batches.Update(ctx, id, func(b *entity.Batch) error {
			b.RequestCounts.Completed = completed
			b.RequestCounts.Failed = failed
			b.Usage = usage
			return nil
		})
	}

	outFileID := uc.sealArtifact(ctx, outWriter, outputID, started.ID+"_output.jsonl")
	errFileID := uc.sealArtifact(ctx, errWriter, errorID, started.ID+"_errors.jsonl")

	var from entity.BatchStatus
	final, err := uc.batches.Update(ctx, id, func(b *entity.Batch) error {
		from = b.Status
		b.OutputFileID = outFileID
		b.ErrorFileID = errFileID
		b.RequestCounts.Completed = completed
		b.RequestCounts.Failed = failed
		b.Usage = usage
		// A cancel that lands after the last gather check still wins.
		if b.Status == entity.BatchStatusCancelling {
			return service.TransitionBatch(b, entity.BatchStatusCancelled, time.Now().Unix())
		}
		return service.TransitionBatch(b, entity.BatchStatusCompleted, time.Now().Unix())
	})
	if err != nil {
		uc.logger.Error("batch finalize failed", zap.String("batch_id", id), zap.Error(err))
		return
	}

	uc.publishStatus(ctx, final, from)
	uc.logger.Info("batch finished",
		zap.String("batch_id", id),
		zap.String("status", string(final.Status)),
		zap.Int("total", final.RequestCounts.Total),
		zap.Int("completed", final.RequestCounts.Completed),
		zap.Int("failed", final.RequestCounts.Failed),
		zap.Bool("cancelled", cancelled))
}

// materialize parses the JSONL input and builds one engine payload per
// valid line. Line numbers are 1-indexed over all lines; blank lines are
// skipped silently but keep their number.
func (uc *BatchUseCase) materialize(data []byte) ([]materializedRequest, []string) {
	var requests []materializedRequest
	var parseErrors []string

	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		n := i + 1
		if strings.TrimSpace(line) == "" {
			continue
		}

		var rec batchInputLine
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			parseErrors = append(parseErrors, fmt.Sprintf("Error processing line %d: %v", n, err))
			continue
		}
		system, user, ok := firstSystemAndUser(rec.Messages)
		if !ok {
			parseErrors = append(parseErrors,
				fmt.Sprintf("Error processing line %d: missing system or user message", n))
			continue
		}

		// Template substitution: the user turn is folded into the system
		// prompt, producing a single-message request.
		content := strings.ReplaceAll(system, "<user_profile>", user)
		content = strings.ReplaceAll(content, "<system_info>", "")
		messages := service.TruncateMessages(uc.codec,
			[]entity.Message{{Role: "system", Content: content}}, service.MaxInputLength)

		payload, err := json.Marshal(map[string]any{
			"model":      uc.opts.Model,
			"messages":   messages,
			"max_tokens": uc.opts.MaxTokens,
			"priority":   uc.opts.Priority,
		})
		if err != nil {
			parseErrors = append(parseErrors, fmt.Sprintf("Error processing line %d: %v", n, err))
			continue
		}

		requests = append(requests, materializedRequest{
			customID: fmt.Sprintf("request-%d", n),
			payload:  payload,
		})
	}
	return requests, parseErrors
}

// firstSystemAndUser returns the contents of the first system and first
// user message; ok is false when either is missing.
func firstSystemAndUser(messages []entity.Message) (system, user string, ok bool) {
	var haveSystem, haveUser bool
	for _, m := range messages {
		switch m.Role {
		case "system":
			if !haveSystem {
				system, haveSystem = m.Content, true
			}
		case "user":
			if !haveUser {
				user, haveUser = m.Content, true
			}
		}
		if haveSystem && haveUser {
			break
		}
	}
	return system, user, haveSystem && haveUser
}

// sealArtifact closes the writer and applies the empty-artifact rule: an
// empty blob is deleted and stays unreferenced, a non-empty one becomes a
// registered FileObject.
func (uc *BatchUseCase) sealArtifact(ctx context.Context, w io.WriteCloser, blobID, filename string) *string {
	if err := w.Close(); err != nil {
		uc.logger.Error("artifact close failed", zap.String("blob_id", blobID), zap.Error(err))
	}

	size, err := uc.blobs.Size(blobID)
	if err != nil || size == 0 {
		_ = uc.blobs.Delete(blobID)
		return nil
	}

	obj := &entity.FileObject{
		ID:        blobID,
		Object:    "file",
		Bytes:     size,
		CreatedAt: time.Now().Unix(),
		Filename:  filename,
		Purpose:   entity.FilePurposeBatchOutput,
	}
	if err := uc.files.Save(ctx, obj); err != nil {
		uc.logger.Error("artifact registration failed", zap.String("file_id", blobID), zap.Error(err))
	}
	return &blobID
}

// failJob finalizes a job-level failure. A concurrent cancel still wins
// the terminal state.
func (uc *BatchUseCase) failJob(ctx context.Context, id, detail string) {
	var from entity.BatchStatus
	final, err := uc.batches.Update(ctx, id, func(b *entity.Batch) error {
		from = b.Status
		if b.Status == entity.BatchStatusCancelling {
			return service.TransitionBatch(b, entity.BatchStatusCancelled, time.Now().Unix())
		}
		if err := service.TransitionBatch(b, entity.BatchStatusFailed, time.Now().Unix()); err != nil {
			return err
		}
		b.Errors = &entity.BatchError{Code: "500", Message: detail}
		return nil
	})
	if err != nil {
		uc.logger.Error("batch failure finalize failed", zap.String("batch_id", id), zap.Error(err))
		return
	}

	uc.publishStatus(ctx, final, from)
	uc.logger.Error("batch failed", zap.String("batch_id", id), zap.String("detail", detail))
}

// finalizeCancelled settles a batch that was cancelled before execution
// started. No artifacts exist for it.
func (uc *BatchUseCase) finalizeCancelled(ctx context.Context, id string) {
	var from entity.BatchStatus
	final, err := uc.batches.Update(ctx, id, func(b *entity.Batch) error {
		from = b.Status
		return service.TransitionBatch(b, entity.BatchStatusCancelled, time.Now().Unix())
	})
	if err != nil {
		uc.logger.Error("batch cancel finalize failed", zap.String("batch_id", id), zap.Error(err))
		return
	}
	uc.publishStatus(ctx, final, from)
}

func (uc *BatchUseCase) publishStatus(ctx context.Context, b *entity.Batch, from entity.BatchStatus) {
	uc.bus.Publish(ctx, eventbus.NewEvent(eventbus.EventTypeBatchStatusChanged, eventbus.BatchStatusPayload{
		BatchID:          b.ID,
		FromStatus:       string(from),
		ToStatus:         string(b.Status),
		Total:            b.RequestCounts.Total,
		Completed:        b.RequestCounts.Completed,
		Failed:           b.RequestCounts.Failed,
		PromptTokens:     b.Usage.PromptTokens,
		CompletionTokens: b.Usage.CompletionTokens,
	}))
}

// writeLine appends one JSON line to an artifact.
func (uc *BatchUseCase) writeLine(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	if err := enc.Encode(v); err != nil {
		uc.logger.Error("artifact write failed", zap.Error(err))
	}
}

// rawOrString keeps valid JSON bodies as JSON and falls back to a plain
// string otherwise.
func rawOrString(body []byte) any {
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	return string(body)
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
