package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/batchgate/batchgate/internal/domain/entity"
	"github.com/batchgate/batchgate/internal/domain/repository"
	"github.com/batchgate/batchgate/pkg/errors"
)

// MemoryFileRepository 内存实现的文件元数据仓储
type MemoryFileRepository struct {
	mu    sync.RWMutex
	files map[string]*entity.FileObject
}

// NewMemoryFileRepository 创建内存文件元数据仓储
func NewMemoryFileRepository() repository.FileRepository {
	return &MemoryFileRepository{
		files: make(map[string]*entity.FileObject),
	}
}

// Save 保存文件元数据
func (r *MemoryFileRepository) Save(ctx context.Context, file *entity.FileObject) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.files[file.ID] = file.Clone()
	return nil
}

// FindByID 根据ID查找文件元数据
func (r *MemoryFileRepository) FindByID(ctx context.Context, id string) (*entity.FileObject, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	file, ok := r.files[id]
	if !ok {
		return nil, errors.NewNotFoundError("File not found")
	}
	return file.Clone(), nil
}

// FindAll 返回全部文件元数据（按创建时间排序）
func (r *MemoryFileRepository) FindAll(ctx context.Context) ([]*entity.FileObject, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*entity.FileObject, 0, len(r.files))
	for _, f := range r.files {
		out = append(out, f.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Delete 删除文件元数据
func (r *MemoryFileRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.files[id]; !ok {
		return errors.NewNotFoundError("File not found")
	}
	delete(r.files, id)
	return nil
}
