package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/batchgate/batchgate/internal/domain/entity"
	"github.com/batchgate/batchgate/internal/domain/repository"
	"github.com/batchgate/batchgate/pkg/errors"
)

// MemoryBatchRepository 内存实现的批处理任务仓储
// 读操作返回深拷贝快照，写操作通过 Update 闭包在锁内完成，避免撕裂读
type MemoryBatchRepository struct {
	mu      sync.RWMutex
	batches map[string]*entity.Batch
}

// NewMemoryBatchRepository 创建内存批处理任务仓储
func NewMemoryBatchRepository() repository.BatchRepository {
	return &MemoryBatchRepository{
		batches: make(map[string]*entity.Batch),
	}
}

// Save 保存批处理任务
func (r *MemoryBatchRepository) Save(ctx context.Context, batch *entity.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.batches[batch.ID] = batch.Clone()
	return nil
}

// FindByID 根据ID查找批处理任务
func (r *MemoryBatchRepository) FindByID(ctx context.Context, id string) (*entity.Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	batch, ok := r.batches[id]
	if !ok {
		return nil, errors.NewNotFoundError("Batch not found")
	}
	return batch.Clone(), nil
}

// FindAll 返回全部批处理任务（按创建时间排序）
func (r *MemoryBatchRepository) FindAll(ctx context.Context) ([]*entity.Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*entity.Batch, 0, len(r.batches))
	for _, b := range r.batches {
		out = append(out, b.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Update 以闭包方式原子更新
func (r *MemoryBatchRepository) Update(ctx context.Context, id string, fn func(*entity.Batch) error) (*entity.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch, ok := r.batches[id]
	if !ok {
		return nil, errors.NewNotFoundError("Batch not found")
	}

	work := batch.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	r.batches[id] = work
	return work.Clone(), nil
}
