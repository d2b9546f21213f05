package repository

import (
	"context"

	"github.com/batchgate/batchgate/internal/domain/entity"
)

// BatchRepository 批处理任务仓储接口
type BatchRepository interface {
	// Save 保存批处理任务
	Save(ctx context.Context, batch *entity.Batch) error

	// FindByID 根据ID查找批处理任务，返回深拷贝快照
	FindByID(ctx context.Context, id string) (*entity.Batch, error)

	// FindAll 返回全部批处理任务快照（按创建时间排序）
	FindAll(ctx context.Context) ([]*entity.Batch, error)

	// Update 以闭包方式原子更新，返回更新后的快照
	Update(ctx context.Context, id string, fn func(*entity.Batch) error) (*entity.Batch, error)
}
