package repository

import (
	"context"

	"github.com/batchgate/batchgate/internal/domain/entity"
)

// FileRepository 文件元数据仓储接口，blob 内容由 filestore 持有
type FileRepository interface {
	// Save 保存文件元数据
	Save(ctx context.Context, file *entity.FileObject) error

	// FindByID 根据ID查找文件元数据，返回快照
	FindByID(ctx context.Context, id string) (*entity.FileObject, error)

	// FindAll 返回全部文件元数据快照（按创建时间排序）
	FindAll(ctx context.Context) ([]*entity.FileObject, error)

	// Delete 删除文件元数据
	Delete(ctx context.Context, id string) error
}
