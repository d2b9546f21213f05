package persistence

import (
	"context"
	"testing"

	"github.com/batchgate/batchgate/internal/domain/entity"
	"github.com/batchgate/batchgate/pkg/errors"
)

// === Save / Find / Delete ===

func TestMemoryFileRepository_Lifecycle(t *testing.T) {
	repo := NewMemoryFileRepository()
	ctx := context.Background()

	f := &entity.FileObject{
		ID:       "file-1",
		Object:   "file",
		Bytes:    42,
		Filename: "input.jsonl",
		Purpose:  entity.FilePurposeBatch,
	}
	if err := repo.Save(ctx, f); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := repo.FindByID(ctx, "file-1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.Bytes != 42 || got.Purpose != entity.FilePurposeBatch {
		t.Errorf("got %+v", got)
	}

	if err := repo.Delete(ctx, "file-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.FindByID(ctx, "file-1"); !errors.IsNotFound(err) {
		t.Errorf("after delete: expected not-found, got %v", err)
	}
	if err := repo.Delete(ctx, "file-1"); !errors.IsNotFound(err) {
		t.Errorf("double delete: expected not-found, got %v", err)
	}
}

// === FindAll ordering ===

func TestMemoryFileRepository_FindAllSorted(t *testing.T) {
	repo := NewMemoryFileRepository()
	ctx := context.Background()
	_ = repo.Save(ctx, &entity.FileObject{ID: "file-z", CreatedAt: 300})
	_ = repo.Save(ctx, &entity.FileObject{ID: "file-a", CreatedAt: 100})

	all, err := repo.FindAll(ctx)
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	if len(all) != 2 || all[0].ID != "file-a" || all[1].ID != "file-z" {
		t.Errorf("order wrong: %+v", all)
	}
}
