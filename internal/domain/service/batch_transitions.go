package service

import (
	"fmt"

	"github.com/batchgate/batchgate/internal/domain/entity"
)

// batchTransitions defines the allowed batch status transitions.
// Key = from status, Value = set of allowed target statuses.
var batchTransitions = map[entity.BatchStatus]map[entity.BatchStatus]bool{
	entity.BatchStatusPending: {
		entity.BatchStatusInProgress: true,
		entity.BatchStatusCancelling: true,
	},
	entity.BatchStatusInProgress: {
		entity.BatchStatusCancelling: true,
		entity.BatchStatusCompleted:  true,
		entity.BatchStatusFailed:     true,
	},
	entity.BatchStatusCancelling: {
		entity.BatchStatusCancelled: true,
	},
	// Terminal states, no transitions out
	entity.BatchStatusCancelled: {},
	entity.BatchStatusCompleted: {},
	entity.BatchStatusFailed:    {},
	entity.BatchStatusExpired:   {},
}

// CanTransitionBatch reports whether from → to is a legal status change.
func CanTransitionBatch(from, to entity.BatchStatus) bool {
	allowed, ok := batchTransitions[from]
	return ok && allowed[to]
}

// TransitionBatch moves the batch to a new status, stamping the matching
// timestamp field. Returns an error when the transition is not allowed;
// the batch is left unchanged in that case.
func TransitionBatch(b *entity.Batch, to entity.BatchStatus, now int64) error {
	if !CanTransitionBatch(b.Status, to) {
		return fmt.Errorf("invalid batch transition: %s → %s", b.Status, to)
	}

	b.Status = to
	switch to {
	case entity.BatchStatusInProgress:
		b.InProgressAt = &now
	case entity.BatchStatusCancelling:
		b.CancellingAt = &now
	case entity.BatchStatusCancelled:
		b.CancelledAt = &now
	case entity.BatchStatusCompleted:
		b.CompletedAt = &now
	case entity.BatchStatusFailed:
		b.FailedAt = &now
	}
	return nil
}
