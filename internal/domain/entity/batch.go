package entity

// BatchStatus is the lifecycle state of a batch job.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusInProgress BatchStatus = "in_progress"
	BatchStatusCancelling BatchStatus = "cancelling"
	BatchStatusCancelled  BatchStatus = "cancelled"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
	// BatchStatusExpired exists for API-shape parity; the gateway never
	// sets it (expires_at is informational).
	BatchStatusExpired BatchStatus = "expired"
)

// IsTerminal reports whether no further transitions are allowed.
func (s BatchStatus) IsTerminal() bool {
	switch s {
	case BatchStatusCancelled, BatchStatusCompleted, BatchStatusFailed, BatchStatusExpired:
		return true
	}
	return false
}

// RequestCounts tracks per-batch request accounting. Total is the number
// of successfully materialized requests; parse failures count toward
// Failed only, so Completed+Failed can exceed Total.
type RequestCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// BatchUsage accumulates engine-reported token usage across the batch's
// 200-status responses.
type BatchUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// BatchError describes a job-level failure.
type BatchError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Batch is a batch job over an uploaded JSONL file, shaped like the
// OpenAI Batch object. Pointer timestamps render as null until set.
type Batch struct {
	ID               string            `json:"id"`
	Object           string            `json:"object"`
	Endpoint         string            `json:"endpoint"`
	Errors           *BatchError       `json:"errors"`
	InputFileID      string            `json:"input_file_id"`
	CompletionWindow string            `json:"completion_window"`
	Status           BatchStatus       `json:"status"`
	OutputFileID     *string           `json:"output_file_id"`
	ErrorFileID      *string           `json:"error_file_id"`
	CreatedAt        int64             `json:"created_at"`
	InProgressAt     *int64            `json:"in_progress_at"`
	ExpiresAt        *int64            `json:"expires_at"`
	FinalizingAt     *int64            `json:"finalizing_at"`
	CompletedAt      *int64            `json:"completed_at"`
	FailedAt         *int64            `json:"failed_at"`
	ExpiredAt        *int64            `json:"expired_at"`
	CancellingAt     *int64            `json:"cancelling_at"`
	CancelledAt      *int64            `json:"cancelled_at"`
	RequestCounts    RequestCounts     `json:"request_counts"`
	Metadata         map[string]string `json:"metadata"`
	Usage            BatchUsage        `json:"usage"`
}

// Clone returns a deep copy so readers never observe concurrent mutation.
func (b *Batch) Clone() *Batch {
	c := *b
	c.Errors = clonePtr(b.Errors)
	c.OutputFileID = clonePtr(b.OutputFileID)
	c.ErrorFileID = clonePtr(b.ErrorFileID)
	c.InProgressAt = clonePtr(b.InProgressAt)
	c.ExpiresAt = clonePtr(b.ExpiresAt)
	c.FinalizingAt = clonePtr(b.FinalizingAt)
	c.CompletedAt = clonePtr(b.CompletedAt)
	c.FailedAt = clonePtr(b.FailedAt)
	c.ExpiredAt = clonePtr(b.ExpiredAt)
	c.CancellingAt = clonePtr(b.CancellingAt)
	c.CancelledAt = clonePtr(b.CancelledAt)
	if b.Metadata != nil {
		c.Metadata = make(map[string]string, len(b.Metadata))
		for k, v := range b.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
