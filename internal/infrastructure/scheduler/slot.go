package scheduler

import (
	"context"
	"sync"
)

// Result is the terminal outcome of a slot: the engine's HTTP status and
// body, or the status and body the scheduler synthesized for a transport
// failure. Callers relay it as-is.
type Result struct {
	StatusCode int
	Body       []byte
}

// Slot carries one engine-bound request through a dispatch queue and back
// to the caller. A slot completes exactly once; later completions are
// silently ignored.
type Slot struct {
	Endpoint string
	Payload  []byte
	CustomID string

	once   sync.Once
	done   chan struct{}
	result Result
}

// NewSlot creates a slot for one request payload.
func NewSlot(endpoint string, payload []byte) *Slot {
	return &Slot{
		Endpoint: endpoint,
		Payload:  payload,
		done:     make(chan struct{}),
	}
}

// Complete records the outcome. Only the first call takes effect.
func (s *Slot) Complete(statusCode int, body []byte) {
	s.once.Do(func() {
		s.result = Result{StatusCode: statusCode, Body: body}
		close(s.done)
	})
}

// Done is closed once the slot has a result.
func (s *Slot) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the slot completes or ctx expires.
func (s *Slot) Wait(ctx context.Context) (Result, error) {
	select {
	case <-s.done:
		return s.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Result returns the recorded outcome. Only valid after Done is closed.
func (s *Slot) Result() Result {
	return s.result
}
