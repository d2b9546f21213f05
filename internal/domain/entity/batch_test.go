package entity

import (
	"encoding/json"
	"strings"
	"testing"
)

// === Terminal states ===

func TestBatchStatus_IsTerminal(t *testing.T) {
	terminal := []BatchStatus{BatchStatusCancelled, BatchStatusCompleted, BatchStatusFailed, BatchStatusExpired}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}

	live := []BatchStatus{BatchStatusPending, BatchStatusInProgress, BatchStatusCancelling}
	for _, s := range live {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

// === Clone isolation ===

func TestBatch_CloneIsolation(t *testing.T) {
	ts := int64(1700000000)
	out := "file-abc"
	b := &Batch{
		ID:           "batch_1",
		Status:       BatchStatusInProgress,
		InProgressAt: &ts,
		OutputFileID: &out,
		Metadata:     map[string]string{"k": "v"},
		RequestCounts: RequestCounts{
			Total: 3,
		},
	}

	c := b.Clone()
	*c.InProgressAt = 42
	*c.OutputFileID = "file-other"
	c.Metadata["k"] = "changed"
	c.RequestCounts.Completed = 99

	if *b.InProgressAt != ts {
		t.Error("clone shares timestamp pointer")
	}
	if *b.OutputFileID != "file-abc" {
		t.Error("clone shares file-id pointer")
	}
	if b.Metadata["k"] != "v" {
		t.Error("clone shares metadata map")
	}
	if b.RequestCounts.Completed != 0 {
		t.Error("clone shares counts")
	}
}

// === JSON shape ===

func TestBatch_JSONNullsForUnsetTimestamps(t *testing.T) {
	b := &Batch{
		ID:               "batch_1",
		Object:           "batch",
		Endpoint:         "/v1/chat/completions",
		InputFileID:      "file-in",
		CompletionWindow: "24h",
		Status:           BatchStatusPending,
		CreatedAt:        1700000000,
	}

	data, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(data)

	for _, want := range []string{
		`"output_file_id":null`,
		`"error_file_id":null`,
		`"in_progress_at":null`,
		`"errors":null`,
		`"request_counts":{"total":0,"completed":0,"failed":0}`,
		`"usage":{"prompt_tokens":0,"completion_tokens":0}`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("serialized batch missing %s\n%s", want, s)
		}
	}
}
