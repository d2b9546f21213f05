package entity

import (
	"encoding/json"
	"strings"
	"testing"
)

// === Unmarshal: known fields + passthrough ===

func TestChatRequest_UnmarshalKeepsUnknownFields(t *testing.T) {
	body := `{
		"model": "qwen3-4b",
		"messages": [{"role": "user", "content": "hi"}],
		"temperature": 0.9,
		"priority": 10,
		"stop": ["###"],
		"logit_bias": {"50256": -100}
	}`

	var req ChatRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if req.Model != "qwen3-4b" {
		t.Errorf("model: got %q", req.Model)
	}
	if len(req.Messages) != 1 || req.Messages[0].Content != "hi" {
		t.Errorf("messages: got %+v", req.Messages)
	}
	if req.Temperature == nil || *req.Temperature != 0.9 {
		t.Errorf("temperature: got %v", req.Temperature)
	}
	if req.MaxTokens != nil {
		t.Errorf("max_tokens should be unset, got %v", *req.MaxTokens)
	}

	for _, key := range []string{"priority", "stop", "logit_bias"} {
		if _, ok := req.Extra[key]; !ok {
			t.Errorf("extra field %q lost", key)
		}
	}
	if _, ok := req.Extra["model"]; ok {
		t.Error("known field should not appear in Extra")
	}
}

func TestChatRequest_UnmarshalBadField(t *testing.T) {
	var req ChatRequest
	err := json.Unmarshal([]byte(`{"model": 42}`), &req)
	if err == nil {
		t.Fatal("expected type error for numeric model")
	}
	if !strings.Contains(err.Error(), "model") {
		t.Errorf("error should name the field: %v", err)
	}
}

// === Marshal: exclude-none + stream always present ===

func TestChatRequest_MarshalOmitsUnsetOptionals(t *testing.T) {
	req := ChatRequest{
		Model:    "qwen3-4b",
		Messages: []Message{{Role: "user", Content: "hi"}},
	}

	data, err := json.Marshal(&req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out map[string]json.RawMessage
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("reparse: %v", err)
	}

	for _, absent := range []string{"temperature", "top_p", "n", "max_tokens", "presence_penalty", "frequency_penalty"} {
		if _, ok := out[absent]; ok {
			t.Errorf("unset field %q should be omitted", absent)
		}
	}
	if _, ok := out["stream"]; !ok {
		t.Error("stream must always be serialized")
	}
}

func TestChatRequest_RoundTripPreservesExtras(t *testing.T) {
	body := `{"model":"m","messages":[{"role":"user","content":"x"}],"priority":7,"stream_options":{"include_usage":true}}`

	var req ChatRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	req.ApplyDefaults()

	data, err := json.Marshal(&req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out map[string]json.RawMessage
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if string(out["priority"]) != "7" {
		t.Errorf("priority passthrough: got %s", out["priority"])
	}
	if _, ok := out["stream_options"]; !ok {
		t.Error("stream_options passthrough lost")
	}
	if string(out["temperature"]) != "0.5" {
		t.Errorf("default temperature: got %s", out["temperature"])
	}
}

// === Defaults ===

func TestChatRequest_ApplyDefaults(t *testing.T) {
	var req ChatRequest
	req.ApplyDefaults()

	if *req.Temperature != 0.5 || *req.TopP != 1.0 || *req.N != 1 {
		t.Errorf("sampling defaults wrong: %v %v %v", *req.Temperature, *req.TopP, *req.N)
	}
	if *req.MaxTokens != 256 || *req.PresencePenalty != 0.0 || *req.FrequencyPenalty != 0.0 {
		t.Errorf("limit defaults wrong: %v %v %v", *req.MaxTokens, *req.PresencePenalty, *req.FrequencyPenalty)
	}

	// Caller-supplied values survive.
	temp := 0.1
	req2 := ChatRequest{Temperature: &temp}
	req2.ApplyDefaults()
	if *req2.Temperature != 0.1 {
		t.Errorf("explicit temperature overwritten: %v", *req2.Temperature)
	}
}

// === Validate ===

func TestChatRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     ChatRequest
		wantErr error
	}{
		{"valid", ChatRequest{Model: "m", Messages: []Message{{Role: "user", Content: "x"}}}, nil},
		{"missing model", ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}}, ErrMissingModel},
		{"no messages", ChatRequest{Model: "m"}, ErrNoMessages},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.req.Validate(); got != tt.wantErr {
				t.Errorf("Validate: got %v, want %v", got, tt.wantErr)
			}
		})
	}
}
