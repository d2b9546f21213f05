package entity

import (
	"encoding/json"
	"fmt"
)

// Message is a single chat turn. Roles follow the OpenAI convention
// (system, user, assistant) but are not validated at the gateway.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest models an OpenAI-style chat completion request. Known fields
// are typed; everything else is preserved verbatim in Extra and re-emitted
// on serialization, so engine-specific parameters (priority, stop,
// logit_bias, ...) pass through untouched.
type ChatRequest struct {
	Model            string
	Messages         []Message
	Temperature      *float64
	TopP             *float64
	N                *int
	MaxTokens        *int
	PresencePenalty  *float64
	FrequencyPenalty *float64
	Stream           bool

	// Extra holds unknown fields exactly as received.
	Extra map[string]json.RawMessage
}

// chatRequestKeys are the field names lifted out of the raw object.
var chatRequestKeys = []string{
	"model", "messages", "temperature", "top_p", "n",
	"max_tokens", "presence_penalty", "frequency_penalty", "stream",
}

// UnmarshalJSON decodes known fields and stashes the remainder in Extra.
func (r *ChatRequest) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	targets := map[string]any{
		"model":             &r.Model,
		"messages":          &r.Messages,
		"temperature":       &r.Temperature,
		"top_p":             &r.TopP,
		"n":                 &r.N,
		"max_tokens":        &r.MaxTokens,
		"presence_penalty":  &r.PresencePenalty,
		"frequency_penalty": &r.FrequencyPenalty,
		"stream":            &r.Stream,
	}
	for _, key := range chatRequestKeys {
		v, ok := raw[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(v, targets[key]); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		delete(raw, key)
	}
	r.Extra = raw
	return nil
}

// MarshalJSON re-emits the request with unset optional fields omitted
// (exclude-none semantics). stream is always serialized.
func (r ChatRequest) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(r.Extra)+len(chatRequestKeys))
	for k, v := range r.Extra {
		out[k] = v
	}

	set := func(key string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		out[key] = b
		return nil
	}

	if err := set("model", r.Model); err != nil {
		return nil, err
	}
	if err := set("messages", r.Messages); err != nil {
		return nil, err
	}
	if err := set("stream", r.Stream); err != nil {
		return nil, err
	}
	optionals := map[string]any{}
	if r.Temperature != nil {
		optionals["temperature"] = *r.Temperature
	}
	if r.TopP != nil {
		optionals["top_p"] = *r.TopP
	}
	if r.N != nil {
		optionals["n"] = *r.N
	}
	if r.MaxTokens != nil {
		optionals["max_tokens"] = *r.MaxTokens
	}
	if r.PresencePenalty != nil {
		optionals["presence_penalty"] = *r.PresencePenalty
	}
	if r.FrequencyPenalty != nil {
		optionals["frequency_penalty"] = *r.FrequencyPenalty
	}
	for k, v := range optionals {
		if err := set(k, v); err != nil {
			return nil, err
		}
	}

	return json.Marshal(out)
}

// Validate checks the fields the gateway itself requires.
func (r *ChatRequest) Validate() error {
	if r.Model == "" {
		return ErrMissingModel
	}
	if len(r.Messages) == 0 {
		return ErrNoMessages
	}
	return nil
}

// ApplyDefaults fills unset sampling parameters with the gateway defaults.
func (r *ChatRequest) ApplyDefaults() {
	if r.Temperature == nil {
		r.Temperature = ptr(0.5)
	}
	if r.TopP == nil {
		r.TopP = ptr(1.0)
	}
	if r.N == nil {
		r.N = ptr(1)
	}
	if r.MaxTokens == nil {
		r.MaxTokens = ptr(256)
	}
	if r.PresencePenalty == nil {
		r.PresencePenalty = ptr(0.0)
	}
	if r.FrequencyPenalty == nil {
		r.FrequencyPenalty = ptr(0.0)
	}
}

func ptr[T any](v T) *T {
	return &v
}
