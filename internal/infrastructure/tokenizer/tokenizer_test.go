package tokenizer

import (
	"testing"
)

// Requires the cl100k_base BPE data; tiktoken-go downloads and caches it
// on first use.

// === Round trip ===

func TestTokenizer_EncodeDecode(t *testing.T) {
	tok, err := New("cl100k_base")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	text := "The quick brown fox jumps over the lazy dog."
	tokens := tok.Encode(text)
	if len(tokens) == 0 {
		t.Fatal("Encode returned no tokens")
	}
	if got := tok.Decode(tokens); got != text {
		t.Errorf("round trip: got %q, want %q", got, text)
	}
}

func TestTokenizer_EmptyInput(t *testing.T) {
	tok, err := New("cl100k_base")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got := tok.Encode(""); len(got) != 0 {
		t.Errorf("Encode empty: got %v", got)
	}
	if got := tok.Decode([]int{}); got != "" {
		t.Errorf("Decode empty: got %q", got)
	}
}

// === Construction ===

func TestNew_UnknownEncoding(t *testing.T) {
	if _, err := New("no_such_encoding"); err == nil {
		t.Error("expected error for unknown encoding")
	}
}

func TestForModel_FallsBack(t *testing.T) {
	tok, err := ForModel("qwen3-4b")
	if err != nil {
		t.Fatalf("ForModel should fall back, got %v", err)
	}
	if len(tok.Encode("hello")) == 0 {
		t.Error("fallback tokenizer should encode")
	}
}
