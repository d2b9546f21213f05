package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer adapts a tiktoken encoding to the domain Codec interface.
// Encoders are immutable after construction, so one instance serves all
// goroutines.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// New creates a tokenizer for the named tiktoken encoding, e.g.
// "cl100k_base". Unknown encodings fail at construction.
func New(encoding string) (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("get encoding %q: %w", encoding, err)
	}
	return &Tokenizer{enc: enc}, nil
}

// ForModel creates a tokenizer matched to a model name, falling back to
// cl100k_base for models tiktoken does not know.
func ForModel(model string) (*Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return New("cl100k_base")
	}
	return &Tokenizer{enc: enc}, nil
}

// Encode returns the token ids for text.
func (t *Tokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

// Decode reassembles text from token ids.
func (t *Tokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}
