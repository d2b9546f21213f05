package service

import (
	"github.com/batchgate/batchgate/internal/domain/entity"
)

// MaxInputLength is the token budget applied to chat messages entering the
// gateway, interactive and batch alike.
const MaxInputLength = 4096

// Codec tokenizes and detokenizes text. Implementations must be safe for
// concurrent use.
type Codec interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// TruncateMessages enforces maxTokens over the summed token count of all
// message contents. When over budget, only the final message is trimmed:
// its content loses the excess from the tail, down to the empty string.
// Earlier messages are never touched and the returned slice has the same
// length as the input. The input slice is never mutated.
//
// When the excess is larger than the final message, the result can still
// be over budget; the gateway forwards it and lets the engine reject it.
func TruncateMessages(codec Codec, messages []entity.Message, maxTokens int) []entity.Message {
	if len(messages) == 0 {
		return messages
	}

	total := 0
	for _, m := range messages {
		total += len(codec.Encode(m.Content))
	}
	if total <= maxTokens {
		return messages
	}

	out := make([]entity.Message, len(messages))
	copy(out, messages)

	excess := total - maxTokens
	last := codec.Encode(out[len(out)-1].Content)
	if excess >= len(last) {
		out[len(out)-1].Content = codec.Decode([]int{})
	} else {
		out[len(out)-1].Content = codec.Decode(last[:len(last)-excess])
	}
	return out
}

// TokenCount returns the summed token count of all message contents.
func TokenCount(codec Codec, messages []entity.Message) int {
	total := 0
	for _, m := range messages {
		total += len(codec.Encode(m.Content))
	}
	return total
}
