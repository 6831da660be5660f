// internal/tokens/counter.go

// Package tokens provides approximate token counting for message content,
// used by session stats in the UI.
package tokens

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Counter counts tokens with a fixed encoding.
type Counter struct {
	enc *tiktoken.Tiktoken
}

// New creates a counter for the given encoding name. Empty means
// cl100k_base.
func New(encoding string) (*Counter, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("get tokenizer: %w", err)
	}
	return &Counter{enc: enc}, nil
}

// Count returns the token count for a string.
func (c *Counter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}
