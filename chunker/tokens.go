package chunker

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

const DefaultEncoding = "cl100k_base"

// TokenCounter counts BPE tokens so chunk sizes can be compared against model context limits.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

func NewTokenCounter(encoding string) (*TokenCounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load %s encoding: %w", encoding, err)
	}
	return &TokenCounter{enc: enc}, nil
}

func (t *TokenCounter) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}
