// Package tokenizer converts text into byte-pair-encoded token ids for
// cost estimation.
package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding is used for every priced model.
const DefaultEncoding = "o200k_base"

var loaderOnce sync.Once

// Tokenizer counts tokens with a fixed BPE encoding. It is safe for
// concurrent use and always yields the same tokens for the same text.
type Tokenizer struct {
	encoding string
	bpe      *tiktoken.Tiktoken
}

// New loads the named encoding from the vocabularies embedded in the binary,
// so no network access is needed at startup or in tests.
func New(encoding string) (*Tokenizer, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	bpe, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding %q: %w", encoding, err)
	}
	return &Tokenizer{encoding: encoding, bpe: bpe}, nil
}

// Encoding returns the name of the loaded encoding.
func (t *Tokenizer) Encoding() string {
	return t.encoding
}

// Encode returns the token ids for text. Special-token markers in the text
// are encoded as ordinary text.
func (t *Tokenizer) Encode(text string) []int {
	if text == "" {
		return nil
	}
	return t.bpe.Encode(text, nil, nil)
}

// Count returns the number of tokens in text.
func (t *Tokenizer) Count(text string) int {
	return len(t.Encode(text))
}
