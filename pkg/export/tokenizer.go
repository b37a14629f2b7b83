package export

import (
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"
)

// Tokenizer counts tokens with a tiktoken encoding
type Tokenizer struct {
	codec tokenizer.Codec
}

// NewTokenizer loads the named encoding.
// Common encodings: "cl100k_base" (GPT-4), "o200k_base" (GPT-4o), "p50k_base" (GPT-3).
// Empty or unknown names fall back to "cl100k_base".
func NewTokenizer(encoding string) (*Tokenizer, error) {
	var enc tokenizer.Encoding
	switch encoding {
	case "p50k_base":
		enc = tokenizer.P50kBase
	case "p50k_edit":
		enc = tokenizer.P50kEdit
	case "r50k_base":
		enc = tokenizer.R50kBase
	case "o200k_base":
		enc = tokenizer.O200kBase
	default:
		enc = tokenizer.Cl100kBase
	}

	codec, err := tokenizer.Get(enc)
	if err != nil {
		return nil, err
	}
	return &Tokenizer{codec: codec}, nil
}

// Count returns the token count of text, or -1 if no codec is loaded or encoding fails
func (t *Tokenizer) Count(text string) int {
	if t == nil || t.codec == nil {
		return -1
	}
	ids, _, err := t.codec.Encode(text)
	if err != nil {
		return -1
	}
	return len(ids)
}

// lengthFunc measures text for the chunker: tokens when available, runes otherwise
func (t *Tokenizer) lengthFunc() func(string) int {
	return func(s string) int {
		if n := t.Count(s); n >= 0 {
			return n
		}
		return utf8.RuneCountInString(s)
	}
}
