// Package token defines the tokenizer contract the chunker and the embedding
// gateway are written against. The embedding collaborator supplies the real
// tokenizer matching its model; Words is a reversible fallback used as the
// default and in tests.
package token

import (
	"strings"
	"unicode"
)

// Tokenizer encodes text into tokens and decodes token runs back to text.
// Decode(Encode(s)) must equal s, and decoding any contiguous sub-run of an
// encoding must reproduce the corresponding span of the source. The chunker
// relies on both properties.
type Tokenizer interface {
	Encode(text string) []string
	Decode(tokens []string) string
}

// Words is a reversible whitespace tokenizer: runs of whitespace and runs of
// non-whitespace each become one token, so concatenating tokens restores the
// original text exactly.
type Words struct{}

// Encode splits text into alternating word and whitespace tokens.
func (Words) Encode(text string) []string {
	if text == "" {
		return nil
	}
	var tokens []string
	var b strings.Builder
	inSpace := unicode.IsSpace(rune(text[0]))
	for _, r := range text {
		space := unicode.IsSpace(r)
		if space != inSpace && b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
		inSpace = space
		b.WriteRune(r)
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}

// Decode concatenates tokens back into text.
func (Words) Decode(tokens []string) string {
	return strings.Join(tokens, "")
}
