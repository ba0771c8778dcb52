package llm

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts and cuts text in model tokens.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

type tiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

func (t tiktokenTokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t tiktokenTokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

var (
	encodingMu    sync.Mutex
	encodingCache = map[string]*tiktoken.Tiktoken{}
)

// NewTokenizer loads a tiktoken encoding such as "cl100k_base". Loaded
// encodings are cached for the life of the process.
func NewTokenizer(encoding string) (Tokenizer, error) {
	encoding = strings.TrimSpace(encoding)
	encodingMu.Lock()
	defer encodingMu.Unlock()
	if enc, ok := encodingCache[encoding]; ok {
		return tiktokenTokenizer{enc: enc}, nil
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	encodingCache[encoding] = enc
	return tiktokenTokenizer{enc: enc}, nil
}

// ApproxTokenizer treats every four bytes as one token. It is used when an
// encoding cannot be loaded (for example offline without a tiktoken cache).
type ApproxTokenizer struct{}

// Encode returns the byte offsets at which each approximate token starts.
func (ApproxTokenizer) Encode(text string) []int {
	tokens := make([]int, 0, len(text)/4+1)
	start := 0
	for start < len(text) {
		tokens = append(tokens, start)
		end := start + 4
		if end > len(text) {
			end = len(text)
		}
		for end < len(text) && !utf8.RuneStart(text[end]) {
			end++
		}
		start = end
	}
	return tokens
}

// Decode is not reversible for approximate tokens; Truncate handles
// ApproxTokenizer by offset instead.
func (ApproxTokenizer) Decode([]int) string {
	return ""
}

// Truncate returns text cut to at most maxTokens tokens and whether it was
// cut. A non-positive budget disables truncation.
func Truncate(tok Tokenizer, text string, maxTokens int) (string, bool) {
	if maxTokens <= 0 || tok == nil {
		return text, false
	}
	tokens := tok.Encode(text)
	if len(tokens) <= maxTokens {
		return text, false
	}
	if _, ok := tok.(ApproxTokenizer); ok {
		return text[:tokens[maxTokens]], true
	}
	return tok.Decode(tokens[:maxTokens]), true
}

// Count returns the number of tokens in text.
func Count(tok Tokenizer, text string) int {
	if tok == nil {
		return 0
	}
	return len(tok.Encode(text))
}
