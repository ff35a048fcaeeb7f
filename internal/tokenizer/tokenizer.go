// Package tokenizer estimates token counts for responses whose provider
// stream did not report usage. Estimates feed the terminal usage block and
// the cost ledger; exact counts from the provider always win when present.
package tokenizer

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	once sync.Once
	enc  *tiktoken.Tiktoken
)

// encoding returns the shared o200k encoder, falling back to cl100k. Both
// misses leave enc nil and Estimate degrades to the chars/4 heuristic.
func encoding() *tiktoken.Tiktoken {
	once.Do(func() {
		var err error
		enc, err = tiktoken.GetEncoding("o200k_base")
		if err != nil {
			enc, _ = tiktoken.GetEncoding("cl100k_base")
		}
	})
	return enc
}

// Estimate counts tokens in text.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	if e := encoding(); e != nil {
		return len(e.Encode(text, nil, nil))
	}
	// ~4 characters per token.
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// EstimateMessages approximates prompt tokens for a conversation: per-message
// framing overhead plus content tokens.
func EstimateMessages(texts []string) int {
	const perMessageOverhead = 4
	total := 0
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		total += Estimate(t) + perMessageOverhead
	}
	return total
}
