// Package interaction durably logs transcript turns as task interactions.
package interaction

import (
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter estimates the token length of a message.
type TokenCounter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	once  sync.Once
	codec tokenizer.Codec
}

var defaultCounter = &tiktokenCounter{}

// DefaultTokenCounter returns a shared cl100k_base counter. If the encoding
// cannot be loaded it counts whitespace-separated words instead.
func DefaultTokenCounter() TokenCounter {
	return defaultCounter
}

func (c *tiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	c.once.Do(func() {
		codec, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			log.Warn().Err(err).Msg("Token encoding unavailable; falling back to word counts")
			return
		}
		c.codec = codec
	})
	if c.codec == nil {
		return len(strings.Fields(text))
	}
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return len(strings.Fields(text))
	}
	return len(ids)
}
