package llmkit

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

// EstimateTokens counts tokens in text using the GPT-4 encoding, which is a
// close-enough approximation across providers. Falls back to the 4-chars-
// per-token heuristic when the tokenizer is unavailable.
func EstimateTokens(text string) int {
	codecOnce.Do(func() {
		c, err := tokenizer.ForModel(tokenizer.GPT4)
		if err == nil {
			codec = c
		}
	})
	if codec == nil {
		return len(text) / 4
	}
	count, err := codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// EstimateMessagesTokens sums token estimates across a message list.
func EstimateMessagesTokens(messages []Message) int {
	total := 0
	for _, msg := range messages {
		total += EstimateTokens(msg.Text)
		if msg.ToolResult != nil {
			total += EstimateTokens(msg.ToolResult.Content)
		}
	}
	return total
}
