package metrics

import (
	"context"
	"time"

	"github.com/forgekit/forge/llmkit"
)

// LLMMiddleware instruments every model call flowing through a client.
func LLMMiddleware() llmkit.Middleware {
	return func(ctx context.Context, req llmkit.Request, next llmkit.Handler) (*llmkit.Response, error) {
		start := time.Now()
		resp, err := next(ctx, req)

		provider, model := req.Provider, req.Model
		outcome := "ok"
		var promptTokens, completionTokens int
		if resp != nil {
			provider, model = resp.Provider, resp.Model
			promptTokens = resp.Usage.InputTokens
			completionTokens = resp.Usage.OutputTokens
		}
		if err != nil {
			outcome = "error"
			if llmkit.IsRateLimited(err) {
				outcome = "rate_limited"
			}
		}
		ObserveLLM(provider, model, outcome, time.Since(start), promptTokens, completionTokens)
		return resp, err
	}
}
