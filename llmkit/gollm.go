package llmkit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmBackend adapts gollm-backed providers (the OpenAI-style and
// Anthropic-style wire formats) to the Backend interface.
type GollmBackend struct {
	provider string
	llm      gollm.LLM
	model    string
}

// GollmOption configures a GollmBackend.
type GollmOption func(*gollmConfig)

type gollmConfig struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	extraOpts   []gollm.ConfigOption
}

// WithAPIKey sets the API key. When empty, gollm reads it from the
// provider's environment variable.
func WithAPIKey(key string) GollmOption {
	return func(c *gollmConfig) { c.apiKey = key }
}

// WithModel sets the default model.
func WithModel(model string) GollmOption {
	return func(c *gollmConfig) { c.model = model }
}

// WithMaxTokens sets the default max output tokens.
func WithMaxTokens(n int) GollmOption {
	return func(c *gollmConfig) { c.maxTokens = n }
}

// NewGollmBackend creates a backend for the given provider name.
func NewGollmBackend(provider string, opts ...GollmOption) (*GollmBackend, error) {
	cfg := &gollmConfig{maxTokens: 8192, temperature: 0.7}
	for _, opt := range opts {
		opt(cfg)
	}

	model := cfg.model
	if model == "" {
		for i := range Models {
			if Models[i].Provider == provider {
				model = Models[i].ID
				break
			}
		}
	}
	if model == "" {
		return nil, &ConfigurationError{BaseError: BaseError{
			Message: fmt.Sprintf("no default model known for provider %q", provider),
		}}
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // retries belong to the client middleware
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("create %s backend: %w", provider, err)
	}

	return &GollmBackend{provider: provider, llm: llm, model: model}, nil
}

// Name returns the provider identifier.
func (b *GollmBackend) Name() string { return b.provider }

// Complete sends the request. When the underlying provider streams, text is
// reassembled here and deltas forwarded to req.OnText.
func (b *GollmBackend) Complete(ctx context.Context, req Request) (*Response, error) {
	prompt := b.translateRequest(req)
	b.applyRequestOptions(req)

	var text string
	var err error
	if req.OnText != nil && b.llm.SupportsStreaming() {
		text, err = b.completeStreaming(ctx, prompt, req.OnText)
	} else {
		text, err = b.llm.Generate(ctx, prompt)
	}
	if err != nil {
		return nil, b.translateError(err)
	}

	return b.buildResponse(req, text), nil
}

func (b *GollmBackend) completeStreaming(ctx context.Context, prompt *gollm.Prompt, onText func(string)) (string, error) {
	stream, err := b.llm.Stream(ctx, prompt)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var full strings.Builder
	for {
		token, err := stream.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		if token == nil {
			continue
		}
		full.WriteString(token.Text)
		onText(token.Text)
	}
	return full.String(), nil
}

func (b *GollmBackend) translateRequest(req Request) *gollm.Prompt {
	var system strings.Builder
	var parts []string

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			system.WriteString(msg.Text)
			system.WriteString("\n")
		case RoleUser:
			parts = append(parts, msg.Text)
		case RoleAssistant:
			if msg.Text != "" {
				parts = append(parts, "[Assistant]: "+msg.Text)
			}
		case RoleTool:
			if msg.ToolResult != nil {
				prefix := "[Tool Result]"
				if msg.ToolResult.IsError {
					prefix = "[Tool Error]"
				}
				parts = append(parts, prefix+": "+msg.ToolResult.Content)
			}
		}
	}

	promptText := strings.Join(parts, "\n")
	if promptText == "" {
		promptText = "Continue."
	}

	var opts []gollm.PromptOption
	if s := strings.TrimSpace(system.String()); s != "" {
		opts = append(opts, gollm.WithSystemPrompt(s, gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		opts = append(opts, gollm.WithMaxLength(*req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		tools := make([]gollm.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		opts = append(opts, gollm.WithTools(tools))
		opts = append(opts, gollm.WithToolChoice("auto"))
	}

	return gollm.NewPrompt(promptText, opts...)
}

func (b *GollmBackend) applyRequestOptions(req Request) {
	if req.Model != "" {
		b.llm.SetOption("model", req.Model)
	}
	if req.Temperature != nil {
		b.llm.SetOption("temperature", *req.Temperature)
	}
	if req.TopP != nil {
		b.llm.SetOption("top_p", *req.TopP)
	}
	if req.TopK != nil {
		b.llm.SetOption("top_k", *req.TopK)
	}
	if req.MaxTokens != nil {
		b.llm.SetOption("max_tokens", *req.MaxTokens)
	}
}

func (b *GollmBackend) buildResponse(req Request, text string) *Response {
	model := req.Model
	if model == "" {
		model = b.model
	}

	toolCalls := parseEmbeddedToolCalls(text)
	cleaned := text
	if len(toolCalls) > 0 {
		cleaned = stripEmbeddedToolCalls(text)
	}

	finish := FinishStop
	if len(toolCalls) > 0 {
		finish = FinishToolCalls
	}

	inTokens := estimateRequestTokens(req)
	return &Response{
		ID:           "resp_" + uuid.New().String()[:8],
		Model:        model,
		Provider:     b.provider,
		Text:         cleaned,
		ToolCalls:    toolCalls,
		FinishReason: finish,
		Usage: Usage{
			InputTokens:  inTokens,
			OutputTokens: EstimateTokens(text),
			TotalTokens:  inTokens + EstimateTokens(text),
		},
	}
}

// parseEmbeddedToolCalls extracts tool calls that gollm returns inline as
// JSON in the response text.
func parseEmbeddedToolCalls(text string) []ToolCall {
	start := strings.Index(text, `[{"name"`)
	if start == -1 {
		start = strings.Index(text, `{"tool_calls"`)
	}
	if start == -1 {
		return nil
	}

	var raw []struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(text[start:]), &raw); err != nil {
		return nil
	}

	calls := make([]ToolCall, 0, len(raw))
	for _, rc := range raw {
		calls = append(calls, ToolCall{
			ID:        "call_" + uuid.New().String()[:8],
			Name:      rc.Name,
			Arguments: rc.Arguments,
		})
	}
	return calls
}

func stripEmbeddedToolCalls(text string) string {
	result := text
	for _, marker := range []string{`[{"name"`, `{"tool_calls"`} {
		if idx := strings.Index(result, marker); idx != -1 {
			result = strings.TrimSpace(result[:idx])
		}
	}
	return result
}

func (b *GollmBackend) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key"):
		return ErrorFromStatusCode(401, msg, b.provider, nil)
	case strings.Contains(lower, "404") || strings.Contains(lower, "not found"):
		return ErrorFromStatusCode(404, msg, b.provider, nil)
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit"):
		return ErrorFromStatusCode(429, msg, b.provider, nil)
	case strings.Contains(lower, "context length") || strings.Contains(lower, "too many tokens"):
		return ErrorFromStatusCode(413, msg, b.provider, nil)
	case strings.Contains(lower, "500") || strings.Contains(lower, "internal server"):
		return ErrorFromStatusCode(500, msg, b.provider, nil)
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
		return &TimeoutError{BaseError: BaseError{Message: msg, Cause: err}}
	default:
		return &NetworkError{BaseError: BaseError{Message: msg, Cause: err}}
	}
}

func estimateRequestTokens(req Request) int {
	total := 0
	for _, msg := range req.Messages {
		total += EstimateTokens(msg.Text)
	}
	if total == 0 {
		total = 10
	}
	return total
}
