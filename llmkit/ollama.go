package llmkit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
)

// OllamaBackend adapts a local Ollama runtime to the Backend interface.
// Ollama streams by default; chunks are reassembled here and forwarded to
// req.OnText when set.
type OllamaBackend struct {
	client *api.Client
	model  string
}

// NewOllamaBackend creates a backend talking to an Ollama server.
// hostURL defaults to http://localhost:11434 when empty or invalid.
func NewOllamaBackend(hostURL, model string) *OllamaBackend {
	parsed, err := url.Parse(hostURL)
	if err != nil || hostURL == "" {
		parsed, _ = url.Parse("http://localhost:11434")
	}
	return &OllamaBackend{
		client: api.NewClient(parsed, http.DefaultClient),
		model:  model,
	}
}

// Name returns the backend identifier.
func (b *OllamaBackend) Name() string { return "ollama" }

// Complete sends a chat request and reassembles the streamed response.
func (b *OllamaBackend) Complete(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = b.model
	}

	options := map[string]any{}
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		options["top_p"] = *req.TopP
	}
	if req.TopK != nil {
		options["top_k"] = *req.TopK
	}
	if req.MaxTokens != nil {
		options["num_predict"] = *req.MaxTokens
	}

	stream := req.OnText != nil
	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: toOllamaMessages(req.Messages),
		Stream:   &stream,
		Options:  options,
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toOllamaTools(req.Tools)
	}

	var text string
	var last api.ChatResponse
	err := b.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		if resp.Message.Content != "" {
			text += resp.Message.Content
			if req.OnText != nil {
				req.OnText(resp.Message.Content)
			}
		}
		last = resp
		return nil
	})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &TimeoutError{BaseError: BaseError{Message: "ollama call timed out", Cause: err}}
		}
		return nil, &NetworkError{BaseError: BaseError{Message: "ollama call failed", Cause: err}}
	}
	if !stream {
		text = last.Message.Content
	}

	toolCalls := fromOllamaToolCalls(last.Message.ToolCalls)
	finish := FinishStop
	switch {
	case len(toolCalls) > 0:
		finish = FinishToolCalls
	case last.DoneReason == "length":
		finish = FinishLength
	}

	return &Response{
		ID:           "resp_ollama",
		Model:        model,
		Provider:     "ollama",
		Text:         text,
		ToolCalls:    toolCalls,
		FinishReason: finish,
		Usage: Usage{
			InputTokens:  last.PromptEvalCount,
			OutputTokens: last.EvalCount,
			TotalTokens:  last.PromptEvalCount + last.EvalCount,
		},
	}, nil
}

func toOllamaMessages(messages []Message) []api.Message {
	result := make([]api.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == RoleTool && msg.ToolResult != nil {
			result = append(result, api.Message{
				Role:       "tool",
				Content:    msg.ToolResult.Content,
				ToolCallID: msg.ToolResult.ToolCallID,
			})
			continue
		}

		om := api.Message{Role: string(msg.Role), Content: msg.Text}
		if len(msg.ToolCalls) > 0 {
			om.ToolCalls = make([]api.ToolCall, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				args := api.NewToolCallFunctionArguments()
				if len(tc.Arguments) > 0 {
					_ = json.Unmarshal(tc.Arguments, &args)
				}
				om.ToolCalls[i] = api.ToolCall{
					ID: tc.ID,
					Function: api.ToolCallFunction{
						Name:      tc.Name,
						Arguments: args,
					},
				}
			}
		}
		result = append(result, om)
	}
	return result
}

func toOllamaTools(defs []ToolDefinition) api.Tools {
	tools := make(api.Tools, len(defs))
	for i, td := range defs {
		properties := api.NewToolPropertiesMap()
		var required []string
		schemaType := "object"

		if td.Parameters != nil {
			if t, ok := td.Parameters["type"].(string); ok {
				schemaType = t
			}
			if req, ok := td.Parameters["required"].([]interface{}); ok {
				for _, r := range req {
					if s, ok := r.(string); ok {
						required = append(required, s)
					}
				}
			}
			if props, ok := td.Parameters["properties"].(map[string]interface{}); ok {
				for name, raw := range props {
					prop := api.ToolProperty{}
					if pm, ok := raw.(map[string]interface{}); ok {
						if pt, ok := pm["type"].(string); ok {
							prop.Type = api.PropertyType{pt}
						}
						if desc, ok := pm["description"].(string); ok {
							prop.Description = desc
						}
					}
					properties.Set(name, prop)
				}
			}
		}

		tools[i] = api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        td.Name,
				Description: td.Description,
				Parameters: api.ToolFunctionParameters{
					Type:       schemaType,
					Properties: properties,
					Required:   required,
				},
			},
		}
	}
	return tools
}

func fromOllamaToolCalls(calls []api.ToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	result := make([]ToolCall, len(calls))
	for i, call := range calls {
		id := call.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		args, _ := json.Marshal(call.Function.Arguments)
		result[i] = ToolCall{ID: id, Name: call.Function.Name, Arguments: args}
	}
	return result
}
