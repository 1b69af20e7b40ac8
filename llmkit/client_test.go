package llmkit

import (
	"context"
	"testing"
	"time"
)

// stubBackend is a test double for Backend.
type stubBackend struct {
	name     string
	response *Response
	err      error
	calls    int
	delay    time.Duration
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Complete(ctx context.Context, req Request) (*Response, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.response, nil
}

func textResponse(provider, text string) *Response {
	return &Response{
		ID:           "resp_test",
		Model:        "test-model",
		Provider:     provider,
		Text:         text,
		FinishReason: FinishStop,
		Usage:        Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}
}

func TestClientComplete(t *testing.T) {
	stub := &stubBackend{name: "test", response: textResponse("test", "hello")}
	client := NewClient(WithBackend("test", stub))

	resp, err := client.Complete(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "hello" {
		t.Errorf("expected %q, got %q", "hello", resp.Text)
	}
	if resp.Provider != "test" {
		t.Errorf("expected provider routed to single backend, got %q", resp.Provider)
	}
}

func TestClientBackendRouting(t *testing.T) {
	a := &stubBackend{name: "a", response: textResponse("a", "from a")}
	b := &stubBackend{name: "b", response: textResponse("b", "from b")}
	client := NewClient(
		WithBackend("a", a),
		WithBackend("b", b),
		WithDefaultBackend("a"),
	)

	resp, err := client.Complete(context.Background(), Request{Provider: "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "from b" {
		t.Errorf("expected routing to b, got %q", resp.Text)
	}

	resp, err = client.Complete(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "from a" {
		t.Errorf("expected default backend a, got %q", resp.Text)
	}
}

func TestClientUnknownBackend(t *testing.T) {
	client := NewClient()
	_, err := client.Complete(context.Background(), Request{Provider: "nope"})
	if err == nil {
		t.Fatal("expected error for unregistered backend")
	}
	if _, ok := err.(*ConfigurationError); !ok {
		t.Errorf("expected ConfigurationError, got %T", err)
	}
}

func TestClientMiddlewareOrder(t *testing.T) {
	stub := &stubBackend{name: "test", response: textResponse("test", "ok")}
	var order []string
	mk := func(tag string) Middleware {
		return func(ctx context.Context, req Request, next Handler) (*Response, error) {
			order = append(order, tag)
			return next(ctx, req)
		}
	}
	client := NewClient(
		WithBackend("test", stub),
		WithMiddleware(mk("first"), mk("second")),
	)

	if _, err := client.Complete(context.Background(), Request{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("middleware ran out of order: %v", order)
	}
}

func TestTimeoutMiddleware(t *testing.T) {
	stub := &stubBackend{name: "slow", response: textResponse("slow", "late"), delay: 200 * time.Millisecond}
	client := NewClient(
		WithBackend("slow", stub),
		WithMiddleware(TimeoutMiddleware(20*time.Millisecond)),
	)

	_, err := client.Complete(context.Background(), Request{})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if _, ok := err.(*TimeoutError); !ok {
		t.Errorf("expected TimeoutError, got %T: %v", err, err)
	}
	if IsRetryable(err) {
		t.Error("hard timeout must not be retryable")
	}
}
