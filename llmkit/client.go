package llmkit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Backend is the interface every wire-format adapter implements.
type Backend interface {
	// Name returns the backend identifier (e.g. "openai", "anthropic", "ollama").
	Name() string

	// Complete sends a blocking request and returns the normalized response.
	// Streaming backends reassemble before returning, forwarding deltas to
	// req.OnText when set.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Closer is implemented by backends that hold resources.
type Closer interface {
	Close() error
}

// Handler is the downstream call signature middleware wraps.
type Handler func(ctx context.Context, req Request) (*Response, error)

// Middleware wraps a backend call.
type Middleware func(ctx context.Context, req Request, next Handler) (*Response, error)

// Client routes requests to registered backends and applies middleware.
// It is explicitly constructed and passed down; there is no ambient default.
type Client struct {
	mu             sync.RWMutex
	backends       map[string]Backend
	defaultBackend string
	middleware     []Middleware
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBackend registers a backend adapter.
func WithBackend(name string, b Backend) ClientOption {
	return func(c *Client) { c.backends[name] = b }
}

// WithDefaultBackend sets the default backend name.
func WithDefaultBackend(name string) ClientOption {
	return func(c *Client) { c.defaultBackend = name }
}

// WithMiddleware appends middleware; the first registered runs first.
func WithMiddleware(mw ...Middleware) ClientOption {
	return func(c *Client) { c.middleware = append(c.middleware, mw...) }
}

// NewClient creates a Client with the given options. With exactly one
// backend registered and no explicit default, that backend is the default.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{backends: make(map[string]Backend)}
	for _, opt := range opts {
		opt(c)
	}
	if c.defaultBackend == "" && len(c.backends) == 1 {
		for name := range c.backends {
			c.defaultBackend = name
		}
	}
	return c
}

// RegisterBackend adds a backend after construction.
func (c *Client) RegisterBackend(name string, b Backend) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backends[name] = b
	if c.defaultBackend == "" {
		c.defaultBackend = name
	}
}

func (c *Client) resolve(req Request) (Backend, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := req.Provider
	if name == "" {
		if info := LookupModel(req.Model); info != nil {
			name = info.Provider
		}
	}
	if name == "" {
		name = c.defaultBackend
	}
	if name == "" {
		return nil, &ConfigurationError{BaseError: BaseError{
			Message: "no backend specified and no default backend configured",
		}}
	}
	b, ok := c.backends[name]
	if !ok {
		return nil, &ConfigurationError{BaseError: BaseError{
			Message: fmt.Sprintf("backend %q is not registered", name),
		}}
	}
	return b, nil
}

// Complete routes the request through the middleware chain to the resolved
// backend.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	backend, err := c.resolve(req)
	if err != nil {
		return nil, err
	}
	if req.Provider == "" {
		req.Provider = backend.Name()
	}

	handler := Handler(func(ctx context.Context, r Request) (*Response, error) {
		start := time.Now()
		resp, err := backend.Complete(ctx, r)
		if err != nil {
			return nil, err
		}
		resp.Duration = time.Since(start)
		return resp, nil
	})

	c.mu.RLock()
	mws := make([]Middleware, len(c.middleware))
	copy(mws, c.middleware)
	c.mu.RUnlock()

	// Wrap in reverse so the first registered middleware runs first.
	for i := len(mws) - 1; i >= 0; i-- {
		mw := mws[i]
		next := handler
		handler = func(ctx context.Context, r Request) (*Response, error) {
			return mw(ctx, r, next)
		}
	}

	return handler(ctx, req)
}

// Close releases resources held by all registered backends.
func (c *Client) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var firstErr error
	for _, b := range c.backends {
		if closer, ok := b.(Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// TimeoutMiddleware enforces a hard per-call deadline. Expiry is surfaced as
// a TimeoutError, which is user-visible and never retried.
func TimeoutMiddleware(limit time.Duration) Middleware {
	return func(ctx context.Context, req Request, next Handler) (*Response, error) {
		if limit <= 0 {
			return next(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		resp, err := next(ctx, req)
		if err != nil && ctx.Err() == context.DeadlineExceeded {
			return nil, &TimeoutError{BaseError: BaseError{
				Message: fmt.Sprintf("model call exceeded the %s limit", limit),
				Cause:   err,
			}}
		}
		return resp, err
	}
}
