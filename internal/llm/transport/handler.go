package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Router selects the appropriate provider adapter for request routing.
// Implemented by the providers package.
type Router interface {
	Pick(provider string) (ProviderAdapter, error)
}

// ProviderAdapter abstracts provider-specific HTTP communication patterns.
// Implemented by the providers package.
type ProviderAdapter interface {
	Build(ctx context.Context, req *Request) (*http.Request, error)
	Parse(httpResp *http.Response) (*Response, error)
	Name() string
}

// Handler processes LLM requests through composable middleware pipeline.
// Core abstraction enabling request preprocessing, response postprocessing,
// and cross-cutting concerns like caching, recording, and observability.
type Handler interface {
	Handle(ctx context.Context, req *Request) (*Response, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, *Request) (*Response, error)

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Middleware transforms Handler into enhanced Handler for composable behavior.
type Middleware func(Handler) Handler

// Chain builds a middleware pipeline around a core handler.
// Middleware executes in the order provided with first middleware outermost.
func Chain(h Handler, middlewares ...Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		if middlewares[i] == nil {
			continue
		}
		h = middlewares[i](h)
	}
	return h
}

// NewHTTPHandler creates the core handler that makes actual HTTP requests.
func NewHTTPHandler(client *http.Client, router Router) Handler {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpHandler{
		client: client,
		router: router,
	}
}

// httpHandler is the core handler that makes actual HTTP requests.
type httpHandler struct {
	client *http.Client
	router Router
}

// Handle implements Handler by making HTTP requests to providers.
func (h *httpHandler) Handle(ctx context.Context, req *Request) (*Response, error) {
	adapter, err := h.router.Pick(req.Provider)
	if err != nil {
		return nil, fmt.Errorf("failed to select provider: %w", err)
	}

	reqCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := adapter.Build(reqCtx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	start := time.Now()
	httpResp, err := h.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	resp, err := adapter.Parse(httpResp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	resp.Usage.LatencyMs = latency.Milliseconds()

	if err := validateResponse(resp); err != nil {
		return nil, fmt.Errorf("invalid provider response: %w", err)
	}

	return resp, nil
}
