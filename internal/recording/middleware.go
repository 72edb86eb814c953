package recording

import (
	"context"
	"log/slog"

	"github.com/ahrav/go-flowevals/internal/domain"
	"github.com/ahrav/go-flowevals/internal/llm/transport"
)

// NewMiddleware records or replays chat completions through storage.
// In replay mode the next handler is never called and a missing record is
// returned as an error. In record mode a failure to persist is logged and the
// live response is still returned. ModeOff returns nil, which Chain skips.
func NewMiddleware(storage *Storage, mode Mode, file string) transport.Middleware {
	if mode == ModeOff || storage == nil {
		return nil
	}
	logger := slog.Default().With("component", "recording", "mode", string(mode))

	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			inputs := HashInputs(req.PromptTemplate, req.TemplateInputs)

			if mode == ModeReplay {
				content, err := storage.Get(file, inputs)
				if err != nil {
					return nil, err
				}
				return &transport.Response{
					Content:      content,
					FinishReason: domain.FinishStop,
					Replayed:     true,
				}, nil
			}

			resp, err := next.Handle(ctx, req)
			if err != nil {
				return nil, err
			}
			if err := storage.Set(file, inputs, resp.Content); err != nil {
				logger.Warn("failed to record response",
					"deployment", req.Deployment,
					"error", err)
			}
			return resp, nil
		})
	}
}
