package providers

import (
	"fmt"

	"github.com/ahrav/go-flowevals/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-flowevals/internal/llm/errors"
	"github.com/ahrav/go-flowevals/internal/llm/transport"
)

// Supported provider identifiers. These must match configuration keys.
const (
	ProviderAzureOpenAI = configuration.ProviderAzureOpenAI
)

// RouterOption customizes adapters built by NewRouter.
type RouterOption func(*routerOptions)

type routerOptions struct {
	azure []AzureOption
}

// WithAzureOptions forwards options to the Azure OpenAI adapter.
func WithAzureOptions(opts ...AzureOption) RouterOption {
	return func(o *routerOptions) { o.azure = append(o.azure, opts...) }
}

// NewRouter creates a router with configured provider adapters.
func NewRouter(configs map[string]configuration.ProviderConfig, opts ...RouterOption) (transport.Router, error) {
	var ro routerOptions
	for _, opt := range opts {
		opt(&ro)
	}

	adapters := make(map[string]transport.ProviderAdapter, len(configs))
	for name, cfg := range configs {
		switch name {
		case ProviderAzureOpenAI:
			adapters[name] = NewAzureOpenAIAdapter(cfg, ro.azure...)
		default:
			return nil, fmt.Errorf("%w: %s", llmerrors.ErrUnknownProvider, name)
		}
	}

	return &router{adapters: adapters}, nil
}

// router is a fixed registry of adapters keyed by provider name.
type router struct {
	adapters map[string]transport.ProviderAdapter
}

// Pick returns the adapter for provider. An empty provider selects Azure OpenAI.
func (r *router) Pick(provider string) (transport.ProviderAdapter, error) {
	if provider == "" {
		provider = ProviderAzureOpenAI
	}
	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", llmerrors.ErrUnknownProvider, provider)
	}
	return adapter, nil
}
