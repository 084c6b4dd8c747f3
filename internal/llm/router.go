package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Router sends each chat request to the provider that serves its model.
//
// A model resolves, in order, through an explicit "provider/model"
// prefix, the configured model table, then the default provider. A model
// whose provider was never registered fails instead of falling back.
type Router struct {
	providers   map[string]Client
	models      map[string]string
	defaultName string
	logger      *slog.Logger
}

// NewRouter creates a router whose unmapped models go to defaultProvider.
func NewRouter(defaultProvider string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		providers:   make(map[string]Client),
		models:      make(map[string]string),
		defaultName: defaultProvider,
		logger:      logger,
	}
}

// Register adds a provider client under name.
func (r *Router) Register(name string, c Client) {
	r.providers[name] = c
}

// Assign pins a model to a provider.
func (r *Router) Assign(model, provider string) {
	r.models[model] = provider
}

// Provider reports which provider serves model and the model name sent
// to it. ok is false when that provider is not registered.
func (r *Router) Provider(model string) (provider, upstream string, ok bool) {
	provider, upstream = r.defaultName, model
	if p, rest, found := strings.Cut(model, "/"); found {
		if _, registered := r.providers[p]; registered {
			provider, upstream = p, rest
		}
	} else if p, mapped := r.models[model]; mapped {
		provider = p
	}
	_, ok = r.providers[provider]
	return provider, upstream, ok
}

// Chat forwards the request to the provider serving model.
func (r *Router) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any, opts ...ChatOption) (*ChatResponse, error) {
	provider, upstream, ok := r.Provider(model)
	if !ok {
		return nil, fmt.Errorf("model %q: provider %q not configured", model, provider)
	}
	r.logger.Debug("routing chat", "model", upstream, "provider", provider)
	return r.providers[provider].Chat(ctx, upstream, messages, tools, opts...)
}

// Ping checks the default provider, the one every unmapped turn uses.
func (r *Router) Ping(ctx context.Context) error {
	c, ok := r.providers[r.defaultName]
	if !ok {
		return fmt.Errorf("default provider %q not configured", r.defaultName)
	}
	return c.Ping(ctx)
}
