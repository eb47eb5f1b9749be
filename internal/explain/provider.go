// Package explain produces word-by-word explanations of selected caption
// text through one of several AI backends.
package explain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/video-stream/subexplain/internal/apperr"
	"github.com/video-stream/subexplain/internal/config"
	"github.com/video-stream/subexplain/internal/fetch"
	"github.com/video-stream/subexplain/internal/models"
)

// Request is one explanation job handed to a provider.
type Request struct {
	RequestID  string
	Text       string
	Language   string
	SessionKey string
}

// Provider explains text. Implementations must stop when ctx is cancelled.
type Provider interface {
	Kind() config.Provider
	Explain(ctx context.Context, req Request) ([]models.Item, error)
}

// Aborter is a provider that can also be told about a cancellation
// out of band.
type Aborter interface {
	Abort(ctx context.Context, requestID string) error
}

// Factory builds a provider from bridge settings. It must fail with an
// apperr.ErrConfiguration error, without network access, when a required
// credential is missing.
type Factory func(cfg config.BridgeConfig, client fetch.Doer) (Provider, error)

type Registry struct {
	mu     sync.RWMutex
	byKind map[config.Provider]Factory
}

func NewRegistry() *Registry {
	return &Registry{byKind: map[config.Provider]Factory{}}
}

// DefaultRegistry knows the local bridge and the hosted providers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(config.ProviderLocal, NewLocalBridge)
	r.Register(config.ProviderOpenAI, NewOpenAI)
	r.Register(config.ProviderGemini, NewGemini)
	r.Register(config.ProviderAnthropic, NewAnthropic)
	return r
}

func (r *Registry) Register(kind config.Provider, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKind[kind] = f
}

// Build selects the factory for cfg.AIProvider.
func (r *Registry) Build(cfg config.BridgeConfig, client fetch.Doer) (Provider, error) {
	kind, ok := config.ParseProvider(cfg.AIProvider)
	if !ok {
		return nil, apperr.Configuration("select provider", fmt.Sprintf("unknown ai provider %q", cfg.AIProvider))
	}

	r.mu.RLock()
	f, ok := r.byKind[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, apperr.Configuration("select provider", fmt.Sprintf("provider %q not registered", kind))
	}
	return f(cfg, client)
}

// upstreamError classifies a failed provider call. Cancellation wins over
// everything else; any other failure is terminal since the fetcher already
// retried.
func upstreamError(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if e := apperr.FromContext(ctx, op, err); apperr.IsCancelled(e) {
		return e
	}
	if errors.Is(err, apperr.ErrTerminal) || errors.Is(err, apperr.ErrConfiguration) {
		return err
	}
	return apperr.Terminal(op, err)
}
