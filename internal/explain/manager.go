package explain

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/video-stream/subexplain/internal/apperr"
	"github.com/video-stream/subexplain/internal/cache"
	"github.com/video-stream/subexplain/internal/config"
	"github.com/video-stream/subexplain/internal/fetch"
	"github.com/video-stream/subexplain/internal/logging"
	"github.com/video-stream/subexplain/internal/models"
)

const (
	cacheNamespace      = "ai"
	defaultAbortTimeout = 5 * time.Second
)

// Explanation is a settled request.
type Explanation struct {
	RequestID string          `json:"requestId"`
	Provider  config.Provider `json:"provider"`
	Items     []models.Item   `json:"items"`
	Cached    bool            `json:"cached,omitempty"`
}

type inflight struct {
	cancel    context.CancelFunc
	provider  Provider
	cancelled atomic.Bool
}

// Manager dispatches explanation requests and tracks them by id until they
// settle or are cancelled. The map lock is only held for bookkeeping, so a
// slow provider never blocks requests under other ids.
type Manager struct {
	registry     *Registry
	client       fetch.Doer
	cache        *cache.TTLCache[[]models.Item]
	logger       *zap.Logger
	timeout      time.Duration
	abortTimeout time.Duration
	newID        func() string

	mu       sync.Mutex
	inflight map[string]*inflight
}

type ManagerOption func(*Manager)

func WithRegistry(r *Registry) ManagerOption {
	return func(m *Manager) { m.registry = r }
}

// WithResultCache enables caching of settled explanations.
func WithResultCache(c *cache.TTLCache[[]models.Item]) ManagerOption {
	return func(m *Manager) { m.cache = c }
}

// WithTimeout bounds each provider call. Zero means no bound.
func WithTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.timeout = d }
}

func WithAbortTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.abortTimeout = d
		}
	}
}

func WithIDGenerator(fn func() string) ManagerOption {
	return func(m *Manager) { m.newID = fn }
}

func WithManagerLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logging.OrNop(l).Named("explain") }
}

func NewManager(client fetch.Doer, opts ...ManagerOption) *Manager {
	m := &Manager{
		registry:     DefaultRegistry(),
		client:       client,
		logger:       zap.NewNop(),
		abortTimeout: defaultAbortTimeout,
		newID:        uuid.NewString,
		inflight:     make(map[string]*inflight),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Explain runs one request with the provider named by cfg.AIProvider. An
// empty requestID gets a generated one. A request cancelled through Cancel
// (or through ctx) fails with apperr.ErrCancelled.
func (m *Manager) Explain(ctx context.Context, text, requestID string, cfg config.BridgeConfig) (*Explanation, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.Configuration("explain", "text is required")
	}
	if requestID == "" {
		requestID = m.newID()
	}

	cfg = cfg.Normalized()
	provider, err := m.registry.Build(cfg, m.client)
	if err != nil {
		return nil, err
	}

	// Case matters to an explanation, so the text is not folded like
	// dictionary keys are.
	key := cacheNamespace + ":" + string(provider.Kind()) + "|" + cfg.UserLanguage + "|" + text
	if m.cache != nil {
		if items, ok := m.cache.Get(key); ok {
			return &Explanation{RequestID: requestID, Provider: provider.Kind(), Items: items, Cached: true}, nil
		}
	}

	var cancel context.CancelFunc
	if m.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	entry := &inflight{cancel: cancel, provider: provider}
	m.register(requestID, entry)
	defer m.settle(requestID, entry)

	m.logger.Debug("explain dispatched",
		zap.String("request_id", requestID),
		zap.String("provider", string(provider.Kind())),
		zap.Int("chars", len([]rune(text))))

	items, err := provider.Explain(ctx, Request{
		RequestID:  requestID,
		Text:       text,
		Language:   cfg.UserLanguage,
		SessionKey: cfg.SessionKey,
	})
	if entry.cancelled.Load() || (err != nil && apperr.IsCancelled(err)) {
		return nil, apperr.Cancelled("explain")
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, apperr.ErrTerminal) {
			err = apperr.Terminal("explain", err)
		}
		m.logger.Warn("explain failed",
			zap.String("request_id", requestID),
			zap.String("provider", string(provider.Kind())),
			zap.Error(err))
		return nil, err
	}

	if m.cache != nil {
		m.cache.Set(key, items)
	}
	return &Explanation{RequestID: requestID, Provider: provider.Kind(), Items: items}, nil
}

func (m *Manager) register(id string, e *inflight) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.inflight[id]; dup {
		m.logger.Warn("request id reused while in flight", zap.String("request_id", id))
	}
	m.inflight[id] = e
}

// settle removes id only while it still maps to e; a newer request that
// reused the id is left alone.
func (m *Manager) settle(id string, e *inflight) {
	m.mu.Lock()
	if m.inflight[id] == e {
		delete(m.inflight, id)
	}
	m.mu.Unlock()
	e.cancel()
}

// Cancel aborts the request registered under id and reports whether one was
// found. Unknown or settled ids are a no-op. Providers that support it are
// also notified remotely; that notification is best effort and its failure
// is only logged.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	e, ok := m.inflight[id]
	if ok {
		delete(m.inflight, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	e.cancelled.Store(true)
	e.cancel()

	if a, ok := e.provider.(Aborter); ok {
		go m.notifyAbort(a, id)
	}
	return true
}

func (m *Manager) notifyAbort(a Aborter, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.abortTimeout)
	defer cancel()
	if err := a.Abort(ctx, id); err != nil {
		m.logger.Debug("remote abort failed", zap.String("request_id", id), zap.Error(err))
	}
}

// InFlight reports whether id is registered.
func (m *Manager) InFlight(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.inflight[id]
	return ok
}

// IDs lists in-flight request ids, sorted.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.inflight))
	for id := range m.inflight {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// ClearCache drops cached explanations.
func (m *Manager) ClearCache() {
	if m.cache != nil {
		m.cache.Clear()
	}
}

// Check builds the provider for cfg without calling it, so a missing key
// shows up before the first request.
func (m *Manager) Check(cfg config.BridgeConfig) (config.Provider, error) {
	p, err := m.registry.Build(cfg.Normalized(), m.client)
	if err != nil {
		return "", err
	}
	return p.Kind(), nil
}
