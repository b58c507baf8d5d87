// Package reconciler keeps the conversation store consistent with the backend.
//
// Three sources write to the store: authoritative reloads, optimistic local
// mutations and push events. Backend calls are made without holding any lock;
// their results are applied under the reconciler mutex so that every
// externally visible transition happens in one step.
package reconciler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/hrygo/convsync/plugin/gateway"
	"github.com/hrygo/convsync/server/internal/errors"
	"github.com/hrygo/convsync/server/internal/observability"
	"github.com/hrygo/convsync/server/projector"
	"github.com/hrygo/convsync/store"
)

const (
	// DefaultSyncInterval is the polling backstop interval.
	DefaultSyncInterval = 5 * time.Second
	// DefaultReloadEvery is the minimum spacing between authoritative reloads.
	DefaultReloadEvery = 250 * time.Millisecond
	// DefaultReloadBurst is the number of reloads allowed back to back.
	DefaultReloadBurst = 4
	// DefaultReloadTimeout bounds a single reload, independent of the callers waiting on it.
	DefaultReloadTimeout = 30 * time.Second
)

// ErrClosed is returned by operations on a closed Reconciler.
var ErrClosed error = errors.ErrClosed

// ErrorHandler receives the single user-facing message for a failed user action.
type ErrorHandler func(action, message string)

// Reconciler merges reloads, optimistic mutations and push events into one store.
type Reconciler struct {
	gw        gateway.Gateway
	store     *store.Store
	projector *projector.Projector
	logger    *slog.Logger
	metrics   *observability.Metrics
	now       func() time.Time
	onError   ErrorHandler

	syncInterval  time.Duration
	reloadTimeout time.Duration
	limiter       *rate.Limiter
	reloads       singleflight.Group
	reloadSeq     atomic.Uint64

	mu         sync.Mutex
	closed     bool
	activeID   string
	appliedSeq uint64
	gen        uint64
	owners     map[string]uint64 // temp id -> create attempt that owns the placeholder
	cancelRun  context.CancelFunc
}

type config struct {
	logger        *slog.Logger
	registerer    prometheus.Registerer
	now           func() time.Time
	onError       ErrorHandler
	syncInterval  time.Duration
	reloadEvery   time.Duration
	reloadBurst   int
	reloadTimeout time.Duration
	projector     projector.Config
}

// Option configures a Reconciler.
type Option func(*config)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithRegisterer registers the reconciler metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *config) { c.registerer = reg }
}

// WithClock overrides the clock used for lastMessageAt.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithErrorHandler sets the receiver of user-facing failure messages.
func WithErrorHandler(h ErrorHandler) Option {
	return func(c *config) { c.onError = h }
}

// WithSyncInterval sets the polling backstop interval. Zero disables polling.
func WithSyncInterval(d time.Duration) Option {
	return func(c *config) { c.syncInterval = d }
}

// WithReloadLimit paces authoritative reloads. A zero every disables pacing.
func WithReloadLimit(every time.Duration, burst int) Option {
	return func(c *config) {
		c.reloadEvery = every
		c.reloadBurst = burst
	}
}

// WithReloadTimeout bounds a single reload.
func WithReloadTimeout(d time.Duration) Option {
	return func(c *config) { c.reloadTimeout = d }
}

// WithPreview configures preview length and cache size of the projection.
func WithPreview(length, cacheSize int) Option {
	return func(c *config) {
		c.projector = projector.Config{PreviewLength: length, CacheSize: cacheSize}
	}
}

// New creates a Reconciler over gw with an empty store.
func New(gw gateway.Gateway, opts ...Option) (*Reconciler, error) {
	if gw == nil {
		return nil, errors.InvalidArgument("gateway is required")
	}
	cfg := config{
		logger:        slog.Default(),
		now:           time.Now,
		syncInterval:  DefaultSyncInterval,
		reloadEvery:   DefaultReloadEvery,
		reloadBurst:   DefaultReloadBurst,
		reloadTimeout: DefaultReloadTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.reloadBurst <= 0 {
		cfg.reloadBurst = 1
	}
	if cfg.reloadTimeout <= 0 {
		cfg.reloadTimeout = DefaultReloadTimeout
	}

	limit := rate.Inf
	if cfg.reloadEvery > 0 {
		limit = rate.Every(cfg.reloadEvery)
	}

	proj, err := projector.New(cfg.projector)
	if err != nil {
		return nil, err
	}

	return &Reconciler{
		gw:            gw,
		store:         store.New(),
		projector:     proj,
		logger:        cfg.logger,
		metrics:       observability.NewMetrics(cfg.registerer),
		now:           cfg.now,
		onError:       cfg.onError,
		syncInterval:  cfg.syncInterval,
		reloadTimeout: cfg.reloadTimeout,
		limiter:       rate.NewLimiter(limit, cfg.reloadBurst),
		owners:        make(map[string]uint64),
	}, nil
}

// Store returns the underlying conversation store.
func (r *Reconciler) Store() *store.Store {
	return r.store
}

// Close stops Run and discards every backend response that arrives later.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	if r.cancelRun != nil {
		r.cancelRun()
	}
}

func (r *Reconciler) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Active returns the active conversation id, or "" if none is selected.
func (r *Reconciler) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeID
}

// Select makes id the active conversation.
func (r *Reconciler) Select(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if !r.selectLocked(id) {
		return errors.NotFound(id)
	}
	return nil
}

func (r *Reconciler) selectLocked(id string) bool {
	if _, ok := r.store.Get(id); !ok {
		return false
	}
	r.activeID = id
	return true
}

// SetProcessing marks whether a reply is being generated for id.
func (r *Reconciler) SetProcessing(id string, processing bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if !r.store.SetProcessing(id, processing) {
		return errors.NotFound(id)
	}
	return nil
}

// Records returns the store contents in display order.
func (r *Reconciler) Records() []store.ConversationRecord {
	return r.store.All()
}

// Project returns the display rows matching query.
func (r *Reconciler) Project(query string) []projector.Row {
	r.mu.Lock()
	records := r.store.All()
	processing := r.store.ProcessingIDs()
	active := r.activeID
	r.mu.Unlock()

	return r.projector.Project(records, query, processing, active)
}

// surface reports a failed user action through the error handler.
func (r *Reconciler) surface(action string, err error) {
	if r.onError == nil || err == nil || err == ErrClosed {
		return
	}
	r.onError(action, errors.UserMessage(action, err))
}
