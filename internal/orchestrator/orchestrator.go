// Package orchestrator drives a swap from accepted intent to terminal
// state. Each swap is owned by a single goroutine, so transitions for
// one id are strictly sequential; swaps never block each other.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/alert"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/domain/model"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/events"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/ledger"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/metrics"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/relay"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/retry"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/vault"
)

var (
	// ErrValidation rejects a malformed intent before any state is
	// created.
	ErrValidation = errors.New("invalid swap intent")

	// ErrQuoteExpired rejects a submission whose quote validity window
	// has lapsed. The caller re-quotes and resubmits.
	ErrQuoteExpired = errors.New("quote expired")

	// ErrUnknownSwap is returned for an id no live task or ledger
	// record matches.
	ErrUnknownSwap = errors.New("unknown swap")

	// ErrCancelConflict is returned when a user cancel arrives after
	// custody lock. Only an admin override can redirect the swap.
	ErrCancelConflict = errors.New("swap can no longer be cancelled")

	// ErrOverrideConflict is returned for an admin override the
	// current state disallows. Nothing is mutated.
	ErrOverrideConflict = errors.New("status override not permitted")

	// ErrShuttingDown rejects submissions once Shutdown has begun.
	ErrShuttingDown = errors.New("orchestrator shutting down")
)

// Authorizer performs the wallet/session confirmation step. A nil
// error means the user authorized the swap.
type Authorizer interface {
	Authorize(ctx context.Context, intent model.SwapIntent) error
}

// Config carries the orchestrator's timeout and retry policy. Zero
// fields take defaults.
type Config struct {
	// ConfirmTimeout bounds the authorization wait. Expiry is a
	// normal FAILED outcome.
	ConfirmTimeout time.Duration

	// RelayAttempts bounds relay retries within RelayDeadline.
	RelayAttempts int

	// RelayBackoffInitial and RelayBackoffMax shape the jittered
	// exponential backoff between relay attempts.
	RelayBackoffInitial time.Duration
	RelayBackoffMax     time.Duration

	// RelayDeadline is the overall relay budget. Expiry routes the
	// swap to FLAGGED, never FAILED, because destination state is
	// ambiguous.
	RelayDeadline time.Duration

	// MaxResidency force-flags a swap stuck in any non-terminal
	// state. No swap ever spins forever.
	MaxResidency time.Duration

	// TaskRetention is how long a finished swap lingers in the live
	// registry before it is evicted and status reads shift to the
	// ledger. Keeps the registry bounded by throughput, not by
	// lifetime swap count.
	TaskRetention time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 1500 * time.Millisecond
	}
	if c.RelayAttempts <= 0 {
		c.RelayAttempts = 5
	}
	if c.RelayBackoffInitial <= 0 {
		c.RelayBackoffInitial = 500 * time.Millisecond
	}
	if c.RelayBackoffMax <= 0 {
		c.RelayBackoffMax = 10 * time.Second
	}
	if c.RelayDeadline <= 0 {
		c.RelayDeadline = 2 * time.Minute
	}
	if c.MaxResidency <= 0 {
		c.MaxResidency = 5 * time.Minute
	}
	if c.TaskRetention <= 0 {
		c.TaskRetention = time.Minute
	}
	return c
}

// Orchestrator coordinates the vault, ledger and relayer for many
// concurrent swaps. The ledger handed in is expected to already carry
// the retry and failover tiers.
type Orchestrator struct {
	store     ledger.Ledger
	vault     *vault.Service
	relayer   relay.Client
	auth      Authorizer
	publisher events.Publisher
	alerter   alert.Alerter
	logger    *slog.Logger
	cfg       Config

	nowFunc func() time.Time
	sleepFn func(ctx context.Context, d time.Duration) error

	mu     sync.RWMutex
	tasks  map[uuid.UUID]*task
	closed bool

	runCtx context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPublisher sets the status event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithAlerter sets the alert sink for flagged swaps.
func WithAlerter(a alert.Alerter) Option {
	return func(o *Orchestrator) { o.alerter = a }
}

// WithNowFunc overrides the clock. Used in tests.
func WithNowFunc(now func() time.Time) Option {
	return func(o *Orchestrator) { o.nowFunc = now }
}

// WithSleepFunc overrides backoff sleeps. Used in tests.
func WithSleepFunc(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleepFn = fn }
}

func New(store ledger.Ledger, v *vault.Service, relayer relay.Client, auth Authorizer, cfg Config, logger *slog.Logger, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		store:     store,
		vault:     v,
		relayer:   relayer,
		auth:      auth,
		publisher: events.NewMemory(),
		alerter:   &alert.NoopAlerter{},
		logger:    logger.With("component", "orchestrator"),
		cfg:       cfg.withDefaults(),
		nowFunc:   time.Now,
		sleepFn:   retry.Sleep,
		tasks:     make(map[uuid.UUID]*task),
		runCtx:    ctx,
		stop:      cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit validates the intent against its quote and starts the swap.
// The returned id is immediately observable in CONFIRMING. Validation
// and quote-expiry failures are synchronous and create no state.
func (o *Orchestrator) Submit(ctx context.Context, intent model.SwapIntent, q model.Quote) (uuid.UUID, error) {
	if err := intent.Validate(); err != nil {
		metrics.SwapsRejected.WithLabelValues("validation").Inc()
		return uuid.Nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if q.Expired(o.nowFunc()) {
		metrics.SwapsRejected.WithLabelValues("quote_expired").Inc()
		return uuid.Nil, ErrQuoteExpired
	}

	t := &task{
		id:          uuid.New(),
		intent:      intent,
		quote:       q,
		status:      model.StatusConfirming,
		submittedAt: o.nowFunc(),
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		metrics.SwapsRejected.WithLabelValues("shutdown").Inc()
		return uuid.Nil, ErrShuttingDown
	}
	o.tasks[t.id] = t
	o.wg.Add(1)
	o.mu.Unlock()

	route := intent.Route()
	metrics.SwapsSubmitted.WithLabelValues(route.String()).Inc()
	metrics.SwapsInFlight.Inc()

	t.residency = time.AfterFunc(o.cfg.MaxResidency, func() { o.forceFlag(t) })

	o.logger.Info("swap submitted",
		"swap_id", t.id,
		"user_id", intent.UserID,
		"route", route.String(),
		"amount", intent.Amount,
	)

	go o.run(t)
	return t.id, nil
}

// GetStatus returns the current status of a swap, consulting live
// tasks first and falling back to the ledger.
func (o *Orchestrator) GetStatus(ctx context.Context, id uuid.UUID) (model.SwapStatus, error) {
	if t := o.lookup(id); t != nil {
		return t.currentStatus(), nil
	}
	rec, err := o.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrUnknownSwap, id)
		}
		return "", err
	}
	return rec.Status, nil
}

// WatchStatus subscribes to a live swap's transitions. The channel
// first yields the current status, then every transition, and closes
// once a terminal status has been delivered.
func (o *Orchestrator) WatchStatus(id uuid.UUID) (<-chan model.SwapStatus, error) {
	t := o.lookup(id)
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSwap, id)
	}
	return t.watch(), nil
}

// Cancel honors a user-initiated cancel while the swap is still in
// IDLE or CONFIRMING. After custody lock it returns ErrCancelConflict.
func (o *Orchestrator) Cancel(ctx context.Context, id uuid.UUID) error {
	t := o.lookup(id)
	if t == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSwap, id)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.status {
	case model.StatusIdle, model.StatusConfirming:
		t.cancelRequested = true
		if t.interruptConfirm != nil {
			t.interruptConfirm()
		}
		return nil
	default:
		return fmt.Errorf("%w: status is %s", ErrCancelConflict, t.status)
	}
}

// AdminSetStatus applies an administrative override: FLAGGED swaps may
// be dispositioned to any terminal state, and a stuck non-terminal
// swap may be corrected. SETTLED_SUCCESS and FAILED are immutable. An
// audit entry is appended, never overwriting history. Overrides on
// the same swap are serialized; a lost race returns
// ErrOverrideConflict with nothing mutated.
func (o *Orchestrator) AdminSetStatus(ctx context.Context, id uuid.UUID, to model.SwapStatus, actorID, reason string) error {
	switch to {
	case model.StatusSettledSuccess, model.StatusFailed, model.StatusFlagged:
	default:
		return fmt.Errorf("%w: %s is not an override target", ErrOverrideConflict, to)
	}

	t := o.lookup(id)
	if t != nil {
		t.overrideMu.Lock()
		defer t.overrideMu.Unlock()
	}
	from, err := o.overrideSource(ctx, id, t)
	if err != nil {
		return err
	}
	if from == to {
		return fmt.Errorf("%w: swap is already %s", ErrOverrideConflict, to)
	}
	if from.Terminal() && from != model.StatusFlagged {
		return fmt.Errorf("%w: %s is immutable", ErrOverrideConflict, from)
	}

	entry := model.AuditEntry{
		ID:         uuid.New(),
		SwapID:     id,
		ActorID:    actorID,
		FromStatus: from,
		ToStatus:   to,
		Reason:     reason,
		At:         o.nowFunc(),
	}
	if err := o.store.Override(ctx, id, to, entry); err != nil {
		switch {
		case errors.Is(err, ledger.ErrNotFound) && t != nil:
			// A swap that failed before custody lock has no ledger
			// record; the in-memory override still applies.
		case errors.Is(err, ledger.ErrTerminalStatus):
			// The record's guard refused the write: a concurrent
			// override or transition reached a terminal state first.
			return fmt.Errorf("%w: %v", ErrOverrideConflict, err)
		default:
			return err
		}
	}

	if t != nil && !o.applyOverride(t, to, "admin override by "+actorID) {
		o.logger.Warn("override lost a race with a concurrent transition",
			"swap_id", id, "from", from, "to", to)
	}

	metrics.AdminOverrides.WithLabelValues(to.String()).Inc()
	o.logger.Info("admin override applied",
		"swap_id", id,
		"actor_id", actorID,
		"from", from,
		"to", to,
	)
	if err := o.alerter.Send(ctx, alert.Alert{
		Type:    alert.AlertTypeOverrideApplied,
		Scope:   id.String(),
		Title:   "Admin override applied",
		Message: fmt.Sprintf("%s -> %s by %s", from, to, actorID),
		Fields:  map[string]string{"actor": actorID, "from": from.String(), "to": to.String()},
	}); err != nil {
		o.logger.Warn("override alert failed", "swap_id", id, "error", err)
	}
	return nil
}

// evict drops a finished task from the registry once its retention
// window lapses. GetStatus for the id then serves from the ledger; a
// swap that failed before custody lock has no record and reads as
// unknown after eviction.
func (o *Orchestrator) evict(id uuid.UUID) {
	o.mu.Lock()
	delete(o.tasks, id)
	o.mu.Unlock()
}

// overrideSource resolves the authoritative from-status for an
// override. Live task state wins over the persisted record.
func (o *Orchestrator) overrideSource(ctx context.Context, id uuid.UUID, t *task) (model.SwapStatus, error) {
	if t != nil {
		return t.currentStatus(), nil
	}
	rec, err := o.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrUnknownSwap, id)
		}
		return "", err
	}
	return rec.Status, nil
}

// Shutdown stops accepting submissions and waits for in-flight swaps
// to finish or ctx to expire. In-flight tasks see their run context
// cancelled; their persisted state is left for recovery tooling.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.stop()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) lookup(id uuid.UUID) *task {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.tasks[id]
}
