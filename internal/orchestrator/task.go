package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelTrace "go.opentelemetry.io/otel/trace"

	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/alert"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/domain/model"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/events"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/ledger"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/metrics"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/relay"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/retry"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/tracing"
)

// task is the single-owner state of one in-flight swap. Only the run
// goroutine drives forward transitions; admin override and the
// residency watchdog may force FLAGGED or a terminal state, serialized
// through mu.
type task struct {
	id          uuid.UUID
	intent      model.SwapIntent
	quote       model.Quote
	submittedAt time.Time

	residency *time.Timer

	// overrideMu serializes admin overrides on this swap across the
	// legality check, the ledger write and the in-memory apply, so
	// two racing overrides cannot both pass the check.
	overrideMu sync.Mutex

	mu               sync.Mutex
	status           model.SwapStatus
	reason           string
	watchers         []chan model.SwapStatus
	cancelRequested  bool
	interruptConfirm context.CancelFunc
	finished         bool
}

func (t *task) currentStatus() model.SwapStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *task) failReason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// watch registers an observer channel. The current status is delivered
// first so a subscriber sees the full sequence from its point of view.
func (t *task) watch() <-chan model.SwapStatus {
	ch := make(chan model.SwapStatus, 16)
	t.mu.Lock()
	ch <- t.status
	if t.finished {
		close(ch)
	} else {
		t.watchers = append(t.watchers, ch)
	}
	t.mu.Unlock()
	return ch
}

// lockManifest is the payload sealed into the encrypted bundle at
// custody lock. It is the auditable content of the swap, readable only
// through the key escrow.
type lockManifest struct {
	SwapID          uuid.UUID   `json:"swap_id"`
	UserID          string      `json:"user_id"`
	SourceChain     model.Chain `json:"source_chain"`
	DestChain       model.Chain `json:"dest_chain"`
	SourceToken     model.Token `json:"source_token"`
	DestToken       model.Token `json:"dest_token"`
	Amount          string      `json:"amount"`
	Rate            string      `json:"rate"`
	EstimatedOutput string      `json:"estimated_output"`
	LockedAt        time.Time   `json:"locked_at"`
}

// run owns the swap's forward progress: confirm, lock (encrypt then
// persist, strictly before any relay), relay, settle.
func (o *Orchestrator) run(t *task) {
	defer o.wg.Done()

	route := t.intent.Route()
	ctx, span := tracing.Tracer("orchestrator").Start(o.runCtx, "orchestrator.runSwap",
		otelTrace.WithAttributes(
			attribute.String("swap_id", t.id.String()),
			attribute.String("route", route.String()),
			attribute.String("token", t.intent.SourceToken.String()),
		),
	)
	defer span.End()

	log := o.logger.With("swap_id", t.id, "user_id", t.intent.UserID)

	// CONFIRMING: wait for wallet/session authorization.
	if err := o.confirm(ctx, t); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Info("swap failed during confirmation", "reason", t.failReason())
		return
	}

	// Custody lock. The encrypted record must be durably acknowledged
	// by the ledger before the first relay attempt; a persist failure
	// fails the submission closed with no lock and no relay.
	record, err := o.lock(ctx, t)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("swap failed before custody lock", "error", err)
		return
	}
	if !o.transition(ctx, t, model.StatusLockedPendingRelay, "") {
		return
	}

	// RELAYING
	if !o.transition(ctx, t, model.StatusRelaying, "") {
		return
	}
	o.persistStatus(t.id, model.StatusRelaying, log)

	receipt, err := o.relayLoop(ctx, t, route)
	switch {
	case err == nil:
		o.persistStatus(t.id, model.StatusSettledSuccess, log)
		if o.transition(ctx, t, model.StatusSettledSuccess, "") {
			log.Info("swap settled",
				"dest_tx", receipt.DestTxHash,
				"amount", record.Amount,
			)
		}
	case errors.Is(err, relay.ErrRejected):
		// The bridge refused outright; no funds moved.
		o.persistStatus(t.id, model.StatusFailed, log)
		o.transition(ctx, t, model.StatusFailed, "relay rejected")
		log.Warn("swap failed, relay rejected", "error", err)
	case o.runCtx.Err() != nil:
		// Shutdown mid-relay. The persisted RELAYING record is left
		// for recovery; the in-memory task just stops.
		log.Warn("shutdown during relay, leaving persisted state", "error", err)
	default:
		// Retries or the relay deadline exhausted with destination
		// state ambiguous. Never FAILED here.
		span.RecordError(err)
		o.flag(t, fmt.Sprintf("relay unresolved: %v", err), log)
	}
}

// confirm drives the CONFIRMING state. Timeout, rejection and user
// cancel are all normal FAILED outcomes.
func (o *Orchestrator) confirm(ctx context.Context, t *task) error {
	t.mu.Lock()
	if t.cancelRequested {
		t.mu.Unlock()
		o.transition(ctx, t, model.StatusFailed, "cancelled by user")
		return errors.New("cancelled before authorization")
	}
	authCtx, cancelAuth := context.WithTimeout(ctx, o.cfg.ConfirmTimeout)
	t.interruptConfirm = cancelAuth
	t.mu.Unlock()

	err := o.auth.Authorize(authCtx, t.intent)
	cancelAuth()

	t.mu.Lock()
	t.interruptConfirm = nil
	cancelled := t.cancelRequested
	t.mu.Unlock()

	switch {
	case cancelled:
		o.transition(ctx, t, model.StatusFailed, "cancelled by user")
		return errors.New("cancelled by user")
	case errors.Is(err, context.DeadlineExceeded):
		o.transition(ctx, t, model.StatusFailed, "authorization timed out")
		return fmt.Errorf("authorization timed out after %s", o.cfg.ConfirmTimeout)
	case err != nil:
		o.transition(ctx, t, model.StatusFailed, "authorization rejected")
		return fmt.Errorf("authorization rejected: %w", err)
	}
	return nil
}

// lock seals the swap into an encrypted bundle and durably persists
// it. Returns the persisted record; any failure here means no lock was
// entered and nothing will be relayed.
func (o *Orchestrator) lock(ctx context.Context, t *task) (*model.SwapRecord, error) {
	now := o.nowFunc()
	manifest := lockManifest{
		SwapID:          t.id,
		UserID:          t.intent.UserID,
		SourceChain:     t.intent.SourceChain,
		DestChain:       t.intent.DestChain,
		SourceToken:     t.intent.SourceToken,
		DestToken:       t.intent.DestToken,
		Amount:          t.intent.Amount,
		Rate:            t.quote.Rate,
		EstimatedOutput: t.quote.EstimatedOutput,
		LockedAt:        now,
	}

	bundle, err := o.vault.Encrypt(ctx, t.id.String(), manifest)
	if err != nil {
		o.transition(ctx, t, model.StatusFailed, "encryption failed")
		return nil, fmt.Errorf("seal swap record: %w", err)
	}

	record := &model.SwapRecord{
		ID:        t.id,
		UserID:    t.intent.UserID,
		Route:     t.intent.Route(),
		Token:     t.intent.SourceToken,
		Amount:    t.intent.Amount,
		Status:    model.StatusLockedPendingRelay,
		Bundle:    bundle,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// The retrying tier has already spent its budget when this
	// returns an error: fail closed.
	locator, err := o.store.Create(ctx, record)
	if err != nil {
		o.transition(ctx, t, model.StatusFailed, "record store unavailable")
		return nil, fmt.Errorf("persist swap record: %w", err)
	}
	record.Locator = locator
	return record, nil
}

// relayLoop performs bounded at-least-once relay attempts under the
// overall relay deadline. The idempotency key is the swap id, so
// repeated attempts settle at most once downstream.
func (o *Orchestrator) relayLoop(ctx context.Context, t *task, route model.Route) (relay.Receipt, error) {
	deadlineCtx, cancel := context.WithTimeout(ctx, o.cfg.RelayDeadline)
	defer cancel()

	req := relay.Request{
		IdempotencyKey: t.id,
		Route:          route,
		Token:          t.intent.SourceToken,
		Amount:         t.intent.Amount,
		UserID:         t.intent.UserID,
	}

	var lastErr error
	for attempt := 1; attempt <= o.cfg.RelayAttempts; attempt++ {
		metrics.RelayAttempts.WithLabelValues(route.String()).Inc()
		start := time.Now()
		receipt, err := o.relayer.Relay(deadlineCtx, req)
		metrics.RelayLatency.WithLabelValues(route.String()).Observe(time.Since(start).Seconds())
		if err == nil {
			return receipt, nil
		}
		lastErr = err

		decision := retry.Classify(err)
		metrics.RelayFailures.WithLabelValues(route.String(), string(decision.Class)).Inc()
		if errors.Is(err, relay.ErrRejected) || !decision.IsTransient() {
			return relay.Receipt{}, err
		}
		if deadlineCtx.Err() != nil {
			break
		}

		o.logger.Warn("relay attempt failed, backing off",
			"swap_id", t.id,
			"attempt", attempt,
			"error", err,
		)
		if attempt == o.cfg.RelayAttempts {
			break
		}
		delay := retry.Backoff(attempt, o.cfg.RelayBackoffInitial, o.cfg.RelayBackoffMax)
		if err := o.sleepFn(deadlineCtx, delay); err != nil {
			break
		}
	}

	if deadlineCtx.Err() != nil {
		return relay.Receipt{}, fmt.Errorf("relay deadline exceeded after %s: %w", o.cfg.RelayDeadline, lastErr)
	}
	return relay.Receipt{}, fmt.Errorf("relay attempts exhausted after %d tries: %w", o.cfg.RelayAttempts, lastErr)
}

// transition applies a forward state change if it is still legal. It
// returns false when the swap was meanwhile forced elsewhere (admin
// override, residency flag), in which case the caller stops.
func (o *Orchestrator) transition(ctx context.Context, t *task, to model.SwapStatus, reason string) bool {
	t.mu.Lock()
	from := t.status
	if from.Terminal() || !model.CanTransition(from, to) {
		t.mu.Unlock()
		return false
	}
	t.status = to
	t.reason = reason
	t.mu.Unlock()

	o.afterTransition(t, from, to)
	return true
}

// applyOverride forces a status outside the normal transition table.
// Callers have already validated override legality; it reports false
// when the swap meanwhile moved to a state the override cannot touch.
func (o *Orchestrator) applyOverride(t *task, to model.SwapStatus, reason string) bool {
	t.mu.Lock()
	from := t.status
	if from == to || (from.Terminal() && from != model.StatusFlagged) {
		t.mu.Unlock()
		return false
	}
	t.status = to
	t.reason = reason
	t.mu.Unlock()

	o.afterTransition(t, from, to)
	return true
}

// afterTransition is the single exit path for every applied status
// change: metrics, event publish, watcher notification, terminal
// bookkeeping.
func (o *Orchestrator) afterTransition(t *task, from, to model.SwapStatus) {
	metrics.SwapTransitions.WithLabelValues(from.String(), to.String()).Inc()

	publishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := o.publisher.Publish(publishCtx, events.StatusEvent{
		SwapID: t.id,
		UserID: t.intent.UserID,
		From:   from,
		To:     to,
		At:     o.nowFunc(),
	}); err != nil {
		o.logger.Warn("status event publish failed", "swap_id", t.id, "error", err)
	}
	cancel()

	t.mu.Lock()
	for _, ch := range t.watchers {
		select {
		case ch <- to:
		default:
		}
	}
	if to.Terminal() && !t.finished {
		t.finished = true
		for _, ch := range t.watchers {
			close(ch)
		}
		t.watchers = nil
	}
	t.mu.Unlock()

	if to.Terminal() {
		t.residency.Stop()
		time.AfterFunc(o.cfg.TaskRetention, func() { o.evict(t.id) })
		metrics.SwapsInFlight.Dec()
		metrics.SwapsTerminal.WithLabelValues(to.String()).Inc()
		metrics.SwapDuration.WithLabelValues(to.String()).Observe(o.nowFunc().Sub(t.submittedAt).Seconds())
	} else {
		t.residency.Reset(o.cfg.MaxResidency)
	}

	o.logger.Info("swap transition", "swap_id", t.id, "from", from, "to", to)
}

// flag moves an ambiguous swap to FLAGGED for manual review and wakes
// the admin channel. The durable write uses a fresh context so a dying
// run context cannot lose the flag.
func (o *Orchestrator) flag(t *task, reason string, log *slog.Logger) {
	o.persistStatus(t.id, model.StatusFlagged, log)

	t.mu.Lock()
	from := t.status
	if from.Terminal() {
		t.mu.Unlock()
		return
	}
	t.status = model.StatusFlagged
	t.reason = reason
	t.mu.Unlock()

	o.afterTransition(t, from, model.StatusFlagged)
	log.Warn("swap flagged for manual review", "reason", reason)

	alertCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.alerter.Send(alertCtx, alert.Alert{
		Type:    alert.AlertTypeSwapFlagged,
		Scope:   t.id.String(),
		Title:   "Swap flagged for review",
		Message: reason,
		Fields: map[string]string{
			"route":  t.intent.Route().String(),
			"amount": t.intent.Amount,
			"user":   t.intent.UserID,
		},
	}); err != nil {
		o.logger.Warn("flag alert failed", "swap_id", t.id, "error", err)
	}
}

// forceFlag fires when a swap exceeds the maximum residency for its
// state. Terminal swaps are left alone.
func (o *Orchestrator) forceFlag(t *task) {
	t.mu.Lock()
	from := t.status
	if from.Terminal() {
		t.mu.Unlock()
		return
	}
	t.status = model.StatusFlagged
	t.reason = "maximum residency exceeded in " + from.String()
	t.mu.Unlock()

	metrics.ResidencyForceFlags.WithLabelValues(from.String()).Inc()
	o.afterTransition(t, from, model.StatusFlagged)

	log := o.logger.With("swap_id", t.id)
	o.persistStatus(t.id, model.StatusFlagged, log)
	log.Warn("swap force-flagged after residency timeout", "stuck_in", from)

	alertCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.alerter.Send(alertCtx, alert.Alert{
		Type:    alert.AlertTypeSwapFlagged,
		Scope:   t.id.String(),
		Title:   "Swap exceeded maximum residency",
		Message: t.reason,
		Fields:  map[string]string{"stuck_in": from.String()},
	}); err != nil {
		o.logger.Warn("flag alert failed", "swap_id", t.id, "error", err)
	}
}

// persistStatus writes a status to the ledger on a fresh context.
// Records that never reached custody lock have nothing to update, and
// a terminal record is only ever rewritten through Override; neither
// is actionable here.
func (o *Orchestrator) persistStatus(id uuid.UUID, status model.SwapStatus, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err := o.store.UpdateStatus(ctx, id, status)
	if err == nil || errors.Is(err, ledger.ErrNotFound) || errors.Is(err, ledger.ErrTerminalStatus) {
		return
	}
	log.Warn("status persist failed", "status", status, "error", err)
}
