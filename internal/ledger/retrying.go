package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/domain/model"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/metrics"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/retry"
)

const (
	defaultRetryMaxAttempts = 4
	defaultBackoffInitial   = 200 * time.Millisecond
	defaultBackoffMax       = 3 * time.Second
)

// Retrying wraps a Ledger with bounded jittered-exponential-backoff
// retries on transient failures. Exhausting the budget surfaces
// ErrUnavailable so callers fail closed. All wrapped operations are
// idempotent: record ids are caller-assigned and writes upsert.
type Retrying struct {
	next Ledger

	maxAttempts    int
	backoffInitial time.Duration
	backoffMax     time.Duration
	logger         *slog.Logger
	sleepFn        func(ctx context.Context, d time.Duration) error
}

type RetryingOption func(*Retrying)

func WithRetryBudget(maxAttempts int) RetryingOption {
	return func(r *Retrying) {
		if maxAttempts > 0 {
			r.maxAttempts = maxAttempts
		}
	}
}

func WithBackoff(initial, max time.Duration) RetryingOption {
	return func(r *Retrying) {
		if initial > 0 {
			r.backoffInitial = initial
		}
		if max > 0 {
			r.backoffMax = max
		}
	}
}

func WithSleepFunc(sleepFn func(ctx context.Context, d time.Duration) error) RetryingOption {
	return func(r *Retrying) {
		if sleepFn != nil {
			r.sleepFn = sleepFn
		}
	}
}

func NewRetrying(next Ledger, logger *slog.Logger, opts ...RetryingOption) *Retrying {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Retrying{
		next:           next,
		maxAttempts:    defaultRetryMaxAttempts,
		backoffInitial: defaultBackoffInitial,
		backoffMax:     defaultBackoffMax,
		logger:         logger.With("component", "ledger_retry"),
		sleepFn:        retry.Sleep,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Retrying) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	lastDecision := retry.Decision{Class: retry.ClassTerminal, Reason: "unset"}

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		start := time.Now()
		err := fn(ctx)
		metrics.LedgerLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
		if err == nil {
			metrics.LedgerOps.WithLabelValues(op, "ok").Inc()
			return nil
		}
		lastErr = err
		lastDecision = retry.Classify(err)

		if ctx.Err() != nil {
			metrics.LedgerOps.WithLabelValues(op, "canceled").Inc()
			return ctx.Err()
		}
		if !lastDecision.IsTransient() {
			metrics.LedgerOps.WithLabelValues(op, "terminal").Inc()
			return err
		}
		if attempt == r.maxAttempts {
			break
		}

		metrics.LedgerRetries.WithLabelValues(op).Inc()
		delay := retry.Backoff(attempt, r.backoffInitial, r.backoffMax)
		r.logger.Warn("transient ledger failure; retrying",
			"op", op,
			"attempt", attempt,
			"classification_reason", lastDecision.Reason,
			"delay", delay.String(),
			"error", err,
		)
		if sleepErr := r.sleepFn(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}

	metrics.LedgerRetryExhausted.WithLabelValues(op).Inc()
	metrics.LedgerOps.WithLabelValues(op, "exhausted").Inc()
	return fmt.Errorf("%w: %s after %d attempts (%s): %w", ErrUnavailable, op, r.maxAttempts, lastDecision.Reason, lastErr)
}

func (r *Retrying) Create(ctx context.Context, record *model.SwapRecord) (string, error) {
	var locator string
	err := r.do(ctx, "create", func(ctx context.Context) error {
		var innerErr error
		locator, innerErr = r.next.Create(ctx, record)
		return innerErr
	})
	return locator, err
}

func (r *Retrying) Get(ctx context.Context, id uuid.UUID) (*model.SwapRecord, error) {
	var record *model.SwapRecord
	err := r.do(ctx, "get", func(ctx context.Context) error {
		var innerErr error
		record, innerErr = r.next.Get(ctx, id)
		return innerErr
	})
	return record, err
}

func (r *Retrying) List(ctx context.Context, userID string, limit int) ([]model.SwapRecord, error) {
	var records []model.SwapRecord
	err := r.do(ctx, "list", func(ctx context.Context) error {
		var innerErr error
		records, innerErr = r.next.List(ctx, userID, limit)
		return innerErr
	})
	return records, err
}

func (r *Retrying) ListAll(ctx context.Context, limit int) ([]model.SwapRecord, error) {
	var records []model.SwapRecord
	err := r.do(ctx, "list_all", func(ctx context.Context) error {
		var innerErr error
		records, innerErr = r.next.ListAll(ctx, limit)
		return innerErr
	})
	return records, err
}

func (r *Retrying) UpdateStatus(ctx context.Context, id uuid.UUID, status model.SwapStatus) error {
	return r.do(ctx, "update_status", func(ctx context.Context) error {
		return r.next.UpdateStatus(ctx, id, status)
	})
}

func (r *Retrying) Override(ctx context.Context, id uuid.UUID, status model.SwapStatus, entry model.AuditEntry) error {
	return r.do(ctx, "override", func(ctx context.Context) error {
		return r.next.Override(ctx, id, status, entry)
	})
}

func (r *Retrying) ListAudit(ctx context.Context, swapID uuid.UUID) ([]model.AuditEntry, error) {
	var entries []model.AuditEntry
	err := r.do(ctx, "list_audit", func(ctx context.Context) error {
		var innerErr error
		entries, innerErr = r.next.ListAudit(ctx, swapID)
		return innerErr
	})
	return entries, err
}
