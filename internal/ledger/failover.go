package ledger

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/circuitbreaker"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/domain/model"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/ledger/localfile"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/metrics"
)

// Failover layers the bounded local history log under the primary
// store. Writes mirror into the local log best-effort before the
// primary write; reads come from the primary and degrade to the local
// log only when the primary fails. Create and Override never fall
// back: the custody path fails closed on an unavailable primary.
type Failover struct {
	primary Ledger
	local   *localfile.Log
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

func NewFailover(primary Ledger, local *localfile.Log, breaker *circuitbreaker.Breaker, logger *slog.Logger) *Failover {
	if logger == nil {
		logger = slog.Default()
	}
	return &Failover{
		primary: primary,
		local:   local,
		breaker: breaker,
		logger:  logger.With("component", "ledger_failover"),
	}
}

func (f *Failover) record(err error) {
	if f.breaker == nil {
		return
	}
	if err != nil {
		f.breaker.RecordFailure()
	} else {
		f.breaker.RecordSuccess()
	}
	metrics.LedgerBreakerState.Set(float64(f.breaker.State()))
}

// Create mirrors the record locally, then writes the primary. A local
// mirror failure is logged and ignored; a primary failure propagates
// so the submission fails closed.
func (f *Failover) Create(ctx context.Context, record *model.SwapRecord) (string, error) {
	if f.local != nil {
		if err := f.local.Append(*record); err != nil {
			f.logger.Warn("local history mirror failed", "swap_id", record.ID, "error", err)
		}
	}

	locator, err := f.primary.Create(ctx, record)
	f.record(err)
	return locator, err
}

func (f *Failover) Get(ctx context.Context, id uuid.UUID) (*model.SwapRecord, error) {
	record, err := f.primary.Get(ctx, id)
	f.record(err)
	return record, err
}

// List reads from the primary; when it fails (or the breaker is open)
// the degraded local tier serves what it still holds.
func (f *Failover) List(ctx context.Context, userID string, limit int) ([]model.SwapRecord, error) {
	if f.breaker == nil || f.breaker.Allow() == nil {
		records, err := f.primary.List(ctx, userID, limit)
		f.record(err)
		if err == nil {
			return records, nil
		}
		if f.local == nil {
			return nil, err
		}
		f.logger.Warn("primary list failed; serving local history", "user_id", userID, "error", err)
	}
	if f.local == nil {
		return nil, ErrUnavailable
	}

	metrics.LedgerFallbackServed.WithLabelValues("list").Inc()
	return f.local.List(userID, limit), nil
}

// ListAll is the admin aggregate; the local log is per-node and
// partial, so it never substitutes for the primary here.
func (f *Failover) ListAll(ctx context.Context, limit int) ([]model.SwapRecord, error) {
	records, err := f.primary.ListAll(ctx, limit)
	f.record(err)
	return records, err
}

func (f *Failover) UpdateStatus(ctx context.Context, id uuid.UUID, status model.SwapStatus) error {
	if f.local != nil {
		if err := f.local.SetStatus(id, status); err != nil {
			f.logger.Warn("local history status update failed", "swap_id", id, "error", err)
		}
	}

	err := f.primary.UpdateStatus(ctx, id, status)
	f.record(err)
	return err
}

func (f *Failover) Override(ctx context.Context, id uuid.UUID, status model.SwapStatus, entry model.AuditEntry) error {
	err := f.primary.Override(ctx, id, status, entry)
	f.record(err)
	if err == nil && f.local != nil {
		if localErr := f.local.SetStatus(id, status); localErr != nil {
			f.logger.Warn("local history override mirror failed", "swap_id", id, "error", localErr)
		}
	}
	return err
}

func (f *Failover) ListAudit(ctx context.Context, swapID uuid.UUID) ([]model.AuditEntry, error) {
	entries, err := f.primary.ListAudit(ctx, swapID)
	f.record(err)
	return entries, err
}
