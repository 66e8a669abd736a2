// Package ledger defines the durable record store contract the swap
// orchestrator persists through, plus the retry and degraded-fallback
// tiers layered over concrete backends.
package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/domain/model"
)

var (
	// ErrUnavailable wraps a transient backend failure that survived
	// the retry budget. Submissions seeing it fail closed.
	ErrUnavailable = errors.New("ledger unavailable")

	// ErrPermissionDenied maps the backend's permission failure mode.
	ErrPermissionDenied = errors.New("ledger permission denied")

	// ErrNotFound is returned for an unknown record locator.
	ErrNotFound = errors.New("swap record not found")

	// ErrTerminalStatus is returned when a non-override status write
	// targets a record already in a terminal state.
	ErrTerminalStatus = errors.New("swap record status is terminal")
)

// Ledger is the append-oriented swap record store. Implementations
// must be safe for use by many concurrent orchestrator tasks.
type Ledger interface {
	// Create durably persists record and returns its locator. The
	// record id is caller-assigned, so retried creates are idempotent.
	Create(ctx context.Context, record *model.SwapRecord) (string, error)

	// Get returns the record with the given id.
	Get(ctx context.Context, id uuid.UUID) (*model.SwapRecord, error)

	// List returns the user's records, most recent first.
	List(ctx context.Context, userID string, limit int) ([]model.SwapRecord, error)

	// ListAll returns records across all users, most recent first.
	// Admin aggregate view.
	ListAll(ctx context.Context, limit int) ([]model.SwapRecord, error)

	// UpdateStatus moves a record to status. It refuses to touch a
	// record already in a terminal state (ErrTerminalStatus); only
	// Override may do that.
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.SwapStatus) error

	// Override applies an administrative status change together with
	// its audit entry. History is appended, never rewritten. The
	// write is state-guarded: a record already carrying status, or
	// terminal in any state but FLAGGED, returns ErrTerminalStatus
	// untouched, so racing overrides resolve to a single winner.
	Override(ctx context.Context, id uuid.UUID, status model.SwapStatus, entry model.AuditEntry) error

	// ListAudit returns the audit trail for a swap, oldest first.
	ListAudit(ctx context.Context, swapID uuid.UUID) ([]model.AuditEntry, error)
}

// UserStore persists synced identity profiles alongside swap records.
type UserStore interface {
	UpsertProfile(ctx context.Context, profile *model.UserProfile) error
	GetProfile(ctx context.Context, id string) (*model.UserProfile, error)
	ListProfiles(ctx context.Context, limit int) ([]model.UserProfile, error)
	SetRole(ctx context.Context, id string, role model.Role) error
}
