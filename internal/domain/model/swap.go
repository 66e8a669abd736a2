package model

import (
	"time"

	"github.com/google/uuid"
)

// SwapStatus is the orchestration state of a swap. Transitions are
// validated through CanTransition; terminal states are only ever left
// via an explicit admin override, which is recorded as an AuditEntry.
type SwapStatus string

const (
	StatusIdle               SwapStatus = "IDLE"
	StatusConfirming         SwapStatus = "CONFIRMING"
	StatusLockedPendingRelay SwapStatus = "LOCKED_PENDING_RELAY"
	StatusRelaying           SwapStatus = "RELAYING"
	StatusSettledSuccess     SwapStatus = "SETTLED_SUCCESS"
	StatusFlagged            SwapStatus = "FLAGGED"
	StatusFailed             SwapStatus = "FAILED"
)

func (s SwapStatus) String() string {
	return string(s)
}

// Terminal reports whether s is a state the orchestrator never leaves
// on its own. FLAGGED is terminal-pending: only an admin disposition
// moves it.
func (s SwapStatus) Terminal() bool {
	switch s {
	case StatusSettledSuccess, StatusFlagged, StatusFailed:
		return true
	}
	return false
}

// validTransitions is the orchestrator's legal transition table.
// FLAGGED is reachable from any in-flight state because every
// non-terminal state has a maximum residency after which it is forced
// there for manual review.
var validTransitions = map[SwapStatus][]SwapStatus{
	StatusIdle:               {StatusConfirming, StatusFailed},
	StatusConfirming:         {StatusLockedPendingRelay, StatusFailed, StatusFlagged},
	StatusLockedPendingRelay: {StatusRelaying, StatusFlagged},
	StatusRelaying:           {StatusSettledSuccess, StatusFlagged, StatusFailed},
}

// CanTransition reports whether from -> to is legal without an admin
// override.
func CanTransition(from, to SwapStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SwapRecord is the durable, auditable unit persisted to the ledger.
// Amount is a decimal string; it is never held in a float.
type SwapRecord struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	UserID    string          `db:"user_id" json:"user_id"`
	Route     Route           `json:"route"`
	Token     Token           `db:"token" json:"token"`
	Amount    string          `db:"amount" json:"amount"`
	Status    SwapStatus      `db:"status" json:"status"`
	Bundle    EncryptedBundle `json:"bundle"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`

	// Locator is the store-assigned path of the record, when the
	// backing ledger addresses documents by path rather than id.
	Locator string `db:"locator" json:"locator,omitempty"`

	// Degraded marks records recovered from the local fallback log
	// rather than the primary store.
	Degraded bool `json:"degraded,omitempty"`
}

// AuditEntry records an administrative status override. History is
// appended, never rewritten.
type AuditEntry struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	SwapID     uuid.UUID  `db:"swap_id" json:"swap_id"`
	ActorID    string     `db:"actor_id" json:"actor_id"`
	FromStatus SwapStatus `db:"from_status" json:"from_status"`
	ToStatus   SwapStatus `db:"to_status" json:"to_status"`
	Reason     string     `db:"reason" json:"reason,omitempty"`
	At         time.Time  `db:"at" json:"at"`
}
