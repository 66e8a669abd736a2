// Package events publishes swap status transitions for out-of-process
// consumers (admin dashboard, UI pollers). Delivery is best-effort:
// the orchestrator's correctness never depends on a publish landing.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/domain/model"
)

// StatusEvent is one observed transition of a swap.
type StatusEvent struct {
	SwapID uuid.UUID        `json:"swap_id"`
	UserID string           `json:"user_id"`
	From   model.SwapStatus `json:"from"`
	To     model.SwapStatus `json:"to"`
	At     time.Time        `json:"at"`
}

// Publisher delivers status events to a transport.
type Publisher interface {
	Publish(ctx context.Context, event StatusEvent) error
}

// Memory retains published events in process. Used in tests and when
// no Redis transport is configured.
type Memory struct {
	mu     sync.RWMutex
	events []StatusEvent
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Publish(_ context.Context, event StatusEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Events returns a copy of everything published so far.
func (m *Memory) Events() []StatusEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]StatusEvent, len(m.events))
	copy(out, m.events)
	return out
}
