package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/domain/model"
)

// Memory is an in-process Ledger used for development mode and tests.
type Memory struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*model.SwapRecord
	audits  map[uuid.UUID][]model.AuditEntry
	nowFunc func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[uuid.UUID]*model.SwapRecord),
		audits:  make(map[uuid.UUID][]model.AuditEntry),
		nowFunc: time.Now,
	}
}

func (m *Memory) Create(_ context.Context, record *model.SwapRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *record
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = m.nowFunc().UTC()
	}
	copied.UpdatedAt = copied.CreatedAt
	copied.Locator = "users/" + copied.UserID + "/swaps/" + copied.ID.String()
	m.records[copied.ID] = &copied
	return copied.Locator, nil
}

func (m *Memory) Get(_ context.Context, id uuid.UUID) (*model.SwapRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *record
	return &copied, nil
}

func (m *Memory) List(_ context.Context, userID string, limit int) ([]model.SwapRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(limit, func(r *model.SwapRecord) bool { return r.UserID == userID }), nil
}

func (m *Memory) ListAll(_ context.Context, limit int) ([]model.SwapRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(limit, func(*model.SwapRecord) bool { return true }), nil
}

// collect returns matching records newest first. Caller holds a lock.
func (m *Memory) collect(limit int, match func(*model.SwapRecord) bool) []model.SwapRecord {
	out := make([]model.SwapRecord, 0, len(m.records))
	for _, r := range m.records {
		if match(r) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *Memory) UpdateStatus(_ context.Context, id uuid.UUID, status model.SwapStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	if record.Status.Terminal() {
		return ErrTerminalStatus
	}
	record.Status = status
	record.UpdatedAt = m.nowFunc().UTC()
	return nil
}

func (m *Memory) Override(_ context.Context, id uuid.UUID, status model.SwapStatus, entry model.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	if record.Status == status || (record.Status.Terminal() && record.Status != model.StatusFlagged) {
		return ErrTerminalStatus
	}
	record.Status = status
	record.UpdatedAt = m.nowFunc().UTC()
	m.audits[id] = append(m.audits[id], entry)
	return nil
}

func (m *Memory) ListAudit(_ context.Context, swapID uuid.UUID) ([]model.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]model.AuditEntry, len(m.audits[swapID]))
	copy(entries, m.audits[swapID])
	return entries, nil
}

// MemoryUsers is an in-process UserStore for development mode and
// tests.
type MemoryUsers struct {
	mu       sync.RWMutex
	profiles map[string]*model.UserProfile
}

func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{profiles: make(map[string]*model.UserProfile)}
}

func (m *MemoryUsers) UpsertProfile(_ context.Context, profile *model.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *profile
	m.profiles[copied.ID] = &copied
	return nil
}

func (m *MemoryUsers) GetProfile(_ context.Context, id string) (*model.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	profile, ok := m.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *profile
	return &copied, nil
}

func (m *MemoryUsers) ListProfiles(_ context.Context, limit int) ([]model.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.UserProfile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeenAt.After(out[j].LastSeenAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryUsers) SetRole(_ context.Context, id string, role model.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	profile, ok := m.profiles[id]
	if !ok {
		return ErrNotFound
	}
	profile.Role = role
	return nil
}
