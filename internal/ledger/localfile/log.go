// Package localfile keeps a bounded append-only log of recent swap
// records on local disk. It is the durability-degradation tier used
// when the primary ledger is unreachable, never the primary store.
package localfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/domain/model"
)

const (
	// DefaultMaxRecords bounds the log; the oldest entries fall off.
	DefaultMaxRecords = 20

	DefaultFileName = ".jetswap-local-history.json"
)

// Log is a crash-safe, size-bounded local record log. Newest first.
type Log struct {
	filePath   string
	maxRecords int

	mu      sync.RWMutex
	records []model.SwapRecord
}

type logFile struct {
	Records []model.SwapRecord `json:"records"`
}

func New(filePath string, maxRecords int) (*Log, error) {
	if filePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		filePath = filepath.Join(home, DefaultFileName)
	}
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}

	l := &Log{filePath: filePath, maxRecords: maxRecords}
	if err := l.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load local history: %w", err)
		}
	}
	return l, nil
}

func (l *Log) load() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		return err
	}

	var file logFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("unmarshal local history: %w", err)
	}
	l.records = file.Records
	return nil
}

// Append prepends record and persists, dropping entries beyond the
// bound. Fallback records are always marked Degraded.
func (l *Log) Append(record model.SwapRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	record.Degraded = true
	l.records = append([]model.SwapRecord{record}, l.records...)
	if len(l.records) > l.maxRecords {
		l.records = l.records[:l.maxRecords]
	}
	return l.persist()
}

// SetStatus updates the status of an already-appended record, if this
// log still holds it. Missing records are not an error: the log is
// bounded and lossy.
func (l *Log) SetStatus(id uuid.UUID, status model.SwapStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.records {
		if l.records[i].ID == id {
			l.records[i].Status = status
			return l.persist()
		}
	}
	return nil
}

// List returns the user's records, newest first.
func (l *Log) List(userID string, limit int) []model.SwapRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]model.SwapRecord, 0, limit)
	for _, r := range l.records {
		if r.UserID != userID {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Len returns the number of records currently held.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// persist writes the log atomically via a temp-file rename. Caller
// holds the write lock.
func (l *Log) persist() error {
	data, err := json.MarshalIndent(logFile{Records: l.records}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal local history: %w", err)
	}

	tmp := l.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write local history: %w", err)
	}
	if err := os.Rename(tmp, l.filePath); err != nil {
		return fmt.Errorf("replace local history: %w", err)
	}
	return nil
}
