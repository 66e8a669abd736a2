package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_ExplicitMarks(t *testing.T) {
	err := errors.New("boom")

	d := Classify(Transient(err))
	assert.True(t, d.IsTransient())
	assert.Equal(t, "explicit_transient", d.Reason)

	d = Classify(Terminal(err))
	assert.False(t, d.IsTransient())
	assert.Equal(t, "explicit_terminal", d.Reason)
}

func TestClassify_MarkSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("create record: %w", Transient(errors.New("boom")))
	assert.True(t, Classify(err).IsTransient())
}

func TestClassify_ContextErrors(t *testing.T) {
	assert.False(t, Classify(context.Canceled).IsTransient())
	assert.True(t, Classify(context.DeadlineExceeded).IsTransient())
}

func TestClassify_SQLStates(t *testing.T) {
	tests := []struct {
		code      pq.ErrorCode
		transient bool
	}{
		{"08006", true},  // connection failure
		{"40001", true},  // serialization failure
		{"40P01", true},  // deadlock detected
		{"53300", true},  // too many connections
		{"57P03", true},  // cannot connect now
		{"23505", false}, // unique violation
		{"42601", false}, // syntax error
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			d := Classify(&pq.Error{Code: tt.code})
			assert.Equal(t, tt.transient, d.IsTransient())
		})
	}
}

func TestClassify_MessageTokens(t *testing.T) {
	assert.True(t, Classify(errors.New("ledger: http status 503")).IsTransient())
	assert.True(t, Classify(errors.New("dial tcp: connection refused")).IsTransient())
	assert.False(t, Classify(errors.New("record not found")).IsTransient())
	assert.False(t, Classify(errors.New("permission-denied")).IsTransient())
}

func TestClassify_UnknownDefaultsTerminal(t *testing.T) {
	d := Classify(errors.New("something novel"))
	assert.False(t, d.IsTransient())
	assert.Equal(t, "unknown_terminal_default", d.Reason)
}

func TestBackoff_GrowsAndCaps(t *testing.T) {
	initial := 100 * time.Millisecond
	max := 2 * time.Second

	prevCeiling := time.Duration(0)
	for attempt := 1; attempt <= 8; attempt++ {
		d := Backoff(attempt, initial, max)
		assert.LessOrEqual(t, d, max, "attempt %d", attempt)
		assert.Greater(t, d, time.Duration(0), "attempt %d", attempt)
		if d > prevCeiling {
			prevCeiling = d
		}
	}
	// By attempt 8 the ceiling must have reached at least half of max
	// (jitter floor of the capped delay).
	assert.GreaterOrEqual(t, prevCeiling, max/2)
}

func TestBackoff_ZeroInitial(t *testing.T) {
	assert.Equal(t, time.Duration(0), Backoff(3, 0, time.Second))
}

func TestSleep_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Sleep(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSleep_ZeroDuration(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), 0))
}
