package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition_HappyPath(t *testing.T) {
	assert.True(t, CanTransition(StatusIdle, StatusConfirming))
	assert.True(t, CanTransition(StatusConfirming, StatusLockedPendingRelay))
	assert.True(t, CanTransition(StatusLockedPendingRelay, StatusRelaying))
	assert.True(t, CanTransition(StatusRelaying, StatusSettledSuccess))
}

func TestCanTransition_TerminalStatesAreSticky(t *testing.T) {
	terminals := []SwapStatus{StatusSettledSuccess, StatusFlagged, StatusFailed}
	all := []SwapStatus{
		StatusIdle, StatusConfirming, StatusLockedPendingRelay,
		StatusRelaying, StatusSettledSuccess, StatusFlagged, StatusFailed,
	}
	for _, from := range terminals {
		for _, to := range all {
			assert.False(t, CanTransition(from, to), "%s -> %s must not be a normal transition", from, to)
		}
	}
}

func TestCanTransition_NoSkippingLock(t *testing.T) {
	// Relay must never start without passing through the custody lock.
	assert.False(t, CanTransition(StatusConfirming, StatusRelaying))
	assert.False(t, CanTransition(StatusIdle, StatusRelaying))
	assert.False(t, CanTransition(StatusIdle, StatusLockedPendingRelay))
}

func TestCanTransition_RelayAmbiguityGoesToFlagged(t *testing.T) {
	assert.True(t, CanTransition(StatusRelaying, StatusFlagged))
	assert.True(t, CanTransition(StatusLockedPendingRelay, StatusFlagged))
	// A locked swap can never be quietly failed: funds are in custody.
	assert.False(t, CanTransition(StatusLockedPendingRelay, StatusFailed))
}

func TestSwapIntent_Validate(t *testing.T) {
	valid := SwapIntent{
		UserID:      "u1",
		SourceChain: ChainEthereum,
		DestChain:   ChainArbitrum,
		SourceToken: TokenETH,
		DestToken:   TokenARB,
		Amount:      "1.5",
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*SwapIntent)
	}{
		{"missing user", func(i *SwapIntent) { i.UserID = " " }},
		{"same chain", func(i *SwapIntent) { i.DestChain = ChainEthereum }},
		{"unknown chain", func(i *SwapIntent) { i.DestChain = "near" }},
		{"unknown token", func(i *SwapIntent) { i.SourceToken = "DOGE" }},
		{"zero amount", func(i *SwapIntent) { i.Amount = "0" }},
		{"negative amount", func(i *SwapIntent) { i.Amount = "-1.5" }},
		{"non numeric amount", func(i *SwapIntent) { i.Amount = "1.5e" }},
		{"empty amount", func(i *SwapIntent) { i.Amount = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := valid
			tt.mutate(&intent)
			assert.Error(t, intent.Validate())
		})
	}
}

func TestRoute_String(t *testing.T) {
	r := Route{SourceChain: ChainEthereum, DestChain: ChainArbitrum}
	assert.Equal(t, "ethereum -> arbitrum", r.String())
}
