package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SwapIntent is a user-declared swap request. It is immutable once
// created and discarded after the resulting SwapRecord is persisted.
type SwapIntent struct {
	UserID      string
	SourceChain Chain
	DestChain   Chain
	SourceToken Token
	DestToken   Token
	Amount      string // decimal string, arbitrary precision
}

func (i SwapIntent) Route() Route {
	return Route{SourceChain: i.SourceChain, DestChain: i.DestChain}
}

// Validate rejects malformed intents before any state is created.
func (i SwapIntent) Validate() error {
	if strings.TrimSpace(i.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if err := i.Route().Validate(); err != nil {
		return err
	}
	if _, ok := KnownTokens[i.SourceToken]; !ok {
		return fmt.Errorf("unknown source token %q", i.SourceToken)
	}
	if _, ok := KnownTokens[i.DestToken]; !ok {
		return fmt.Errorf("unknown destination token %q", i.DestToken)
	}
	amount, err := decimal.NewFromString(i.Amount)
	if err != nil {
		return fmt.Errorf("amount %q is not a decimal number", i.Amount)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be greater than zero, got %s", amount)
	}
	return nil
}

// Quote is the priced view of an intent. It is valid only until
// ExpiresAt; the orchestrator rejects submissions carrying an expired
// quote and requires a re-quote.
type Quote struct {
	SourceToken     Token
	DestToken       Token
	Amount          string
	EstimatedOutput string
	Rate            string
	Fee             string
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

func (q Quote) Expired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}
