package quote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/domain/model"
)

// ErrInvalidAmount is returned for non-numeric or non-positive amounts.
var ErrInvalidAmount = errors.New("invalid amount")

// ErrUnknownPair is returned when no rate exists for a token pair.
var ErrUnknownPair = errors.New("unknown token pair")

const (
	// DefaultValidity is how long a quote may be used before the
	// orchestrator requires a re-quote.
	DefaultValidity = 30 * time.Second

	outputPlaces = 8
)

// RateSource supplies the market rate of one unit of a token in USD.
// Production deployments back this with a live price oracle; the
// static table below is the bootstrap source.
type RateSource interface {
	RateUSD(ctx context.Context, token model.Token) (decimal.Decimal, error)
}

// FeeModel computes the fee taken from the gross output, in output
// token units. Pluggable so slippage policy is not baked in.
type FeeModel interface {
	Fee(route model.Route, grossOutput decimal.Decimal) decimal.Decimal
}

// Engine prices a swap intent. Side-effect free: the same rate table
// and clock always produce the same quote.
type Engine struct {
	rates    RateSource
	fees     FeeModel
	validity time.Duration
	nowFunc  func() time.Time
}

type Option func(*Engine)

func WithValidity(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.validity = d
		}
	}
}

func WithFeeModel(fm FeeModel) Option {
	return func(e *Engine) {
		if fm != nil {
			e.fees = fm
		}
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.nowFunc = now
		}
	}
}

func NewEngine(rates RateSource, opts ...Option) *Engine {
	e := &Engine{
		rates:    rates,
		fees:     BasisPointFee{Points: 50}, // 0.5% haircut
		validity: DefaultValidity,
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Quote prices amount of sourceToken into destToken over route.
// The returned quote carries an expiry; callers must re-quote once it
// lapses.
func (e *Engine) Quote(ctx context.Context, route model.Route, sourceToken, destToken model.Token, amount string) (model.Quote, error) {
	in, err := decimal.NewFromString(amount)
	if err != nil {
		return model.Quote{}, fmt.Errorf("%w: %q is not a decimal number", ErrInvalidAmount, amount)
	}
	if !in.IsPositive() {
		return model.Quote{}, fmt.Errorf("%w: amount must be greater than zero", ErrInvalidAmount)
	}

	srcUSD, err := e.rates.RateUSD(ctx, sourceToken)
	if err != nil {
		return model.Quote{}, fmt.Errorf("source rate for %s: %w", sourceToken, err)
	}
	dstUSD, err := e.rates.RateUSD(ctx, destToken)
	if err != nil {
		return model.Quote{}, fmt.Errorf("destination rate for %s: %w", destToken, err)
	}
	if dstUSD.IsZero() {
		return model.Quote{}, fmt.Errorf("%w: %s/%s", ErrUnknownPair, sourceToken, destToken)
	}

	rate := srcUSD.DivRound(dstUSD, outputPlaces)
	gross := in.Mul(rate)
	fee := e.fees.Fee(route, gross)
	net := gross.Sub(fee)
	if net.IsNegative() {
		net = decimal.Zero
	}

	now := e.nowFunc()
	return model.Quote{
		SourceToken:     sourceToken,
		DestToken:       destToken,
		Amount:          in.String(),
		EstimatedOutput: net.Round(outputPlaces).String(),
		Rate:            rate.String(),
		Fee:             fee.Round(outputPlaces).String(),
		CreatedAt:       now,
		ExpiresAt:       now.Add(e.validity),
	}, nil
}

// BasisPointFee takes a flat fraction of the gross output.
type BasisPointFee struct {
	Points int64 // 1 bp = 0.01%
}

func (f BasisPointFee) Fee(_ model.Route, grossOutput decimal.Decimal) decimal.Decimal {
	return grossOutput.Mul(decimal.New(f.Points, -4))
}

// StaticRates is an in-memory RateSource seeded with the launch token
// set. Safe for concurrent reads and updates.
type StaticRates struct {
	mu    sync.RWMutex
	rates map[model.Token]decimal.Decimal
}

// DefaultRates returns the bootstrap rate table in USD.
func DefaultRates() *StaticRates {
	return NewStaticRates(map[model.Token]decimal.Decimal{
		model.TokenETH:  decimal.NewFromInt(2640),
		model.TokenWETH: decimal.NewFromInt(2640),
		model.TokenUSDC: decimal.NewFromInt(1),
		model.TokenUSDT: decimal.NewFromInt(1),
		model.TokenARB:  decimal.RequireFromString("1.02"),
		model.TokenSOL:  decimal.NewFromInt(152),
	})
}

func NewStaticRates(rates map[model.Token]decimal.Decimal) *StaticRates {
	copied := make(map[model.Token]decimal.Decimal, len(rates))
	for k, v := range rates {
		copied[k] = v
	}
	return &StaticRates{rates: copied}
}

func (s *StaticRates) RateUSD(_ context.Context, token model.Token) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rate, ok := s.rates[token]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no rate for %s", ErrUnknownPair, token)
	}
	return rate, nil
}

// Set updates or adds a rate, for deployments that refresh the table
// from an oracle feed.
func (s *StaticRates) Set(token model.Token, rate decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[token] = rate
}
