// Package relay carries the cross-chain transfer contract between the
// custody lock and destination release. The orchestrator owns retry
// and deadline policy; clients here carry the idempotency key so that
// at-least-once attempts settle at most once downstream.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/domain/model"
)

// ErrRejected marks a relay the bridge refused outright; no funds
// moved and the swap may fail cleanly.
var ErrRejected = errors.New("relay rejected")

// Request is one relay attempt. IdempotencyKey is the SwapRecord id,
// stable across retries of the same swap.
type Request struct {
	IdempotencyKey uuid.UUID   `json:"idempotency_key"`
	Route          model.Route `json:"route"`
	Token          model.Token `json:"token"`
	Amount         string      `json:"amount"`
	UserID         string      `json:"user_id"`
}

// Receipt acknowledges a settled relay.
type Receipt struct {
	IdempotencyKey uuid.UUID `json:"idempotency_key"`
	DestTxHash     string    `json:"dest_tx_hash"`
	SettledAt      time.Time `json:"settled_at"`
}

// Client performs one relay attempt. Implementations must treat a
// repeated IdempotencyKey as the same transfer.
type Client interface {
	Relay(ctx context.Context, req Request) (Receipt, error)
}

// HTTPClient posts relay requests to a bridge relayer endpoint.
type HTTPClient struct {
	endpoint string
	client   *http.Client
}

func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Relay(ctx context.Context, req Request) (Receipt, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal relay request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, fmt.Errorf("create relay request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey.String())

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Receipt{}, fmt.Errorf("send relay request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var receipt Receipt
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&receipt); err != nil {
			return Receipt{}, fmt.Errorf("decode relay receipt: %w", err)
		}
		return receipt, nil
	case resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusBadRequest:
		return Receipt{}, fmt.Errorf("%w: http status %d", ErrRejected, resp.StatusCode)
	default:
		// 5xx and 429 flow through the retry classifier as transient.
		return Receipt{}, fmt.Errorf("relayer returned http status %d", resp.StatusCode)
	}
}
