// Package advice talks to the text-generation collaborator that backs
// the in-app swap assistant. The orchestrator's correctness never
// depends on it: every failure degrades to a static fallback.
package advice

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/domain/model"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/metrics"
)

const (
	// FallbackAdvice is served whenever the backend is unreachable
	// or misbehaves.
	FallbackAdvice = "Optimize your routes with Jet Swap's high-speed engine."

	// FallbackChat is the single chunk emitted when a chat stream
	// cannot be opened.
	FallbackChat = "The AI chat is temporarily unavailable. Please check back later."

	defaultTimeout = 20 * time.Second
)

// ChatTurn is one prior exchange in a chat conversation.
type ChatTurn struct {
	Role string `json:"role"` // "user" or "model"
	Text string `json:"text"`
}

// Client asks the text-generation backend for swap advice and chat
// completions over HTTP JSON.
type Client struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

func NewClient(endpoint string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With("component", "advice"),
	}
}

type adviceRequest struct {
	SourceChain model.Chain `json:"source_chain"`
	DestChain   model.Chain `json:"dest_chain"`
	Token       model.Token `json:"token"`
}

type adviceResponse struct {
	Text string `json:"text"`
}

// Advice returns a single-shot routing tip for the given corridor.
// It never returns an error: failures degrade to FallbackAdvice.
func (c *Client) Advice(ctx context.Context, source, dest model.Chain, token model.Token) string {
	if c.endpoint == "" {
		return FallbackAdvice
	}

	body, err := json.Marshal(adviceRequest{SourceChain: source, DestChain: dest, Token: token})
	if err != nil {
		return c.fallback("marshal advice request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/advice", bytes.NewReader(body))
	if err != nil {
		return c.fallback("create advice request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return c.fallback("advice request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.fallback("advice response", fmt.Errorf("http status %d", resp.StatusCode))
	}

	var out adviceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return c.fallback("decode advice response", err)
	}
	if out.Text == "" {
		return FallbackAdvice
	}
	return out.Text
}

type chatRequest struct {
	Message string     `json:"message"`
	History []ChatTurn `json:"history,omitempty"`
}

// ChatStream opens a chat completion and returns its chunks as a
// channel. The sequence is finite and not restartable; the channel is
// closed when the stream ends or ctx is cancelled. On any failure the
// channel yields FallbackChat and closes.
func (c *Client) ChatStream(ctx context.Context, message string, history []ChatTurn) <-chan string {
	out := make(chan string, 4)

	if c.endpoint == "" {
		out <- FallbackChat
		close(out)
		return out
	}

	body, err := json.Marshal(chatRequest{Message: message, History: history})
	if err != nil {
		c.degradeChat(out, "marshal chat request", err)
		return out
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/chat", bytes.NewReader(body))
	if err != nil {
		c.degradeChat(out, "create chat request", err)
		return out
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.client.Do(req)
	if err != nil {
		c.degradeChat(out, "chat request", err)
		return out
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		c.degradeChat(out, "chat response", fmt.Errorf("http status %d", resp.StatusCode))
		return out
	}

	go func() {
		defer close(out)
		defer resp.Body.Close()

		// One JSON object per line, {"text": "..."}.
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var chunk adviceResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				c.logger.Warn("bad chat chunk, dropping", "error", err)
				continue
			}
			select {
			case out <- chunk.Text:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			c.logger.Warn("chat stream aborted", "error", err)
		}
	}()
	return out
}

func (c *Client) fallback(op string, err error) string {
	metrics.AdviceFallbacks.Inc()
	c.logger.Warn("advice degraded to fallback", "op", op, "error", err)
	return FallbackAdvice
}

func (c *Client) degradeChat(out chan string, op string, err error) {
	metrics.AdviceFallbacks.Inc()
	c.logger.Warn("chat degraded to fallback", "op", op, "error", err)
	out <- FallbackChat
	close(out)
}
