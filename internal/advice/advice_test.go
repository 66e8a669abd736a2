package advice

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/domain/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAdvice_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/advice", r.URL.Path)

		var req adviceRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, model.ChainEthereum, req.SourceChain)
		assert.Equal(t, model.ChainArbitrum, req.DestChain)
		assert.Equal(t, model.TokenETH, req.Token)

		json.NewEncoder(w).Encode(adviceResponse{Text: "Bridge during low-traffic windows for cheaper gas."})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, testLogger())
	got := c.Advice(context.Background(), model.ChainEthereum, model.ChainArbitrum, model.TokenETH)
	assert.Equal(t, "Bridge during low-traffic windows for cheaper gas.", got)
}

func TestAdvice_BackendErrorFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, testLogger())
	got := c.Advice(context.Background(), model.ChainEthereum, model.ChainArbitrum, model.TokenETH)
	assert.Equal(t, FallbackAdvice, got)
}

func TestAdvice_NoEndpointFallsBack(t *testing.T) {
	c := NewClient("", time.Second, testLogger())
	got := c.Advice(context.Background(), model.ChainBase, model.ChainSolana, model.TokenSOL)
	assert.Equal(t, FallbackAdvice, got)
}

func TestChatStream_DeliversChunksInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat", r.URL.Path)

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "how do fees work?", req.Message)
		require.Len(t, req.History, 1)
		assert.Equal(t, "user", req.History[0].Role)

		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, text := range []string{"Fees are ", "0.5% of ", "the gross output."} {
			json.NewEncoder(w).Encode(adviceResponse{Text: text})
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, testLogger())
	ch := c.ChatStream(context.Background(), "how do fees work?", []ChatTurn{{Role: "user", Text: "hi"}})

	var got []string
	for chunk := range ch {
		got = append(got, chunk)
	}
	assert.Equal(t, []string{"Fees are ", "0.5% of ", "the gross output."}, got)
}

func TestChatStream_BackendDownYieldsFallbackAndCloses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, testLogger())
	ch := c.ChatStream(context.Background(), "hello", nil)

	var got []string
	for chunk := range ch {
		got = append(got, chunk)
	}
	assert.Equal(t, []string{FallbackChat}, got, "a failed stream is exactly one fallback chunk, then closed")
}

func TestChatStream_CancelStopsDelivery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 1000; i++ {
			json.NewEncoder(w).Encode(adviceResponse{Text: "chunk"})
			flusher.Flush()
			time.Sleep(time.Millisecond)
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(srv.URL, 10*time.Second, testLogger())
	ch := c.ChatStream(ctx, "hello", nil)

	<-ch
	cancel()

	// The channel must close shortly after cancellation.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("chat stream channel never closed after cancel")
		}
	}
}
