package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_EmptyEndpointIsNoOp(t *testing.T) {
	shutdown, err := Init(context.Background(), "jetswap-swapd", "", false)
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	assert.NoError(t, shutdown(context.Background()))
}

func TestTracer_NamedComponent(t *testing.T) {
	shutdown, err := Init(context.Background(), "jetswap-swapd", "", false)
	require.NoError(t, err)
	defer shutdown(context.Background())

	tracer := Tracer("orchestrator")
	require.NotNil(t, tracer)

	_, span := tracer.Start(context.Background(), "swap.relay")
	span.End()
}

func TestInit_ShutdownIdempotent(t *testing.T) {
	shutdown, err := Init(context.Background(), "jetswap-swapd", "", false)
	require.NoError(t, err)

	assert.NoError(t, shutdown(context.Background()))
	assert.NoError(t, shutdown(context.Background()))
}
