package dash

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkers(t *testing.T) {
	base := context.Background()
	assert.Empty(t, Markers(base))
	assert.False(t, MarkerActive(base, "request"))

	ctx := WithMarker(base, "request")
	inner := WithMarker(ctx, "db")

	assert.Equal(t, []string{"request", "db"}, Markers(inner))
	assert.True(t, MarkerActive(inner, "request"))
	assert.True(t, MarkerActive(inner, "db"))
	assert.False(t, MarkerActive(ctx, "db"), "the parent context is unchanged")
	assert.Equal(t, []string{"request"}, Markers(ctx))
}

func TestReentrancyDepth(t *testing.T) {
	ctx := context.Background()
	assert.Zero(t, ReentrancyDepth(ctx, "db"))

	ctx = withReentrancyDepth(ctx, "db", 2)
	assert.Equal(t, 2, ReentrancyDepth(ctx, "db"))
	assert.Zero(t, ReentrancyDepth(ctx, "cache"))
}

func TestTracerFrom(t *testing.T) {
	assert.Nil(t, TracerFrom(context.Background()))
}
