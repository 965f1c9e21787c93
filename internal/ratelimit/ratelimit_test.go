package ratelimit_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wifiparty/core/internal/ratelimit"
)

func TestZeroRateAlwaysAllows(t *testing.T) {
	l := ratelimit.NewLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow())
	}
}

func TestBurstThenThrottled(t *testing.T) {
	l := ratelimit.NewLimiter(1, 2)
	require.True(t, l.Allow())
	require.True(t, l.Allow())
	require.False(t, l.Allow(), "burst exhausted, refill hasn't happened yet")
}

func TestManagerIsolatesKeys(t *testing.T) {
	m := ratelimit.NewManager[string](1, 1)
	require.True(t, m.Allow("stream-a"))
	require.False(t, m.Allow("stream-a"))
	require.True(t, m.Allow("stream-b"), "distinct key gets its own bucket")
	require.Equal(t, 2, m.Len())
}

func TestManagerSweepDropsIdleEntries(t *testing.T) {
	m := ratelimit.NewManager[string](1, 1)
	m.Allow("stream-a")
	time.Sleep(5 * time.Millisecond)
	m.Sweep(time.Millisecond)
	require.Equal(t, 0, m.Len())
}

func TestManagerRemove(t *testing.T) {
	m := ratelimit.NewManager[string](1, 1)
	m.Allow("stream-a")
	m.Remove("stream-a")
	require.Equal(t, 0, m.Len())
}
