package state_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wifiparty/core/internal/state"
	"github.com/wifiparty/core/internal/wire"
)

func host(ip string) wire.HostID {
	return wire.HostIDFromIP(net.ParseIP(ip))
}

func TestTouchRegistersOnFirstSeen(t *testing.T) {
	r := state.NewRoster()
	require.Equal(t, 0, r.Len())

	hi := r.Touch(host("10.0.0.1"))
	require.Equal(t, 1, r.Len())
	require.True(t, hi.Enabled())
	require.Equal(t, float32(1.0), hi.Volume())
}

func TestTouchReusesExistingEntry(t *testing.T) {
	r := state.NewRoster()
	a := r.Touch(host("10.0.0.1"))
	b := r.Touch(host("10.0.0.1"))
	require.Same(t, a, b)
	require.Equal(t, 1, r.Len())
}

func TestVolumeAndEnabledAreIndependentOfRosterLock(t *testing.T) {
	r := state.NewRoster()
	hi := r.Touch(host("10.0.0.1"))
	hi.SetVolume(0.5)
	hi.SetEnabled(false)

	got, ok := r.Get(host("10.0.0.1"))
	require.True(t, ok)
	require.Equal(t, float32(0.5), got.Volume())
	require.False(t, got.Enabled())
}

func TestExpiredFindsStaleHosts(t *testing.T) {
	r := state.NewRoster()
	r.Touch(host("10.0.0.1"))
	time.Sleep(5 * time.Millisecond)

	require.Empty(t, r.Expired(time.Hour))
	expired := r.Expired(time.Millisecond)
	require.Len(t, expired, 1)
	require.Equal(t, host("10.0.0.1"), expired[0])
}

func TestDeregisterRemovesHost(t *testing.T) {
	r := state.NewRoster()
	r.Touch(host("10.0.0.1"))
	r.Deregister(host("10.0.0.1"))
	require.Equal(t, 0, r.Len())
	_, ok := r.Get(host("10.0.0.1"))
	require.False(t, ok)
}

func TestSnapshotReflectsCurrentState(t *testing.T) {
	r := state.NewRoster()
	hi := r.Touch(host("10.0.0.1"))
	hi.SetLevel(0.75)
	hi.SetJitterDepthMS(40)

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, float32(0.75), snap[0].Level)
	require.Equal(t, float32(40), snap[0].JitterDepthMS)
}
