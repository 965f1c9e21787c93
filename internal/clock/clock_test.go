package clock_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wifiparty/core/internal/clock"
	"github.com/wifiparty/core/internal/wire"
)

func host(ip string) wire.HostID {
	return wire.HostIDFromIP(net.ParseIP(ip))
}

func TestSelfIsOriginWithNoPeers(t *testing.T) {
	s := clock.NewService(host("10.0.0.5"))
	require.True(t, s.IsOrigin())
}

func TestLowestHostIDBecomesOrigin(t *testing.T) {
	s := clock.NewService(host("10.0.0.5"))
	now := time.Now()
	req := s.BuildRequest(now)
	resp := s.HandleRequest(req, now.Add(time.Millisecond), now.Add(2*time.Millisecond))
	s.HandleResponse(host("10.0.0.1"), resp, now.Add(3*time.Millisecond))

	require.False(t, s.IsOrigin(), "10.0.0.1 sorts lower than 10.0.0.5")
}

func TestHandleResponseComputesOffset(t *testing.T) {
	s := clock.NewService(host("10.0.0.9"))
	origin := time.UnixMicro(1_000_000)
	resp := wire.Ntp{
		Phase:    wire.NtpResponse,
		OriginTs: uint64(origin.UnixNano()),
		RecvTs:   uint64(origin.Add(500 * time.Millisecond).UnixNano()),
		TxTs:     uint64(origin.Add(500 * time.Millisecond).UnixNano()),
	}
	replyArrival := origin.Add(1 * time.Second)

	offset := s.HandleResponse(host("10.0.0.1"), resp, replyArrival)
	require.InDelta(t, 0, offset.Seconds(), 0.001, "symmetric 1s round trip implies ~0 offset")
}

func TestMovingMedianBoundedByHistoryWindow(t *testing.T) {
	s := clock.NewService(host("10.0.0.9"))
	peer := host("10.0.0.1")

	for i := 0; i < 20; i++ {
		origin := time.Now()
		resp := wire.Ntp{
			OriginTs: uint64(origin.UnixNano()),
			RecvTs:   uint64(origin.Add(time.Duration(i) * time.Millisecond).UnixNano()),
			TxTs:     uint64(origin.Add(time.Duration(i) * time.Millisecond).UnixNano()),
		}
		s.HandleResponse(peer, resp, origin)
	}
	// Should not panic and should settle on a finite value from the
	// last 8 samples rather than growing unbounded.
	require.NotPanics(t, func() { s.PeerOffset(peer) })
	// Sample i had offset i ms; the window keeps 12..19 ms, whose
	// median (upper middle element) is 16 ms.
	require.Equal(t, 16*time.Millisecond, s.PeerOffset(peer))
}

func TestEpochRoundTripForOrigin(t *testing.T) {
	s := clock.NewService(host("10.0.0.1"))
	now := time.Now()
	epoch := s.ToEpoch(now)
	back := s.FromEpoch(epoch)
	require.WithinDuration(t, now, back, time.Microsecond)
}
