package receive_test

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/wifiparty/core/internal/jitter"
	"github.com/wifiparty/core/internal/pipeline"
	"github.com/wifiparty/core/internal/receive"
	"github.com/wifiparty/core/internal/state"
	"github.com/wifiparty/core/internal/wire"
)

type fakeMixer struct {
	attached map[string]pipeline.Puller
}

func newFakeMixer() *fakeMixer {
	return &fakeMixer{attached: make(map[string]pipeline.Puller)}
}

func (m *fakeMixer) Attach(name string, p pipeline.Puller) { m.attached[name] = p }
func (m *fakeMixer) Detach(name string)                    { delete(m.attached, name) }

func testJitterConfig() jitter.Config {
	return jitter.Config{MinFrames: 2, MaxFrames: 20, InitFrames: 2}
}

func evenPayload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func newTestStream(roster *state.Roster, mixer receive.Mixer) *receive.Stream {
	return receive.New(roster, mixer, testJitterConfig(), 48000, 1, nil, log.New(io.Discard))
}

func TestDispatchDropsHostMismatch(t *testing.T) {
	roster := state.NewRoster()
	mixer := newFakeMixer()
	s := newTestStream(roster, mixer)

	claimed := wire.HostIDFromIP(net.ParseIP("10.0.0.1"))
	actual := wire.HostIDFromIP(net.ParseIP("10.0.0.2"))

	s.Dispatch(actual, wire.Realtime{Host: claimed, Kind: wire.KindMic, Sequence: 0, OpusBytes: evenPayload(4)})

	require.Equal(t, 0, s.Len())
	_, ok := roster.Get(claimed)
	require.False(t, ok, "mismatched packet must not register the claimed host")
}

func TestDispatchCreatesChainAndAttachesToMixer(t *testing.T) {
	roster := state.NewRoster()
	mixer := newFakeMixer()
	s := newTestStream(roster, mixer)

	host := wire.HostIDFromIP(net.ParseIP("10.0.0.5"))
	s.Dispatch(host, wire.Realtime{Host: host, Kind: wire.KindMic, Sequence: 0, OpusBytes: evenPayload(4)})

	require.Equal(t, 1, s.Len())
	require.Len(t, mixer.attached, 1)

	hi, ok := roster.Get(host)
	require.True(t, ok, "dispatching a valid packet registers the host")
	require.WithinDuration(t, time.Now(), hi.LastSeen(), time.Second)
}

func TestDispatchReusesChainForSameHostAndKind(t *testing.T) {
	roster := state.NewRoster()
	mixer := newFakeMixer()
	s := newTestStream(roster, mixer)

	host := wire.HostIDFromIP(net.ParseIP("10.0.0.7"))
	for seq := uint64(0); seq < 3; seq++ {
		s.Dispatch(host, wire.Realtime{Host: host, Kind: wire.KindMic, Sequence: seq, OpusBytes: evenPayload(4)})
	}

	require.Equal(t, 1, s.Len(), "same host+kind must reuse one chain")
}

func TestDispatchSeparatesMicAndSystemChains(t *testing.T) {
	roster := state.NewRoster()
	mixer := newFakeMixer()
	s := newTestStream(roster, mixer)

	host := wire.HostIDFromIP(net.ParseIP("10.0.0.9"))
	s.Dispatch(host, wire.Realtime{Host: host, Kind: wire.KindMic, Sequence: 0, OpusBytes: evenPayload(4)})
	s.Dispatch(host, wire.Realtime{Host: host, Kind: wire.KindSystem, Sequence: 0, OpusBytes: evenPayload(4)})

	require.Equal(t, 2, s.Len(), "mic and system-audio are independent chains for the same host")
	require.Len(t, mixer.attached, 2)
}

func TestDropHostDetachesBothChains(t *testing.T) {
	roster := state.NewRoster()
	mixer := newFakeMixer()
	s := newTestStream(roster, mixer)

	host := wire.HostIDFromIP(net.ParseIP("10.0.0.11"))
	s.Dispatch(host, wire.Realtime{Host: host, Kind: wire.KindMic, Sequence: 0, OpusBytes: evenPayload(4)})
	s.Dispatch(host, wire.Realtime{Host: host, Kind: wire.KindSystem, Sequence: 0, OpusBytes: evenPayload(4)})

	s.DropHost(host)

	require.Equal(t, 0, s.Len())
	require.Empty(t, mixer.attached)
}

func TestCleanupDropsChainsForExpiredHosts(t *testing.T) {
	roster := state.NewRoster()
	mixer := newFakeMixer()
	s := newTestStream(roster, mixer)

	host := wire.HostIDFromIP(net.ParseIP("10.0.0.13"))
	s.Dispatch(host, wire.Realtime{Host: host, Kind: wire.KindMic, Sequence: 0, OpusBytes: evenPayload(4)})

	time.Sleep(time.Millisecond)
	expired := s.Cleanup(0) // everything touched before "now" is expired with a 0 timeout
	require.Equal(t, []wire.HostID{host}, expired)
	require.Equal(t, 0, s.Len())
}
