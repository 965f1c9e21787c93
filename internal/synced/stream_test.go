package synced_test

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/wifiparty/core/internal/clock"
	"github.com/wifiparty/core/internal/codec"
	"github.com/wifiparty/core/internal/pipeline"
	"github.com/wifiparty/core/internal/synced"
	"github.com/wifiparty/core/internal/wire"
)

type fakeMixer struct {
	mu       sync.Mutex
	attached map[string]pipeline.Puller
}

func newFakeMixer() *fakeMixer {
	return &fakeMixer{attached: make(map[string]pipeline.Puller)}
}

func (m *fakeMixer) Attach(name string, p pipeline.Puller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attached[name] = p
}

func (m *fakeMixer) Detach(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attached, name)
}

func (m *fakeMixer) get(name string) (pipeline.Puller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.attached[name]
	return p, ok
}

func (m *fakeMixer) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.attached)
}

type fakeSender struct {
	mu  sync.Mutex
	out [][]byte
}

func (s *fakeSender) Send(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = append(s.out, append([]byte(nil), b...))
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.out)
}

func testConfig() synced.Config {
	return synced.Config{RetransmitSlack: 150 * time.Millisecond, MaxRetransmits: 3, RetransmitRate: 100}
}

func newTestStream(mixer synced.Mixer, sender synced.Sender, self wire.HostID) *synced.Stream {
	clk := clock.NewService(self)
	return synced.New(codec.NewRegistry(), mixer, clk, sender, self, testConfig(), nil, log.New(io.Discard))
}

func pcmMeta(host wire.HostID, streamID uint64) wire.SyncedMeta {
	return wire.SyncedMeta{
		Host:     host,
		StreamID: streamID,
		Codec:    wire.CodecParamsWire{Tag: uint8(codec.TagPCM), SampleRate: 48000, Channels: 2},
		Title:    "test track",
	}
}

func TestMetaBuildsDecoderAndAttachesToMixer(t *testing.T) {
	mixer := newFakeMixer()
	self := wire.HostIDFromIP(net.ParseIP("10.0.0.1"))
	host := wire.HostIDFromIP(net.ParseIP("10.0.0.2"))
	s := newTestStream(mixer, &fakeSender{}, self)

	s.HandleMeta(host, pcmMeta(host, 1))

	require.Equal(t, 1, mixer.len())
	require.Equal(t, 1, s.Len())
}

func TestUnsupportedCodecTearsStreamDown(t *testing.T) {
	mixer := newFakeMixer()
	self := wire.HostIDFromIP(net.ParseIP("10.0.0.1"))
	host := wire.HostIDFromIP(net.ParseIP("10.0.0.2"))
	s := newTestStream(mixer, &fakeSender{}, self)

	meta := pcmMeta(host, 1)
	meta.Codec.Tag = 200 // unregistered tag
	s.HandleMeta(host, meta)

	require.Equal(t, 0, mixer.len())
	require.Equal(t, 0, s.Len())
}

func TestFrameReleasedOnceDue(t *testing.T) {
	mixer := newFakeMixer()
	self := wire.HostIDFromIP(net.ParseIP("10.0.0.1"))
	host := wire.HostIDFromIP(net.ParseIP("10.0.0.2"))
	s := newTestStream(mixer, &fakeSender{}, self)

	s.HandleMeta(host, pcmMeta(host, 1))
	s.HandleFrame(host, wire.Synced{Host: host, StreamID: 1, Sequence: 0, PlayAtEpochUs: 0, CodecBytes: []byte{0, 1, 0, 2}})

	puller, ok := mixer.get("synced/" + host.String() + "/1")
	require.True(t, ok)

	buf, ok := puller.Pull()
	require.True(t, ok, "play_at_epoch_us of 0 is always due")
	require.Equal(t, 2, len(buf.Samples))
}

func TestFrameNotYetDueIsWithheld(t *testing.T) {
	mixer := newFakeMixer()
	self := wire.HostIDFromIP(net.ParseIP("10.0.0.1"))
	host := wire.HostIDFromIP(net.ParseIP("10.0.0.2"))
	s := newTestStream(mixer, &fakeSender{}, self)

	s.HandleMeta(host, pcmMeta(host, 1))
	farFuture := uint64(time.Now().Add(time.Hour).UnixMicro())
	s.HandleFrame(host, wire.Synced{Host: host, StreamID: 1, Sequence: 0, PlayAtEpochUs: farFuture, CodecBytes: []byte{0, 1}})

	puller, _ := mixer.get("synced/" + host.String() + "/1")
	_, ok := puller.Pull()
	require.False(t, ok)
}

func TestMissingFrameIsSkippedOnceSuccessorIsDue(t *testing.T) {
	mixer := newFakeMixer()
	self := wire.HostIDFromIP(net.ParseIP("10.0.0.1"))
	host := wire.HostIDFromIP(net.ParseIP("10.0.0.2"))
	s := newTestStream(mixer, &fakeSender{}, self)

	s.HandleMeta(host, pcmMeta(host, 1))
	s.HandleFrame(host, wire.Synced{Host: host, StreamID: 1, Sequence: 0, PlayAtEpochUs: 0, CodecBytes: []byte{0, 3}})

	puller, _ := mixer.get("synced/" + host.String() + "/1")
	buf, ok := puller.Pull()
	require.True(t, ok)
	require.Equal(t, int16(3), buf.Samples[0])

	// sequence 1 never arrives; sequence 2 arrives already due, so
	// sequence 1's slot should be skipped rather than stalling forever.
	s.HandleFrame(host, wire.Synced{Host: host, StreamID: 1, Sequence: 2, PlayAtEpochUs: 0, CodecBytes: []byte{0, 9}})
	buf, ok = puller.Pull()
	require.True(t, ok, "sequence 1's slot should be skipped once sequence 2 is already due")
	require.Equal(t, int16(9), buf.Samples[0])
}

func TestSeekFlushesPendingBuffer(t *testing.T) {
	mixer := newFakeMixer()
	self := wire.HostIDFromIP(net.ParseIP("10.0.0.1"))
	host := wire.HostIDFromIP(net.ParseIP("10.0.0.2"))
	s := newTestStream(mixer, &fakeSender{}, self)

	s.HandleMeta(host, pcmMeta(host, 1))
	s.HandleFrame(host, wire.Synced{Host: host, StreamID: 1, Sequence: 5, PlayAtEpochUs: 0, CodecBytes: []byte{0, 1}})
	s.HandleControl(host, wire.SyncedControl{Host: host, StreamID: 1, Op: wire.ControlSeek})

	puller, _ := mixer.get("synced/" + host.String() + "/1")
	_, ok := puller.Pull()
	require.False(t, ok, "seek must flush the old sequence-5 frame")

	s.HandleFrame(host, wire.Synced{Host: host, StreamID: 1, Sequence: 50, PlayAtEpochUs: 0, CodecBytes: []byte{0, 9}})
	buf, ok := puller.Pull()
	require.True(t, ok, "frontier resyncs to whatever sequence arrives after a seek")
	require.Equal(t, int16(9), buf.Samples[0])
}

func TestStopTransitionHaltsPlayback(t *testing.T) {
	mixer := newFakeMixer()
	self := wire.HostIDFromIP(net.ParseIP("10.0.0.1"))
	host := wire.HostIDFromIP(net.ParseIP("10.0.0.2"))
	s := newTestStream(mixer, &fakeSender{}, self)

	s.HandleMeta(host, pcmMeta(host, 1))
	s.HandleFrame(host, wire.Synced{Host: host, StreamID: 1, Sequence: 0, PlayAtEpochUs: 0, CodecBytes: []byte{0, 1}})
	s.HandleControl(host, wire.SyncedControl{Host: host, StreamID: 1, Op: wire.ControlStop})

	puller, _ := mixer.get("synced/" + host.String() + "/1")
	_, ok := puller.Pull()
	require.False(t, ok, "a stopped stream must not release frames")
}

func TestRequestGapsSendsRetransmitForMissingSequence(t *testing.T) {
	mixer := newFakeMixer()
	sender := &fakeSender{}
	self := wire.HostIDFromIP(net.ParseIP("10.0.0.1"))
	host := wire.HostIDFromIP(net.ParseIP("10.0.0.2"))
	s := newTestStream(mixer, sender, self)

	s.HandleMeta(host, pcmMeta(host, 1))
	s.HandleFrame(host, wire.Synced{Host: host, StreamID: 1, Sequence: 0, PlayAtEpochUs: 0, CodecBytes: []byte{0, 1}})
	// sequence 1 never arrives; sequence 2 has, leaving a real gap at 1.
	s.HandleFrame(host, wire.Synced{Host: host, StreamID: 1, Sequence: 2, PlayAtEpochUs: 0, CodecBytes: []byte{0, 1}})

	s.RequestGaps()
	require.Greater(t, sender.count(), 0, "expected at least one RequestFrames for the gap")
}

func TestRequestGapsHonorsRetransmitSlack(t *testing.T) {
	mixer := newFakeMixer()
	sender := &fakeSender{}
	self := wire.HostIDFromIP(net.ParseIP("10.0.0.1"))
	host := wire.HostIDFromIP(net.ParseIP("10.0.0.2"))
	s := newTestStream(mixer, sender, self)

	now := uint64(time.Now().UnixMicro())
	s.HandleMeta(host, pcmMeta(host, 1))
	// sequence 0 played a second ago, sequence 2 nearly a second ago,
	// leaving a real gap at sequence 1 whose estimated play_at is
	// already well over retransmit_slack (150ms) in the past.
	s.HandleFrame(host, wire.Synced{Host: host, StreamID: 1, Sequence: 0, PlayAtEpochUs: now - 1_000_000, CodecBytes: []byte{0, 1}})
	s.HandleFrame(host, wire.Synced{Host: host, StreamID: 1, Sequence: 2, PlayAtEpochUs: now - 900_000, CodecBytes: []byte{0, 1}})

	s.RequestGaps()
	require.Equal(t, 0, sender.count(), "a gap whose deadline is long past retransmit_slack must not be re-requested")
}

func TestCleanupDropsStoppedStreams(t *testing.T) {
	mixer := newFakeMixer()
	self := wire.HostIDFromIP(net.ParseIP("10.0.0.1"))
	host := wire.HostIDFromIP(net.ParseIP("10.0.0.2"))
	s := newTestStream(mixer, &fakeSender{}, self)

	s.HandleMeta(host, pcmMeta(host, 1))
	s.HandleControl(host, wire.SyncedControl{Host: host, StreamID: 1, Op: wire.ControlStop})

	s.Cleanup(time.Hour)
	require.Equal(t, 0, s.Len())
	require.Equal(t, 0, mixer.len())
}
