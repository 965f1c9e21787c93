// Package synced implements the synchronized music stream (spec.md
// section 4.7): a per-(host, stream) receive chain that releases
// compressed frames to its decoder only once the shared network epoch
// reaches each frame's stamped play_at time, so every peer starts and
// stays sample-aligned without re-encoding anything. Grounded on the
// teacher's session.go state-machine shape (Idle/Playing/Paused) and
// ratelimit.go's per-key throttle, generalized to epoch-scheduled
// release instead of the teacher's live-relay path.
package synced

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/wifiparty/core/internal/audio"
	"github.com/wifiparty/core/internal/clock"
	"github.com/wifiparty/core/internal/codec"
	"github.com/wifiparty/core/internal/metrics"
	"github.com/wifiparty/core/internal/pipeline"
	"github.com/wifiparty/core/internal/ratelimit"
	"github.com/wifiparty/core/internal/wire"
)

// streamKey identifies one music stream across the whole party.
type streamKey struct {
	Host     wire.HostID
	StreamID uint64
}

func (k streamKey) String() string { return fmt.Sprintf("%s/%d", k.Host, k.StreamID) }

// Mixer is the subset of pipeline.Mixer a Stream needs.
type Mixer interface {
	Attach(name string, p pipeline.Puller)
	Detach(name string)
}

// Sender delivers a RequestFrames retransmit request onto the wire.
type Sender interface {
	Send(b []byte) error
}

// playState is one music stream's control-plane state machine
// (spec.md section 4.7: "Idle -> Playing -> {Paused, Stopped}").
type playState uint8

const (
	stateIdle playState = iota
	statePlaying
	statePaused
	stateStopped
)

type pendingFrame struct {
	playAtEpochUs uint64
	payload       []byte
}

// musicStream is one (host, streamID) receive chain.
type musicStream struct {
	key  streamKey
	name string
	clk  *clock.Service

	mu              sync.Mutex
	dec             codec.Decoder
	state           playState
	pending         map[uint64]pendingFrame
	nextSeq         uint64
	haveNextSeq     bool
	highestSeq      uint64
	haveHighestSeq  bool
	highestPlayAtUs uint64
	frameIntervalUs uint64 // estimated spacing between consecutive sequences, derived from arrivals
	awaitingResync  bool
	attempts        map[uint64]int
	lastActivity    time.Time
	title           string
	totalFrames     *uint64
}

// Stream owns every active music receive chain.
type Stream struct {
	mu      sync.RWMutex
	streams map[streamKey]*musicStream

	registry *codec.Registry
	mixer    Mixer
	clock    *clock.Service
	sender   Sender
	self     wire.HostID

	retransmitSlack time.Duration
	maxRetransmits  int
	limiter         *ratelimit.Manager[streamKey]

	metrics *metrics.Metrics
	logger  *log.Logger
}

// Config bundles the policy knobs Stream needs from the shared
// Configuration (spec.md section 6).
type Config struct {
	RetransmitSlack time.Duration
	MaxRetransmits  int
	RetransmitRate  float64
}

// New returns an empty Stream.
func New(registry *codec.Registry, mixer Mixer, clk *clock.Service, sender Sender, self wire.HostID, cfg Config, m *metrics.Metrics, logger *log.Logger) *Stream {
	return &Stream{
		streams:         make(map[streamKey]*musicStream),
		registry:        registry,
		mixer:           mixer,
		clock:           clk,
		sender:          sender,
		self:            self,
		retransmitSlack: cfg.RetransmitSlack,
		maxRetransmits:  cfg.MaxRetransmits,
		limiter:         ratelimit.NewManager[streamKey](cfg.RetransmitRate, 1),
		metrics:         m,
		logger:          logger,
	}
}

func chainName(key streamKey) string { return "synced/" + key.String() }

func (s *Stream) get(key streamKey) (*musicStream, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ms, ok := s.streams[key]
	return ms, ok
}

func (s *Stream) getOrCreate(key streamKey) *musicStream {
	s.mu.RLock()
	ms, ok := s.streams[key]
	s.mu.RUnlock()
	if ok {
		return ms
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ms, ok := s.streams[key]; ok {
		return ms
	}
	ms = &musicStream{
		key:          key,
		name:         chainName(key),
		clk:          s.clock,
		pending:      make(map[uint64]pendingFrame),
		attempts:     make(map[uint64]int),
		lastActivity: time.Now(),
	}
	s.streams[key] = ms
	return ms
}

// HandleMeta processes a SyncedMeta packet: building the stream's
// decoder on first sight (spec.md section 4.7) and attaching it to the
// mixer. An unsupported codec tears the whole stream down.
func (s *Stream) HandleMeta(src wire.HostID, pkt wire.SyncedMeta) {
	key := streamKey{Host: pkt.Host, StreamID: pkt.StreamID}
	ms := s.getOrCreate(key)

	ms.mu.Lock()
	alreadyDecoding := ms.dec != nil
	ms.title = pkt.Title
	ms.totalFrames = pkt.TotalFrames
	ms.lastActivity = time.Now()
	ms.mu.Unlock()

	if alreadyDecoding {
		return
	}

	params := codec.Params{
		Tag:        codec.Tag(pkt.Codec.Tag),
		SampleRate: int(pkt.Codec.SampleRate),
		Channels:   int(pkt.Codec.Channels),
		Private:    pkt.Codec.Private,
	}
	dec, err := s.registry.Build(params)
	if err != nil {
		s.logger.Warn("unsupported synced codec, dropping stream", "host", pkt.Host, "stream_id", pkt.StreamID, "err", err)
		s.drop(key)
		return
	}

	ms.mu.Lock()
	ms.dec = dec
	ms.state = statePlaying
	ms.mu.Unlock()

	s.mixer.Attach(ms.name, pipeline.PullerFunc(ms.Pull))
}

// HandleFrame deposits a Synced packet into its stream's sequence-
// indexed pending buffer (spec.md section 4.7).
func (s *Stream) HandleFrame(src wire.HostID, pkt wire.Synced) {
	key := streamKey{Host: pkt.Host, StreamID: pkt.StreamID}
	ms := s.getOrCreate(key)

	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.lastActivity = time.Now()

	if ms.awaitingResync {
		ms.nextSeq = pkt.Sequence
		ms.haveNextSeq = true
		ms.awaitingResync = false
	}
	if !ms.haveNextSeq {
		ms.nextSeq = pkt.Sequence
		ms.haveNextSeq = true
	}
	if !ms.haveHighestSeq || audio.SeqAfter(pkt.Sequence, ms.highestSeq) {
		if ms.haveHighestSeq {
			if seqDelta := audio.SeqDistance(pkt.Sequence, ms.highestSeq); seqDelta > 0 && pkt.PlayAtEpochUs > ms.highestPlayAtUs {
				ms.frameIntervalUs = (pkt.PlayAtEpochUs - ms.highestPlayAtUs) / uint64(seqDelta)
			}
		}
		ms.highestSeq = pkt.Sequence
		ms.highestPlayAtUs = pkt.PlayAtEpochUs
		ms.haveHighestSeq = true
	}

	payload := append([]byte(nil), pkt.CodecBytes...)
	ms.pending[pkt.Sequence] = pendingFrame{playAtEpochUs: pkt.PlayAtEpochUs, payload: payload}
	delete(ms.attempts, pkt.Sequence)
}

// HandleControl applies a SyncedControl command's state transition
// (spec.md section 4.7).
func (s *Stream) HandleControl(src wire.HostID, pkt wire.SyncedControl) {
	key := streamKey{Host: pkt.Host, StreamID: pkt.StreamID}
	ms := s.getOrCreate(key)

	ms.mu.Lock()
	ms.lastActivity = time.Now()
	switch pkt.Op {
	case wire.ControlPlay:
		if ms.state != stateStopped {
			ms.state = statePlaying
		}
	case wire.ControlPause:
		if ms.state == statePlaying {
			ms.state = statePaused
		}
	case wire.ControlSeek:
		ms.pending = make(map[uint64]pendingFrame)
		ms.attempts = make(map[uint64]int)
		ms.awaitingResync = true
		ms.haveNextSeq = false
		ms.haveHighestSeq = false
	case wire.ControlStop:
		ms.state = stateStopped
	}
	ms.mu.Unlock()
}

// Pull is registered on the mixer once a stream's decoder is ready. It
// releases frames whose play_at_epoch_us has arrived, in sequence
// order (spec.md section 4.7); a missing sequence whose successor is
// already due is treated as lost and skipped, the same clamp-forward
// idea internal/jitter applies to realtime streams.
func (ms *musicStream) Pull() (audio.Buffer, bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.state != statePlaying || ms.dec == nil || !ms.haveNextSeq {
		return audio.Buffer{}, false
	}

	now := uint64(ms.clk.ToEpoch(time.Now()))
	for {
		frame, ok := ms.pending[ms.nextSeq]
		if ok {
			if frame.playAtEpochUs > now {
				return audio.Buffer{}, false
			}
			delete(ms.pending, ms.nextSeq)
			delete(ms.attempts, ms.nextSeq)
			ms.nextSeq++
			pcm, err := ms.dec.Decode(frame.payload)
			if err != nil {
				continue
			}
			return pcm, true
		}

		next, found := ms.earliestPendingAbove(ms.nextSeq)
		if found && ms.pending[next].playAtEpochUs <= now {
			delete(ms.attempts, ms.nextSeq)
			ms.nextSeq++
			continue
		}
		return audio.Buffer{}, false
	}
}

func (ms *musicStream) earliestPendingAbove(seq uint64) (uint64, bool) {
	var best uint64
	found := false
	for s := range ms.pending {
		if s <= seq {
			continue
		}
		if !found || s < best {
			best = s
			found = true
		}
	}
	return best, found
}

// RequestGaps scans every active stream for sequences still inside
// the release window that never arrived, and sends a throttled
// RequestFrames for each one not yet past max_retransmit_attempts
// (spec.md section 4.7). Run from internal/party's housekeeping
// goroutine.
func (s *Stream) RequestGaps() {
	s.mu.RLock()
	all := make([]*musicStream, 0, len(s.streams))
	for _, ms := range s.streams {
		all = append(all, ms)
	}
	s.mu.RUnlock()

	for _, ms := range all {
		s.requestGapsFor(ms)
	}
}

func (s *Stream) requestGapsFor(ms *musicStream) {
	ms.mu.Lock()
	if !ms.haveNextSeq || !ms.haveHighestSeq {
		ms.mu.Unlock()
		return
	}
	now := uint64(s.clock.ToEpoch(time.Now()))
	slackUs := uint64(s.retransmitSlack / time.Microsecond)
	frameIntervalUs := ms.frameIntervalUs
	highestSeq := ms.highestSeq
	highestPlayAtUs := ms.highestPlayAtUs

	var gaps []uint64
	for seq := ms.nextSeq; audio.SeqDistance(ms.highestSeq, seq) > 0 || seq == ms.highestSeq; seq++ {
		if _, ok := ms.pending[seq]; ok {
			continue
		}
		if ms.attempts[seq] >= s.maxRetransmits {
			continue
		}
		// A gap has no play_at of its own; estimate its deadline by
		// extrapolating back from the most recently observed highest
		// sequence using the arrival-derived spacing. With no spacing
		// estimate yet (too little history), the gap is always
		// eligible rather than silently suppressed.
		if frameIntervalUs > 0 {
			behind := uint64(audio.SeqDistance(highestSeq, seq))
			deadline := highestPlayAtUs - behind*frameIntervalUs
			if now > deadline+slackUs {
				continue
			}
		}
		gaps = append(gaps, seq)
		if seq == ms.highestSeq {
			break
		}
	}
	host := ms.key.Host
	streamID := ms.key.StreamID
	ms.mu.Unlock()

	for _, seq := range gaps {
		if !s.limiter.Allow(ms.key) {
			continue
		}
		req := wire.RequestFrames{
			Requester: s.self,
			Target:    host,
			StreamID:  streamID,
			FirstSeq:  seq,
			Count:     1,
		}
		buf, err := wire.EncodeRequestFrames(req)
		if err != nil {
			continue
		}
		if err := s.sender.Send(buf); err != nil {
			s.logger.Debug("retransmit request send failed", "err", err)
			continue
		}
		ms.mu.Lock()
		ms.attempts[seq]++
		ms.mu.Unlock()
		if s.metrics != nil {
			s.metrics.RetransmitRequests.WithLabelValues(host.String(), fmt.Sprint(streamID)).Inc()
		}
	}
}

// drop tears a stream down: detaches from the mixer, discards
// its limiter state, and removes it from the map.
func (s *Stream) drop(key streamKey) {
	s.mu.Lock()
	ms, ok := s.streams[key]
	if ok {
		delete(s.streams, key)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.mixer.Detach(ms.name)
	s.limiter.Remove(key)
	ms.mu.Lock()
	if ms.dec != nil {
		_ = ms.dec.Close()
	}
	ms.mu.Unlock()
}

// Cleanup tears down every stream that is Stopped or has had no
// activity for longer than timeout (spec.md section 4.7).
func (s *Stream) Cleanup(timeout time.Duration) {
	cutoff := time.Now().Add(-timeout)

	s.mu.RLock()
	var dead []streamKey
	for key, ms := range s.streams {
		ms.mu.Lock()
		stale := ms.state == stateStopped || ms.lastActivity.Before(cutoff)
		ms.mu.Unlock()
		if stale {
			dead = append(dead, key)
		}
	}
	s.mu.RUnlock()

	for _, key := range dead {
		s.drop(key)
	}
}

// Len reports the number of active music streams.
func (s *Stream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.streams)
}
