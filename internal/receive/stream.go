// Package receive implements the realtime receive stream (spec.md
// section 4.6): a lazily-created decode chain per (host, kind), each
// chain's jitter buffer registered as a pull input on the output
// mixer. Grounded on the teacher's AudioReceiver: audio.go's
// receiveLoop decodes inline on the network thread and routes by
// SSRC into a per-source state map guarded by a single mutex taken
// only around that map, never around decode or buffer operations.
package receive

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/wifiparty/core/internal/codec"
	"github.com/wifiparty/core/internal/jitter"
	"github.com/wifiparty/core/internal/metrics"
	"github.com/wifiparty/core/internal/pipeline"
	"github.com/wifiparty/core/internal/state"
	"github.com/wifiparty/core/internal/wire"
)

// chainKey identifies one decode chain: a host can carry both a mic
// and a system-audio realtime stream concurrently.
type chainKey struct {
	Host wire.HostID
	Kind wire.Kind
}

// Mixer is the subset of pipeline.Mixer a Stream needs; accepting an
// interface keeps this package free of any runtime dependency on the
// concrete mixer beyond Attach/Detach.
type Mixer interface {
	Attach(name string, p pipeline.Puller)
	Detach(name string)
}

// decodeChain pairs a per-stream decoder with its jitter buffer and
// the name it was registered under on the mixer.
type decodeChain struct {
	name string
	dec  codec.Decoder
	buf  *jitter.Buffer

	reportedLate      uint64
	reportedForward   uint64
	reportedConcealed uint64
}

// Stream owns every realtime decode chain and its lifecycle.
type Stream struct {
	mu     sync.RWMutex
	chains map[chainKey]*decodeChain

	roster    *state.Roster
	mixer     Mixer
	jitterCfg jitter.Config

	sampleRate int
	channels   int

	metrics *metrics.Metrics
	logger  *log.Logger
}

// New returns an empty Stream. Decode chains are created lazily on
// first packet (spec.md section 4.6).
func New(roster *state.Roster, mixer Mixer, jitterCfg jitter.Config, sampleRate, channels int, m *metrics.Metrics, logger *log.Logger) *Stream {
	return &Stream{
		chains:     make(map[chainKey]*decodeChain),
		roster:     roster,
		mixer:      mixer,
		jitterCfg:  jitterCfg,
		sampleRate: sampleRate,
		channels:   channels,
		metrics:    m,
		logger:     logger,
	}
}

func chainName(host wire.HostID, kind wire.Kind) string {
	return fmt.Sprintf("realtime/%s/%d", host, kind)
}

// Dispatch handles one decoded Realtime packet, following spec.md
// section 4.6's five numbered steps.
func (s *Stream) Dispatch(src wire.HostID, pkt wire.Realtime) {
	// 1. Validate HostId matches source address; drop on mismatch.
	if pkt.Host != src {
		s.logger.Debug("realtime packet host mismatch, dropping", "claimed", pkt.Host, "source", src)
		return
	}

	// 2. Look up or create the chain.
	chain, err := s.chainFor(pkt.Host, pkt.Kind)
	if err != nil {
		s.logger.Warn("failed to build decode chain", "host", pkt.Host, "kind", pkt.Kind, "err", err)
		return
	}

	// 3. Decode the payload to PCM on the network thread.
	pcm, err := chain.dec.Decode(pkt.OpusBytes)
	if err != nil {
		s.logger.Debug("decode failed, dropping packet", "host", pkt.Host, "seq", pkt.Sequence, "err", err)
		return
	}

	// 4. Push into the chain's jitter buffer.
	chain.buf.Put(pkt.Sequence, pcm)

	// 5. Update HostInfo.last_seen.
	s.roster.Touch(pkt.Host)
}

func (s *Stream) chainFor(host wire.HostID, kind wire.Kind) (*decodeChain, error) {
	key := chainKey{Host: host, Kind: kind}

	s.mu.RLock()
	chain, ok := s.chains[key]
	s.mu.RUnlock()
	if ok {
		return chain, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if chain, ok := s.chains[key]; ok {
		return chain, nil
	}

	dec, err := codec.NewOpusDecoder(s.sampleRate, s.channels)
	if err != nil {
		return nil, err
	}
	buf := jitter.New(s.jitterCfg, dec)
	name := chainName(host, kind)
	chain = &decodeChain{name: name, dec: dec, buf: buf}
	s.chains[key] = chain
	s.mixer.Attach(name, buf)
	return chain, nil
}

// DropHost tears down every chain belonging to host (both Kind
// values), called by the housekeeping goroutine once the host's
// last-seen time exceeds the host timeout (spec.md section 4.6's
// cleanup step).
func (s *Stream) DropHost(host wire.HostID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kind := range []wire.Kind{wire.KindMic, wire.KindSystem} {
		key := chainKey{Host: host, Kind: kind}
		chain, ok := s.chains[key]
		if !ok {
			continue
		}
		s.mixer.Detach(chain.name)
		_ = chain.dec.Close()
		delete(s.chains, key)
	}
}

// ReportMetrics pushes every chain's current jitter stats into the
// shared Prometheus collectors, run from the housekeeping goroutine on
// every tick.
func (s *Stream) ReportMetrics() {
	if s.metrics == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for key, chain := range s.chains {
		host := key.Host.String()
		st := chain.buf.Stats()
		s.metrics.JitterTargetFrames.WithLabelValues(host).Set(float64(st.TargetFrames))
		if d := st.LateDrops - chain.reportedLate; d > 0 {
			s.metrics.RealtimeLoss.WithLabelValues(host, "late").Add(float64(d))
			chain.reportedLate = st.LateDrops
		}
		if d := st.ForwardDrops - chain.reportedForward; d > 0 {
			s.metrics.RealtimeLoss.WithLabelValues(host, "forward").Add(float64(d))
			chain.reportedForward = st.ForwardDrops
		}
		if d := st.Concealed - chain.reportedConcealed; d > 0 {
			s.metrics.Concealed.WithLabelValues(host).Add(float64(d))
			chain.reportedConcealed = st.Concealed
		}
	}
}

// Cleanup scans roster for hosts past timeout and drops their chains,
// returning the deregistered hosts so the caller can also evict them
// from the roster.
func (s *Stream) Cleanup(timeout time.Duration) []wire.HostID {
	expired := s.roster.Expired(timeout)
	for _, host := range expired {
		s.DropHost(host)
	}
	return expired
}

// Len reports the number of live decode chains, used by tests.
func (s *Stream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chains)
}
