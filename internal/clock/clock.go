// Package clock implements the distributed "network epoch" (spec.md
// section 4.8): a lightweight NTP-like exchange that lets every peer
// convert between its own local monotonic clock and a shared time
// origin, used only to schedule synced-music playback.
package clock

import (
	"bytes"
	"sort"
	"sync"
	"time"

	"github.com/wifiparty/core/internal/wire"
)

// historyLen is the moving-median window (spec.md section 4.8 leaves
// K open; this rework fixes it at 8 samples).
const historyLen = 8

// peerOffset tracks the last historyLen offset samples for one peer.
type peerOffset struct {
	mu      sync.Mutex
	samples []time.Duration
}

func (p *peerOffset) add(offset time.Duration) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.samples = append(p.samples, offset)
	if len(p.samples) > historyLen {
		p.samples = p.samples[len(p.samples)-historyLen:]
	}
	return median(p.samples)
}

func (p *peerOffset) current() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return median(p.samples)
}

func median(d []time.Duration) time.Duration {
	if len(d) == 0 {
		return 0
	}
	cp := append([]time.Duration(nil), d...)
	sort.Slice(cp, func(i, j int) bool { return cp[i] < cp[j] })
	return cp[len(cp)/2]
}

// Service maintains the local host's offset to the network epoch and
// answers/initiates the Ntp exchange (spec.md section 4.8). The origin
// peer — the one whose clock the epoch is anchored to — is whichever
// known HostID sorts lowest byte-wise; every peer computes this
// locally from its roster without an election protocol.
type Service struct {
	self wire.HostID

	mu       sync.RWMutex
	peers    map[wire.HostID]*peerOffset
	origin   wire.HostID
	hasOther bool
}

// NewService returns a Service that initially believes it is its own
// origin (no peers known yet).
func NewService(self wire.HostID) *Service {
	return &Service{
		self:   self,
		peers:  make(map[wire.HostID]*peerOffset),
		origin: self,
	}
}

func hostLess(a, b wire.HostID) bool {
	return bytes.Compare(a.IP(), b.IP()) < 0
}

// notePeer ensures host is tracked and recomputes the origin.
func (s *Service) notePeer(host wire.HostID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[host]; !ok {
		s.peers[host] = &peerOffset{}
	}
	if !s.hasOther || hostLess(host, s.origin) {
		s.origin = host
		s.hasOther = true
	}
	if hostLess(s.self, s.origin) {
		s.origin = s.self
	}
}

// IsOrigin reports whether this host is currently the epoch origin.
func (s *Service) IsOrigin() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.origin == s.self
}

// BuildRequest returns the Ntp request packet to send to a peer,
// stamped with the local monotonic origin timestamp (spec.md section
// 4.8's exchange).
func (s *Service) BuildRequest(now time.Time) wire.Ntp {
	return wire.Ntp{Phase: wire.NtpRequest, OriginTs: uint64(now.UnixNano())}
}

// HandleRequest answers an inbound Ntp request inline — it never
// blocks on anything but the caller's own sendto (spec.md section 4.8).
func (s *Service) HandleRequest(req wire.Ntp, recvTime, txTime time.Time) wire.Ntp {
	return wire.Ntp{
		Phase:    wire.NtpResponse,
		OriginTs: req.OriginTs,
		RecvTs:   uint64(recvTime.UnixNano()),
		TxTs:     uint64(txTime.UnixNano()),
	}
}

// HandleResponse computes this round's offset sample from a peer's
// reply and folds it into that peer's moving median (spec.md section
// 4.8's offset formula).
func (s *Service) HandleResponse(peer wire.HostID, resp wire.Ntp, replyArrival time.Time) time.Duration {
	s.notePeer(peer)

	origin := time.Unix(0, int64(resp.OriginTs))
	recv := time.Unix(0, int64(resp.RecvTs))
	tx := time.Unix(0, int64(resp.TxTs))

	offset := ((recv.Sub(origin)) + (tx.Sub(replyArrival))) / 2

	s.mu.RLock()
	p := s.peers[peer]
	s.mu.RUnlock()
	return p.add(offset)
}

// PeerOffset returns the current moving-median offset applied to peer,
// or zero if no samples have been recorded yet.
func (s *Service) PeerOffset(peer wire.HostID) time.Duration {
	s.mu.RLock()
	p, ok := s.peers[peer]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return p.current()
}

// originOffset returns this host's current estimate of (origin clock -
// local clock); zero if this host is its own origin or no samples have
// been gathered from the origin yet.
func (s *Service) originOffset() time.Duration {
	s.mu.RLock()
	origin := s.origin
	self := s.self
	s.mu.RUnlock()
	if origin == self {
		return 0
	}
	return s.PeerOffset(origin)
}

// ToEpoch converts a local time.Time to network-epoch microseconds
// (spec.md section 4.8). Non-authoritative: it is this host's current
// best estimate, not a guarantee of agreement with any other peer.
func (s *Service) ToEpoch(t time.Time) int64 {
	return t.Add(s.originOffset()).UnixMicro()
}

// FromEpoch converts network-epoch microseconds back to this host's
// local time.Time, used to schedule a synced frame's play_at_epoch_us
// against the local playback clock.
func (s *Service) FromEpoch(epochUs int64) time.Time {
	return time.UnixMicro(epochUs).Add(-s.originOffset())
}

// Peers returns every peer currently tracked, for metrics/debugging.
func (s *Service) Peers() []wire.HostID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]wire.HostID, 0, len(s.peers))
	for h := range s.peers {
		out = append(out, h)
	}
	return out
}
