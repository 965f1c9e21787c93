// Package state holds the shared application state the UI boundary
// reads (spec.md section 3's HostInfo, section 6's UI snapshot, and
// section 9's "atomic cells for scalar controls" design note). It is
// grounded on the teacher's session.go SessionManager: a mutex-guarded
// map of per-source sessions plus per-session scalar fields the audio
// path touches every frame without taking that mutex.
package state

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wifiparty/core/internal/wire"
)

// HostID re-exports wire.HostID so callers building a roster don't
// need to import internal/wire just for the map key type.
type HostID = wire.HostID

// HostInfo is one peer's mutable state. Scalar fields the audio
// callback path reads every frame are atomics so a Snapshot() never
// blocks them, and vice versa (spec.md section 9).
type HostInfo struct {
	Host      HostID
	SessionID uuid.UUID // correlation id for logs, assigned at registration
	JoinedAt  time.Time

	lastSeen atomic.Int64 // unix nanos

	enabled       atomic.Bool
	volume        atomic.Uint32 // float32 bits, gain factor
	level         atomic.Uint32 // float32 bits, last peak amplitude
	jitterDepthMS atomic.Uint32 // float32 bits
}

func newHostInfo(host HostID) *HostInfo {
	hi := &HostInfo{Host: host, SessionID: uuid.New(), JoinedAt: time.Now()}
	hi.enabled.Store(true)
	hi.volume.Store(math.Float32bits(1.0))
	hi.touch()
	return hi
}

func (h *HostInfo) touch() { h.lastSeen.Store(time.Now().UnixNano()) }

// LastSeen reports when this host was last heard from.
func (h *HostInfo) LastSeen() time.Time {
	return time.Unix(0, h.lastSeen.Load())
}

// Enabled reports whether this source is currently mixed in.
func (h *HostInfo) Enabled() bool { return h.enabled.Load() }

// SetEnabled toggles whether this source is mixed in (UI boundary).
func (h *HostInfo) SetEnabled(v bool) { h.enabled.Store(v) }

// Volume returns the current gain factor applied to this source.
func (h *HostInfo) Volume() float32 { return math.Float32frombits(h.volume.Load()) }

// SetVolume sets the gain factor applied to this source (UI boundary).
func (h *HostInfo) SetVolume(v float32) { h.volume.Store(math.Float32bits(v)) }

// SetLevel records the most recent peak amplitude, read by the UI
// boundary's meter display.
func (h *HostInfo) SetLevel(v float32) { h.level.Store(math.Float32bits(v)) }

// Level returns the most recently recorded peak amplitude.
func (h *HostInfo) Level() float32 { return math.Float32frombits(h.level.Load()) }

// SetJitterDepthMS records the source's current jitter buffer target,
// in milliseconds, for the UI boundary's network-stats display.
func (h *HostInfo) SetJitterDepthMS(v float32) { h.jitterDepthMS.Store(math.Float32bits(v)) }

// JitterDepthMS returns the source's current jitter buffer target.
func (h *HostInfo) JitterDepthMS() float32 { return math.Float32frombits(h.jitterDepthMS.Load()) }

// Roster is the registry of known peers, keyed by HostID. Membership
// changes (Register/Deregister) take mu; per-host scalar reads/writes
// never do.
type Roster struct {
	mu    sync.RWMutex
	hosts map[HostID]*HostInfo
}

// NewRoster returns an empty Roster.
func NewRoster() *Roster {
	return &Roster{hosts: make(map[HostID]*HostInfo)}
}

// Touch registers host if unseen and always refreshes its last-seen
// timestamp; called once per received packet regardless of subsystem.
func (r *Roster) Touch(host HostID) *HostInfo {
	r.mu.RLock()
	hi, ok := r.hosts[host]
	r.mu.RUnlock()
	if ok {
		hi.touch()
		return hi
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if hi, ok := r.hosts[host]; ok {
		hi.touch()
		return hi
	}
	hi = newHostInfo(host)
	r.hosts[host] = hi
	return hi
}

// Get looks up a host without registering it.
func (r *Roster) Get(host HostID) (*HostInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hi, ok := r.hosts[host]
	return hi, ok
}

// Deregister removes host, e.g. after the housekeeping timeout scan
// (spec.md section 4.6's cleanup step) finds it stale.
func (r *Roster) Deregister(host HostID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hosts, host)
}

// Expired returns every host whose last-seen time is older than
// timeout, for the housekeeping goroutine to deregister and tear down.
func (r *Roster) Expired(timeout time.Duration) []HostID {
	cutoff := time.Now().Add(-timeout)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []HostID
	for host, hi := range r.hosts {
		if hi.LastSeen().Before(cutoff) {
			out = append(out, host)
		}
	}
	return out
}

// Snapshot is one host's public scalar state as copied by
// Roster.Snapshot for the UI boundary (spec.md section 6).
type Snapshot struct {
	Host          HostID
	SessionID     uuid.UUID
	JoinedAt      time.Time
	LastSeen      time.Time
	Enabled       bool
	Volume        float32
	Level         float32
	JitterDepthMS float32
}

// Snapshot copies every host's current scalar state.
func (r *Roster) Snapshot() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.hosts))
	for _, hi := range r.hosts {
		out = append(out, Snapshot{
			Host:          hi.Host,
			SessionID:     hi.SessionID,
			JoinedAt:      hi.JoinedAt,
			LastSeen:      hi.LastSeen(),
			Enabled:       hi.Enabled(),
			Volume:        hi.Volume(),
			Level:         hi.Level(),
			JitterDepthMS: hi.JitterDepthMS(),
		})
	}
	return out
}

// Len reports the number of currently registered hosts.
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hosts)
}
