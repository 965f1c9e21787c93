package pipeline

import (
	"sync"
	"sync/atomic"

	"github.com/wifiparty/core/internal/audio"
)

// namedPuller pairs a Puller with the name it was Attached under, so
// Detach can rebuild the input set without needing a map lookup on
// the hot path.
type namedPuller struct {
	name string
	p    Puller
}

// Mixer pulls one frame from each registered input, sums sample-wise,
// and soft-clips; missing inputs contribute silence (spec.md section
// 4.4). Attach/Detach build a fresh immutable input slice and publish
// it with a single atomic store; Pull reads that slice with a single
// atomic load and never takes a lock, so a concurrent Attach/Detach
// from housekeeping never stalls the real-time audio callback
// (spec.md section 5).
type Mixer struct {
	writeMu sync.Mutex // serializes Attach/Detach; Pull never touches this
	inputs  atomic.Pointer[[]namedPuller]

	rate     int
	channels int
	frames   int // target frame length (samples per channel) per pull

	sum []int32 // reused pull-local scratch; Pull is called from one goroutine at a time
}

// NewMixer returns a Mixer configured with a fixed target shape and
// pull length; any input registered at a different shape must be
// conformed upstream (see internal/audio.Conform) at registration time.
func NewMixer(rate, channels, frames int) *Mixer {
	m := &Mixer{
		rate:     rate,
		channels: channels,
		frames:   frames,
		sum:      make([]int32, frames*channels),
	}
	empty := make([]namedPuller, 0)
	m.inputs.Store(&empty)
	return m
}

// Attach registers a named pull input. Re-attaching the same name
// replaces its Puller.
func (m *Mixer) Attach(name string, p Puller) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	cur := *m.inputs.Load()
	next := make([]namedPuller, 0, len(cur)+1)
	replaced := false
	for _, np := range cur {
		if np.name == name {
			next = append(next, namedPuller{name: name, p: p})
			replaced = true
			continue
		}
		next = append(next, np)
	}
	if !replaced {
		next = append(next, namedPuller{name: name, p: p})
	}
	m.inputs.Store(&next)
}

// Detach removes a named input; a later Pull simply no longer sources
// from it (missing inputs contribute silence, so removing one doesn't
// require any other bookkeeping).
func (m *Mixer) Detach(name string) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	cur := *m.inputs.Load()
	next := make([]namedPuller, 0, len(cur))
	for _, np := range cur {
		if np.name == name {
			continue
		}
		next = append(next, np)
	}
	m.inputs.Store(&next)
}

// Pull always returns exactly m.frames samples/channel, matching
// spec.md section 8's invariant: "Mixer output sample count per pull
// equals the configured target frame length regardless of how many
// inputs are absent."
func (m *Mixer) Pull() (audio.Buffer, bool) {
	for i := range m.sum {
		m.sum[i] = 0
	}

	for _, np := range *m.inputs.Load() {
		buf, ok := np.p.Pull()
		if !ok {
			continue
		}
		n := len(buf.Samples)
		if n > len(m.sum) {
			n = len(m.sum)
		}
		for i := 0; i < n; i++ {
			m.sum[i] += int32(buf.Samples[i])
		}
	}

	return audio.Buffer{
		Samples:  audio.SoftClipBuffer(m.sum),
		Rate:     m.rate,
		Channels: m.channels,
	}, true
}
