package pipeline

import (
	"math"
	"sync/atomic"

	"github.com/wifiparty/core/internal/audio"
)

// Gain multiplies by a gain factor and soft-clips at the sample type's
// range equivalent (spec.md section 4.4). The factor is an atomic cell
// so the UI thread can adjust per-source volume without the audio
// callback ever taking a lock (spec.md section 5/9).
type Gain struct {
	next   Pusher
	factor atomic.Uint32 // bits of a float32 multiplier
}

// NewGain returns a Gain node with the given initial factor (1.0 = no
// change), forwarding to next.
func NewGain(next Pusher, factor float32) *Gain {
	g := &Gain{next: next}
	g.SetFactor(factor)
	return g
}

// SetFactor updates the gain multiplier (spec.md section 3: per-source
// volume range 0.0-2.0).
func (g *Gain) SetFactor(factor float32) {
	g.factor.Store(math.Float32bits(factor))
}

func (g *Gain) Factor() float32 {
	return math.Float32frombits(g.factor.Load())
}

func (g *Gain) Push(buf audio.Buffer) {
	factor := g.Factor()
	if factor == 1.0 {
		if g.next != nil {
			g.next.Push(buf)
		}
		return
	}

	out := make([]int16, len(buf.Samples))
	for i, s := range buf.Samples {
		scaled := int32(float32(s) * factor)
		if scaled > math.MaxInt16 || scaled < math.MinInt16 {
			out[i] = audio.SoftClip(scaled)
		} else {
			out[i] = int16(scaled)
		}
	}
	if g.next != nil {
		g.next.Push(audio.Buffer{Samples: out, Rate: buf.Rate, Channels: buf.Channels})
	}
}
