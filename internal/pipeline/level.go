package pipeline

import (
	"math"
	"sync/atomic"

	"github.com/wifiparty/core/internal/audio"
)

// Level is a push passthrough node: it updates a shared atomic level
// reading and forwards the buffer unchanged (spec.md section 4.4).
// Reading the level never takes a lock, matching the "no blocking lock
// on the real-time path" rule in section 5.
type Level struct {
	next  Pusher
	level atomic.Uint32 // bits of a float32 peak amplitude, 0..1
}

// NewLevel returns a Level node forwarding to next.
func NewLevel(next Pusher) *Level {
	return &Level{next: next}
}

func (l *Level) Push(buf audio.Buffer) {
	var peak float32
	for _, s := range buf.Samples {
		a := float32(s) / 32768.0
		if a < 0 {
			a = -a
		}
		if a > peak {
			peak = a
		}
	}
	l.level.Store(math.Float32bits(peak))
	if l.next != nil {
		l.next.Push(buf)
	}
}

// Level returns the most recent peak amplitude in [0, 1].
func (l *Level) Level() float32 {
	return math.Float32frombits(l.level.Load())
}
