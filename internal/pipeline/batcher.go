package pipeline

import "github.com/wifiparty/core/internal/audio"

// Batcher accumulates input frames into a larger, sample-aligned frame
// to reach the encoder's frame size (spec.md section 4.4). Hardware
// capture callbacks deliver 128-1024 sample frames; Opus wants exactly
// targetFrames samples/channel (e.g. 240 at 48kHz/5ms), so this node
// bridges the two without the encoder ever seeing a partial frame.
type Batcher struct {
	next         Pusher
	targetFrames int
	pending      []int16
	rate         int
	channels     int
}

// NewBatcher returns a Batcher accumulating to targetFrames samples per
// channel before forwarding to next.
func NewBatcher(next Pusher, targetFrames int) *Batcher {
	return &Batcher{next: next, targetFrames: targetFrames}
}

func (b *Batcher) Push(buf audio.Buffer) {
	if b.rate == 0 {
		b.rate = buf.Rate
		b.channels = buf.Channels
	}
	b.pending = append(b.pending, buf.Samples...)

	targetSamples := b.targetFrames * b.channels
	for len(b.pending) >= targetSamples {
		chunk := make([]int16, targetSamples)
		copy(chunk, b.pending[:targetSamples])
		b.pending = b.pending[targetSamples:]
		if b.next != nil {
			b.next.Push(audio.Buffer{Samples: chunk, Rate: b.rate, Channels: b.channels})
		}
	}
}
