// Package audio implements the PCM buffer and frame types the rest of
// the audio plane is built on (spec.md section 3, "AudioBuffer" and
// "AudioFrame").
package audio

import "fmt"

// Buffer is interleaved 16-bit PCM. Samples are owned by this value;
// once a Buffer is pushed into a pipeline node or a ring, the sender
// must not touch the backing slice again.
type Buffer struct {
	Samples  []int16
	Rate     int
	Channels int
}

// NewSilence returns a zeroed buffer of the given frame length (samples
// per channel), matching rate/channels.
func NewSilence(rate, channels, frames int) Buffer {
	return Buffer{
		Samples:  make([]int16, frames*channels),
		Rate:     rate,
		Channels: channels,
	}
}

// Frames reports the number of samples per channel.
func (b Buffer) Frames() int {
	if b.Channels == 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Validate enforces the section-3 invariant: samples.len() % channels == 0.
func (b Buffer) Validate() error {
	if b.Channels <= 0 || b.Channels > 2 {
		return fmt.Errorf("audio: invalid channel count %d", b.Channels)
	}
	if len(b.Samples)%b.Channels != 0 {
		return fmt.Errorf("audio: sample count %d not divisible by channels %d", len(b.Samples), b.Channels)
	}
	return nil
}

// Clone returns an independent copy, used whenever a buffer crosses an
// ownership boundary that the fast path would otherwise alias (Tee with
// more than one successor, retaining a wire.View beyond the current
// dispatch iteration).
func (b Buffer) Clone() Buffer {
	cp := make([]int16, len(b.Samples))
	copy(cp, b.Samples)
	return Buffer{Samples: cp, Rate: b.Rate, Channels: b.Channels}
}

// Frame pairs a Buffer with the monotonic sequence number assigned by
// the producer of the first encoded packet of a stream (spec.md
// section 3, "AudioFrame"). Sequence arithmetic must be wrap-safe, but
// wraparound is not a practical concern at audio rates over a 64-bit
// counter.
type Frame struct {
	Seq  uint64
	Data Buffer
}

// SeqAfter reports whether a is later than b, accounting for 64-bit
// wraparound the same way TCP sequence comparisons do.
func SeqAfter(a, b uint64) bool {
	return int64(a-b) > 0
}

// SeqDistance returns a-b as a signed distance, wrap-safe.
func SeqDistance(a, b uint64) int64 {
	return int64(a - b)
}
