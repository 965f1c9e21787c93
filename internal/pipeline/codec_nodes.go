package pipeline

import (
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/wifiparty/core/internal/audio"
	"github.com/wifiparty/core/internal/codec"
)

// Encode is a push node wrapping a stateful per-stream codec.Encoder
// (spec.md section 4.4: "Opus encoder/decoder ... Stateful per
// chain"). Encode failures are dropped and logged, never propagated
// upward (spec.md section 7).
type Encode struct {
	enc    codec.Encoder
	logger *log.Logger
	onOut  func(wireBytes []byte)
}

// NewEncode returns an Encode node that calls onOut with each
// successfully encoded packet.
func NewEncode(enc codec.Encoder, logger *log.Logger, onOut func([]byte)) *Encode {
	return &Encode{enc: enc, logger: logger, onOut: onOut}
}

func (e *Encode) Push(buf audio.Buffer) {
	out, err := e.enc.Encode(buf)
	if err != nil {
		if e.logger != nil {
			e.logger.Debug("encode failed, dropping frame", "err", err)
		}
		return
	}
	e.onOut(out)
}

// FramePacker attaches a monotonically increasing sequence number and
// forwards the encoded bytes to onOut (spec.md section 4.4's "frame
// packer" node). It owns the sequence counter for one stream; a
// FramePacker is never shared across streams.
type FramePacker struct {
	seq   atomic.Uint64
	onOut func(seq uint64, payload []byte)
}

// NewFramePacker returns a FramePacker starting at sequence 0.
func NewFramePacker(onOut func(seq uint64, payload []byte)) *FramePacker {
	return &FramePacker{onOut: onOut}
}

// PushEncoded attaches the next sequence number to payload and emits it.
func (fp *FramePacker) PushEncoded(payload []byte) {
	seq := fp.seq.Add(1) - 1
	fp.onOut(seq, payload)
}
