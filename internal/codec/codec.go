// Package codec implements the audio frame & codec model (spec.md
// section 4.1): Opus encode/decode for realtime voice, and a pass-
// through codec plus a small registry for synced-music codecs whose
// compressed frames are relayed unmodified.
package codec

import (
	"errors"
	"fmt"

	"github.com/wifiparty/core/internal/audio"
)

// Failure modes named by spec.md section 4.1.
var (
	// ErrDecodeFailed marks a corrupted packet: drop and continue.
	ErrDecodeFailed = errors.New("codec: decode failed")
	// ErrUnsupportedCodec marks an unknown tag in synced metadata: drop
	// the entire stream and log.
	ErrUnsupportedCodec = errors.New("codec: unsupported codec")
	// ErrRateMismatch marks a decoder-output rate that doesn't match
	// the mixer's target; callers resample rather than treat this as
	// fatal (see internal/audio.Resample).
	ErrRateMismatch = errors.New("codec: rate mismatch")
)

// Encoder turns PCM into wire-ready packets. Implementations are
// stateful and owned by exactly one stream chain; they are never
// shared across streams (spec.md section 4.1).
type Encoder interface {
	Encode(pcm audio.Buffer) ([]byte, error)
	Close() error
}

// Decoder turns wire packets back into PCM.
type Decoder interface {
	Decode(payload []byte) (audio.Buffer, error)
	// Conceal returns packet-loss-concealment output for a missing
	// frame (spec.md section 4.5's pull-side PLC requirement).
	Conceal() audio.Buffer
	Close() error
}

// Tag identifies a wire codec (spec.md section 3, WireCodecParams).
type Tag uint8

const (
	TagOpus Tag = iota
	TagMP3
	TagAAC
	TagFLAC
	TagVorbis
	TagPCM
)

func (t Tag) String() string {
	switch t {
	case TagOpus:
		return "opus"
	case TagMP3:
		return "mp3"
	case TagAAC:
		return "aac"
	case TagFLAC:
		return "flac"
	case TagVorbis:
		return "vorbis"
	case TagPCM:
		return "pcm"
	default:
		return fmt.Sprintf("tag(%d)", uint8(t))
	}
}

// Params is WireCodecParams from spec.md section 3: enough for a
// receiver to construct a decoder without the source file.
type Params struct {
	Tag        Tag
	SampleRate int
	Channels   int
	Private    []byte // opaque codec-private bytes (decoder magic headers)
}

// DecoderFactory builds a Decoder for the given params. Registered per
// Tag in a Registry so the dispatcher never needs a type switch over
// every supported synced codec.
type DecoderFactory func(Params) (Decoder, error)

// Registry maps a codec Tag to the factory that can build a Decoder
// for it. Pass-through codecs (everything except Opus and PCM, which
// the receiver plays natively) are registered by the music-source
// collaborator at startup; the core ships Opus and PCM built in.
type Registry struct {
	factories map[Tag]DecoderFactory
}

// NewRegistry returns a Registry pre-populated with the codecs this
// module implements directly.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[Tag]DecoderFactory)}
	r.Register(TagOpus, func(p Params) (Decoder, error) { return NewOpusDecoder(p.SampleRate, p.Channels) })
	r.Register(TagPCM, func(p Params) (Decoder, error) { return NewPassThroughDecoder(p), nil })
	return r
}

// Register installs a factory for tag, overwriting any previous one.
func (r *Registry) Register(tag Tag, f DecoderFactory) {
	r.factories[tag] = f
}

// Build constructs a Decoder for params, returning ErrUnsupportedCodec
// if no factory is registered for its tag.
func (r *Registry) Build(params Params) (Decoder, error) {
	f, ok := r.factories[params.Tag]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, params.Tag)
	}
	return f(params)
}
