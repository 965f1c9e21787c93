//go:build opus
// +build opus

package codec

import (
	"fmt"

	opus "gopkg.in/hraban/opus.v2"

	"github.com/wifiparty/core/internal/audio"
)

// OpusFrameMS is the Opus frame duration this module standardizes on
// (spec.md section 4.1: "2.5 or 5 ms"; 5 ms is used throughout).
const OpusFrameMS = 5.0

// OpusBitrateStereo and OpusBitrateMono match spec.md section 4.1's
// "~128 kbps stereo" target, halved for mono system-audio streams.
const (
	OpusBitrateStereo = 128000
	OpusBitrateMono   = 64000
)

// opusEncoder wraps a stateful per-stream Opus encoder, configured VBR,
// complexity 0, FEC off, DTX off per spec.md section 4.1.
type opusEncoder struct {
	enc      *opus.Encoder
	rate     int
	channels int
}

// NewOpusEncoder builds a per-chain Opus encoder. It is never shared
// across streams (spec.md section 4.1).
func NewOpusEncoder(rate, channels int) (Encoder, error) {
	// 2049 is OPUS_APPLICATION_AUDIO.
	enc, err := opus.NewEncoder(rate, channels, opus.Application(2049))
	if err != nil {
		return nil, fmt.Errorf("codec: opus encoder init: %w", err)
	}
	if err := enc.SetComplexity(0); err != nil {
		return nil, fmt.Errorf("codec: opus complexity: %w", err)
	}
	bitrate := OpusBitrateMono
	if channels == 2 {
		bitrate = OpusBitrateStereo
	}
	if err := enc.SetBitrate(bitrate); err != nil {
		return nil, fmt.Errorf("codec: opus bitrate: %w", err)
	}
	return &opusEncoder{enc: enc, rate: rate, channels: channels}, nil
}

func (e *opusEncoder) Encode(pcm audio.Buffer) ([]byte, error) {
	out := make([]byte, 4000)
	n, err := e.enc.Encode(pcm.Samples, out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return out[:n], nil
}

func (e *opusEncoder) Close() error { return nil }

type opusDecoder struct {
	dec      *opus.Decoder
	rate     int
	channels int
	lastGood audio.Buffer
}

// NewOpusDecoder builds a per-chain Opus decoder.
func NewOpusDecoder(rate, channels int) (Decoder, error) {
	dec, err := opus.NewDecoder(rate, channels)
	if err != nil {
		return nil, fmt.Errorf("codec: opus decoder init: %w", err)
	}
	return &opusDecoder{dec: dec, rate: rate, channels: channels}, nil
}

func (d *opusDecoder) Decode(payload []byte) (audio.Buffer, error) {
	frameLen := frameSize(d.rate)
	samples := make([]int16, frameLen*d.channels)
	n, err := d.dec.Decode(payload, samples)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	buf := audio.Buffer{Samples: samples[:n*d.channels], Rate: d.rate, Channels: d.channels}
	d.lastGood = buf
	return buf, nil
}

// Conceal asks the decoder itself for packet-loss concealment (libopus
// synthesizes continuation audio from internal state when fed a nil
// payload), falling back to silence before any packet has decoded.
func (d *opusDecoder) Conceal() audio.Buffer {
	frameLen := frameSize(d.rate)
	samples := make([]int16, frameLen*d.channels)
	n, err := d.dec.Decode(nil, samples)
	if err != nil {
		return audio.NewSilence(d.rate, d.channels, frameLen)
	}
	return audio.Buffer{Samples: samples[:n*d.channels], Rate: d.rate, Channels: d.channels}
}

func (d *opusDecoder) Close() error { return nil }

const opusCompiledIn = true
