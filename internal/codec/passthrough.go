package codec

import "github.com/wifiparty/core/internal/audio"

// PassThroughDecoder implements Decoder for synced-music codecs the
// core does not parse itself (mp3/aac/flac/vorbis, and the PCM
// fallback when Opus isn't compiled in): frames pass through as raw
// bytes reinterpreted as 16-bit PCM. A real decoder for these formats
// is supplied by the music-source collaborator (spec.md section 6,
// "music source boundary") and registered into codec.Registry; this
// type exists so the PCM wire codec tag always has a working decoder
// without any external dependency.
type PassThroughDecoder struct {
	params Params
}

// NewPassThroughDecoder returns a Decoder that reinterprets payload
// bytes as big-endian 16-bit PCM, matching the wire byte order used
// throughout this module (see internal/wire).
func NewPassThroughDecoder(params Params) *PassThroughDecoder {
	return &PassThroughDecoder{params: params}
}

func (d *PassThroughDecoder) Decode(payload []byte) (audio.Buffer, error) {
	if len(payload)%2 != 0 {
		payload = payload[:len(payload)-1]
	}
	samples := make([]int16, len(payload)/2)
	for i := range samples {
		samples[i] = int16(payload[i*2])<<8 | int16(payload[i*2+1])
	}
	return audio.Buffer{Samples: samples, Rate: d.params.SampleRate, Channels: d.params.Channels}, nil
}

func (d *PassThroughDecoder) Conceal() audio.Buffer {
	return audio.NewSilence(d.params.SampleRate, d.params.Channels, frameSize(d.params.SampleRate))
}

func (d *PassThroughDecoder) Close() error { return nil }

// PassThroughEncoder is the identity encoder used for synced packets:
// the sender never re-encodes compressed music (spec.md section 4.7),
// it relays the source file's own compressed bytes.
type PassThroughEncoder struct{}

func NewPassThroughEncoder() *PassThroughEncoder { return &PassThroughEncoder{} }

func (e *PassThroughEncoder) Encode(pcm audio.Buffer) ([]byte, error) {
	out := make([]byte, len(pcm.Samples)*2)
	for i, s := range pcm.Samples {
		out[i*2] = byte(s >> 8)
		out[i*2+1] = byte(s)
	}
	return out, nil
}

func (e *PassThroughEncoder) Close() error { return nil }

func frameSize(rate int) int {
	// 5ms frame, the Opus configuration this module standardizes on
	// (spec.md section 4.1).
	return rate * 5 / 1000
}
