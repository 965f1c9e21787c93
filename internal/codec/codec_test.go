package codec_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wifiparty/core/internal/audio"
	"github.com/wifiparty/core/internal/codec"
)

func TestPassThroughRoundTrip(t *testing.T) {
	enc := codec.NewPassThroughEncoder()
	dec := codec.NewPassThroughDecoder(codec.Params{Tag: codec.TagPCM, SampleRate: 48000, Channels: 2})

	in := audio.Buffer{Samples: []int16{1, -2, 3, -4, 32000, -32000}, Rate: 48000, Channels: 2}
	wire, err := enc.Encode(in)
	require.NoError(t, err)

	out, err := dec.Decode(wire)
	require.NoError(t, err)
	require.Equal(t, in.Samples, out.Samples)
	require.Equal(t, in.Rate, out.Rate)
	require.Equal(t, in.Channels, out.Channels)
}

func TestRegistryUnsupportedCodec(t *testing.T) {
	reg := codec.NewRegistry()
	_, err := reg.Build(codec.Params{Tag: codec.Tag(99), SampleRate: 48000, Channels: 1})
	require.ErrorIs(t, err, codec.ErrUnsupportedCodec)
}

func TestRegistryBuildsOpusOrFallback(t *testing.T) {
	reg := codec.NewRegistry()
	dec, err := reg.Build(codec.Params{Tag: codec.TagOpus, SampleRate: 48000, Channels: 1})
	require.NoError(t, err)
	require.NotNil(t, dec)
	defer dec.Close()
}

func TestPassThroughDecoderConceal(t *testing.T) {
	dec := codec.NewPassThroughDecoder(codec.Params{Tag: codec.TagPCM, SampleRate: 48000, Channels: 1})
	silence := dec.Conceal()
	for _, s := range silence.Samples {
		require.Zero(t, s)
	}
}
