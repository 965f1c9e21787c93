package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wifiparty/core/internal/audio"
	"github.com/wifiparty/core/internal/pipeline"
)

func TestGainPassesThroughAtUnity(t *testing.T) {
	var got audio.Buffer
	sink := pipeline.PusherFunc(func(b audio.Buffer) { got = b })
	g := pipeline.NewGain(sink, 1.0)
	in := audio.Buffer{Samples: []int16{100, -100}, Rate: 48000, Channels: 2}
	g.Push(in)
	require.Equal(t, in.Samples, got.Samples)
}

func TestGainScalesAndClips(t *testing.T) {
	var got audio.Buffer
	sink := pipeline.PusherFunc(func(b audio.Buffer) { got = b })
	g := pipeline.NewGain(sink, 2.0)
	in := audio.Buffer{Samples: []int16{20000, -20000}, Rate: 48000, Channels: 1}
	g.Push(in)
	for _, s := range got.Samples {
		require.LessOrEqual(t, s, int16(32767))
		require.GreaterOrEqual(t, s, int16(-32768))
	}
}

func TestSwitchEmitsSilenceWhenDisabled(t *testing.T) {
	var got audio.Buffer
	sink := pipeline.PusherFunc(func(b audio.Buffer) { got = b })
	sw := pipeline.NewPushSwitch(sink, false)
	in := audio.Buffer{Samples: []int16{1, 2, 3, 4}, Rate: 48000, Channels: 2}
	sw.Push(in)
	for _, s := range got.Samples {
		require.Zero(t, s)
	}
	require.Equal(t, len(in.Samples), len(got.Samples))
}

func TestSwitchPullReturnsNoneWhenDisabled(t *testing.T) {
	src := pipeline.PullerFunc(func() (audio.Buffer, bool) {
		return audio.Buffer{Samples: []int16{1}}, true
	})
	sw := pipeline.NewPullSwitch(src, false)
	_, ok := sw.Pull()
	require.False(t, ok)

	sw.SetEnabled(true)
	_, ok = sw.Pull()
	require.True(t, ok)
}

func TestTeeForwardsToAllSuccessorsIndependently(t *testing.T) {
	var a, b audio.Buffer
	sinkA := pipeline.PusherFunc(func(buf audio.Buffer) { a = buf })
	sinkB := pipeline.PusherFunc(func(buf audio.Buffer) { b = buf })
	tee := pipeline.NewTee(sinkA, sinkB)

	in := audio.Buffer{Samples: []int16{5, 6}, Rate: 48000, Channels: 2}
	tee.Push(in)

	require.Equal(t, in.Samples, a.Samples)
	require.Equal(t, in.Samples, b.Samples)

	a.Samples[0] = 999
	require.NotEqual(t, a.Samples[0], b.Samples[0], "tee must clone for each successor when N>1")
}

func TestBatcherAccumulatesToTargetFrameSize(t *testing.T) {
	var outs []audio.Buffer
	sink := pipeline.PusherFunc(func(b audio.Buffer) { outs = append(outs, b) })
	batch := pipeline.NewBatcher(sink, 4) // 4 frames/channel target

	batch.Push(audio.Buffer{Samples: []int16{1, 2}, Rate: 48000, Channels: 1})  // 2 frames
	require.Empty(t, outs)
	batch.Push(audio.Buffer{Samples: []int16{3, 4}, Rate: 48000, Channels: 1})  // now 4 frames
	require.Len(t, outs, 1)
	require.Equal(t, []int16{1, 2, 3, 4}, outs[0].Samples)
}

func TestMixerOutputLengthIsAlwaysTargetRegardlessOfInputs(t *testing.T) {
	m := pipeline.NewMixer(48000, 2, 240)

	buf, ok := m.Pull()
	require.True(t, ok)
	require.Len(t, buf.Samples, 240*2)

	m.Attach("a", pipeline.PullerFunc(func() (audio.Buffer, bool) {
		return audio.Buffer{Samples: make([]int16, 240*2), Rate: 48000, Channels: 2}, true
	}))
	buf, ok = m.Pull()
	require.True(t, ok)
	require.Len(t, buf.Samples, 240*2)

	m.Detach("a")
	buf, ok = m.Pull()
	require.True(t, ok)
	require.Len(t, buf.Samples, 240*2)
}

func TestMixerSumsAndSoftClipsInsteadOfWrapping(t *testing.T) {
	m := pipeline.NewMixer(48000, 1, 1)
	loud := func() (audio.Buffer, bool) {
		return audio.Buffer{Samples: []int16{32000}, Rate: 48000, Channels: 1}, true
	}
	m.Attach("a", pipeline.PullerFunc(loud))
	m.Attach("b", pipeline.PullerFunc(loud))

	buf, ok := m.Pull()
	require.True(t, ok)
	require.Len(t, buf.Samples, 1)
	require.Greater(t, buf.Samples[0], int16(0), "soft clip must not wrap to negative")
	require.LessOrEqual(t, buf.Samples[0], int16(32767))
}
