package audio

// Resample converts buf to the target sample rate using linear
// interpolation. It is deliberately the simplest thing that satisfies
// spec.md section 4.4's "resampled/downmixed upstream of the mixer"
// requirement rather than a polyphase filter — the mixer's job is to
// combine streams promptly, not to be an audiophile resampler, and the
// Opus/PCM sources this rework handles are already band-limited to the
// source rate.
func Resample(buf Buffer, targetRate int) Buffer {
	if buf.Rate == targetRate || buf.Rate == 0 || len(buf.Samples) == 0 {
		return buf
	}

	srcFrames := buf.Frames()
	ratio := float64(buf.Rate) / float64(targetRate)
	dstFrames := int(float64(srcFrames) / ratio)
	if dstFrames <= 0 {
		return Buffer{Rate: targetRate, Channels: buf.Channels}
	}

	out := make([]int16, dstFrames*buf.Channels)
	for i := 0; i < dstFrames; i++ {
		srcPos := float64(i) * ratio
		i0 := int(srcPos)
		i1 := i0 + 1
		if i1 >= srcFrames {
			i1 = srcFrames - 1
		}
		frac := srcPos - float64(i0)
		for c := 0; c < buf.Channels; c++ {
			s0 := float64(buf.Samples[i0*buf.Channels+c])
			s1 := float64(buf.Samples[i1*buf.Channels+c])
			out[i*buf.Channels+c] = int16(s0 + (s1-s0)*frac)
		}
	}
	return Buffer{Samples: out, Rate: targetRate, Channels: buf.Channels}
}

// Downmix converts buf to the target channel count: stereo-to-mono
// averages the two channels, mono-to-stereo duplicates the single
// channel.
func Downmix(buf Buffer, targetChannels int) Buffer {
	if buf.Channels == targetChannels || targetChannels <= 0 {
		return buf
	}

	frames := buf.Frames()
	out := make([]int16, frames*targetChannels)

	switch {
	case buf.Channels == 2 && targetChannels == 1:
		for i := 0; i < frames; i++ {
			l := int32(buf.Samples[i*2])
			r := int32(buf.Samples[i*2+1])
			out[i] = int16((l + r) / 2)
		}
	case buf.Channels == 1 && targetChannels == 2:
		for i := 0; i < frames; i++ {
			s := buf.Samples[i]
			out[i*2] = s
			out[i*2+1] = s
		}
	default:
		return buf
	}
	return Buffer{Samples: out, Rate: buf.Rate, Channels: targetChannels}
}

// Conform resamples and downmixes buf to match the target shape in one
// call, used by pipeline nodes registering a new mixer input whose
// native shape differs from the mixer's configured target.
func Conform(buf Buffer, targetRate, targetChannels int) Buffer {
	return Downmix(Resample(buf, targetRate), targetChannels)
}
