package audio

import (
	"math"
	"time"
)

// ToFloat32 normalizes PCM16 samples into [-1, 1].
func ToFloat32(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// FromFloat32 converts normalized samples back to PCM16. Values are
// clamped to the int16 range before truncation; out-of-range floats
// must not wrap around.
func FromFloat32(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, f := range samples {
		v := f * 32767.0
		if v > 32767.0 {
			v = 32767.0
		} else if v < -32768.0 {
			v = -32768.0
		}
		out[i] = int16(v)
	}
	return out
}

// Resample converts samples between rates with linear interpolation.
// Equal rates return the input slice unchanged. Not band-limited;
// aliasing is acceptable for narrowband telephony content.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := int(math.Round(float64(len(samples)) * float64(dstRate) / float64(srcRate)))
	if dstLen <= 0 {
		return nil
	}
	out := make([]float32, dstLen)
	if len(samples) == 1 || dstLen == 1 {
		for i := range out {
			out[i] = samples[0]
		}
		return out
	}
	// dstLen query positions evenly spaced over [0, len-1].
	step := float64(len(samples)-1) / float64(dstLen-1)
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out
}

// Duration reports the playback time of n samples at the given rate.
func Duration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(float64(n) / float64(rate) * float64(time.Second))
}
