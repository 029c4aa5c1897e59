package audio

import "errors"

// G.711 mu-law constants. Twilio media streams carry 8-bit mu-law
// mono at 8kHz; these match the ITU reference encoder.
const (
	MulawBias = 0x84
	MulawClip = 32635

	// LineRate is the sample rate of the telephony line codec.
	LineRate = 8000
)

// ErrOddPCMLength is returned when a PCM16 byte buffer has a dangling byte.
var ErrOddPCMLength = errors.New("audio: pcm16 byte length must be even")

// DecodeMulaw converts mu-law bytes to 16-bit linear PCM samples.
// Every byte value 0-255 is a valid mu-law code, so there is no error path.
func DecodeMulaw(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		b = ^b
		sign := b & 0x80
		exponent := (b & 0x70) >> 4
		mantissa := b & 0x0F

		sample := (int32(mantissa) << 3) + MulawBias
		sample <<= exponent
		sample -= MulawBias

		if sign != 0 {
			sample = -sample
		}
		out[i] = int16(sample)
	}
	return out
}

// EncodeMulaw converts 16-bit linear PCM samples to mu-law bytes.
// Inverse of DecodeMulaw up to one quantization step per sample.
func EncodeMulaw(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		sample := int32(s)
		var sign byte
		if sample < 0 {
			sign = 0x80
			sample = -sample
		}
		if sample > MulawClip {
			sample = MulawClip
		}
		sample += MulawBias

		// Smallest exponent whose mantissa range holds the sample,
		// searched from the top with a shifting mask.
		exponent := byte(7)
		for mask := int32(0x4000); exponent > 0 && sample&mask == 0; mask >>= 1 {
			exponent--
		}
		mantissa := byte(sample>>(exponent+3)) & 0x0F
		out[i] = ^(sign | exponent<<4 | mantissa)
	}
	return out
}

// PCM16FromBytes reinterprets little-endian PCM16 bytes as samples.
func PCM16FromBytes(b []byte) ([]int16, error) {
	if len(b)%2 != 0 {
		return nil, ErrOddPCMLength
	}
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(uint16(b[2*i]) | uint16(b[2*i+1])<<8)
	}
	return out, nil
}

// PCM16ToBytes serializes samples as little-endian PCM16 bytes.
func PCM16ToBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		v := uint16(s)
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}
