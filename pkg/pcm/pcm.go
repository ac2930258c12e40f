// Package pcm converts between floating-point audio samples and the 16-bit
// little-endian linear PCM wire format used by the assistant endpoint.
//
// All functions are pure and allocation-bounded: out-of-range input is
// clamped rather than rejected, and a trailing partial sample in a decoded
// byte stream is truncated rather than treated as an error. The package also
// provides the base64 transport encoding used for text-framed channels and a
// linear-interpolation resampler for bridging device-native sample rates to
// the fixed 16 kHz wire rate.
package pcm

import "encoding/base64"

// WireSampleRate is the fixed sample rate, in Hz, of all audio exchanged
// with the assistant endpoint. The format is fixed by convention with the
// remote side; there is no negotiation.
const WireSampleRate = 16000

// EncodeSamples converts float samples in [-1, 1] to 16-bit little-endian
// PCM. Samples outside the range are clamped, never rejected. The scale is
// a uniform 32768 with the positive extreme clamped to 32767, so that
// re-encoding a decoded buffer reproduces it byte-exactly.
func EncodeSamples(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s < -1 {
			s = -1
		} else if s > 1 {
			s = 1
		}
		scaled := int32(s * 32768)
		if scaled > 32767 {
			scaled = 32767
		}
		v := int16(scaled)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// DecodeSamples converts 16-bit little-endian PCM back to float samples by
// dividing each value by 32768. A byte length that is not a multiple of two
// loses its final partial sample; this is the documented behaviour for
// truncated network reads, not an error.
func DecodeSamples(data []byte) []float32 {
	n := len(data) / 2
	out := make([]float32, n)
	for i := range n {
		v := int16(data[i*2]) | int16(data[i*2+1])<<8
		out[i] = float32(v) / 32768.0
	}
	return out
}

// EncodeTransport converts float samples to the text-framed wire form:
// PCM16LE encoded as standard base64.
func EncodeTransport(samples []float32) string {
	return base64.StdEncoding.EncodeToString(EncodeSamples(samples))
}

// DecodeTransport reverses [EncodeTransport]. It returns an error only for
// invalid base64; a decoded payload with an odd byte count is truncated per
// [DecodeSamples].
func DecodeTransport(payload string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, err
	}
	return DecodeSamples(raw), nil
}
