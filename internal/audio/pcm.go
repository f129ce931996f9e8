package audio

import "encoding/binary"

// pcm16Scale is the divisor for int16 -> float32 normalization. Using the
// full 2^15 range (rather than math.MaxInt16, 32767) matches the reference
// decoder and keeps -32768 mapping to exactly -1.0.
const pcm16Scale = 32768

// DecodePCM16LE converts little-endian int16 mono samples to float32 in [-1, 1].
// An odd trailing byte (a split sample across two chunk writes never happens
// in practice since callers always hand over whole frames, but a malformed
// final frame is simply truncated rather than panicking).
func DecodePCM16LE(data []byte) []float32 {
	n := len(data) / 2
	samples := make([]float32, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(s) / pcm16Scale
	}
	return samples
}
