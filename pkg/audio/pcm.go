package audio

import (
	"encoding/binary"
	"math"
)

// Quantize clamps x to [-1, 1] and maps it onto the int16 range as
// round(x * 32767).
func Quantize(x float32) int16 {
	switch {
	case x > 1:
		x = 1
	case x < -1:
		x = -1
	case x != x: // NaN
		return 0
	}
	return int16(math.Round(float64(x) * math.MaxInt16))
}

// Dequantize maps an int16 sample back to a float in [-1, 1] as s / 32767.
// The -32768 sample lands marginally below -1.
func Dequantize(s int16) float32 {
	return float32(s) / math.MaxInt16
}

// EncodePCM16 quantizes float samples into little-endian int16 PCM.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, x := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(Quantize(x)))
	}
	return out
}

// DecodePCM16 converts little-endian int16 PCM to float samples. A trailing
// odd byte is ignored.
func DecodePCM16(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = Dequantize(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return out
}

// int16At reads the i-th little-endian sample of pcm.
func int16At(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*2:]))
}

// putInt16 writes s as the i-th little-endian sample of pcm.
func putInt16(pcm []byte, i int, s int16) {
	binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
}
