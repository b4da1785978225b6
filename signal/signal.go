// Package signal provides operations on non-interleaved float32 blocks:
//   - summing and clearing of channel buffers
//   - conversion between float blocks and interleaved ints
//
// Sum, Silence and Interleave don't allocate and are safe to call from
// the audio goroutine.
package signal

import "math"

// Supported bit depths.
const (
	BitDepth16 = BitDepth(16)
	BitDepth24 = BitDepth(24)
	BitDepth32 = BitDepth(32)
)

// BitDepth contains values required for int-to-float and backward conversion.
type BitDepth int

// Supported returns true for 16, 24 and 32 bit depths.
func (bitDepth BitDepth) Supported() bool {
	switch bitDepth {
	case BitDepth16, BitDepth24, BitDepth32:
		return true
	}
	return false
}

// MaxValue returns the full scale int value.
func (bitDepth BitDepth) MaxValue() int {
	switch bitDepth {
	case BitDepth16:
		return math.MaxInt16
	case BitDepth24:
		return 1<<23 - 1
	case BitDepth32:
		return math.MaxInt32
	default:
		return 1
	}
}

// Sum adds src to dst sample by sample.
func Sum(dst, src []float32) {
	for i, v := range src {
		dst[i] += v
	}
}

// Silence zeroes first frames of all channels.
func Silence(buf [][]float32, frames int) {
	for _, ch := range buf {
		clear(ch[:frames])
	}
}

// Interleave converts first frames of non-interleaved floats to
// interleaved ints. Floats are clipped to [-1, 1]. Dst must hold at least
// frames*len(src) values.
func Interleave(dst []int, src [][]float32, frames int, bitDepth BitDepth) {
	numChannels := len(src)
	scale := float64(bitDepth.MaxValue())
	for c := range src {
		for i := 0; i < frames; i++ {
			v := float64(src[c][i])
			switch {
			case v > 1:
				v = 1
			case v < -1:
				v = -1
			}
			dst[i*numChannels+c] = int(v * scale)
		}
	}
}

// Deinterleave converts interleaved ints to non-interleaved floats. Last
// incomplete frame is padded with zeros.
func Deinterleave(src []int, numChannels int, bitDepth BitDepth) [][]float32 {
	if len(src) == 0 || numChannels == 0 {
		return nil
	}
	frames := (len(src) + numChannels - 1) / numChannels
	scale := float32(bitDepth.MaxValue())
	floats := make([][]float32, numChannels)
	for c := range floats {
		floats[c] = make([]float32, frames)
		pos := 0
		for j := c; j < len(src); j += numChannels {
			floats[c][pos] = float32(src[j]) / scale
			pos++
		}
	}
	return floats
}
