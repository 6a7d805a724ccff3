package audio

import (
	"encoding/binary"
	"math"
)

// Float32ToPCM16 appends src, clamped to [-1, 1], to dst as little-endian
// signed 16-bit samples.
func Float32ToPCM16(dst []byte, src []float32) []byte {
	for _, s := range src {
		v := math.Max(-1, math.Min(1, float64(s)))
		dst = binary.LittleEndian.AppendUint16(dst, uint16(int16(v*math.MaxInt16)))
	}
	return dst
}

// PCM16ToFloat32 appends the samples in src to dst scaled to [-1, 1]. A
// trailing odd byte is ignored.
func PCM16ToFloat32(dst []float32, src []byte) []float32 {
	for i := 0; i+1 < len(src); i += 2 {
		s := int16(binary.LittleEndian.Uint16(src[i:]))
		dst = append(dst, float32(s)/math.MaxInt16)
	}
	return dst
}

// ResampledLen returns the number of samples Resample16 produces for n
// input samples.
func ResampledLen(n, fromRate, toRate int) int {
	if fromRate <= 0 || toRate <= 0 {
		return 0
	}
	return int(int64(n) * int64(toRate) / int64(fromRate))
}

// Resample16 converts mono linear16 audio between sample rates using linear
// interpolation and appends the result to dst. Equal rates copy.
func Resample16(dst, src []byte, fromRate, toRate int) []byte {
	in := len(src) / 2
	if fromRate == toRate {
		return append(dst, src[:in*2]...)
	}

	out := ResampledLen(in, fromRate, toRate)
	if in == 0 || out == 0 {
		return dst
	}

	sample := func(i int) float64 {
		return float64(int16(binary.LittleEndian.Uint16(src[i*2:])))
	}

	step := float64(fromRate) / float64(toRate)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= in-1 {
			dst = binary.LittleEndian.AppendUint16(dst, uint16(int16(sample(in-1))))
			continue
		}
		frac := pos - float64(j)
		v := sample(j)*(1-frac) + sample(j+1)*frac
		dst = binary.LittleEndian.AppendUint16(dst, uint16(int16(math.Round(v))))
	}
	return dst
}

// Int16ToBytes appends samples to dst in little-endian order.
func Int16ToBytes(dst []byte, samples []int16) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s))
	}
	return dst
}

// BytesToInt16 decodes as many whole samples from src as fit in dst and
// returns the count.
func BytesToInt16(dst []int16, src []byte) int {
	n := min(len(dst), len(src)/2)
	for i := range n {
		dst[i] = int16(binary.LittleEndian.Uint16(src[i*2:]))
	}
	return n
}
