// Package pcm converts captured audio between sample rates and between
// float samples and the PCM16 wire format.
package pcm

import "math"

// Resample converts in from srcRate to dstRate using linear interpolation.
// The output has round(len(in)*dstRate/srcRate) samples; output sample i is
// the input interpolated at position i*srcRate/dstRate. When the rates match
// (or the input is empty) in is returned as is.
func Resample(in []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || srcRate <= 0 || dstRate <= 0 || len(in) == 0 {
		return in
	}

	n := int(math.Round(float64(len(in)) * float64(dstRate) / float64(srcRate)))
	out := make([]float32, n)
	step := float64(srcRate) / float64(dstRate)
	last := len(in) - 1

	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx > last {
			idx = last
		}
		next := idx + 1
		if next > last {
			next = last
		}
		frac := pos - float64(idx)
		a, b := float64(in[idx]), float64(in[next])
		out[i] = float32(a + (b-a)*frac)
	}
	return out
}

// OutputLength returns the number of samples Resample produces for n input samples.
func OutputLength(n, srcRate, dstRate int) int {
	if srcRate == dstRate || srcRate <= 0 || dstRate <= 0 {
		return n
	}
	return int(math.Round(float64(n) * float64(dstRate) / float64(srcRate)))
}
