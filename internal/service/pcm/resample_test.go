package pcm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestResample_SameRateReturnsInput(t *testing.T) {
	in := []float32{0.1, -0.2, 0.3, -0.4}

	out := Resample(in, 24000, 24000)

	require.Len(t, out, len(in))
	assert.Equal(t, in, out)
	assert.Same(t, &in[0], &out[0], "expected no copy when rates match")
}

func TestResample_Lengths(t *testing.T) {
	tests := []struct {
		name     string
		n        int
		src, dst int
		expected int
	}{
		{"48k frame to 24k", 4096, 48000, 24000, 2048},
		{"44.1k frame to 24k", 4096, 44100, 24000, 2229},
		{"16k upsample rounds half up", 3, 16000, 24000, 5},
		{"single sample downsample", 1, 48000, 24000, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := make([]float32, tt.n)
			out := Resample(in, tt.src, tt.dst)
			if len(out) != tt.expected {
				t.Errorf("expected %d samples, got %d", tt.expected, len(out))
			}
			if OutputLength(tt.n, tt.src, tt.dst) != tt.expected {
				t.Errorf("OutputLength disagrees: %d", OutputLength(tt.n, tt.src, tt.dst))
			}
		})
	}
}

func TestResample_LinearInterpolation(t *testing.T) {
	out := Resample([]float32{0, 1}, 1, 2)
	assert.Equal(t, []float32{0, 0.5, 1, 1}, out, "last positions clamp to the final input sample")

	out = Resample([]float32{0, 1, 2, 3}, 2, 1)
	assert.Equal(t, []float32{0, 2}, out)
}

func TestResample_EmptyAndInvalidRates(t *testing.T) {
	assert.Empty(t, Resample(nil, 48000, 24000))

	in := []float32{1, 2}
	assert.Equal(t, in, Resample(in, 0, 24000))
	assert.Equal(t, in, Resample(in, 48000, -1))
}

func TestResample_Property_LengthAndBounds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 2048).Draw(rt, "n")
		src := rapid.SampledFrom([]int{8000, 16000, 22050, 24000, 44100, 48000}).Draw(rt, "src")
		dst := rapid.SampledFrom([]int{16000, 24000, 48000}).Draw(rt, "dst")

		in := make([]float32, n)
		lo, hi := float32(math.Inf(1)), float32(math.Inf(-1))
		for i := range in {
			in[i] = float32(rapid.Float64Range(-1, 1).Draw(rt, "sample"))
			lo = min(lo, in[i])
			hi = max(hi, in[i])
		}

		out := Resample(in, src, dst)

		expected := int(math.Round(float64(n) * float64(dst) / float64(src)))
		if src == dst {
			expected = n
		}
		require.Len(rt, out, expected)
		for _, s := range out {
			assert.GreaterOrEqual(rt, s, lo-1e-6)
			assert.LessOrEqual(rt, s, hi+1e-6)
		}
	})
}
