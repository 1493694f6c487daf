package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrOddLength is returned when a PCM16 payload has a trailing half sample.
var ErrOddLength = errors.New("pcm16 payload has odd byte length")

// BytesPerSample is the size of one PCM16 sample.
const BytesPerSample = 2

// EncodeSample converts a float sample in [-1,1] to PCM16. Input is clamped;
// -1 maps to -32768 and 1 maps to 32767. Positive values are scaled by 32768,
// not 32767, and rounded onto the same 1/32768 grid DecodeSample uses, so a
// round trip stays within one step (0.5 encodes as 16384). Scaling by 32767
// would drift up to almost two steps near full scale.
func EncodeSample(s float32) int16 {
	x := float64(s)
	if math.IsNaN(x) {
		return 0
	}
	if x > 1 {
		x = 1
	} else if x < -1 {
		x = -1
	}
	v := math.Round(x * 32768)
	if v > math.MaxInt16 {
		v = math.MaxInt16
	}
	return int16(v)
}

// DecodeSample converts a PCM16 sample to a float in [-1,1).
func DecodeSample(v int16) float32 {
	return float32(v) / 32768
}

// EncodePCM16 converts samples to little-endian PCM16 bytes.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(EncodeSample(s)))
	}
	return out
}

// DecodePCM16 converts little-endian PCM16 bytes to float samples.
func DecodePCM16(b []byte) ([]float32, error) {
	if len(b)%BytesPerSample != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddLength, len(b))
	}
	out := make([]float32, len(b)/BytesPerSample)
	for i := range out {
		out[i] = DecodeSample(int16(binary.LittleEndian.Uint16(b[i*BytesPerSample:])))
	}
	return out, nil
}

// EncodeBase64 encodes samples as base64-wrapped PCM16 for the wire.
func EncodeBase64(samples []float32) string {
	return base64.StdEncoding.EncodeToString(EncodePCM16(samples))
}

// DecodeBase64 decodes a base64-wrapped PCM16 payload.
func DecodeBase64(data string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode base64 audio: %w", err)
	}
	return DecodePCM16(raw)
}
