// Package analyser derives the audio level and frequency-bin snapshot shown
// while capturing or playing audio.
package analyser

import (
	"math"
	"sync"
)

const (
	DefaultFFTSize   = 256
	DefaultSmoothing = 0.8
	DefaultMinDB     = -100.0
	DefaultMaxDB     = -30.0
)

// Analyser keeps the most recent FFTSize samples written to it and computes a
// smoothed byte-scaled magnitude spectrum from them. Safe for concurrent use.
type Analyser struct {
	mu        sync.Mutex
	fftSize   int
	window    []float64
	cos, sin  []float64
	ring      []float32
	pos       int
	filled    bool
	smoothed  []float64
	smoothing float64
	minDB     float64
	maxDB     float64
}

// New creates an analyser with the default 256-point window.
func New() *Analyser {
	return NewWithSize(DefaultFFTSize)
}

// NewWithSize creates an analyser with an fftSize-point window (power of two not required).
func NewWithSize(fftSize int) *Analyser {
	if fftSize < 2 {
		fftSize = DefaultFFTSize
	}
	a := &Analyser{
		fftSize:   fftSize,
		window:    make([]float64, fftSize),
		cos:       make([]float64, fftSize),
		sin:       make([]float64, fftSize),
		ring:      make([]float32, fftSize),
		smoothed:  make([]float64, fftSize/2),
		smoothing: DefaultSmoothing,
		minDB:     DefaultMinDB,
		maxDB:     DefaultMaxDB,
	}
	n := float64(fftSize)
	for i := 0; i < fftSize; i++ {
		x := 2 * math.Pi * float64(i) / n
		// Blackman window
		a.window[i] = 0.42 - 0.5*math.Cos(x) + 0.08*math.Cos(2*x)
		a.cos[i] = math.Cos(x)
		a.sin[i] = math.Sin(x)
	}
	return a
}

// BinCount returns the number of frequency bins (fftSize/2).
func (a *Analyser) BinCount() int {
	return a.fftSize / 2
}

// Write appends samples to the analysis window.
func (a *Analyser) Write(samples []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(samples) >= a.fftSize {
		copy(a.ring, samples[len(samples)-a.fftSize:])
		a.pos = 0
		a.filled = true
		return
	}
	for _, s := range samples {
		a.ring[a.pos] = s
		a.pos++
		if a.pos == a.fftSize {
			a.pos = 0
			a.filled = true
		}
	}
}

// ByteFrequencyData returns the current spectrum, one byte per bin, scaled
// from [minDB, maxDB] onto [0, 255]. Each call advances the smoothing.
func (a *Analyser) ByteFrequencyData() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frequencyLocked()
}

// Level returns the mean of the byte spectrum normalized to 0..1.
func (a *Analyser) Level() float64 {
	level, _ := a.Snapshot()
	return level
}

// Snapshot returns the level and spectrum computed from the same window.
func (a *Analyser) Snapshot() (float64, []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	bins := a.frequencyLocked()
	if len(bins) == 0 {
		return 0, bins
	}
	var sum int
	for _, b := range bins {
		sum += int(b)
	}
	return float64(sum) / float64(len(bins)) / 255, bins
}

// Reset clears the window and the smoothing history.
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.ring {
		a.ring[i] = 0
	}
	for i := range a.smoothed {
		a.smoothed[i] = 0
	}
	a.pos = 0
	a.filled = false
}

func (a *Analyser) frequencyLocked() []byte {
	n := a.fftSize
	frame := make([]float64, n)
	for i := 0; i < n; i++ {
		// oldest sample first
		frame[i] = float64(a.ring[(a.pos+i)%n]) * a.window[i]
	}

	out := make([]byte, len(a.smoothed))
	scale := 255 / (a.maxDB - a.minDB)
	for k := range a.smoothed {
		var re, im float64
		for i := 0; i < n; i++ {
			idx := (k * i) % n
			re += frame[i] * a.cos[idx]
			im -= frame[i] * a.sin[idx]
		}
		mag := math.Hypot(re, im) / float64(n)
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag

		db := 20 * math.Log10(a.smoothed[k])
		v := math.Floor(scale * (db - a.minDB))
		switch {
		case math.IsNaN(v) || v < 0:
			out[k] = 0
		case v > 255:
			out[k] = 255
		default:
			out[k] = byte(v)
		}
	}
	return out
}
