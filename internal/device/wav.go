package device

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"voice-companion-client/internal/apperr"
	"voice-companion-client/internal/service/analyser"
	"voice-companion-client/internal/service/capture"
	"voice-companion-client/internal/service/pcm"
	"voice-companion-client/internal/service/playback"
)

const formatPCM = 1

var (
	ErrNotWAV            = errors.New("not a RIFF/WAVE file")
	ErrUnsupportedFormat = errors.New("only 16-bit PCM WAV is supported")
)

// Clip is decoded mono audio.
type Clip struct {
	SampleRate int
	Samples    []float32
}

// Duration returns the clip length.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// ReadWAV decodes a 16-bit PCM WAV stream. Multi-channel audio is averaged
// to mono. Chunks other than "fmt " and "data" are skipped.
func ReadWAV(r io.Reader) (Clip, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return Clip{}, fmt.Errorf("read WAV header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Clip{}, ErrNotWAV
	}

	var (
		channels   int
		sampleRate int
		haveFormat bool
	)
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return Clip{}, fmt.Errorf("read WAV chunk: %w", err)
		}
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return Clip{}, fmt.Errorf("%w: short fmt chunk", ErrNotWAV)
			}
			body := make([]byte, size+size%2)
			if _, err := io.ReadFull(r, body); err != nil {
				return Clip{}, fmt.Errorf("read fmt chunk: %w", err)
			}
			audioFormat := binary.LittleEndian.Uint16(body[0:2])
			channels = int(binary.LittleEndian.Uint16(body[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			bitsPerSample := binary.LittleEndian.Uint16(body[14:16])
			if audioFormat != formatPCM || bitsPerSample != 16 || channels < 1 {
				return Clip{}, fmt.Errorf("%w (format=%d bits=%d channels=%d)",
					ErrUnsupportedFormat, audioFormat, bitsPerSample, channels)
			}
			haveFormat = true

		case "data":
			if !haveFormat {
				return Clip{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrNotWAV)
			}
			raw := make([]byte, size)
			n, err := io.ReadFull(r, raw)
			if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
				return Clip{}, fmt.Errorf("read data chunk: %w", err)
			}
			frameBytes := channels * pcm.BytesPerSample
			raw = raw[:n-n%frameBytes]
			return Clip{SampleRate: sampleRate, Samples: downmix(raw, channels)}, nil

		default:
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return Clip{}, fmt.Errorf("skip %q chunk: %w", id, err)
			}
		}
	}
}

func downmix(raw []byte, channels int) []float32 {
	frames := len(raw) / (channels * pcm.BytesPerSample)
	out := make([]float32, frames)
	for i := range out {
		var sum float32
		for c := 0; c < channels; c++ {
			off := (i*channels + c) * pcm.BytesPerSample
			sum += pcm.DecodeSample(int16(binary.LittleEndian.Uint16(raw[off:])))
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// WriteWAV encodes samples as a mono 16-bit PCM WAV stream.
func WriteWAV(w io.Writer, sampleRate int, samples []float32) error {
	data := pcm.EncodePCM16(samples)
	var hdr bytes.Buffer
	hdr.WriteString("RIFF")
	_ = binary.Write(&hdr, binary.LittleEndian, uint32(36+len(data)))
	hdr.WriteString("WAVEfmt ")
	_ = binary.Write(&hdr, binary.LittleEndian, uint32(16))
	_ = binary.Write(&hdr, binary.LittleEndian, uint16(formatPCM))
	_ = binary.Write(&hdr, binary.LittleEndian, uint16(1))
	_ = binary.Write(&hdr, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&hdr, binary.LittleEndian, uint32(sampleRate*pcm.BytesPerSample))
	_ = binary.Write(&hdr, binary.LittleEndian, uint16(pcm.BytesPerSample))
	_ = binary.Write(&hdr, binary.LittleEndian, uint16(16))
	hdr.WriteString("data")
	_ = binary.Write(&hdr, binary.LittleEndian, uint32(len(data)))

	if _, err := w.Write(hdr.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// FileSource plays a clip as a capture device. With Realtime set, each Read
// waits for the frame's duration so the agent receives audio at speaking
// pace. The source ends with io.EOF unless Loop is set.
type FileSource struct {
	clip     Clip
	realtime bool
	loop     bool

	mu     sync.Mutex
	pos    int
	closed chan struct{}
	once   sync.Once
}

// NewFileSource creates a capture device over clip.
func NewFileSource(clip Clip, realtime, loop bool) *FileSource {
	return &FileSource{clip: clip, realtime: realtime, loop: loop, closed: make(chan struct{})}
}

// OpenWAV returns an opener reading the WAV file at path.
func OpenWAV(path string, realtime, loop bool) capture.Opener {
	return func(ctx context.Context) (capture.Device, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindPermission, "Audio input file unavailable", err)
		}
		defer f.Close()

		clip, err := ReadWAV(f)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindPermission, "Audio input file unreadable", err)
		}
		return NewFileSource(clip, realtime, loop), nil
	}
}

func (s *FileSource) SampleRate() int {
	return s.clip.SampleRate
}

func (s *FileSource) Read(ctx context.Context, buf []float32) (int, error) {
	select {
	case <-s.closed:
		return 0, capture.ErrDeviceClosed
	default:
	}

	s.mu.Lock()
	if s.pos >= len(s.clip.Samples) {
		if !s.loop || len(s.clip.Samples) == 0 {
			s.mu.Unlock()
			return 0, io.EOF
		}
		s.pos = 0
	}
	n := copy(buf, s.clip.Samples[s.pos:])
	s.pos += n
	s.mu.Unlock()

	if s.realtime {
		d := time.Duration(n) * time.Second / time.Duration(s.clip.SampleRate)
		if err := wait(ctx, s.closed, d); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func (s *FileSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// Recorder is a playback output that keeps everything it renders and writes
// it to a WAV file on Close.
type Recorder struct {
	path       string
	sampleRate int
	analyser   *analyser.Analyser

	mu      sync.Mutex
	samples []float32
	closed  bool
}

// OpenRecorder returns an output opener recording to path.
func OpenRecorder(path string, sampleRate int) func(ctx context.Context, a *analyser.Analyser) (playback.Output, error) {
	return func(_ context.Context, a *analyser.Analyser) (playback.Output, error) {
		return NewRecorder(path, sampleRate, a), nil
	}
}

// NewRecorder creates a recorder. An empty path keeps audio in memory only.
func NewRecorder(path string, sampleRate int, a *analyser.Analyser) *Recorder {
	return &Recorder{path: path, sampleRate: sampleRate, analyser: a}
}

func (r *Recorder) Play(samples []float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return playback.ErrOutputClosed
	}
	r.samples = append(r.samples, samples...)
	if r.analyser != nil {
		r.analyser.Write(samples)
	}
	return nil
}

// Stop is a no-op: buffers are recorded whole when they start.
func (r *Recorder) Stop() {}

// Samples returns a copy of the recorded audio.
func (r *Recorder) Samples() []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float32(nil), r.samples...)
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.path == "" {
		return nil
	}

	f, err := os.Create(r.path)
	if err != nil {
		return fmt.Errorf("create recording: %w", err)
	}
	if err := WriteWAV(f, r.sampleRate, r.samples); err != nil {
		_ = f.Close()
		return fmt.Errorf("write recording: %w", err)
	}
	return f.Close()
}

// wait sleeps for d unless ctx ends or closed is closed first.
func wait(ctx context.Context, closed <-chan struct{}, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-closed:
		return capture.ErrDeviceClosed
	case <-t.C:
		return nil
	}
}
