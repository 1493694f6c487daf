package device

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-companion-client/internal/service/analyser"
	"voice-companion-client/internal/service/capture"
	"voice-companion-client/internal/service/playback"
)

// fakeStream fills the shared buffer from frames on Read and records the
// buffer on Write.
type fakeStream struct {
	mu      sync.Mutex
	buf     []float32
	frames  [][]float32
	readErr error
	written [][]float32
	stopped bool
	closed  bool
	wrote   chan struct{}
}

func newFakeStream(buf []float32) *fakeStream {
	return &fakeStream{buf: buf, wrote: make(chan struct{}, 1024)}
}

func (s *fakeStream) Start() error { return nil }

func (s *fakeStream) Read() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		err := s.readErr
		s.readErr = nil
		return err
	}
	if len(s.frames) > 0 {
		copy(s.buf, s.frames[0])
		s.frames = s.frames[1:]
	}
	return nil
}

func (s *fakeStream) Write() error {
	time.Sleep(time.Millisecond)
	s.mu.Lock()
	s.written = append(s.written, append([]float32(nil), s.buf...))
	s.mu.Unlock()
	select {
	case s.wrote <- struct{}{}:
	default:
	}
	return nil
}

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) nonSilent() []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []float32
	for _, b := range s.written {
		for _, v := range b {
			if v != 0 {
				out = append(out, v)
			}
		}
	}
	return out
}

func TestMic_ReadCopiesStreamBuffer(t *testing.T) {
	buf := make([]float32, 4)
	fs := newFakeStream(buf)
	fs.frames = [][]float32{{0.1, 0.2, 0.3, 0.4}}
	released := 0
	mic := newMic(fs, buf, 48000, func() { released++ })

	out := make([]float32, 8)
	n, err := mic.Read(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 0.4}, out[:n])
	assert.Equal(t, 48000, mic.SampleRate())

	require.NoError(t, mic.Close())
	require.NoError(t, mic.Close())
	assert.True(t, fs.stopped)
	assert.True(t, fs.closed)
	assert.Equal(t, 1, released)

	_, err = mic.Read(context.Background(), out)
	assert.ErrorIs(t, err, capture.ErrDeviceClosed)
}

func TestMic_OverflowIsNotFatal(t *testing.T) {
	buf := make([]float32, 2)
	fs := newFakeStream(buf)
	fs.readErr = portaudio.InputOverflowed
	mic := newMic(fs, buf, 48000, nil)

	n, err := mic.Read(context.Background(), make([]float32, 2))
	assert.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMic_StreamFailure(t *testing.T) {
	buf := make([]float32, 2)
	fs := newFakeStream(buf)
	fs.readErr = errors.New("device unplugged")
	mic := newMic(fs, buf, 48000, nil)

	_, err := mic.Read(context.Background(), make([]float32, 2))
	assert.Error(t, err)
}

func TestSpeaker_PlaysQueuedAudioAndFeedsAnalyser(t *testing.T) {
	buf := make([]float32, 1024)
	fs := newFakeStream(buf)
	a := analyser.New()
	sp := newSpeaker(fs, buf, a, nil)

	audio := make([]float32, 2500)
	for i := range audio {
		audio[i] = 0.5
	}
	require.NoError(t, sp.Play(audio))

	require.Eventually(t, func() bool { return len(fs.nonSilent()) == len(audio) }, 2*time.Second, time.Millisecond)
	assert.Zero(t, sp.Pending())
	assert.Greater(t, a.Level(), 0.0)

	require.NoError(t, sp.Close())
	assert.True(t, fs.closed)
	assert.ErrorIs(t, sp.Play([]float32{0.1}), playback.ErrOutputClosed)
	require.NoError(t, sp.Close())
}

func TestSpeaker_StopDropsQueue(t *testing.T) {
	buf := make([]float32, 4)
	fs := newFakeStream(buf)
	sp := newSpeaker(fs, buf, nil, nil)
	defer sp.Close()

	sp.mu.Lock()
	sp.queue = make([]float32, 1<<20)
	sp.mu.Unlock()

	sp.Stop()
	assert.Zero(t, sp.Pending())
}

func TestWAV_RoundTrip(t *testing.T) {
	in := []float32{0, 0.25, -0.5, 0.75}
	var b bytes.Buffer
	require.NoError(t, WriteWAV(&b, 24000, in))
	assert.Equal(t, 44+8, b.Len())

	clip, err := ReadWAV(&b)
	require.NoError(t, err)
	assert.Equal(t, 24000, clip.SampleRate)
	require.Len(t, clip.Samples, len(in))
	for i := range in {
		assert.InDelta(t, in[i], clip.Samples[i], 1.0/32768)
	}
	assert.Equal(t, time.Duration(len(in))*time.Second/24000, clip.Duration())
}

// stereoWAV builds a 16-bit stereo file with an extra LIST chunk before data.
func stereoWAV(frames [][2]int16) []byte {
	var data bytes.Buffer
	for _, f := range frames {
		_ = binary.Write(&data, binary.LittleEndian, f[0])
		_ = binary.Write(&data, binary.LittleEndian, f[1])
	}
	var b bytes.Buffer
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, uint32(4+24+12+8+data.Len()))
	b.WriteString("WAVEfmt ")
	_ = binary.Write(&b, binary.LittleEndian, uint32(16))
	_ = binary.Write(&b, binary.LittleEndian, uint16(1))
	_ = binary.Write(&b, binary.LittleEndian, uint16(2))
	_ = binary.Write(&b, binary.LittleEndian, uint32(8000))
	_ = binary.Write(&b, binary.LittleEndian, uint32(8000*4))
	_ = binary.Write(&b, binary.LittleEndian, uint16(4))
	_ = binary.Write(&b, binary.LittleEndian, uint16(16))
	b.WriteString("LIST")
	_ = binary.Write(&b, binary.LittleEndian, uint32(3))
	b.WriteString("abc\x00")
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, uint32(data.Len()))
	b.Write(data.Bytes())
	return b.Bytes()
}

func TestWAV_StereoIsDownmixed(t *testing.T) {
	clip, err := ReadWAV(bytes.NewReader(stereoWAV([][2]int16{{16384, 0}, {-16384, -16384}})))
	require.NoError(t, err)

	assert.Equal(t, 8000, clip.SampleRate)
	assert.Equal(t, []float32{0.25, -0.5}, clip.Samples)
}

func TestWAV_Rejects(t *testing.T) {
	_, err := ReadWAV(bytes.NewReader([]byte("RIFF\x00\x00\x00\x00AVI LIST")))
	assert.ErrorIs(t, err, ErrNotWAV)

	var b bytes.Buffer
	require.NoError(t, WriteWAV(&b, 8000, []float32{0}))
	raw := b.Bytes()
	binary.LittleEndian.PutUint16(raw[34:36], 8)
	_, err = ReadWAV(bytes.NewReader(raw))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestFileSource(t *testing.T) {
	src := NewFileSource(Clip{SampleRate: 8000, Samples: []float32{1, 2, 3, 4, 5}}, false, false)
	buf := make([]float32, 2)

	var got []float32
	for {
		n, err := src.Read(context.Background(), buf)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, []float32{1, 2, 3, 4, 5}, got)

	require.NoError(t, src.Close())
	_, err := src.Read(context.Background(), buf)
	assert.ErrorIs(t, err, capture.ErrDeviceClosed)
}

func TestFileSource_Loop(t *testing.T) {
	src := NewFileSource(Clip{SampleRate: 8000, Samples: []float32{1, 2}}, false, true)
	buf := make([]float32, 2)
	for i := 0; i < 3; i++ {
		n, err := src.Read(context.Background(), buf)
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 2}, buf[:n])
	}
}

func TestFileSource_FeedsCapturePipeline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, WriteWAV(f, 24000, make([]float32, 4096*3)))
	require.NoError(t, f.Close())

	dev, err := OpenWAV(path, false, false)(context.Background())
	require.NoError(t, err)

	p := capture.New(capture.Config{FrameSize: 4096}, dev, nil)
	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, uint64(3), p.Frames())
}

func TestOpenWAV_MissingFile(t *testing.T) {
	_, err := OpenWAV(filepath.Join(t.TempDir(), "nope.wav"), false, false)(context.Background())
	assert.Error(t, err)
}

func TestRecorder_WritesFileOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	r := NewRecorder(path, 24000, nil)

	require.NoError(t, r.Play([]float32{0.5, -0.5}))
	require.NoError(t, r.Play([]float32{0.25}))
	r.Stop()
	require.NoError(t, r.Close())
	assert.ErrorIs(t, r.Play([]float32{1}), playback.ErrOutputClosed)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	clip, err := ReadWAV(f)
	require.NoError(t, err)
	assert.Len(t, clip.Samples, 3)
}

func TestSilence(t *testing.T) {
	s := NewSilence(8000)
	buf := []float32{1, 1, 1, 1, 1, 1, 1, 1}

	n, err := s.Read(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, make([]float32, 8), buf)

	require.NoError(t, s.Close())
	_, err = s.Read(context.Background(), buf)
	assert.ErrorIs(t, err, capture.ErrDeviceClosed)
}

func TestSilence_ContextCancel(t *testing.T) {
	s := NewSilence(8000)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Read(ctx, make([]float32, 8000))
	assert.ErrorIs(t, err, context.Canceled)
}
