// Package device provides the audio endpoints the session runs on: PortAudio
// microphone and speaker, WAV file capture and recording, and a silent input
// for headless runs.
package device

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// stream is the part of *portaudio.Stream the devices use.
type stream interface {
	Start() error
	Read() error
	Write() error
	Stop() error
	Close() error
}

var host struct {
	mu   sync.Mutex
	refs int
}

// acquireHost initializes PortAudio on first use. Every successful call must
// be paired with releaseHost.
func acquireHost() error {
	host.mu.Lock()
	defer host.mu.Unlock()
	if host.refs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("initialize portaudio: %w", err)
		}
	}
	host.refs++
	return nil
}

func releaseHost() {
	host.mu.Lock()
	defer host.mu.Unlock()
	if host.refs == 0 {
		return
	}
	host.refs--
	if host.refs == 0 {
		_ = portaudio.Terminate()
	}
}

// findDevice returns the device whose name contains name, or the default
// input or output device when name is empty.
func findDevice(name string, input bool) (*portaudio.DeviceInfo, error) {
	if name == "" {
		if input {
			return portaudio.DefaultInputDevice()
		}
		return portaudio.DefaultOutputDevice()
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if input && d.MaxInputChannels == 0 || !input && d.MaxOutputChannels == 0 {
			continue
		}
		if strings.Contains(strings.ToLower(d.Name), strings.ToLower(name)) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no audio device matching %q", name)
}

// isOverrun reports stream errors that lose samples but leave the stream usable.
func isOverrun(err error) bool {
	return errors.Is(err, portaudio.InputOverflowed) || errors.Is(err, portaudio.OutputUnderflowed)
}
