// Package session runs a voice session: it owns the agent connection, the
// capture pipeline, the playback scheduler and the transcript, and drives the
// session state machine from their events.
package session

import (
	"fmt"
)

// State is the session state shown to the user.
type State int

const (
	// StateIdle - connected and waiting, or no session at all.
	StateIdle State = iota
	// StateConnecting - acquiring audio, creating the session and dialing the agent.
	StateConnecting
	// StateListening - the agent detected user speech.
	StateListening
	// StateProcessing - the user stopped speaking, the agent is thinking.
	StateProcessing
	// StateSpeaking - the agent is responding.
	StateSpeaking
	// StateError - the session failed. Sticky until Reset.
	StateError
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateIdle; st <= StateError; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// Event drives the state machine.
type Event int

const (
	EventStart Event = iota
	EventConnected
	EventFailed
	EventSpeechStarted
	EventSpeechStopped
	EventResponseStarted
	EventPlaybackIdle
	EventResponseDone
	EventStopListening
	EventFatal
	EventDisconnected
)

func (e Event) String() string {
	switch e {
	case EventStart:
		return "start"
	case EventConnected:
		return "connected"
	case EventFailed:
		return "failed"
	case EventSpeechStarted:
		return "speech_started"
	case EventSpeechStopped:
		return "speech_stopped"
	case EventResponseStarted:
		return "response_started"
	case EventPlaybackIdle:
		return "playback_idle"
	case EventResponseDone:
		return "response_done"
	case EventStopListening:
		return "stop_listening"
	case EventFatal:
		return "fatal"
	case EventDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

var nonError = []State{StateIdle, StateConnecting, StateListening, StateProcessing, StateSpeaking}

// transitions maps an event to the states it applies in and their target.
var transitions = map[Event]map[State]State{
	EventStart:     {StateIdle: StateConnecting},
	EventConnected: {StateConnecting: StateIdle},
	EventFailed:    {StateConnecting: StateError},
	EventSpeechStarted: {
		StateIdle:       StateListening,
		StateListening:  StateListening,
		StateProcessing: StateListening,
		StateSpeaking:   StateListening,
	},
	EventSpeechStopped: {StateListening: StateProcessing},
	EventResponseStarted: {
		StateIdle:       StateSpeaking,
		StateProcessing: StateSpeaking,
		StateSpeaking:   StateSpeaking,
	},
	EventPlaybackIdle:  {StateSpeaking: StateIdle},
	EventResponseDone:  {StateProcessing: StateIdle, StateSpeaking: StateIdle},
	EventStopListening: {StateListening: StateIdle},
	EventFatal:         fromAll(nonError, StateError),
	EventDisconnected:  fromAll(nonError, StateIdle),
}

func fromAll(states []State, to State) map[State]State {
	m := make(map[State]State, len(states))
	for _, s := range states {
		m[s] = to
	}
	return m
}

// Machine is the session state machine. It is owned by the session loop and
// not safe for concurrent use.
//
// Transitions:
//
//	idle → connecting → idle ⇄ listening → processing → speaking → idle
//	                  ↘ error (connect failure, permission denied)
//	any non-error → error (fatal event or abnormal close)
//	any non-error → idle  (normal close, benign disconnect)
//
// Rules:
//   - error is sticky: only Reset leaves it
//   - an event with no entry for the current state is ignored
//   - a transition to the current state is a no-op
type Machine struct {
	state State
}

// NewMachine creates a machine in the idle state.
func NewMachine() *Machine {
	return &Machine{state: StateIdle}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Can reports whether ev applies in the current state.
func (m *Machine) Can(ev Event) bool {
	_, ok := transitions[ev][m.state]
	return ok
}

// Fire applies ev. It returns the previous state and whether the state
// changed. An ignored event or a self-transition reports false.
func (m *Machine) Fire(ev Event) (from State, changed bool) {
	from = m.state
	to, ok := transitions[ev][from]
	if !ok || to == from {
		return from, false
	}
	m.state = to
	return from, true
}

// Reset returns the machine to idle from any state.
func (m *Machine) Reset() (from State, changed bool) {
	from = m.state
	m.state = StateIdle
	return from, from != StateIdle
}
