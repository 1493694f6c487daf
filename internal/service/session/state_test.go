package session

import (
	"testing"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateConnecting, "connecting"},
		{StateListening, "listening"},
		{StateProcessing, "processing"},
		{StateSpeaking, "speaking"},
		{StateError, "error"},
		{State(42), "unknown(42)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %s, want %s", int(tt.state), got, tt.want)
		}
	}
}

func TestMachine_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		from    State
		event   Event
		want    State
		changed bool
	}{
		{"start", StateIdle, EventStart, StateConnecting, true},
		{"start while listening ignored", StateListening, EventStart, StateListening, false},
		{"connected", StateConnecting, EventConnected, StateIdle, true},
		{"connect failed", StateConnecting, EventFailed, StateError, true},
		{"failed outside connecting ignored", StateIdle, EventFailed, StateIdle, false},
		{"speech from idle", StateIdle, EventSpeechStarted, StateListening, true},
		{"speech from processing", StateProcessing, EventSpeechStarted, StateListening, true},
		{"barge-in while speaking", StateSpeaking, EventSpeechStarted, StateListening, true},
		{"speech while listening is a no-op", StateListening, EventSpeechStarted, StateListening, false},
		{"speech while connecting ignored", StateConnecting, EventSpeechStarted, StateConnecting, false},
		{"speech stopped", StateListening, EventSpeechStopped, StateProcessing, true},
		{"speech stopped from idle ignored", StateIdle, EventSpeechStopped, StateIdle, false},
		{"response from processing", StateProcessing, EventResponseStarted, StateSpeaking, true},
		{"response from idle", StateIdle, EventResponseStarted, StateSpeaking, true},
		{"response while listening ignored", StateListening, EventResponseStarted, StateListening, false},
		{"playback idle", StateSpeaking, EventPlaybackIdle, StateIdle, true},
		{"playback idle while listening ignored", StateListening, EventPlaybackIdle, StateListening, false},
		{"response done from speaking", StateSpeaking, EventResponseDone, StateIdle, true},
		{"response done from processing", StateProcessing, EventResponseDone, StateIdle, true},
		{"stop listening", StateListening, EventStopListening, StateIdle, true},
		{"stop listening while speaking ignored", StateSpeaking, EventStopListening, StateSpeaking, false},
		{"fatal from speaking", StateSpeaking, EventFatal, StateError, true},
		{"fatal from connecting", StateConnecting, EventFatal, StateError, true},
		{"disconnected from listening", StateListening, EventDisconnected, StateIdle, true},
		{"error is sticky on disconnect", StateError, EventDisconnected, StateError, false},
		{"error is sticky on speech", StateError, EventSpeechStarted, StateError, false},
		{"error is sticky on start", StateError, EventStart, StateError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Machine{state: tt.from}
			from, changed := m.Fire(tt.event)
			if from != tt.from {
				t.Errorf("expected from %s, got %s", tt.from, from)
			}
			if changed != tt.changed {
				t.Errorf("expected changed=%v, got %v", tt.changed, changed)
			}
			if m.State() != tt.want {
				t.Errorf("expected %s, got %s", tt.want, m.State())
			}
		})
	}
}

func TestMachine_FullTurn(t *testing.T) {
	m := NewMachine()
	events := []Event{EventStart, EventConnected, EventSpeechStarted, EventSpeechStopped, EventResponseStarted, EventPlaybackIdle}
	want := []State{StateConnecting, StateIdle, StateListening, StateProcessing, StateSpeaking, StateIdle}

	for i, ev := range events {
		m.Fire(ev)
		if m.State() != want[i] {
			t.Fatalf("after %s expected %s, got %s", ev, want[i], m.State())
		}
	}
}

func TestMachine_Reset(t *testing.T) {
	m := &Machine{state: StateError}

	from, changed := m.Reset()
	if from != StateError || !changed {
		t.Errorf("expected reset from error, got %s changed=%v", from, changed)
	}
	if m.State() != StateIdle {
		t.Errorf("expected idle after reset, got %s", m.State())
	}
	if _, changed := m.Reset(); changed {
		t.Error("expected reset from idle to report no change")
	}
}

func TestMachine_Can(t *testing.T) {
	m := NewMachine()
	if !m.Can(EventStart) {
		t.Error("expected start allowed from idle")
	}
	if m.Can(EventSpeechStopped) {
		t.Error("expected speech_stopped not allowed from idle")
	}
}

func TestState_TextRoundTrip(t *testing.T) {
	for st := StateIdle; st <= StateError; st++ {
		text, err := st.MarshalText()
		if err != nil {
			t.Fatalf("marshal %s: %v", st, err)
		}
		var got State
		if err := got.UnmarshalText(text); err != nil {
			t.Fatalf("unmarshal %q: %v", text, err)
		}
		if got != st {
			t.Errorf("expected %s, got %s", st, got)
		}
	}

	var s State
	if err := s.UnmarshalText([]byte("dancing")); err == nil {
		t.Error("expected error for unknown state")
	}
}
