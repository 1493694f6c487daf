// Package models defines the wire messages exchanged with the voice agent
// and the events published about voice sessions.
package models

import "encoding/json"

// TargetSampleRate is the fixed sample rate of audio on the wire (PCM16 mono).
const TargetSampleRate = 24000

// Inbound message types sent by the agent.
const (
	TypeAudio           = "audio"
	TypeTranscript      = "transcript"
	TypeTranscriptDone  = "transcript_done"
	TypeUserTranscript  = "user_transcript"
	TypeSpeechStarted   = "speech_started"
	TypeSpeechStopped   = "speech_stopped"
	TypeResponseCreated = "response_created"
	TypeResponseDone    = "response_done"
	TypeError           = "error"
)

// InboundTypes lists every message type the client understands.
var InboundTypes = []string{
	TypeAudio, TypeTranscript, TypeTranscriptDone, TypeUserTranscript,
	TypeSpeechStarted, TypeSpeechStopped, TypeResponseCreated, TypeResponseDone, TypeError,
}

// Inbound is a message received from the agent. Only the fields relevant to
// Type are populated.
type Inbound struct {
	Type    string `json:"type"`
	Data    string `json:"data,omitempty"`    // audio: base64 PCM16 LE
	Text    string `json:"text,omitempty"`    // transcript, user_transcript
	Message string `json:"message,omitempty"` // error
}

// OutboundAudio is a captured audio frame sent to the agent.
type OutboundAudio struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// NewOutboundAudio wraps base64 PCM16 data in an audio message.
func NewOutboundAudio(data string) OutboundAudio {
	return OutboundAudio{Type: TypeAudio, Data: data}
}

// DecodeInbound parses a raw agent message.
func DecodeInbound(raw []byte) (Inbound, error) {
	var msg Inbound
	err := json.Unmarshal(raw, &msg)
	return msg, err
}
