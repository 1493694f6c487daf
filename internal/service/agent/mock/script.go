// Package mock provides a scripted voice agent for running without the real
// service. It simulates a realistic turn: voice activity events, the user's
// final transcript, a streamed agent reply with synthesized audio and the
// response boundaries.
package mock

import (
	"math"

	"voice-companion-client/internal/models"
	"voice-companion-client/internal/service/pcm"
)

// Turn is one scripted exchange.
type Turn struct {
	UserText    string
	AgentDeltas []string
	ToneHz      float64
	// AudioChunks is the number of audio messages sent with the reply.
	AudioChunks  int
	ChunkSamples int
}

// DefaultTurns provides sample exchanges, cycled per connection.
var DefaultTurns = []Turn{
	{
		UserText:     "Hey, are you there?",
		AgentDeltas:  []string{"Hi! I'm ", "Grok", ", your companion. ", "How can I help?"},
		ToneHz:       440,
		AudioChunks:  6,
		ChunkSamples: 2400,
	},
	{
		UserText:     "Tell me something fun",
		AgentDeltas:  []string{"Did you know ", "octopuses have ", "three hearts?"},
		ToneHz:       523.25,
		AudioChunks:  8,
		ChunkSamples: 2400,
	},
	{
		UserText:     "Who built you?",
		AgentDeltas:  []string{"I was built ", "by x", "AI."},
		ToneHz:       392,
		AudioChunks:  4,
		ChunkSamples: 4800,
	},
}

// Messages returns the inbound messages of the turn in delivery order. Audio
// chunks are interleaved with the transcript deltas.
func (t Turn) Messages() []models.Inbound {
	msgs := []models.Inbound{
		{Type: models.TypeSpeechStarted},
		{Type: models.TypeSpeechStopped},
		{Type: models.TypeUserTranscript, Text: t.UserText},
		{Type: models.TypeResponseCreated},
	}

	chunks := t.audio()
	n := len(t.AgentDeltas)
	if len(chunks) > n {
		n = len(chunks)
	}
	for i := 0; i < n; i++ {
		if i < len(t.AgentDeltas) {
			msgs = append(msgs, models.Inbound{Type: models.TypeTranscript, Text: t.AgentDeltas[i]})
		}
		if i < len(chunks) {
			msgs = append(msgs, models.Inbound{Type: models.TypeAudio, Data: chunks[i]})
		}
	}

	return append(msgs,
		models.Inbound{Type: models.TypeTranscriptDone},
		models.Inbound{Type: models.TypeResponseDone},
	)
}

// audio renders the reply tone as base64 PCM16 chunks with continuous phase.
func (t Turn) audio() []string {
	if t.AudioChunks <= 0 || t.ChunkSamples <= 0 {
		return nil
	}
	out := make([]string, 0, t.AudioChunks)
	step := 2 * math.Pi * t.ToneHz / models.TargetSampleRate
	pos := 0
	for c := 0; c < t.AudioChunks; c++ {
		samples := make([]float32, t.ChunkSamples)
		for i := range samples {
			samples[i] = float32(0.2 * math.Sin(step*float64(pos)))
			pos++
		}
		out = append(out, pcm.EncodeBase64(samples))
	}
	return out
}
