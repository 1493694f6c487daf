// Package transcript assembles incremental transcript deltas into an ordered
// list of user and agent utterances.
package transcript

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"voice-companion-client/internal/observability/metrics"
)

// Speaker attributes an entry to the user or the agent.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// Entry is one utterance. Sealed entries are never mutated.
type Entry struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	Speaker     Speaker   `json:"speaker"`
	CreatedAt   time.Time `json:"createdAt"`
	Sealed      bool      `json:"sealed"`
	Interrupted bool      `json:"interrupted,omitempty"`
}

// Accumulator holds entries in arrival order with at most one open
// (still accumulating) entry, which is always the last one. Not safe for
// concurrent use; the session loop owns it.
type Accumulator struct {
	entries    []Entry
	open       bool
	raw        strings.Builder
	normalizer *Normalizer
	now        func() time.Time
	metrics    *metrics.Metrics
}

// New creates an accumulator applying normalizer to agent text. A nil
// normalizer leaves text untouched.
func New(normalizer *Normalizer) *Accumulator {
	return &Accumulator{
		normalizer: normalizer,
		now:        time.Now,
		metrics:    metrics.DefaultMetrics,
	}
}

// AppendDelta appends text to the open entry of speaker, creating one if
// needed. A delta from the other speaker seals the open entry first.
func (a *Accumulator) AppendDelta(text string, speaker Speaker) {
	if text == "" {
		return
	}
	if a.open && a.last().Speaker != speaker {
		a.seal(false)
	}
	if !a.open {
		a.entries = append(a.entries, Entry{
			ID:        uuid.NewString(),
			Speaker:   speaker,
			CreatedAt: a.now(),
		})
		a.open = true
		a.raw.Reset()
	}

	a.raw.WriteString(text)
	last := a.last()
	if speaker == SpeakerAgent {
		// normalize the whole text so tokens split across deltas still match
		last.Text = a.normalizer.Apply(a.raw.String())
		a.metrics.RecordTranscriptDelta()
	} else {
		last.Text = a.raw.String()
	}
}

// SealOpenAgentEntry seals the open agent entry. Returns false if there is none.
func (a *Accumulator) SealOpenAgentEntry() bool {
	if !a.open || a.last().Speaker != SpeakerAgent {
		return false
	}
	a.seal(false)
	return true
}

// InterruptOpenAgentEntry ends the open agent entry because a new response or
// the user cut it off. Blank entries are dropped; anything else is sealed and
// marked interrupted.
func (a *Accumulator) InterruptOpenAgentEntry() {
	if !a.open || a.last().Speaker != SpeakerAgent {
		return
	}
	if strings.TrimSpace(a.last().Text) == "" {
		a.entries = a.entries[:len(a.entries)-1]
		a.open = false
		a.raw.Reset()
		a.metrics.RecordTranscriptEntry(string(SpeakerAgent), "dropped")
		return
	}
	a.seal(true)
}

// ReplaceWithUserFinal records the final text of a user utterance. Any open
// agent entry is interrupted; an open user entry built from deltas is
// replaced by the final text, otherwise a new sealed user entry is appended.
func (a *Accumulator) ReplaceWithUserFinal(text string) {
	a.InterruptOpenAgentEntry()

	if a.open && a.last().Speaker == SpeakerUser {
		a.last().Text = text
		a.seal(false)
		return
	}

	a.entries = append(a.entries, Entry{
		ID:        uuid.NewString(),
		Text:      text,
		Speaker:   SpeakerUser,
		CreatedAt: a.now(),
		Sealed:    true,
	})
	a.metrics.RecordTranscriptEntry(string(SpeakerUser), "completed")
}

// Entries returns a copy of all entries in arrival order.
func (a *Accumulator) Entries() []Entry {
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Len returns the number of entries.
func (a *Accumulator) Len() int {
	return len(a.entries)
}

// OpenEntry returns the open entry, if any.
func (a *Accumulator) OpenEntry() (Entry, bool) {
	if !a.open {
		return Entry{}, false
	}
	return *a.last(), true
}

// Reset discards every entry.
func (a *Accumulator) Reset() {
	a.entries = nil
	a.open = false
	a.raw.Reset()
}

func (a *Accumulator) last() *Entry {
	return &a.entries[len(a.entries)-1]
}

func (a *Accumulator) seal(interrupted bool) {
	last := a.last()
	last.Sealed = true
	last.Interrupted = interrupted
	a.open = false
	a.raw.Reset()

	outcome := "completed"
	if interrupted {
		outcome = "interrupted"
	}
	a.metrics.RecordTranscriptEntry(string(last.Speaker), outcome)
}
