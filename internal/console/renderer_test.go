package console

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"voice-companion-client/internal/service/session"
	"voice-companion-client/internal/service/transcript"
)

func entry(id, text string, speaker transcript.Speaker, sealed bool) transcript.Entry {
	return transcript.Entry{ID: id, Text: text, Speaker: speaker, Sealed: sealed}
}

func TestRender_PrintsSealedEntriesOnce(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, false)

	r.Render(session.View{Transcript: []transcript.Entry{
		entry("1", "hello", transcript.SpeakerUser, true),
		entry("2", "Hi th", transcript.SpeakerAgent, false),
	}})
	r.Render(session.View{Transcript: []transcript.Entry{
		entry("1", "hello", transcript.SpeakerUser, true),
		entry("2", "Hi there ", transcript.SpeakerAgent, true),
	}})

	assert.Equal(t, "You: hello\nAgent: Hi there\n", buf.String())
}

func TestRender_StatesAndErrors(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, true)

	r.Render(session.View{State: session.StateConnecting})
	r.Render(session.View{State: session.StateError, Error: "Connection lost"})
	r.Render(session.View{State: session.StateError, Error: "Connection lost"})
	r.Render(session.View{State: session.StateIdle})

	assert.Equal(t, "-- connecting\n-- error\n!! Connection lost\n-- idle\n", buf.String())
}

func TestLine_Interrupted(t *testing.T) {
	e := entry("1", "I was say", transcript.SpeakerAgent, true)
	e.Interrupted = true
	assert.Equal(t, "Agent: I was say [interrupted]", Line(e))
}

func TestRun_StopsWhenChannelCloses(t *testing.T) {
	var buf bytes.Buffer
	views := make(chan session.View, 1)
	views <- session.View{Transcript: []transcript.Entry{entry("1", "hey", transcript.SpeakerUser, true)}}
	close(views)

	done := make(chan struct{})
	go func() {
		NewRenderer(&buf, false).Run(context.Background(), views)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("renderer did not stop")
	}
	assert.Equal(t, "You: hey\n", buf.String())
}
