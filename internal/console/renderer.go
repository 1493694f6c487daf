// Package console renders session views as a plain-text transcript on a
// terminal.
package console

import (
	"context"
	"fmt"
	"io"
	"strings"

	"voice-companion-client/internal/service/session"
	"voice-companion-client/internal/service/transcript"
)

// Renderer prints each transcript entry once, when it is sealed, plus state
// changes and errors.
type Renderer struct {
	w       io.Writer
	printed map[string]struct{}
	state   session.State
	err     string
	states  bool
}

// NewRenderer writes to w. With states set, state transitions are printed too.
func NewRenderer(w io.Writer, states bool) *Renderer {
	return &Renderer{
		w:       w,
		printed: make(map[string]struct{}),
		state:   session.StateIdle,
		states:  states,
	}
}

// Run renders views until ctx ends or views is closed.
func (r *Renderer) Run(ctx context.Context, views <-chan session.View) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-views:
			if !ok {
				return
			}
			r.Render(v)
		}
	}
}

// Render prints whatever v adds over the previously rendered view.
func (r *Renderer) Render(v session.View) {
	if r.states && v.State != r.state {
		fmt.Fprintf(r.w, "-- %s\n", v.State)
	}
	r.state = v.State

	if v.Error != "" && v.Error != r.err {
		fmt.Fprintf(r.w, "!! %s\n", v.Error)
	}
	r.err = v.Error

	for _, e := range v.Transcript {
		if !e.Sealed {
			continue
		}
		if _, ok := r.printed[e.ID]; ok {
			continue
		}
		r.printed[e.ID] = struct{}{}
		fmt.Fprintln(r.w, Line(e))
	}
}

// Line formats one transcript entry.
func Line(e transcript.Entry) string {
	who := "You"
	if e.Speaker == transcript.SpeakerAgent {
		who = "Agent"
	}
	text := strings.TrimSpace(e.Text)
	if e.Interrupted {
		text += " [interrupted]"
	}
	return fmt.Sprintf("%s: %s", who, text)
}
