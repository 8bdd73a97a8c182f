package notify

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/logrusorgru/aurora"
)

// TerminalSink prints coloured notifications and shows a spinner while a
// transaction waits to be mined.
type TerminalSink struct {
	out         io.Writer
	au          aurora.Aurora
	interactive bool

	mu   sync.Mutex
	spin *spinner.Spinner
}

// NewWriterSink uses colours and a spinner only when interactive is set.
func NewWriterSink(out io.Writer, interactive bool) *TerminalSink {
	return &TerminalSink{
		out:         out,
		au:          aurora.NewAurora(interactive),
		interactive: interactive,
	}
}

func (t *TerminalSink) Notify(_ context.Context, e Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopSpinner()

	if e.Kind == AwaitingConfirmation && t.interactive {
		s := spinner.New(spinner.CharSets[14], 80*time.Millisecond, spinner.WithWriter(t.out))
		s.Suffix = " " + e.Message
		s.Start()
		t.spin = s
		return
	}

	line := e.Message
	if e.Title != "" {
		line = t.au.Bold(e.Title).String() + ": " + line
	}
	switch e.Level() {
	case LevelSuccess:
		line = t.au.Green(line).String()
	case LevelWarning:
		line = t.au.Yellow(line).String()
	case LevelError:
		line = t.au.Red(line).String()
	default:
		line = t.au.Faint(line).String()
	}
	fmt.Fprintln(t.out, line)
	if e.Link != "" {
		fmt.Fprintf(t.out, "  %s\n", t.au.Cyan(e.Link).String())
	}
	if e.Err != nil && e.Level() == LevelError {
		fmt.Fprintf(t.out, "  %s\n", t.au.Faint(e.Err.Error()).String())
	}
}

// Close stops a running spinner.
func (t *TerminalSink) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopSpinner()
}

func (t *TerminalSink) stopSpinner() {
	if t.spin == nil {
		return
	}
	t.spin.Stop()
	// spinner clears the line with \r and leaves the cursor on it.
	fmt.Fprintln(t.out)
	t.spin = nil
}
