// Package console prints the human readable side of a capture: session
// announcements, timestamp markers and the mirrored payload.
package console

import (
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/term"

	"captestlog/internal/framer"
)

const (
	highlightOn  = "\x1b[1;31m"
	highlightOff = "\x1b[0m"
)

// Console writes diagnostics to an io.Writer. Write errors are ignored;
// diagnostics never stop a capture.
type Console struct {
	w         io.Writer
	highlight bool
}

var _ framer.Reporter = &Console{}

// New returns a Console on w. Error markers are highlighted when w is a
// terminal.
func New(w io.Writer) *Console {
	c := &Console{w: w}
	if f, ok := w.(*os.File); ok {
		c.highlight = term.IsTerminal(int(f.Fd()))
	}
	return c
}

// Banner prints the startup hints.
func (c *Console) Banner(source string) {
	c.printf("Serial-logging system starting on %s. Wave your hand over the sensor to start. You may need to press the reset/reboot button first.\n", source)
	c.printf("To close/save the current file and restart testing, press the reset/reboot button\n")
}

// SessionStarted announces the new log file.
func (c *Console) SessionStarted(name string, at time.Time) {
	c.printf("\nCreating and opening log file: %s\n", name)
	c.printf("System starting. \n")
}

// SessionEnded announces the saved log file and the time.
func (c *Console) SessionEnded(name string, at time.Time) {
	c.printf("System restart. Log file %s saved and closed. Wave your hand over the sensor to start another file log \n", name)
	c.printf("The time is: %s", framer.Timestamp(at))
}

// Marker prints the current time, highlighted for error markers.
func (c *Console) Marker(kind framer.MarkerKind, at time.Time) {
	ts := framer.Timestamp(at)
	switch kind {
	case framer.MarkerError:
		if c.highlight {
			c.printf("\n%sThe time is: %s\n", highlightOn, highlightOff)
			c.printf("%s%s%s", highlightOn, ts, highlightOff)
			return
		}
		c.printf("\nThe time is: \n%s", ts)
	default:
		c.printf("\nTIME: %s", ts)
	}
}

// Data echoes a payload byte unchanged.
func (c *Console) Data(b byte) {
	_, _ = c.w.Write([]byte{b})
}

func (c *Console) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.w, format, args...)
}
