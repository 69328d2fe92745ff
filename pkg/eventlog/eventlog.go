// Package eventlog records session and marker events. See doc.go for the
// format.
package eventlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"captestlog/internal/framer"
)

const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// maxContentLength bounds a record's content. Events carry file names only.
const maxContentLength = 1 << 20

// Streams written to the journal.
const (
	StreamSessionStart = "session-start"
	StreamSessionEnd   = "session-end"
	StreamErrorMarker  = "error-marker"
	StreamInfoMarker   = "info-marker"
)

// Event is one journal record.
type Event struct {
	Stream    string
	Timestamp time.Time // UTC
	Content   []byte
}

// FormatEvent formats an Event into the journal format
func FormatEvent(event Event) []byte {
	timestamp := event.Timestamp.UTC().Format(timestampLayout)
	out := fmt.Appendf(nil, "%s %s %d: ", event.Stream, timestamp, len(event.Content))
	out = append(out, event.Content...)
	return append(out, '\n')
}

// syncer is implemented by *os.File.
type syncer interface {
	Sync() error
}

// Writer appends events to an io.Writer. It implements framer.Reporter and
// ignores data bytes.
type Writer struct {
	w io.Writer
}

var _ framer.Reporter = &Writer{}

// NewWriter returns a Writer on w. If w can Sync, every event is synced.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write appends one event.
func (w *Writer) Write(event Event) error {
	if _, err := w.w.Write(FormatEvent(event)); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if s, ok := w.w.(syncer); ok {
		if err := s.Sync(); err != nil {
			return fmt.Errorf("failed to sync journal: %w", err)
		}
	}
	return nil
}

func (w *Writer) record(stream string, at time.Time, content string) {
	if err := w.Write(Event{Stream: stream, Timestamp: at.UTC(), Content: []byte(content)}); err != nil {
		slog.Error("Failed to record journal event", "stream", stream, "error", err)
	}
}

// SessionStarted records a session-start event with the file name.
func (w *Writer) SessionStarted(name string, at time.Time) {
	w.record(StreamSessionStart, at, name)
}

// SessionEnded records a session-end event with the file name.
func (w *Writer) SessionEnded(name string, at time.Time) {
	w.record(StreamSessionEnd, at, name)
}

// Marker records an error or info marker with its timestamp.
func (w *Writer) Marker(kind framer.MarkerKind, at time.Time) {
	stream := StreamInfoMarker
	if kind == framer.MarkerError {
		stream = StreamErrorMarker
	}
	w.record(stream, at, framer.Timestamp(at))
}

// Data is a no-op; payload bytes are not journaled.
func (w *Writer) Data(byte) {}

// ReadEvents parses a whole journal. A truncated last record, as left by a
// crash mid-write, is returned as an error together with the events read
// before it.
func ReadEvents(r io.Reader) ([]Event, error) {
	br := bufio.NewReader(r)
	var events []Event
	for {
		event, err := readEvent(br)
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, fmt.Errorf("event %d: %w", len(events)+1, err)
		}
		events = append(events, event)
	}
}

// readEvent returns io.EOF only when r is exhausted at a record boundary.
func readEvent(r *bufio.Reader) (Event, error) {
	var event Event

	stream, err := r.ReadString(' ')
	if err != nil {
		if errors.Is(err, io.EOF) && stream == "" {
			return event, io.EOF
		}
		return event, fmt.Errorf("reading stream: %w", unexpected(err))
	}
	event.Stream = stream[:len(stream)-1]

	timestampStr, err := r.ReadString(' ')
	if err != nil {
		return event, fmt.Errorf("reading timestamp: %w", unexpected(err))
	}
	event.Timestamp, err = time.Parse(timestampLayout, timestampStr[:len(timestampStr)-1])
	if err != nil {
		return event, fmt.Errorf("parsing timestamp: %w", err)
	}

	lengthStr, err := r.ReadString(':')
	if err != nil {
		return event, fmt.Errorf("reading length: %w", unexpected(err))
	}
	length, err := strconv.Atoi(lengthStr[:len(lengthStr)-1])
	if err != nil || length < 0 {
		return event, fmt.Errorf("parsing length %q", lengthStr[:len(lengthStr)-1])
	}
	if length > maxContentLength {
		return event, fmt.Errorf("length %d out of range", length)
	}

	b, err := r.ReadByte()
	if err != nil {
		return event, fmt.Errorf("reading space after colon: %w", unexpected(err))
	}
	if b != ' ' {
		return event, fmt.Errorf("expected space after colon, got %q", b)
	}

	event.Content = make([]byte, length)
	if _, err := io.ReadFull(r, event.Content); err != nil {
		return event, fmt.Errorf("reading content (%d bytes): %w", length, unexpected(err))
	}

	b, err = r.ReadByte()
	if err != nil {
		return event, fmt.Errorf("reading final newline: %w", unexpected(err))
	}
	if b != '\n' {
		return event, fmt.Errorf("expected newline separator, got %q", b)
	}
	return event, nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
