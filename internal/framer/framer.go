// Package framer splits a serial byte stream into log sessions.
//
// The stream is opaque except for four control bytes: '$' opens a session,
// '*' closes it, '^' and '&' request an error or info timestamp marker.
// Every other byte received while a session is open is appended to the
// session's log file and made durable before the next byte is read.
package framer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Control bytes with protocol meaning. They never reach a log file.
const (
	SessionStart byte = '$'
	SessionEnd   byte = '*'
	ErrorMarker  byte = '^'
	InfoMarker   byte = '&'
)

// TimestampLayout renders times as MM-DD-YY_HH:MM (24h).
const TimestampLayout = "01-02-06_15:04"

// DefaultPrefix is prepended to every log filename.
const DefaultPrefix = "captest_log_"

// State of the framer.
type State int

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarkerKind distinguishes the two timestamp markers.
type MarkerKind string

const (
	MarkerError MarkerKind = "error"
	MarkerInfo  MarkerKind = "info"
)

// Sink is the durable destination of one session.
type Sink interface {
	WriteByte(c byte) error
	// Sync flushes buffered bytes and forces them to stable storage.
	Sync() error
	// Close syncs and releases the sink.
	Close() error
	// Name is the final filename, which may differ from the requested one.
	Name() string
}

// Store creates sinks.
type Store interface {
	Create(name string) (Sink, error)
}

// Reporter receives everything the framer wants to tell the outside world.
// Implementations must not block for long; they run on the read loop.
type Reporter interface {
	SessionStarted(name string, at time.Time)
	SessionEnded(name string, at time.Time)
	Marker(kind MarkerKind, at time.Time)
	Data(b byte)
}

// Timestamp formats t with TimestampLayout.
func Timestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// Filename returns the log filename for a session started at t.
func Filename(prefix string, t time.Time) string {
	return prefix + Timestamp(t) + ".txt"
}

// Option configures a Framer.
type Option func(*Framer)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(f *Framer) { f.now = now }
}

// WithPrefix sets the log filename prefix.
func WithPrefix(prefix string) Option {
	return func(f *Framer) { f.prefix = prefix }
}

// WithSyncEvery syncs the sink after every n data bytes instead of after
// each one. Values below 1 are treated as 1.
func WithSyncEvery(n int) Option {
	return func(f *Framer) {
		if n < 1 {
			n = 1
		}
		f.syncEvery = n
	}
}

// Framer is the session state machine. It is not safe for concurrent use.
type Framer struct {
	src      io.ByteReader
	store    Store
	reporter Reporter

	now       func() time.Time
	prefix    string
	syncEvery int

	state   State
	sink    Sink
	pending int
}

// New creates a framer in the Idle state.
func New(src io.ByteReader, store Store, reporter Reporter, opts ...Option) *Framer {
	if reporter == nil {
		reporter = Discard
	}
	f := &Framer{
		src:       src,
		store:     store,
		reporter:  reporter,
		now:       time.Now,
		prefix:    DefaultPrefix,
		syncEvery: 1,
		state:     Idle,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// State returns the current state.
func (f *Framer) State() State {
	return f.state
}

// SessionName returns the filename of the open session, or "" when idle.
func (f *Framer) SessionName() string {
	if f.sink == nil {
		return ""
	}
	return f.sink.Name()
}

// Run reads and dispatches bytes until the source fails, a sink operation
// fails or ctx is done. An open session is closed before Run returns.
// Source errors are wrapped, so errors.Is(err, io.EOF) reports a drained
// source.
func (f *Framer) Run(ctx context.Context) error {
	defer f.abandon()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := f.src.ReadByte()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("failed to read byte: %w", err)
		}
		if err := f.Feed(b); err != nil {
			return err
		}
	}
}

// Feed dispatches a single byte.
func (f *Framer) Feed(b byte) error {
	if f.state == Idle {
		if b != SessionStart {
			if b == SessionEnd {
				slog.Debug("Ignoring session end while idle")
			}
			return nil
		}
		return f.open()
	}

	switch b {
	case SessionEnd:
		return f.close()
	case ErrorMarker:
		f.reporter.Marker(MarkerError, f.now())
	case InfoMarker:
		f.reporter.Marker(MarkerInfo, f.now())
	case SessionStart:
		slog.Debug("Ignoring session start inside open session", "file", f.sink.Name())
	default:
		return f.write(b)
	}
	return nil
}

func (f *Framer) open() error {
	at := f.now()
	sink, err := f.store.Create(Filename(f.prefix, at))
	if err != nil {
		return fmt.Errorf("failed to open session log: %w", err)
	}
	f.sink = sink
	f.state = Active
	f.pending = 0
	f.reporter.SessionStarted(sink.Name(), at)
	return nil
}

func (f *Framer) write(b byte) error {
	if err := f.sink.WriteByte(b); err != nil {
		return fmt.Errorf("failed to write to %s: %w", f.sink.Name(), err)
	}
	f.reporter.Data(b)
	f.pending++
	if f.pending < f.syncEvery {
		return nil
	}
	if err := f.sink.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", f.sink.Name(), err)
	}
	f.pending = 0
	return nil
}

func (f *Framer) close() error {
	sink := f.sink
	f.sink = nil
	f.state = Idle
	f.pending = 0
	if err := sink.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", sink.Name(), err)
	}
	f.reporter.SessionEnded(sink.Name(), f.now())
	return nil
}

// abandon closes a session that never saw its end marker.
func (f *Framer) abandon() {
	if f.sink == nil {
		return
	}
	name := f.sink.Name()
	if err := f.sink.Close(); err != nil {
		slog.Error("Failed to close interrupted session", "file", name, "error", err)
	} else {
		slog.Warn("Session interrupted before end marker", "file", name)
	}
	f.sink = nil
	f.state = Idle
}
