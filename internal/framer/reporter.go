package framer

import "time"

// Discard is a Reporter that drops everything.
var Discard Reporter = discard{}

type discard struct{}

func (discard) SessionStarted(string, time.Time) {}
func (discard) SessionEnded(string, time.Time)   {}
func (discard) Marker(MarkerKind, time.Time)     {}
func (discard) Data(byte)                        {}

// MultiReporter fans every call out to each reporter in order.
type MultiReporter []Reporter

var _ Reporter = MultiReporter(nil)

func (m MultiReporter) SessionStarted(name string, at time.Time) {
	for _, r := range m {
		r.SessionStarted(name, at)
	}
}

func (m MultiReporter) SessionEnded(name string, at time.Time) {
	for _, r := range m {
		r.SessionEnded(name, at)
	}
}

func (m MultiReporter) Marker(kind MarkerKind, at time.Time) {
	for _, r := range m {
		r.Marker(kind, at)
	}
}

func (m MultiReporter) Data(b byte) {
	for _, r := range m {
		r.Data(b)
	}
}
