// Package session holds the process-wide acquisition session. Every sensor
// timestamps its samples relative to the same origin.
package session

import (
	"time"

	"github.com/google/uuid"
)

// StartLayout formats the human-readable start time used to name outputs,
// e.g. 2024_03_07_14h05m.
const StartLayout = "2006_01_02_15h04m"

// Session is immutable after New.
type Session struct {
	id     string
	start  time.Time
	origin float64
}

// New starts a session at now. The time origin is truncated to whole epoch
// seconds.
func New(now time.Time) *Session {
	return &Session{
		id:     uuid.NewString(),
		start:  now,
		origin: float64(now.Unix()),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Start() time.Time {
	return s.start
}

// Origin returns the epoch seconds that relative timestamps are measured from.
func (s *Session) Origin() float64 {
	return s.origin
}

// StartString returns the start time in StartLayout.
func (s *Session) StartString() string {
	return s.start.Format(StartLayout)
}

// Relative converts an epoch timestamp in seconds to session time.
func (s *Session) Relative(epoch float64) float64 {
	return epoch - s.origin
}

// Elapsed returns the session time of t.
func (s *Session) Elapsed(t time.Time) float64 {
	return float64(t.UnixNano())/1e9 - s.origin
}
