package normalizer

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wardwatch/wardwatch/server/internal/domain"
)

// Dead-letter reasons.
const (
	ReasonOrphanTimeout   = "orphan_timeout"
	ReasonClosedAdmission = "closed_admission"
	ReasonInvalidEvent    = "invalid_event"
)

// DeadLetter is one event the engine could not apply, kept for operators.
type DeadLetter struct {
	ID     string       `json:"id"`
	Event  domain.Event `json:"event"`
	Reason string       `json:"reason"`
	At     time.Time    `json:"at"`
}

// DeadLetterLog is a bounded in-memory ring of dead letters.
// Safe for concurrent use.
type DeadLetterLog struct {
	mu  sync.Mutex
	buf []DeadLetter
	max int
}

// NewDeadLetterLog creates a log retaining at most max entries.
func NewDeadLetterLog(max int) *DeadLetterLog {
	return &DeadLetterLog{max: max}
}

// Append records a dead letter, evicting the oldest entries past capacity.
func (l *DeadLetterLog) Append(ev domain.Event, reason string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf = append(l.buf, DeadLetter{
		ID:     uuid.NewString(),
		Event:  ev,
		Reason: reason,
		At:     at,
	})
	if len(l.buf) > l.max {
		l.buf = l.buf[len(l.buf)-l.max:]
	}
}

// Recent returns a copy of the retained dead letters, oldest first.
func (l *DeadLetterLog) Recent() []DeadLetter {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]DeadLetter, len(l.buf))
	copy(out, l.buf)
	return out
}

// Len returns the number of retained dead letters.
func (l *DeadLetterLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buf)
}
