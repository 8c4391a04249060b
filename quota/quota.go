// Package quota bounds the number of live resources a principal may
// hold in one resource class.
//
// A Tracker is a counting gate, not a semaphore: callers that find no
// room must fail fast with a quota error rather than wait for another
// client to release. Take and Give never block and never return errors;
// misuse (taking past the limit, giving below zero) indicates a bug in
// the engine itself and is logged loudly while keeping the counter
// clamped to a sane value.
//
// Trackers carry no locking of their own. All mutation happens under
// the manager's state lock.
package quota

import (
	"fmt"
	"log/slog"
)

// Tracker counts live resources of one class for one principal against
// a fixed maximum.
type Tracker struct {
	class   string
	max     int
	current int
	logger  *slog.Logger
}

// NewTracker returns a tracker admitting at most max resources.
func NewTracker(class string, max int, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		class:  class,
		max:    max,
		logger: logger.With("component", "quota", "class", class),
	}
}

// Available reports whether another resource may be taken. Callers must
// check this before Take.
func (t *Tracker) Available() bool { return t.current < t.max }

// Take records one more live resource. Calling Take on a full tracker
// is a contract violation by the caller; it is logged as a defect and
// the counter still advances so that the matching Give balances.
func (t *Tracker) Take() {
	if !t.Available() {
		t.logger.Error("defect: take on exhausted tracker", "current", t.current, "max", t.max)
	}
	t.current++
}

// Give returns one resource to the tracker. Giving back more than was
// taken is a defect: it is logged and the counter stays at zero.
func (t *Tracker) Give() {
	if t.current <= 0 {
		t.logger.Error("defect: give on empty tracker", "max", t.max)
		return
	}
	t.current--
}

// Current returns the number of live resources.
func (t *Tracker) Current() int { return t.current }

// Max returns the admission limit.
func (t *Tracker) Max() int { return t.max }

func (t *Tracker) String() string {
	return fmt.Sprintf("%s: %d/%d", t.class, t.current, t.max)
}
