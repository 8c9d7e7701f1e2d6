package reservation

import (
	"time"

	cperrors "github.com/R3E-Network/testbed-control-plane/infrastructure/errors"
)

// Term is the validity interval of a reservation: (start, new_start, end).
// new_start tracks where the *current* validity begins — on first allocation
// it equals start; on extension it becomes old.end + 1.
type Term struct {
	Start    time.Time
	NewStart time.Time
	End      time.Time
}

// NewTerm constructs a Term, validating new_start >= start and end >= new_start.
func NewTerm(start, newStart, end time.Time) (Term, error) {
	t := Term{Start: start, NewStart: newStart, End: end}
	if err := t.Validate(); err != nil {
		return Term{}, err
	}
	return t, nil
}

// NewInitialTerm constructs a Term where new_start == start, the case for a
// reservation's first (non-extension) term.
func NewInitialTerm(start, end time.Time) (Term, error) {
	return NewTerm(start, start, end)
}

// Validate checks the Term's invariants: new_start >= start, end >= new_start.
func (t Term) Validate() error {
	if t.NewStart.Before(t.Start) {
		return cperrors.InvalidTerm("new_start before start")
	}
	if t.End.Before(t.NewStart) {
		return cperrors.InvalidTerm("end before new_start")
	}
	return nil
}

// ExtendTo returns the Term produced by extending this term to a new end
// time: new_start = old.end + 1ms, end = the requested end.
func (t Term) ExtendTo(requestedEnd time.Time) (Term, error) {
	return NewTerm(t.Start, t.End.Add(time.Millisecond), requestedEnd)
}

// ExtendsFrom reports whether candidate is a legal extension of t: candidate
// must start (new_start) within 1ms of t.End, matching the holdings
// extension contract in internal/calendar.
func (t Term) ExtendsFrom(candidate Term) bool {
	gap := candidate.NewStart.Sub(t.End)
	return gap >= 0 && gap <= time.Millisecond
}

// IsExpiredAt reports whether the term has ended as of the given instant.
func (t Term) IsExpiredAt(now time.Time) bool {
	return now.After(t.End)
}
