package calendar

import "github.com/R3E-Network/testbed-control-plane/domain/reservation"

// ReservationList is a mapping cycle -> set of reservations, used for
// anything scheduled against a discrete cycle number rather than a
// millisecond interval (incoming requests, pending extensions, scheduled
// closes).
type ReservationList struct {
	byCycle map[int64]map[reservation.ID]*reservation.Reservation
	cycleOf map[reservation.ID]int64
}

// NewReservationList constructs an empty ReservationList.
func NewReservationList() *ReservationList {
	return &ReservationList{
		byCycle: make(map[int64]map[reservation.ID]*reservation.Reservation),
		cycleOf: make(map[reservation.ID]int64),
	}
}

// Add places r at cycle c. Idempotent: re-adding the same (r, c) pair is a
// no-op. Adding r at a different cycle moves it.
func (l *ReservationList) Add(r *reservation.Reservation, c int64) {
	id := r.ID()
	if prevCycle, ok := l.cycleOf[id]; ok {
		if prevCycle == c {
			return
		}
		delete(l.byCycle[prevCycle], id)
		if len(l.byCycle[prevCycle]) == 0 {
			delete(l.byCycle, prevCycle)
		}
	}
	if l.byCycle[c] == nil {
		l.byCycle[c] = make(map[reservation.ID]*reservation.Reservation)
	}
	l.byCycle[c][id] = r
	l.cycleOf[id] = c
}

// Remove deletes r from whichever cycle it occupies. Silent if absent.
func (l *ReservationList) Remove(r *reservation.Reservation) {
	id := r.ID()
	c, ok := l.cycleOf[id]
	if !ok {
		return
	}
	delete(l.byCycle[c], id)
	if len(l.byCycle[c]) == 0 {
		delete(l.byCycle, c)
	}
	delete(l.cycleOf, id)
}

// Get returns the snapshot of reservations scheduled at exactly cycle c.
func (l *ReservationList) Get(c int64) []*reservation.Reservation {
	bucket := l.byCycle[c]
	out := make([]*reservation.Reservation, 0, len(bucket))
	for _, r := range bucket {
		out = append(out, r)
	}
	return out
}

// GetAllUpTo returns the union of reservations scheduled at any cycle <= c.
func (l *ReservationList) GetAllUpTo(c int64) []*reservation.Reservation {
	var out []*reservation.Reservation
	for cycle, bucket := range l.byCycle {
		if cycle <= c {
			for _, r := range bucket {
				out = append(out, r)
			}
		}
	}
	return out
}

// Tick erases every entry scheduled at a cycle <= c.
func (l *ReservationList) Tick(c int64) {
	for cycle := range l.byCycle {
		if cycle <= c {
			for id := range l.byCycle[cycle] {
				delete(l.cycleOf, id)
			}
			delete(l.byCycle, cycle)
		}
	}
}

// Size returns the total number of reservations tracked across all cycles.
func (l *ReservationList) Size() int {
	return len(l.cycleOf)
}
