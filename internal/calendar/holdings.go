// Package calendar implements the time-indexed reservation collections every
// actor composes into its calendar façade: a cycle-keyed ReservationList and
// a millisecond-interval ReservationHoldings, plus the Base/Client/Source/
// Broker/Authority façades that compose them under one coarse lock.
package calendar

import (
	"sort"

	cperrors "github.com/R3E-Network/testbed-control-plane/infrastructure/errors"
	"github.com/R3E-Network/testbed-control-plane/domain/reservation"
)

type holdingsEntry struct {
	id    reservation.ID
	start int64
	end   int64
	res   *reservation.Reservation
}

// ReservationHoldings is an interval index over reservations: a list of
// (start_ms, end_ms, reservation) entries sorted by end_ms and an
// id->entry map. The two are kept in agreement on every mutation.
type ReservationHoldings struct {
	list    []*holdingsEntry
	byID    map[reservation.ID]*holdingsEntry
}

// NewReservationHoldings constructs an empty holdings index.
func NewReservationHoldings() *ReservationHoldings {
	return &ReservationHoldings{byID: make(map[reservation.ID]*holdingsEntry)}
}

func (h *ReservationHoldings) insertSorted(e *holdingsEntry) {
	i := sort.Search(len(h.list), func(i int) bool {
		if h.list[i].end != e.end {
			return h.list[i].end >= e.end
		}
		return h.list[i].id.Less(e.id) || h.list[i].id.Equal(e.id)
	})
	h.list = append(h.list, nil)
	copy(h.list[i+1:], h.list[i:])
	h.list[i] = e
}

func (h *ReservationHoldings) removeFromList(e *holdingsEntry) {
	for i, cur := range h.list {
		if cur == e {
			h.list = append(h.list[:i], h.list[i+1:]...)
			return
		}
	}
}

// Add inserts a reservation's validity interval, start <= end (closed on
// both ends). If the reservation is already present, the call is treated as
// an extension: the original start is retained and the end is updated,
// provided the new interval starts within 1ms of the old end. A larger gap
// is rejected — it would leave a hole the holdings index cannot represent.
func (h *ReservationHoldings) Add(r *reservation.Reservation, startMs, endMs int64) error {
	if startMs > endMs {
		return cperrors.InvalidTerm("start after end")
	}
	id := r.ID()
	actualStart := startMs
	if existing, ok := h.byID[id]; ok {
		gap := startMs - existing.end
		if gap < 0 || gap > 1 {
			return cperrors.InvalidTerm("extension gap exceeds 1ms")
		}
		actualStart = existing.start
		h.removeFromList(existing)
		delete(h.byID, id)
	}
	e := &holdingsEntry{id: id, start: actualStart, end: endMs, res: r}
	h.insertSorted(e)
	h.byID[id] = e
	return nil
}

// Remove deletes a reservation from the holdings. Silent if absent.
func (h *ReservationHoldings) Remove(r *reservation.Reservation) {
	h.removeID(r.ID())
}

func (h *ReservationHoldings) removeID(id reservation.ID) {
	e, ok := h.byID[id]
	if !ok {
		return
	}
	delete(h.byID, id)
	h.removeFromList(e)
}

// Get returns every reservation whose interval contains timeMs, optionally
// filtered to a resource type. Results are independent of insertion order.
//
// The list is sorted by end_ms, so every entry with end < timeMs sorts
// strictly before the first entry with end >= timeMs: a single forward scan
// from that point covers every candidate.
func (h *ReservationHoldings) Get(timeMs int64, resourceType string) []*reservation.Reservation {
	var out []*reservation.Reservation
	index := sort.Search(len(h.list), func(i int) bool { return h.list[i].end >= timeMs })

	for i := index; i < len(h.list); i++ {
		e := h.list[i]
		if e.start <= timeMs && timeMs <= e.end {
			if resourceType == "" || e.res.Requested().ResourceType == resourceType {
				out = append(out, e.res)
			}
		}
	}
	return out
}

// GetAll returns a snapshot of every reservation currently held.
func (h *ReservationHoldings) GetAll() []*reservation.Reservation {
	out := make([]*reservation.Reservation, 0, len(h.byID))
	for _, e := range h.list {
		out = append(out, e.res)
	}
	return out
}

// Size returns the number of reservations currently held.
func (h *ReservationHoldings) Size() int {
	return len(h.byID)
}

// Tick removes every entry whose end is at or before timeMs. Because the
// list is sorted by end, this is a prefix trim.
func (h *ReservationHoldings) Tick(timeMs int64) {
	i := 0
	for i < len(h.list) && h.list[i].end <= timeMs {
		delete(h.byID, h.list[i].id)
		i++
	}
	h.list = h.list[i:]
}
