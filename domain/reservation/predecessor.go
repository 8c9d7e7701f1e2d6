package reservation

// Predecessor ties a reservation to another reservation that must be Active
// before this one is eligible for redeem. Used by controller reservations
// that sequence against an authority/broker reservation.
type Predecessor struct {
	ID ID
}

// PredecessorsSatisfied reports whether every predecessor is active,
// according to isActive. An empty predecessor list is trivially satisfied.
func (r *Reservation) PredecessorsSatisfied(isActive func(ID) bool) bool {
	for _, p := range r.predecessors {
		if !isActive(p.ID) {
			return false
		}
	}
	return true
}

// Predecessors returns a copy of the reservation's predecessor list.
func (r *Reservation) Predecessors() []Predecessor {
	out := make([]Predecessor, len(r.predecessors))
	copy(out, r.predecessors)
	return out
}

// AddPredecessor registers a predecessor reservation. Only legal before the
// reservation has left Nascent.
func (r *Reservation) AddPredecessor(id ID) error {
	if r.state != StateNascent {
		return wrongState(r, "add predecessor")
	}
	r.predecessors = append(r.predecessors, Predecessor{ID: id})
	return nil
}
