package reservation

// ReservationSnapshot is the flat, fully-exported view of a Reservation's
// fields a Store implementation persists and restores. Every field here
// mirrors an unexported one on Reservation itself; Concrete is deliberately
// excluded from ResourceSet's copy, since a bound ConcreteSet is rebuilt by
// an actor's kernel.ConcreteSetPort when the recovered reservation's redeem
// is re-driven, not replayed from storage.
type ReservationSnapshot struct {
	ID       ID
	SliceID  ID
	Category Category

	Requested ResourceSet
	Approved  ResourceSet
	Resources ResourceSet

	RequestedTerm Term
	ApprovedTerm  Term
	Term          Term

	State     State
	Pending   Pending
	JoinState JoinState

	Predecessors []Predecessor
	PolicyFlags  PolicyFlags
	Notices      []Notice
	Expired      bool
}

// Snapshot captures r's current fields for persistence.
func (r *Reservation) Snapshot() ReservationSnapshot {
	return ReservationSnapshot{
		ID:            r.id,
		SliceID:       r.sliceID,
		Category:      r.category,
		Requested:     stripConcrete(r.requested),
		Approved:      stripConcrete(r.approved),
		Resources:     stripConcrete(r.resources),
		RequestedTerm: r.requestedTerm,
		ApprovedTerm:  r.approvedTerm,
		Term:          r.term,
		State:         r.state,
		Pending:       r.pending,
		JoinState:     r.joinState,
		Predecessors:  r.Predecessors(),
		PolicyFlags:   r.policyFlags,
		Notices:       r.Notices(),
		Expired:       r.expired,
	}
}

func stripConcrete(rs ResourceSet) ResourceSet {
	rs.Concrete = nil
	return rs
}

// RestoreReservation rebuilds a Reservation exactly as it was snapshotted,
// bypassing the state-machine transition table — used only by a Store's
// GetReservation/ListReservations, never by live actor code, which always
// drives a reservation through its exported transition methods.
func RestoreReservation(s ReservationSnapshot) *Reservation {
	r := &Reservation{
		id:            s.ID,
		sliceID:       s.SliceID,
		category:      s.Category,
		requested:     s.Requested,
		approved:      s.Approved,
		resources:     s.Resources,
		requestedTerm: s.RequestedTerm,
		approvedTerm:  s.ApprovedTerm,
		term:          s.Term,
		state:         s.State,
		pending:       s.Pending,
		joinState:     s.JoinState,
		policyFlags:   s.PolicyFlags,
		expired:       s.Expired,
	}
	r.predecessors = append([]Predecessor(nil), s.Predecessors...)
	r.notices = append([]Notice(nil), s.Notices...)
	return r
}
