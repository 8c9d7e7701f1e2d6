// Package reservation implements the reservation lifecycle: the state
// machine, term and resource-set types, and the slice grouping that every
// actor (controller, broker, authority) drives through its event processor.
//
// A *Reservation is not safe for concurrent use. Callers are expected to
// reach it only from within a single actor's event processor goroutine,
// which serializes all mutation.
package reservation

import "time"

// PolicyFlags record negotiable properties a policy may use when deciding
// how to handle an extension: whether the resource count or the term may be
// adjusted away from what was requested.
type PolicyFlags struct {
	ElasticSize bool
	ElasticTime bool
}

// Reservation is the unit of resource allocation negotiated between actors.
type Reservation struct {
	id       ID
	sliceID  ID
	category Category

	requested ResourceSet
	approved  ResourceSet
	resources ResourceSet

	requestedTerm Term
	approvedTerm  Term
	term          Term

	state     State
	pending   Pending
	joinState JoinState

	predecessors []Predecessor
	policyFlags  PolicyFlags
	notices      []Notice
	expired      bool
}

// NewReservation constructs a reservation in (Nascent, None) with the given
// requested resources and term. The slice and category bind it to its owning
// slice and actor role.
func NewReservation(sliceID ID, category Category, requested ResourceSet, requestedTerm Term) (*Reservation, error) {
	return NewReservationWithID(NewID(), sliceID, category, requested, requestedTerm)
}

// NewReservationWithID constructs a reservation exactly as NewReservation
// does, but under a caller-supplied id rather than a freshly generated one.
// Every actor touching the same logical reservation keeps its own local
// *Reservation (a different category, a different view of state/pending),
// but they all share this one id as the correlation key carried across the
// wire in every proxy request — so a controller's, broker's, and
// authority's records of "the same reservation" are recovered by id, not by
// object identity.
func NewReservationWithID(id, sliceID ID, category Category, requested ResourceSet, requestedTerm Term) (*Reservation, error) {
	if !category.Valid() {
		return nil, invalidInput("category", "unknown reservation category")
	}
	if err := requestedTerm.Validate(); err != nil {
		return nil, err
	}
	return &Reservation{
		id:            id,
		sliceID:       sliceID,
		category:      category,
		requested:     requested,
		requestedTerm: requestedTerm,
		state:         StateNascent,
		pending:       PendingNone,
		joinState:     JoinNone,
	}, nil
}

// Accessors.

func (r *Reservation) ID() ID                  { return r.id }
func (r *Reservation) SliceID() ID             { return r.sliceID }
func (r *Reservation) Category() Category      { return r.category }
func (r *Reservation) State() State            { return r.state }
func (r *Reservation) Pending() Pending        { return r.pending }
func (r *Reservation) JoinState() JoinState    { return r.joinState }
func (r *Reservation) Requested() ResourceSet  { return r.requested }
func (r *Reservation) Approved() ResourceSet   { return r.approved }
func (r *Reservation) Resources() ResourceSet  { return r.resources }
func (r *Reservation) RequestedTerm() Term     { return r.requestedTerm }
func (r *Reservation) ApprovedTerm() Term      { return r.approvedTerm }
func (r *Reservation) Term() Term              { return r.term }
func (r *Reservation) PolicyFlags() PolicyFlags { return r.policyFlags }
func (r *Reservation) IsExpired() bool         { return r.expired }

// Notices returns a copy of the reservation's notice log.
func (r *Reservation) Notices() []Notice {
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}

func (r *Reservation) addNotice(kind NoticeKind, message string, at time.Time) {
	r.notices = append(r.notices, newNotice(kind, message, at))
}

// IsTerminal reports whether the reservation has reached Closed or Failed.
func (r *Reservation) IsTerminal() bool {
	return r.state.IsTerminal()
}

func wrongState(r *Reservation, op string) error {
	return wrongStateOpErr(r.id.String(), op, r.state.String(), r.pending.String())
}

// --- Ticketing (client <-> broker, or broker <-> authority) ---

// Demand moves a freshly-created reservation into the ticketing protocol.
func (r *Reservation) Demand() error {
	if r.state != StateNascent || r.pending != PendingNone {
		return wrongState(r, "demand")
	}
	r.pending = PendingTicketing
	return nil
}

// TicketOK completes a successful ticket exchange, recording the approved
// term and resource set the peer granted.
func (r *Reservation) TicketOK(approvedTerm Term, approved ResourceSet, now time.Time) error {
	if r.state != StateNascent || r.pending != PendingTicketing {
		return wrongState(r, "ticket_ok")
	}
	r.approvedTerm = approvedTerm
	r.approved = approved
	r.state = StateTicketed
	r.pending = PendingNone
	r.addNotice(NoticeInfo, "ticket granted", now)
	return nil
}

// TicketFailed records a rejected or timed-out ticket request.
func (r *Reservation) TicketFailed(reason string, now time.Time) error {
	if r.state != StateNascent || r.pending != PendingTicketing {
		return wrongState(r, "ticket_failed")
	}
	r.state = StateFailed
	r.pending = PendingNone
	r.addNotice(NoticeError, "ticket failed: "+reason, now)
	return nil
}

// ExtendTicket begins a ticket-extension exchange from any state that holds
// a valid ticket. It is illegal to request a ticket extension while a
// concrete-set prime is already in flight.
func (r *Reservation) ExtendTicket() error {
	if r.pending == PendingPriming {
		return extendDuringPrime(r.id.String())
	}
	switch r.state {
	case StateTicketed, StateActiveTicketed, StateActive:
	default:
		return wrongState(r, "extend_ticket")
	}
	if r.pending != PendingNone {
		return wrongState(r, "extend_ticket")
	}
	r.pending = PendingExtendingTicket
	return nil
}

// ExtendTicketOK completes a ticket extension, restoring the prior base
// state (Active reservations return to ActiveTicketed, since the lease is
// still in force while the new ticket settles).
func (r *Reservation) ExtendTicketOK(approvedTerm Term, approved ResourceSet, now time.Time) error {
	if r.pending != PendingExtendingTicket {
		return wrongState(r, "extend_ticket_ok")
	}
	r.approvedTerm = approvedTerm
	r.approved = approved
	if r.state == StateActive {
		r.state = StateActiveTicketed
	}
	r.pending = PendingNone
	r.addNotice(NoticeInfo, "ticket extended", now)
	return nil
}

// ExtendTicketFailed records a rejected extension without disturbing an
// otherwise-valid reservation.
func (r *Reservation) ExtendTicketFailed(reason string, now time.Time) error {
	if r.pending != PendingExtendingTicket {
		return wrongState(r, "extend_ticket_failed")
	}
	r.pending = PendingNone
	r.addNotice(NoticeWarning, "ticket extension failed: "+reason, now)
	return nil
}

// --- Redeeming / priming (broker <-> authority, authority concrete set) ---

// Redeem begins the redeem exchange that turns a ticket into a lease.
// Callers must check the eligibility guard (cycle past new_start and all
// predecessors active) before calling.
func (r *Reservation) Redeem(now time.Time, predecessorsSatisfied bool) error {
	if r.state != StateTicketed || r.pending != PendingNone {
		return wrongState(r, "redeem")
	}
	if now.Before(r.approvedTerm.NewStart) {
		return wrongState(r, "redeem")
	}
	if !predecessorsSatisfied {
		return predecessorUnmet(r.id.String())
	}
	r.pending = PendingRedeeming
	return nil
}

// RedeemOK advances a redeeming reservation into the concrete-set
// setup/probe sub-protocol.
func (r *Reservation) RedeemOK() error {
	if r.pending != PendingRedeeming {
		return wrongState(r, "redeem_ok")
	}
	r.pending = PendingPriming
	r.joinState = JoinSetup
	return nil
}

// RedeemFailed fails the reservation when the authority rejects the lease.
func (r *Reservation) RedeemFailed(reason string, now time.Time) error {
	if r.pending != PendingRedeeming {
		return wrongState(r, "redeem_failed")
	}
	r.state = StateFailed
	r.pending = PendingNone
	r.addNotice(NoticeError, "redeem failed: "+reason, now)
	return nil
}

// AdvanceJoinState moves the concrete-set sub-protocol from Setup to Probe,
// or from Probe to Done. Only legal while Priming.
func (r *Reservation) AdvanceJoinState(next JoinState) error {
	if r.pending != PendingPriming {
		return wrongState(r, "advance_join_state")
	}
	r.joinState = next
	return nil
}

// PrimeDone completes priming: the reservation becomes Active, bound to the
// given term and concrete resources.
func (r *Reservation) PrimeDone(term Term, resources ResourceSet, now time.Time) error {
	if r.pending != PendingPriming || r.joinState != JoinDone {
		return wrongState(r, "prime_done")
	}
	r.term = term
	r.resources = resources
	r.state = StateActive
	r.pending = PendingNone
	r.addNotice(NoticeInfo, "reservation active", now)
	return nil
}

// PrimeFailed fails the reservation when concrete-set setup or probe errors.
func (r *Reservation) PrimeFailed(reason string, now time.Time) error {
	if r.pending != PendingPriming {
		return wrongState(r, "prime_failed")
	}
	r.state = StateFailed
	r.pending = PendingNone
	r.addNotice(NoticeError, "prime failed: "+reason, now)
	return nil
}

// --- Leasing (extend the active term) ---

// ExtendLease begins a lease-extension exchange. Only legal on an Active
// reservation with no other operation in flight.
func (r *Reservation) ExtendLease() error {
	if r.state != StateActive || r.pending != PendingNone {
		return wrongState(r, "extend_lease")
	}
	r.pending = PendingExtendingLease
	return nil
}

// ExtendLeaseOK completes a lease extension, adopting the new term.
func (r *Reservation) ExtendLeaseOK(term Term, now time.Time) error {
	if r.pending != PendingExtendingLease {
		return wrongState(r, "extend_lease_ok")
	}
	r.term = term
	r.pending = PendingNone
	r.addNotice(NoticeInfo, "lease extended", now)
	return nil
}

// ExtendLeaseFailed records a rejected lease extension; the reservation
// keeps running on its existing term.
func (r *Reservation) ExtendLeaseFailed(reason string, now time.Time) error {
	if r.pending != PendingExtendingLease {
		return wrongState(r, "extend_lease_failed")
	}
	r.pending = PendingNone
	r.addNotice(NoticeWarning, "lease extension failed: "+reason, now)
	return nil
}

// --- Closing ---

// Close begins the close sequence. Legal from any non-terminal state.
func (r *Reservation) Close(now time.Time) error {
	if r.IsTerminal() {
		return alreadyTerminal(r.id.String())
	}
	r.state = StateClosing
	r.pending = PendingClosing
	r.addNotice(NoticeInfo, "closing", now)
	return nil
}

// CloseOK completes a clean close.
func (r *Reservation) CloseOK(now time.Time) error {
	if r.state != StateClosing || r.pending != PendingClosing {
		return wrongState(r, "close_ok")
	}
	r.state = StateClosed
	r.pending = PendingNone
	r.addNotice(NoticeInfo, "closed", now)
	return nil
}

// CloseFailed marks the reservation Failed when the concrete-set teardown
// errors; the notice carries the underlying cause.
func (r *Reservation) CloseFailed(reason string, now time.Time) error {
	if r.state != StateClosing || r.pending != PendingClosing {
		return wrongState(r, "close_failed")
	}
	r.state = StateFailed
	r.pending = PendingNone
	r.addNotice(NoticeError, "close failed: "+reason, now)
	return nil
}

// AutoCloseIfExpired transitions an Active reservation whose term has
// elapsed into Closing, returning true if it did. It is a no-op (returns
// false) for any other state, matching the per-tick auto-close sweep order
// relative to inbound replies: auto-close only ever applies to reservations
// already Active with no pending operation.
func (r *Reservation) AutoCloseIfExpired(now time.Time) bool {
	if r.state != StateActive || r.pending != PendingNone {
		return false
	}
	if !r.term.IsExpiredAt(now) {
		return false
	}
	r.expired = true
	r.state = StateClosing
	r.pending = PendingClosing
	r.addNotice(NoticeInfo, "term expired, auto-closing", now)
	return true
}

// --- Unconditional failure ---

// FailWithNotice force-fails a non-terminal reservation with a plain
// message — used for administrative or policy-driven failures that have no
// underlying Go error.
func (r *Reservation) FailWithNotice(message string, now time.Time) error {
	if r.IsTerminal() {
		return alreadyTerminal(r.id.String())
	}
	r.state = StateFailed
	r.pending = PendingNone
	r.addNotice(NoticeError, message, now)
	return nil
}

// FailWithException force-fails a non-terminal reservation because of an
// underlying Go error (concrete-set, persistence, or protocol failure).
func (r *Reservation) FailWithException(message string, cause error, now time.Time) error {
	if r.IsTerminal() {
		return alreadyTerminal(r.id.String())
	}
	r.state = StateFailed
	r.pending = PendingNone
	if cause != nil {
		message = message + ": " + cause.Error()
	}
	r.addNotice(NoticeError, message, now)
	return nil
}

// SetPolicyFlags records the elasticity flags a policy attached to this
// reservation's extension negotiation.
func (r *Reservation) SetPolicyFlags(flags PolicyFlags) {
	r.policyFlags = flags
}
