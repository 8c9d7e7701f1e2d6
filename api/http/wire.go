// Package http is the REST adapter over the actor API: thin handlers that
// decode a request, call into whatever actor role the daemon is running,
// and encode the result. No business logic lives here: each handler builds
// a sync event for the actor's event processor and waits on the latch.
package http

import (
	"time"

	"github.com/R3E-Network/testbed-control-plane/domain/kernel"
	"github.com/R3E-Network/testbed-control-plane/domain/reservation"
)

// reservationView is the read-only wire shape of a reservation, used by the
// management endpoints and the notice feed alike.
type reservationView struct {
	ID       string `json:"id"`
	SliceID  string `json:"slice_id"`
	Category string `json:"category"`
	State    string `json:"state"`
	Pending  string `json:"pending"`
	Units    int64  `json:"units"`
	Start    *time.Time `json:"start,omitempty"`
	End      *time.Time `json:"end,omitempty"`
}

func toReservationView(r *reservation.Reservation) reservationView {
	v := reservationView{
		ID:       r.ID().String(),
		SliceID:  r.SliceID().String(),
		Category: string(r.Category()),
		State:    r.State().String(),
		Pending:  r.Pending().String(),
		Units:    r.Resources().Units,
	}
	if term := r.Term(); !term.Start.IsZero() {
		start, end := term.Start, term.End
		v.Start, v.End = &start, &end
	}
	return v
}

type sliceView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Owner string `json:"owner"`
	State string `json:"state"`
}

func toSliceView(s *reservation.Slice) sliceView {
	return sliceView{ID: s.ID().String(), Name: s.Name(), Owner: s.Owner(), State: s.State().String()}
}

type demandRequest struct {
	BrokerID     string `json:"broker_id"`
	SourceID     string `json:"source_id"`
	SliceID      string `json:"slice_id"`
	ResourceType string `json:"resource_type"`
	Units        int64  `json:"units"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	// Predecessors are reservation ids that must be Active before this
	// reservation is redeemed.
	Predecessors []string `json:"predecessors,omitempty"`
}

type demandResponse struct {
	ReservationID string `json:"reservation_id"`
}

type extendRequest struct {
	NewEnd time.Time `json:"new_end"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// peerTicketEnvelope carries the Broker-specific sourceID alongside a wire
// kernel.TicketRequest, since kernel.PeerProxy.Ticket doesn't itself name a
// caller — InProcessProxy's wiring binds sourceID per-connection instead,
// which an HTTP server can't do, so the caller identifies itself in-band.
type peerTicketEnvelope struct {
	SourceID string               `json:"source_id"`
	Request  kernel.TicketRequest `json:"request"`
}

// ticketReplyEnvelope carries a settled kernel.TicketReply over the wire.
// TicketReply.Err is excluded from its own JSON tag (error isn't codec-safe
// across a process boundary), so the denial reason travels here instead as
// plain text and is rehydrated into an error on the receiving side.
type ticketReplyEnvelope struct {
	Key        kernel.IdempotencyKey `json:"key"`
	Term       reservation.Term      `json:"term"`
	Units      int64                 `json:"units"`
	ErrMessage string                `json:"err_message,omitempty"`
}

// redeemReplyEnvelope is the redeem-leg counterpart of ticketReplyEnvelope:
// an authority posts it once its own tick has primed (or failed) a lease.
type redeemReplyEnvelope struct {
	Key        kernel.IdempotencyKey `json:"key"`
	Term       reservation.Term      `json:"term"`
	ErrMessage string                `json:"err_message,omitempty"`
}
