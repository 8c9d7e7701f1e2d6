package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/testbed-control-plane/domain/kernel"
	"github.com/R3E-Network/testbed-control-plane/domain/reservation"
	cperrors "github.com/R3E-Network/testbed-control-plane/infrastructure/errors"
)

// PeerRouter is the inbound half of the inter-actor protocol over HTTP,
// mirroring kernel.HTTPProxy's outbound paths (/peer/ticket,
// /peer/ticket/extend, /peer/redeem, /peer/lease/extend, /peer/close) so two
// daemons speak the same wire format InProcessProxy uses in-process. Each
// field is the local actor's handler; a daemon leaves the fields it doesn't
// support nil (an Authority has no TicketFn, a Controller mounts none of
// these at all).
type PeerRouter struct {
	TicketFn       func(ctx context.Context, sourceID reservation.ID, req kernel.TicketRequest) (kernel.TicketReply, error)
	ExtendTicketFn func(ctx context.Context, req kernel.TicketRequest) (kernel.TicketReply, error)
	RedeemFn       func(ctx context.Context, req kernel.RedeemRequest) (kernel.RedeemReply, error)
	ExtendLeaseFn  func(ctx context.Context, req kernel.RedeemRequest) (kernel.RedeemReply, error)
	CloseFn        func(ctx context.Context, req kernel.CloseRequest) (kernel.CloseReply, error)
	// TicketReplyFn is the reverse leg of the ticket protocol: a broker
	// posts here once its own tick has settled a demand it ack'd earlier,
	// letting the controller complete HandleTicketReply without polling.
	// Only the controller daemon wires this; brokers/authorities leave it
	// nil.
	TicketReplyFn func(ctx context.Context, reply kernel.TicketReply) error
	// RedeemReplyFn is the reverse leg of the redeem protocol: an authority
	// posts here once its own tick has primed (or failed) a lease it ack'd
	// earlier. Only the controller daemon wires this.
	RedeemReplyFn func(ctx context.Context, reply kernel.RedeemReply) error
}

// Mount registers the peer endpoints this router supports onto r.
func (p *PeerRouter) Mount(r *mux.Router) {
	if p.TicketFn != nil {
		r.HandleFunc("/peer/ticket", p.handleTicket).Methods(http.MethodPost)
	}
	if p.ExtendTicketFn != nil {
		r.HandleFunc("/peer/ticket/extend", p.handleExtendTicket).Methods(http.MethodPost)
	}
	if p.RedeemFn != nil {
		r.HandleFunc("/peer/redeem", p.handleRedeem).Methods(http.MethodPost)
	}
	if p.ExtendLeaseFn != nil {
		r.HandleFunc("/peer/lease/extend", p.handleExtendLease).Methods(http.MethodPost)
	}
	if p.CloseFn != nil {
		r.HandleFunc("/peer/close", p.handleClose).Methods(http.MethodPost)
	}
	if p.TicketReplyFn != nil {
		r.HandleFunc("/peer/ticket-reply", p.handleTicketReply).Methods(http.MethodPost)
	}
	if p.RedeemReplyFn != nil {
		r.HandleFunc("/peer/redeem-reply", p.handleRedeemReply).Methods(http.MethodPost)
	}
}

func (p *PeerRouter) handleTicket(w http.ResponseWriter, r *http.Request) {
	var env peerTicketEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, cperrors.InvalidInput("body", "malformed ticket request"))
		return
	}
	sourceID, err := reservation.ParseID(env.SourceID)
	if err != nil {
		writeError(w, cperrors.InvalidInput("source_id", "malformed source id"))
		return
	}
	reply, err := p.TicketFn(r.Context(), sourceID, env.Request)
	writeReplyOrError(w, reply, err)
}

func (p *PeerRouter) handleExtendTicket(w http.ResponseWriter, r *http.Request) {
	var req kernel.TicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, cperrors.InvalidInput("body", "malformed ticket request"))
		return
	}
	reply, err := p.ExtendTicketFn(r.Context(), req)
	writeReplyOrError(w, reply, err)
}

func (p *PeerRouter) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req kernel.RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, cperrors.InvalidInput("body", "malformed redeem request"))
		return
	}
	reply, err := p.RedeemFn(r.Context(), req)
	writeReplyOrError(w, reply, err)
}

func (p *PeerRouter) handleExtendLease(w http.ResponseWriter, r *http.Request) {
	var req kernel.RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, cperrors.InvalidInput("body", "malformed lease-extension request"))
		return
	}
	reply, err := p.ExtendLeaseFn(r.Context(), req)
	writeReplyOrError(w, reply, err)
}

func (p *PeerRouter) handleClose(w http.ResponseWriter, r *http.Request) {
	var req kernel.CloseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, cperrors.InvalidInput("body", "malformed close request"))
		return
	}
	reply, err := p.CloseFn(r.Context(), req)
	writeReplyOrError(w, reply, err)
}

func (p *PeerRouter) handleTicketReply(w http.ResponseWriter, r *http.Request) {
	var env ticketReplyEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, cperrors.InvalidInput("body", "malformed ticket reply"))
		return
	}
	reply := kernel.TicketReply{Key: env.Key, Term: env.Term, Units: env.Units}
	if env.ErrMessage != "" {
		reply.Err = errors.New(env.ErrMessage)
	}
	if err := p.TicketReplyFn(r.Context(), reply); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (p *PeerRouter) handleRedeemReply(w http.ResponseWriter, r *http.Request) {
	var env redeemReplyEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, cperrors.InvalidInput("body", "malformed redeem reply"))
		return
	}
	reply := kernel.RedeemReply{Key: env.Key, Term: env.Term}
	if env.ErrMessage != "" {
		reply.Err = errors.New(env.ErrMessage)
	}
	if err := p.RedeemReplyFn(r.Context(), reply); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
