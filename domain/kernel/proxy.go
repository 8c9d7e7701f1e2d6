package kernel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/R3E-Network/testbed-control-plane/domain/reservation"
	cperrors "github.com/R3E-Network/testbed-control-plane/infrastructure/errors"
)

// IdempotencyKey identifies one outbound protocol call so a peer can collapse
// retries of the same operation into the reply it already computed, per the
// reservation's (reservation_id, operation_generation) pairing.
type IdempotencyKey struct {
	ReservationID reservation.ID
	Generation    int64
}

// TicketRequest asks a peer to allocate (or extend) a ticket for units of a
// resource type over a term.
type TicketRequest struct {
	Key          IdempotencyKey
	ReservationID reservation.ID
	SliceID      reservation.ID
	ResourceType string
	Units        int64
	Term         reservation.Term
}

// TicketReply carries a peer's answer to a TicketRequest. Err is only
// meaningful on the in-process path; HTTPProxy signals failure via the HTTP
// status instead, since error is an interface and can't round-trip through
// JSON.
type TicketReply struct {
	Key   IdempotencyKey
	Term  reservation.Term
	Units int64
	Err   error `json:"-"`
}

// RedeemRequest asks a peer (an authority, reached through a broker) to
// activate a ticketed reservation.
type RedeemRequest struct {
	Key           IdempotencyKey
	ReservationID reservation.ID
	SliceID       reservation.ID
	ResourceType  string
	Units         int64
	Term          reservation.Term
}

// RedeemReply carries a peer's answer to a RedeemRequest. See TicketReply
// for why Err is excluded from the wire format.
type RedeemReply struct {
	Key  IdempotencyKey
	Term reservation.Term
	Err  error `json:"-"`
}

// CloseRequest asks a peer to release a reservation's resources.
type CloseRequest struct {
	Key           IdempotencyKey
	ReservationID reservation.ID
}

// CloseReply carries a peer's answer to a CloseRequest. See TicketReply for
// why Err is excluded from the wire format.
type CloseReply struct {
	Key IdempotencyKey
	Err error `json:"-"`
}

// PeerProxy is the outbound half of the inter-actor protocol: every call an
// actor's kernel makes against a remote peer (typically a controller calling
// a broker, or a broker calling an authority) goes through one of these
// methods. Every request carries an idempotency key so a retried call after
// a dropped reply doesn't double-allocate.
type PeerProxy interface {
	Ticket(ctx context.Context, req TicketRequest) (TicketReply, error)
	ExtendTicket(ctx context.Context, req TicketRequest) (TicketReply, error)
	Redeem(ctx context.Context, req RedeemRequest) (RedeemReply, error)
	ExtendLease(ctx context.Context, req RedeemRequest) (RedeemReply, error)
	Close(ctx context.Context, req CloseRequest) (CloseReply, error)
}

// InProcessProxy wires two actors running in the same process directly
// together: used by tests that want a
// controller/broker/authority chain without standing up HTTP servers. Each
// field is the peer-side handler function, so callers can assemble a proxy
// without InProcessProxy importing domain/actor (which in turn depends on
// this package).
type InProcessProxy struct {
	TicketFn       func(ctx context.Context, req TicketRequest) (TicketReply, error)
	ExtendTicketFn func(ctx context.Context, req TicketRequest) (TicketReply, error)
	RedeemFn       func(ctx context.Context, req RedeemRequest) (RedeemReply, error)
	ExtendLeaseFn  func(ctx context.Context, req RedeemRequest) (RedeemReply, error)
	CloseFn        func(ctx context.Context, req CloseRequest) (CloseReply, error)
}

func (p *InProcessProxy) Ticket(ctx context.Context, req TicketRequest) (TicketReply, error) {
	if p.TicketFn == nil {
		return TicketReply{}, cperrors.UnknownPeer("in-process: no Ticket handler wired")
	}
	return p.TicketFn(ctx, req)
}

func (p *InProcessProxy) ExtendTicket(ctx context.Context, req TicketRequest) (TicketReply, error) {
	if p.ExtendTicketFn == nil {
		return TicketReply{}, cperrors.UnknownPeer("in-process: no ExtendTicket handler wired")
	}
	return p.ExtendTicketFn(ctx, req)
}

func (p *InProcessProxy) Redeem(ctx context.Context, req RedeemRequest) (RedeemReply, error) {
	if p.RedeemFn == nil {
		return RedeemReply{}, cperrors.UnknownPeer("in-process: no Redeem handler wired")
	}
	return p.RedeemFn(ctx, req)
}

func (p *InProcessProxy) ExtendLease(ctx context.Context, req RedeemRequest) (RedeemReply, error) {
	if p.ExtendLeaseFn == nil {
		return RedeemReply{}, cperrors.UnknownPeer("in-process: no ExtendLease handler wired")
	}
	return p.ExtendLeaseFn(ctx, req)
}

func (p *InProcessProxy) Close(ctx context.Context, req CloseRequest) (CloseReply, error) {
	if p.CloseFn == nil {
		return CloseReply{}, cperrors.UnknownPeer("in-process: no Close handler wired")
	}
	return p.CloseFn(ctx, req)
}

// HTTPProxy is the real inter-process transport: it POSTs each request as
// JSON to the peer's api/http surface using plain net/http and
// encoding/json.
type HTTPProxy struct {
	BaseURL string
	// SourceID identifies the actor using this proxy to its peer. A ticket
	// request needs it because the inbound handler (domain/actor.Broker)
	// takes a caller-identified source, which an in-process wiring binds by
	// closure but an HTTP caller has no connection-scoped identity to carry
	// it in otherwise.
	SourceID reservation.ID
	Client   *http.Client
}

// NewHTTPProxy constructs an HTTPProxy against baseURL (e.g.
// "http://broker.example:8080"), using a client with a bounded timeout.
// sourceID is the identity of the actor that owns this proxy, attached to
// every outbound ticket request.
func NewHTTPProxy(baseURL string, sourceID reservation.ID) *HTTPProxy {
	return &HTTPProxy{
		BaseURL:  baseURL,
		SourceID: sourceID,
		Client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *HTTPProxy) postJSON(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return cperrors.Internal("encoding proxy request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return cperrors.Internal("building proxy request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return cperrors.ProtocolTimeout(path, p.BaseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return cperrors.ProtocolRejected(path, p.BaseURL, fmt.Sprintf("peer returned status %d", resp.StatusCode))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return cperrors.Internal("decoding proxy reply", err)
		}
	}
	return nil
}

// ticketEnvelope matches api/http's peerTicketEnvelope wire shape exactly —
// duplicated here rather than imported to avoid an import cycle (api/http
// already imports domain/kernel for the request/reply types themselves).
type ticketEnvelope struct {
	SourceID string        `json:"source_id"`
	Request  TicketRequest `json:"request"`
}

func (p *HTTPProxy) Ticket(ctx context.Context, req TicketRequest) (TicketReply, error) {
	var reply TicketReply
	env := ticketEnvelope{SourceID: p.SourceID.String(), Request: req}
	err := p.postJSON(ctx, "/peer/ticket", env, &reply)
	return reply, err
}

func (p *HTTPProxy) ExtendTicket(ctx context.Context, req TicketRequest) (TicketReply, error) {
	var reply TicketReply
	err := p.postJSON(ctx, "/peer/ticket/extend", req, &reply)
	return reply, err
}

func (p *HTTPProxy) Redeem(ctx context.Context, req RedeemRequest) (RedeemReply, error) {
	var reply RedeemReply
	err := p.postJSON(ctx, "/peer/redeem", req, &reply)
	return reply, err
}

func (p *HTTPProxy) ExtendLease(ctx context.Context, req RedeemRequest) (RedeemReply, error) {
	var reply RedeemReply
	err := p.postJSON(ctx, "/peer/lease/extend", req, &reply)
	return reply, err
}

func (p *HTTPProxy) Close(ctx context.Context, req CloseRequest) (CloseReply, error) {
	var reply CloseReply
	err := p.postJSON(ctx, "/peer/close", req, &reply)
	return reply, err
}

// TicketNotifier is the reverse half of the ticket protocol: a broker's
// processRequest/processExtend settle a demand only on their own actor_tick,
// after the synchronous Ticket/ExtendTicket call has already returned an
// ack-only reply, so the caller that wants the final grant (or denial) needs
// a callback rather than a return value. Controller implements this
// directly via HandleTicketReply.
type TicketNotifier interface {
	TicketReply(ctx context.Context, reply TicketReply) error
}

// TicketNotifierFunc adapts a plain function to TicketNotifier, the same
// pattern http.HandlerFunc uses for http.Handler.
type TicketNotifierFunc func(ctx context.Context, reply TicketReply) error

func (f TicketNotifierFunc) TicketReply(ctx context.Context, reply TicketReply) error {
	return f(ctx, reply)
}

// HTTPTicketNotifier posts a settled ticket reply to a peer's
// /peer/ticket-reply endpoint. Used when the broker granting the ticket and
// the controller awaiting it run as separate processes; in-process wiring
// can instead hand the controller itself (or a TicketNotifierFunc closure)
// straight to Broker.SetNotifier.
type HTTPTicketNotifier struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPTicketNotifier constructs an HTTPTicketNotifier against baseURL
// (the callback-owning actor's own HTTP base, e.g. "http://controller:8080").
func NewHTTPTicketNotifier(baseURL string) *HTTPTicketNotifier {
	return &HTTPTicketNotifier{BaseURL: baseURL, Client: &http.Client{Timeout: 30 * time.Second}}
}

// ticketReplyEnvelope matches api/http's ticketReplyEnvelope wire shape —
// TicketReply.Err is excluded from its own JSON tag since error isn't
// codec-safe, so the denial reason (if any) travels as plain text instead.
type ticketReplyEnvelope struct {
	Key        IdempotencyKey   `json:"key"`
	Term       reservation.Term `json:"term"`
	Units      int64            `json:"units"`
	ErrMessage string           `json:"err_message,omitempty"`
}

func (n *HTTPTicketNotifier) TicketReply(ctx context.Context, reply TicketReply) error {
	env := ticketReplyEnvelope{Key: reply.Key, Term: reply.Term, Units: reply.Units}
	if reply.Err != nil {
		env.ErrMessage = reply.Err.Error()
	}
	body, err := json.Marshal(env)
	if err != nil {
		return cperrors.Internal("encoding ticket reply callback", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.BaseURL+"/peer/ticket-reply", bytes.NewReader(body))
	if err != nil {
		return cperrors.Internal("building ticket reply callback", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		return cperrors.ProtocolTimeout("/peer/ticket-reply", n.BaseURL)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return cperrors.ProtocolRejected("/peer/ticket-reply", n.BaseURL, fmt.Sprintf("peer returned status %d", resp.StatusCode))
	}
	return nil
}

// RedeemNotifier is the reverse half of the redeem protocol, mirroring
// TicketNotifier: an authority settles a redeem only on its own actor_tick,
// after the synchronous Redeem call has already returned an ack-only reply,
// so the actor awaiting the lease needs a callback rather than a return
// value. Controller implements this directly via HandleRedeemReply.
type RedeemNotifier interface {
	RedeemReply(ctx context.Context, reply RedeemReply) error
}

// RedeemNotifierFunc adapts a plain function to RedeemNotifier.
type RedeemNotifierFunc func(ctx context.Context, reply RedeemReply) error

func (f RedeemNotifierFunc) RedeemReply(ctx context.Context, reply RedeemReply) error {
	return f(ctx, reply)
}

// HTTPRedeemNotifier posts a settled redeem reply to a peer's
// /peer/redeem-reply endpoint, the redeem-leg counterpart of
// HTTPTicketNotifier.
type HTTPRedeemNotifier struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPRedeemNotifier constructs an HTTPRedeemNotifier against baseURL (the
// callback-owning actor's own HTTP base).
func NewHTTPRedeemNotifier(baseURL string) *HTTPRedeemNotifier {
	return &HTTPRedeemNotifier{BaseURL: baseURL, Client: &http.Client{Timeout: 30 * time.Second}}
}

// redeemReplyEnvelope matches api/http's redeemReplyEnvelope wire shape; like
// ticketReplyEnvelope, the failure reason travels as plain text since error
// isn't codec-safe.
type redeemReplyEnvelope struct {
	Key        IdempotencyKey   `json:"key"`
	Term       reservation.Term `json:"term"`
	ErrMessage string           `json:"err_message,omitempty"`
}

func (n *HTTPRedeemNotifier) RedeemReply(ctx context.Context, reply RedeemReply) error {
	env := redeemReplyEnvelope{Key: reply.Key, Term: reply.Term}
	if reply.Err != nil {
		env.ErrMessage = reply.Err.Error()
	}
	body, err := json.Marshal(env)
	if err != nil {
		return cperrors.Internal("encoding redeem reply callback", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.BaseURL+"/peer/redeem-reply", bytes.NewReader(body))
	if err != nil {
		return cperrors.Internal("building redeem reply callback", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		return cperrors.ProtocolTimeout("/peer/redeem-reply", n.BaseURL)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return cperrors.ProtocolRejected("/peer/redeem-reply", n.BaseURL, fmt.Sprintf("peer returned status %d", resp.StatusCode))
	}
	return nil
}
