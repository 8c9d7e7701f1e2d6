package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/R3E-Network/testbed-control-plane/domain/kernel"
	"github.com/R3E-Network/testbed-control-plane/domain/reservation"
	"github.com/R3E-Network/testbed-control-plane/infrastructure/logging"
)

func TestPeerRouterOnlyMountsConfiguredEndpoints(t *testing.T) {
	peer := &PeerRouter{
		CloseFn: func(ctx context.Context, req kernel.CloseRequest) (kernel.CloseReply, error) {
			return kernel.CloseReply{Key: req.Key}, nil
		},
	}
	router := NewRouter("peer", nil, peer, logging.New("test", "error", "text"), nil, nil)

	body, _ := json.Marshal(kernel.CloseRequest{ReservationID: reservation.NewID()})
	req := httptest.NewRequest("POST", "/peer/close", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("/peer/close status = %d, body = %s", rec.Code, rec.Body.String())
	}

	req2 := httptest.NewRequest("POST", "/peer/redeem", bytes.NewReader(body))
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	if rec2.Code != 404 {
		t.Fatalf("/peer/redeem status = %d, want 404 since RedeemFn was never set", rec2.Code)
	}
}

func TestPeerRouterHandleTicket(t *testing.T) {
	sourceID := reservation.NewID()
	resID := reservation.NewID()
	peer := &PeerRouter{
		TicketFn: func(ctx context.Context, src reservation.ID, req kernel.TicketRequest) (kernel.TicketReply, error) {
			if !src.Equal(sourceID) {
				t.Fatalf("source id = %v, want %v", src, sourceID)
			}
			return kernel.TicketReply{Key: req.Key, Units: req.Units}, nil
		},
	}
	router := NewRouter("peer", nil, peer, logging.New("test", "error", "text"), nil, nil)

	body, _ := json.Marshal(peerTicketEnvelope{
		SourceID: sourceID.String(),
		Request: kernel.TicketRequest{
			Key:           kernel.IdempotencyKey{ReservationID: resID, Generation: 1},
			ReservationID: resID,
			ResourceType:  "vm",
			Units:         4,
		},
	})

	req := httptest.NewRequest("POST", "/peer/ticket", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var reply kernel.TicketReply
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Units != 4 {
		t.Fatalf("Units = %d, want 4", reply.Units)
	}
}
