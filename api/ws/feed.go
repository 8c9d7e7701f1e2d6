// Package ws is a read-only event feed over WebSocket, streaming
// reservation state-transition notices to management dashboards —
// supplementing api/http's poll-based reservation and slice reads with
// push semantics.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/R3E-Network/testbed-control-plane/domain/reservation"
)

// ReservationLister is the read-only surface the feed polls — satisfied by
// domain/actor.Base (embedded by Authority/Broker/Controller alike), kept
// minimal here so this package doesn't import domain/actor.
type ReservationLister interface {
	ListReservations() []*reservation.Reservation
}

// NoticeEvent is one wire message pushed to a connected client: a single
// new notice appended to a reservation's log since the feed's last poll.
type NoticeEvent struct {
	ReservationID string    `json:"reservation_id"`
	State         string    `json:"state"`
	Kind          string    `json:"kind"`
	Message       string    `json:"message"`
	At            time.Time `json:"at"`
}

// Feed polls an actor's reservation index on an interval and fans out any
// newly appended notices to every connected WebSocket client.
type Feed struct {
	source   ReservationLister
	interval time.Duration
	upgrader websocket.Upgrader

	mu      sync.Mutex
	seen    map[reservation.ID]int
	clients map[*websocket.Conn]chan NoticeEvent
}

// NewFeed constructs a Feed polling source every interval (the same cadence
// a management dashboard would otherwise poll get_reservations at).
func NewFeed(source ReservationLister, interval time.Duration) *Feed {
	if interval <= 0 {
		interval = time.Second
	}
	return &Feed{
		source:   source,
		interval: interval,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		seen:     make(map[reservation.ID]int),
		clients:  make(map[*websocket.Conn]chan NoticeEvent),
	}
}

// Run polls source until ctx is canceled, broadcasting new notices to every
// connected client. Call once, in its own goroutine, per daemon.
func (f *Feed) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.poll()
		}
	}
}

func (f *Feed) poll() {
	for _, r := range f.source.ListReservations() {
		notices := r.Notices()
		f.mu.Lock()
		already := f.seen[r.ID()]
		if already >= len(notices) {
			f.mu.Unlock()
			continue
		}
		fresh := notices[already:]
		f.seen[r.ID()] = len(notices)
		f.mu.Unlock()

		for _, n := range fresh {
			f.broadcast(NoticeEvent{
				ReservationID: r.ID().String(),
				State:         r.State().String(),
				Kind:          string(n.Kind),
				Message:       n.Message,
				At:            n.At,
			})
		}
	}
}

func (f *Feed) broadcast(evt NoticeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.clients {
		select {
		case ch <- evt:
		default:
			// slow client: drop rather than block the poll loop.
		}
	}
}

// HandleWebSocket upgrades the connection and streams NoticeEvents until the
// client disconnects. It is read-only: any inbound message from the client
// is ignored beyond detecting the connection close.
func (f *Feed) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := make(chan NoticeEvent, 32)
	f.mu.Lock()
	f.clients[conn] = ch
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		delete(f.clients, conn)
		f.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go f.drainClient(conn, cancel)

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-ch:
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}
}

// drainClient reads (and discards) inbound frames so the connection's
// read deadline/ping-pong machinery keeps functioning, and cancels ctx once
// the client goes away.
func (f *Feed) drainClient(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
