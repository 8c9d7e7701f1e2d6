package http

import (
	"github.com/gorilla/mux"

	"github.com/R3E-Network/testbed-control-plane/infrastructure/logging"
	"github.com/R3E-Network/testbed-control-plane/infrastructure/metrics"
	"github.com/R3E-Network/testbed-control-plane/infrastructure/ratelimit"
)

// NewRouter assembles a *mux.Router for one daemon: mgmt is non-nil only on
// the controller daemon, peer is non-nil on whichever roles accept inbound
// protocol calls or replies (all three daemons pass one; the controller's
// carries only the ticket-reply and redeem-reply legs). serviceName labels the HTTP metrics
// so one dashboard can split traffic by daemon. limiter is optional; pass
// nil to run unbounded.
func NewRouter(serviceName string, mgmt *ManagementRouter, peer *PeerRouter, logger *logging.Logger, m *metrics.Metrics, limiter *ratelimit.RateLimiter) *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware(logger))
	if m != nil {
		r.Use(metricsMiddleware(serviceName, m))
	}
	if limiter != nil {
		r.Use(rateLimitMiddleware(limiter))
	}

	if mgmt != nil {
		mgmt.Mount(r)
	}
	if peer != nil {
		peer.Mount(r)
	}

	r.HandleFunc("/healthz", handleHealthz).Methods("GET")
	return r
}
