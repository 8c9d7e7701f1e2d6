// Command brokerd runs a single Broker actor: it admits ticket requests
// from controllers against the capacity it has itself been granted by an
// upstream authority (or parent broker), reached over HTTP, and forwards
// redeem/extend-lease/close traffic through once a ticket matures.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	apihttp "github.com/R3E-Network/testbed-control-plane/api/http"
	"github.com/R3E-Network/testbed-control-plane/api/ws"
	"github.com/R3E-Network/testbed-control-plane/domain/actor"
	"github.com/R3E-Network/testbed-control-plane/domain/kernel"
	"github.com/R3E-Network/testbed-control-plane/domain/policy"
	"github.com/R3E-Network/testbed-control-plane/domain/registry"
	"github.com/R3E-Network/testbed-control-plane/domain/reservation"
	"github.com/R3E-Network/testbed-control-plane/infrastructure/config"
	"github.com/R3E-Network/testbed-control-plane/infrastructure/logging"
	"github.com/R3E-Network/testbed-control-plane/infrastructure/metrics"
	"github.com/R3E-Network/testbed-control-plane/infrastructure/ratelimit"
	"github.com/R3E-Network/testbed-control-plane/infrastructure/store/cache"
	"github.com/R3E-Network/testbed-control-plane/infrastructure/store/memstore"
	"github.com/R3E-Network/testbed-control-plane/infrastructure/store/postgres"
	"github.com/R3E-Network/testbed-control-plane/internal/clock"
	"github.com/R3E-Network/testbed-control-plane/internal/tick"
)

func main() {
	logger := logging.NewFromEnv("brokerd")
	m := metrics.New("brokerd")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clockCfg := config.LoadClockConfig(time.Now().UnixMilli())
	clk, err := clock.New(clockCfg.BeginningOfTimeMs, clockCfg.CycleMs)
	if err != nil {
		logger.Fatal(ctx, "invalid clock configuration", err)
	}

	store, brokerStore, closeStore, err := openStore(ctx, logger)
	if err != nil {
		logger.Fatal(ctx, "open store", err)
	}
	defer closeStore()

	reg := registry.New(brokerStore)
	if err := reg.LoadFromStore(ctx); err != nil {
		logger.Fatal(ctx, "load peer registry", err)
	}

	brokerID, err := actorID("BROKER_ID")
	if err != nil {
		logger.Fatal(ctx, "invalid BROKER_ID", err)
	}
	name := config.GetEnv("BROKER_NAME", "broker-1")
	resourceType := config.GetEnv("BROKER_RESOURCE_TYPE", "vm")
	authorityEndpoint := config.GetEnv("AUTHORITY_ENDPOINT", "http://localhost:8081")
	upstream := kernel.NewHTTPProxy(authorityEndpoint, brokerID)

	deps := actor.Deps{
		Clock:    clk,
		Logger:   logger,
		Store:    store,
		Registry: reg,
		Policy:   policy.NewDefaultPolicy(),
	}
	broker := actor.NewBroker(brokerID, name, resourceType, upstream, deps)

	if err := addSourcesFromEnv(broker); err != nil {
		logger.Fatal(ctx, "invalid BROKER_SOURCES", err)
	}
	if notifyURL := config.GetEnv("BROKER_NOTIFY_URL", ""); notifyURL != "" {
		broker.SetNotifier(kernel.NewHTTPTicketNotifier(notifyURL))
	}

	if err := broker.Recover(ctx); err != nil {
		logger.Fatal(ctx, "recover broker state", err)
	}
	if err := broker.Start(); err != nil {
		logger.Fatal(ctx, "start broker", err)
	}
	defer broker.Stop()

	tickSvc := tick.NewService(clk, logger)
	tickSvc.Register(name, broker)
	if err := tickSvc.StartAutomatic(ctx, time.Duration(clockCfg.CycleMs)*time.Millisecond); err != nil {
		logger.Fatal(ctx, "start tick service", err)
	}
	defer tickSvc.StopAutomatic()

	sweeper := cron.New()
	sweepSpec := config.GetEnv("BROKER_SWEEP_CRON", "@every 1m")
	if _, err := sweeper.AddFunc(sweepSpec, func() {
		logBacklog(ctx, logger, broker)
	}); err != nil {
		logger.Fatal(ctx, "schedule backlog sweep", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	peer := &apihttp.PeerRouter{
		TicketFn:       broker.HandleTicket,
		ExtendTicketFn: broker.HandleExtendTicket,
		RedeemFn:       broker.HandleRedeem,
		ExtendLeaseFn:  broker.HandleExtendLease,
		CloseFn:        broker.HandleClose,
	}
	limiter := ratelimit.New(ratelimit.DefaultConfig())
	router := apihttp.NewRouter("brokerd", nil, peer, logger, m, limiter)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	feed := ws.NewFeed(broker, 2*time.Second)
	router.HandleFunc("/ws", feed.HandleWebSocket)
	go feed.Run(ctx)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.GetPort(8082)),
		Handler:      router,
		ReadTimeout:  config.GetDefaultTimeouts().HTTP,
		WriteTimeout: config.GetDefaultTimeouts().HTTP,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "http server failed", err)
		}
	}()
	logger.Info(ctx, "brokerd started", map[string]interface{}{
		"broker_id":          brokerID.String(),
		"resource":           resourceType,
		"authority_endpoint": authorityEndpoint,
		"addr":               srv.Addr,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info(ctx, "shutting down", nil)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "graceful shutdown failed", err, nil)
	}
}

// openStore selects infrastructure/store/postgres when DATABASE_URL is set,
// otherwise falls back to the in-memory store. See cmd/authorityd's copy of
// this function for the REDIS_ADDR caching behavior.
func openStore(ctx context.Context, logger *logging.Logger) (kernel.Store, registry.BrokerStore, func(), error) {
	dsn := config.GetEnv("DATABASE_URL", "")
	if dsn == "" {
		logger.Info(ctx, "DATABASE_URL not set, using in-memory store", nil)
		store := memstore.New()
		return store, store, func() {}, nil
	}

	if err := postgres.Migrate(dsn); err != nil {
		return nil, nil, nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open: %w", err)
	}
	store := postgres.New(db)
	closeFn := func() { _ = db.Close() }

	if redisAddr := config.GetEnv("REDIS_ADDR", ""); redisAddr != "" {
		client := cache.NewClient(redisAddr)
		return store, cache.NewProxyCache(client, store, 30*time.Second), closeFn, nil
	}
	return store, store, closeFn, nil
}

func actorID(envVar string) (reservation.ID, error) {
	raw := config.GetEnv(envVar, "")
	if raw == "" {
		return reservation.NewID(), nil
	}
	return reservation.ParseID(raw)
}

// addSourcesFromEnv registers every "source_id=capacity" pair in
// BROKER_SOURCES, e.g. "11111111-...=100,22222222-...=50".
func addSourcesFromEnv(broker *actor.Broker) error {
	raw := config.GetEnv("BROKER_SOURCES", "")
	if raw == "" {
		return nil
	}
	for _, pair := range config.SplitAndTrimCSV(raw) {
		idRaw, capRaw, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("malformed BROKER_SOURCES entry %q, want source_id=capacity", pair)
		}
		sourceID, err := reservation.ParseID(strings.TrimSpace(idRaw))
		if err != nil {
			return fmt.Errorf("BROKER_SOURCES entry %q: %w", pair, err)
		}
		capacity, err := strconv.ParseInt(strings.TrimSpace(capRaw), 10, 64)
		if err != nil {
			return fmt.Errorf("BROKER_SOURCES entry %q: %w", pair, err)
		}
		broker.AddSource(sourceID, capacity)
	}
	return nil
}

func logBacklog(ctx context.Context, logger *logging.Logger, broker *actor.Broker) {
	logger.Info(ctx, "broker backlog", map[string]interface{}{
		"tracked_reservations": len(broker.ListReservations()),
		"tracked_slices":       len(broker.ListSlices()),
	})
}
