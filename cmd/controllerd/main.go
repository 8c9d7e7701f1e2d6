// Command controllerd runs a single Controller actor: the experimenter-
// facing role that issues demand/extend/close calls against brokers over
// HTTP and exposes the management REST surface (api/http.ManagementRouter)
// used by CLI/UI clients.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
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
	logger := logging.NewFromEnv("controllerd")
	m := metrics.New("controllerd")
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

	controllerID, err := actorID("CONTROLLER_ID")
	if err != nil {
		logger.Fatal(ctx, "invalid CONTROLLER_ID", err)
	}
	name := config.GetEnv("CONTROLLER_NAME", "controller-1")

	deps := actor.Deps{
		Clock:    clk,
		Logger:   logger,
		Store:    store,
		Registry: reg,
		Policy:   policy.NewDefaultPolicy(),
	}
	controller := actor.NewController(controllerID, name, deps)

	if err := registerBrokersFromEnv(ctx, controller, reg, controllerID); err != nil {
		logger.Fatal(ctx, "invalid CONTROLLER_BROKERS", err)
	}

	if err := controller.Recover(ctx); err != nil {
		logger.Fatal(ctx, "recover controller state", err)
	}
	if err := controller.Start(); err != nil {
		logger.Fatal(ctx, "start controller", err)
	}
	defer controller.Stop()

	tickSvc := tick.NewService(clk, logger)
	tickSvc.Register(name, controller)
	if err := tickSvc.StartAutomatic(ctx, time.Duration(clockCfg.CycleMs)*time.Millisecond); err != nil {
		logger.Fatal(ctx, "start tick service", err)
	}
	defer tickSvc.StopAutomatic()

	sweeper := cron.New()
	sweepSpec := config.GetEnv("CONTROLLER_SWEEP_CRON", "@every 1m")
	if _, err := sweeper.AddFunc(sweepSpec, func() {
		logBacklog(ctx, logger, controller)
	}); err != nil {
		logger.Fatal(ctx, "schedule backlog sweep", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	mgmt := &apihttp.ManagementRouter{Controller: controller}
	peer := &apihttp.PeerRouter{
		TicketReplyFn: controller.HandleTicketReply,
		RedeemReplyFn: controller.HandleRedeemReply,
	}
	limiter := ratelimit.New(ratelimit.DefaultConfig())
	router := apihttp.NewRouter("controllerd", mgmt, peer, logger, m, limiter)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	feed := ws.NewFeed(controller, 2*time.Second)
	router.HandleFunc("/ws", feed.HandleWebSocket)
	go feed.Run(ctx)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.GetPort(8080)),
		Handler:      router,
		ReadTimeout:  config.GetDefaultTimeouts().HTTP,
		WriteTimeout: config.GetDefaultTimeouts().HTTP,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "http server failed", err)
		}
	}()
	logger.Info(ctx, "controllerd started", map[string]interface{}{
		"controller_id": controllerID.String(),
		"addr":          srv.Addr,
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

// registerBrokersFromEnv wires one kernel.HTTPProxy per "broker_id=endpoint"
// pair in CONTROLLER_BROKERS, e.g.
// "11111111-...=http://broker-a:8082,22222222-...=http://broker-b:8082",
// both binding the proxy on the controller side and persisting the handle
// to the peer registry so it survives a restart.
func registerBrokersFromEnv(ctx context.Context, controller *actor.Controller, reg *registry.PeerRegistry, controllerID reservation.ID) error {
	raw := config.GetEnv("CONTROLLER_BROKERS", "")
	if raw == "" {
		return nil
	}
	for _, pair := range config.SplitAndTrimCSV(raw) {
		idRaw, endpoint, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("malformed CONTROLLER_BROKERS entry %q, want broker_id=endpoint", pair)
		}
		brokerID, err := reservation.ParseID(strings.TrimSpace(idRaw))
		if err != nil {
			return fmt.Errorf("CONTROLLER_BROKERS entry %q: %w", pair, err)
		}
		endpoint = strings.TrimSpace(endpoint)
		controller.RegisterBroker(brokerID, kernel.NewHTTPProxy(endpoint, controllerID))
		if err := reg.AddBroker(ctx, registry.ProxyHandle{GUID: brokerID, Endpoint: endpoint}); err != nil {
			return fmt.Errorf("persisting broker %q: %w", pair, err)
		}
	}
	return nil
}

func logBacklog(ctx context.Context, logger *logging.Logger, controller *actor.Controller) {
	logger.Info(ctx, "controller backlog", map[string]interface{}{
		"tracked_reservations": len(controller.ListReservations()),
		"tracked_slices":       len(controller.ListSlices()),
	})
}
