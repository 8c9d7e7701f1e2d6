// Command authorityd runs a single Authority actor: it owns the physical
// inventory of one resource type and answers redeem/extend-lease/close
// calls from brokers (or an unbrokered controller) over HTTP, driven by its
// own wall-clock tick loop.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	apihttp "github.com/R3E-Network/testbed-control-plane/api/http"
	"github.com/R3E-Network/testbed-control-plane/api/ws"
	"github.com/R3E-Network/testbed-control-plane/domain/actor"
	"github.com/R3E-Network/testbed-control-plane/domain/kernel"
	"github.com/R3E-Network/testbed-control-plane/domain/policy"
	"github.com/R3E-Network/testbed-control-plane/domain/reservation"
	"github.com/R3E-Network/testbed-control-plane/domain/registry"
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
	logger := logging.NewFromEnv("authorityd")
	m := metrics.New("authorityd")
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

	authorityID, err := actorID("AUTHORITY_ID")
	if err != nil {
		logger.Fatal(ctx, "invalid AUTHORITY_ID", err)
	}
	name := config.GetEnv("AUTHORITY_NAME", "authority-1")
	resourceType := config.GetEnv("AUTHORITY_RESOURCE_TYPE", "vm")
	totalCapacity := config.GetEnvInt64("AUTHORITY_TOTAL_CAPACITY", 1000)

	deps := actor.Deps{
		Clock:    clk,
		Logger:   logger,
		Store:    store,
		Registry: reg,
		Policy:   policy.NewDefaultPolicy(),
	}
	authority := actor.NewAuthority(authorityID, name, resourceType, totalCapacity, deps)

	if notifyURL := config.GetEnv("AUTHORITY_NOTIFY_URL", ""); notifyURL != "" {
		authority.SetNotifier(kernel.NewHTTPRedeemNotifier(notifyURL))
	}

	if err := authority.Recover(ctx); err != nil {
		logger.Fatal(ctx, "recover authority state", err)
	}
	if err := authority.Start(); err != nil {
		logger.Fatal(ctx, "start authority", err)
	}
	defer authority.Stop()

	tickSvc := tick.NewService(clk, logger)
	tickSvc.Register(name, authority)
	if err := tickSvc.StartAutomatic(ctx, time.Duration(clockCfg.CycleMs)*time.Millisecond); err != nil {
		logger.Fatal(ctx, "start tick service", err)
	}
	defer tickSvc.StopAutomatic()

	reconciler := cron.New()
	reconcileSpec := config.GetEnv("AUTHORITY_RECONCILE_CRON", "@every 1m")
	if _, err := reconciler.AddFunc(reconcileSpec, func() {
		logReconciliation(ctx, logger, authority, totalCapacity)
	}); err != nil {
		logger.Fatal(ctx, "schedule reconciliation job", err)
	}
	reconciler.Start()
	defer reconciler.Stop()

	peer := &apihttp.PeerRouter{
		RedeemFn:      authority.HandleRedeem,
		ExtendLeaseFn: authority.HandleExtendLease,
		CloseFn:       authority.HandleClose,
	}
	limiter := ratelimit.New(ratelimit.DefaultConfig())
	router := apihttp.NewRouter("authorityd", nil, peer, logger, m, limiter)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	feed := ws.NewFeed(authority, 2*time.Second)
	router.HandleFunc("/ws", feed.HandleWebSocket)
	go feed.Run(ctx)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.GetPort(8081)),
		Handler:      router,
		ReadTimeout:  config.GetDefaultTimeouts().HTTP,
		WriteTimeout: config.GetDefaultTimeouts().HTTP,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "http server failed", err)
		}
	}()
	logger.Info(ctx, "authorityd started", map[string]interface{}{
		"authority_id": authorityID.String(),
		"resource":     resourceType,
		"capacity":     totalCapacity,
		"addr":         srv.Addr,
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
// otherwise falls back to the in-memory store (single-process demo/dev
// mode). It returns the store used for reservation/slice persistence plus a
// separate registry.BrokerStore: when REDIS_ADDR is set this is
// infrastructure/store/cache.ProxyCache fronting the same store, so broker
// lookups under load don't all hit Postgres.
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

func logReconciliation(ctx context.Context, logger *logging.Logger, authority *actor.Authority, totalCapacity int64) {
	outlays := authority.Calendar().AllOutlays()
	var used int64
	for _, r := range outlays {
		used += r.Resources().Units
	}
	logger.Info(ctx, "inventory reconciliation", map[string]interface{}{
		"outlays":        len(outlays),
		"units_in_use":   used,
		"total_capacity": totalCapacity,
		"utilization_pc": strconv.FormatFloat(float64(used)/float64(totalCapacity)*100, 'f', 1, 64),
	})
}
