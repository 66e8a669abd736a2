package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/admin"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/advice"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/alert"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/circuitbreaker"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/config"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/domain/model"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/events"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/identity"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/ledger"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/ledger/localfile"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/ledger/postgres"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/orchestrator"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/quote"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/relay"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/tracing"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/vault"
)

const (
	migrationsDir      = "migrations"
	shutdownGrace      = 15 * time.Second
	simulatedRelayLag  = 200 * time.Millisecond
	breakerAlertWindow = 10 * time.Second
)

func main() {
	logLevel := slog.LevelInfo
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting jetswap swapd",
		"admin_port", cfg.Admin.Port,
		"relay_endpoint", cfg.Relay.Endpoint,
		"relay_simulate", cfg.Relay.Simulate,
		"escrow_mode", cfg.Vault.EscrowMode,
		"redis_configured", cfg.Redis.URL != "",
		"admin_emails", len(cfg.Admin.AdminEmails),
	)

	shutdownTracing, err := tracing.Init(context.Background(), "jetswap-swapd", cfg.Tracing.OTLPEndpoint, cfg.Tracing.Insecure)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()
	if cfg.Tracing.OTLPEndpoint != "" {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.OTLPEndpoint)
	}

	db, err := postgres.New(postgres.Config{
		URL:             cfg.DB.URL,
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database")

	if err := db.RunMigrations(migrationsDir); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	alerter := buildAlerter(cfg, logger)

	store, breaker, err := assembleLedger(db, cfg, alerter, logger)
	if err != nil {
		logger.Error("failed to assemble ledger", "error", err)
		os.Exit(1)
	}
	userRepo := postgres.NewUserRepo(db)

	publisher, closePublisher, err := buildPublisher(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize status event transport", "error", err, "redis_url", cfg.Redis.URL)
		os.Exit(1)
	}
	defer closePublisher()

	var escrow vault.KeyEscrow
	switch cfg.Vault.EscrowMode {
	case "memory":
		escrow = vault.NewMemoryEscrow()
	case "discard":
		escrow = vault.DiscardEscrow{}
	}
	vaultSvc := vault.NewService(escrow, cfg.Vault.CustodianID, logger)

	var relayer relay.Client
	if cfg.Relay.Simulate {
		logger.Warn("relay simulation enabled; no real transfers will occur")
		relayer = simulatedRelayer{lag: simulatedRelayLag}
	} else {
		relayer = relay.NewHTTPClient(cfg.Relay.Endpoint, cfg.Relay.Timeout)
	}

	orch := orchestrator.New(store, vaultSvc, relayer, approveAuthorizer{}, orchestrator.Config{
		ConfirmTimeout:      cfg.Orchestrator.ConfirmTimeout,
		RelayAttempts:       cfg.Orchestrator.RelayAttempts,
		RelayBackoffInitial: cfg.Orchestrator.RelayBackoff,
		RelayDeadline:       cfg.Orchestrator.RelayDeadline,
		MaxResidency:        cfg.Orchestrator.MaxResidency,
	}, logger,
		orchestrator.WithPublisher(publisher),
		orchestrator.WithAlerter(alerter),
	)

	profiles := identity.NewProfileSync(userRepo, identity.NewAllowList(cfg.Admin.AdminEmails), logger)
	adviser := advice.NewClient(cfg.Advice.Endpoint, cfg.Advice.Timeout, logger)

	rateLimiter := admin.NewRateLimitMiddleware(logger, cfg.Admin.RateLimit, cfg.Admin.RateBurst)
	defer rateLimiter.Stop()

	adminServer := admin.NewServer(store, orch, logger,
		admin.WithUserStore(userRepo),
		admin.WithHealthProvider(processHealth{breaker: breaker, started: time.Now()}),
	)
	adminHandler := rateLimiter.Wrap(admin.AuditMiddleware(logger, adminServer.Handler()))

	rootMux := http.NewServeMux()
	rootMux.Handle("/admin/v1/", adminHandler)
	rootMux.Handle("/metrics", promhttp.Handler())
	rootMux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runHTTPServer(gCtx, cfg.Admin.Port, rootMux, logger)
	})

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if cfg.Relay.Simulate {
		g.Go(func() error {
			runSimulatedSwap(gCtx, orch, profiles, adviser, logger)
			return nil
		})
	}

	err = g.Wait()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), shutdownGrace)
	if shutdownErr := orch.Shutdown(drainCtx); shutdownErr != nil {
		logger.Warn("orchestrator drain incomplete", "error", shutdownErr)
	}
	drainCancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("swapd exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("swapd shut down gracefully")
}

// buildAlerter wires the configured alert channels behind the cooldown
// fan-out. With no channels configured alerts only reach the log.
func buildAlerter(cfg *config.Config, logger *slog.Logger) alert.Alerter {
	var channels []alert.Alerter
	if cfg.Alert.SlackWebhookURL != "" {
		channels = append(channels, alert.NewSlackAlerter(cfg.Alert.SlackWebhookURL))
	}
	if cfg.Alert.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookAlerter(cfg.Alert.WebhookURL))
	}
	if len(channels) == 0 {
		return &alert.NoopAlerter{}
	}
	return alert.NewMultiAlerter(cfg.Alert.Cooldown, logger, channels...)
}

// assembleLedger stacks the durable tiers: postgres behind the retry
// wrapper, then the failover layer with the bounded local history log
// and the circuit breaker. Breaker edges raise ledger alerts.
func assembleLedger(db *postgres.DB, cfg *config.Config, alerter alert.Alerter, logger *slog.Logger) (ledger.Ledger, *circuitbreaker.Breaker, error) {
	local, err := localfile.New(cfg.Ledger.FallbackPath, localfile.DefaultMaxRecords)
	if err != nil {
		return nil, nil, fmt.Errorf("open local history log: %w", err)
	}

	breaker := circuitbreaker.New(circuitbreaker.Config{
		OpenFor: cfg.Ledger.BreakerOpenFor,
		OnStateChange: func(from, to circuitbreaker.State) {
			logger.Warn("ledger breaker state changed", "from", from.String(), "to", to.String())
			go notifyBreakerEdge(alerter, from, to)
		},
	})

	retrying := ledger.NewRetrying(postgres.NewSwapRepo(db), logger,
		ledger.WithRetryBudget(cfg.Ledger.RetryAttempts),
		ledger.WithBackoff(cfg.Ledger.RetryBackoff, 0),
	)

	return ledger.NewFailover(retrying, local, breaker, logger), breaker, nil
}

func notifyBreakerEdge(alerter alert.Alerter, from, to circuitbreaker.State) {
	ctx, cancel := context.WithTimeout(context.Background(), breakerAlertWindow)
	defer cancel()

	switch {
	case to == circuitbreaker.StateOpen:
		_ = alerter.Send(ctx, alert.Alert{
			Type:    alert.AlertTypeLedgerDown,
			Scope:   "ledger",
			Title:   "Ledger unavailable",
			Message: "Primary record store breaker opened; reads degrade to local history and new submissions fail closed.",
		})
	case from != circuitbreaker.StateClosed && to == circuitbreaker.StateClosed:
		_ = alerter.Send(ctx, alert.Alert{
			Type:    alert.AlertTypeLedgerRecovered,
			Scope:   "ledger",
			Title:   "Ledger recovered",
			Message: "Primary record store breaker closed; normal serving resumed.",
		})
	}
}

func buildPublisher(cfg *config.Config, logger *slog.Logger) (events.Publisher, func(), error) {
	if cfg.Redis.URL == "" {
		logger.Info("redis not configured; status events stay in process")
		return events.NewMemory(), func() {}, nil
	}

	stream, err := events.NewRedisStream(cfg.Redis.URL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("status events publishing to redis stream")
	return stream, func() {
		if err := stream.Close(); err != nil {
			logger.Warn("redis stream close error", "error", err)
		}
	}, nil
}

func runHTTPServer(ctx context.Context, port int, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// processHealth reports serving health for the admin health endpoint.
type processHealth struct {
	breaker *circuitbreaker.Breaker
	started time.Time
}

func (p processHealth) HealthSnapshot() any {
	status := "ok"
	if p.breaker != nil && p.breaker.State() != circuitbreaker.StateClosed {
		status = "degraded"
	}
	snapshot := map[string]string{
		"status": status,
		"uptime": time.Since(p.started).Round(time.Second).String(),
	}
	if p.breaker != nil {
		snapshot["ledger_breaker"] = p.breaker.State().String()
	}
	return snapshot
}

// approveAuthorizer accepts every intent; wallet signature checks run
// in the session layer in front of this service.
// TODO: replace with the confirmation service client once its endpoint
// is finalized.
type approveAuthorizer struct{}

func (approveAuthorizer) Authorize(ctx context.Context, _ model.SwapIntent) error {
	return ctx.Err()
}

// simulatedRelayer settles every relay after a short fixed lag. Local
// development only.
type simulatedRelayer struct {
	lag time.Duration
}

func (s simulatedRelayer) Relay(ctx context.Context, req relay.Request) (relay.Receipt, error) {
	select {
	case <-ctx.Done():
		return relay.Receipt{}, ctx.Err()
	case <-time.After(s.lag):
	}
	return relay.Receipt{
		IdempotencyKey: req.IdempotencyKey,
		DestTxHash:     "0xsim-" + req.IdempotencyKey.String()[:8],
		SettledAt:      time.Now().UTC(),
	}, nil
}

// runSimulatedSwap drives one swap end to end so a local run exercises
// the full path: profile sync, quote, submit, watch to terminal, and
// the advice collaborator.
func runSimulatedSwap(ctx context.Context, orch *orchestrator.Orchestrator, profiles *identity.ProfileSync, adviser *advice.Client, logger *slog.Logger) {
	log := logger.With("component", "simulate")

	profile, err := profiles.Sync(ctx, model.UserProfile{
		ID:         "sim-user",
		Method:     model.AuthMethodWallet,
		Identifier: "0xsim",
		Name:       "Simulation User",
	})
	if err != nil {
		log.Warn("profile sync degraded", "error", err)
	}

	intent := model.SwapIntent{
		UserID:      profile.ID,
		SourceChain: model.ChainEthereum,
		DestChain:   model.ChainArbitrum,
		SourceToken: model.TokenETH,
		DestToken:   model.TokenARB,
		Amount:      "1.5",
	}

	engine := quote.NewEngine(quote.DefaultRates())
	q, err := engine.Quote(ctx, intent.Route(), intent.SourceToken, intent.DestToken, intent.Amount)
	if err != nil {
		log.Error("quote failed", "error", err)
		return
	}
	log.Info("quoted simulated swap",
		"amount", q.Amount,
		"estimated_output", q.EstimatedOutput,
		"fee", q.Fee,
		"expires_at", q.ExpiresAt,
	)

	id, err := orch.Submit(ctx, intent, q)
	if err != nil {
		log.Error("submit failed", "error", err)
		return
	}

	watch, err := orch.WatchStatus(id)
	if err != nil {
		log.Error("watch failed", "swap_id", id, "error", err)
		return
	}
	for status := range watch {
		log.Info("simulated swap status", "swap_id", id, "status", status.String())
	}

	log.Info("route advice", "text", adviser.Advice(ctx, intent.SourceChain, intent.DestChain, intent.SourceToken))
}
