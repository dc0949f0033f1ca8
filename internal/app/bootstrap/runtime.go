package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	cacheadapter "github.com/gearmarket/escrow-service/internal/adapters/cache"
	directoryadapter "github.com/gearmarket/escrow-service/internal/adapters/directory"
	eventadapter "github.com/gearmarket/escrow-service/internal/adapters/events"
	grpcadapter "github.com/gearmarket/escrow-service/internal/adapters/grpc"
	httpadapter "github.com/gearmarket/escrow-service/internal/adapters/http"
	"github.com/gearmarket/escrow-service/internal/adapters/memory"
	"github.com/gearmarket/escrow-service/internal/adapters/postgres"
	"github.com/gearmarket/escrow-service/internal/adapters/security"
	transferadapter "github.com/gearmarket/escrow-service/internal/adapters/transfer"
	"github.com/gearmarket/escrow-service/internal/application"
	"github.com/gearmarket/escrow-service/internal/ports"
)

type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	service    *application.Service
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcLis    net.Listener
	cleanupFn  func(context.Context)
}

// NewRuntime wires the full dependency graph. Infrastructure that is absent
// from config falls back to in-process adapters so local runs need nothing
// but the binary.
func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("bootstrapping escrow release engine",
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
	)

	cleanups := make([]func(), 0, 4)
	cleanup := func(context.Context) {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	var bookings ports.BookingRepository
	var ledger ports.EscrowLedger
	var outbox ports.OutboxRepository
	if cfg.DatabaseURL != "" {
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		sqlDB, err := pool.DB()
		if err != nil {
			return nil, fmt.Errorf("gorm sql db: %w", err)
		}
		cleanups = append(cleanups, func() { _ = sqlDB.Close() })
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			cleanup(ctx)
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		pgLedger := postgres.NewLedger(pool)
		bookings = pgLedger
		ledger = pgLedger
		outbox = postgres.NewOutbox(pool)
	} else {
		logger.Warn("no database configured, using in-memory ledger")
		store := memory.NewStore()
		bookings = store
		ledger = store
		outbox = memory.NewOutbox()
	}

	var dedup ports.DedupCache
	if cfg.RedisURL != "" {
		redisClient, err := cacheadapter.Connect(ctx, cfg.RedisURL)
		if err != nil {
			cleanup(ctx)
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		if err := redisClient.Ping(ctx).Err(); err != nil {
			cleanup(ctx)
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		cleanups = append(cleanups, func() { _ = redisClient.Close() })
		dedup = cacheadapter.NewRedisDedupCache(redisClient)
	} else {
		dedup = memory.NewDedupCache()
	}

	var domainEvents ports.DomainPublisher
	var analytics ports.AnalyticsPublisher
	var dlq ports.DLQPublisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := eventadapter.NewKafkaPublisher(cfg.KafkaBrokers, cfg.DomainTopic, cfg.AnalyticsTopic, cfg.DLQTopic)
		if err != nil {
			cleanup(ctx)
			return nil, fmt.Errorf("init kafka publisher: %w", err)
		}
		cleanups = append(cleanups, func() { _ = publisher.Close() })
		domainEvents = publisher
		analytics = publisher
		dlq = publisher
	} else {
		logger.Warn("no kafka brokers configured, events stay in process")
		domainEvents = eventadapter.NewMemoryDomainPublisher()
		analytics = eventadapter.NewMemoryAnalyticsPublisher()
		dlq = eventadapter.NewLoggingDLQPublisher()
	}

	var transfers ports.TransferClient
	if cfg.TransferAPIURL != "" {
		transfers = transferadapter.NewHTTPClient(cfg.TransferAPIURL, cfg.TransferAPIKey, cfg.TransferTimeout)
	} else {
		logger.Warn("no transfer api configured, using fake transfer client")
		transfers = transferadapter.NewFakeClient()
	}

	var directory ports.DirectoryReader
	if cfg.DirectoryAPIURL != "" {
		directory = directoryadapter.NewHTTPClient(cfg.DirectoryAPIURL, cfg.DirectoryAPIKey, 10*time.Second)
	} else {
		logger.Warn("no directory api configured, using in-memory directory")
		directory = memory.NewDirectory()
	}

	svc := application.NewService(application.Dependencies{
		Config: application.Config{
			ServiceName:          cfg.ServiceID,
			PlatformFeeBps:       cfg.PlatformFeeBps,
			MinInstallmentAmount: cfg.MinInstallmentAmount,
			MaxAttempts:          cfg.MaxAttempts,
			RetryBackoffBase:     cfg.RetryBackoffBase,
			RetryBackoffCap:      cfg.RetryBackoffCap,
			StuckAfter:           cfg.StuckAfter,
			TransferTimeout:      cfg.TransferTimeout,
			DedupTTL:             cfg.DedupTTL,
			ClaimBatchSize:       cfg.ClaimBatchSize,
			OutboxFlushBatchSize: cfg.OutboxFlushBatchSize,
		},
		Bookings:     bookings,
		Ledger:       ledger,
		DedupCache:   dedup,
		Outbox:       outbox,
		Transfers:    transfers,
		Directory:    directory,
		DomainEvents: domainEvents,
		Analytics:    analytics,
		DLQ:          dlq,
		Logger:       logger,
	})

	if cfg.WebhookSecret == "" {
		logger.Warn("no webhook secret configured, using dev secret")
		cfg.WebhookSecret = "dev-webhook-secret"
	}
	if cfg.OperatorTokenSecret == "" {
		logger.Warn("no operator token secret configured, using dev secret")
		cfg.OperatorTokenSecret = "dev-operator-secret"
	}
	webhookVerifier, err := security.NewWebhookVerifier(cfg.WebhookSecret)
	if err != nil {
		cleanup(ctx)
		return nil, fmt.Errorf("init webhook verifier: %w", err)
	}
	tokenVerifier, err := security.NewTokenVerifier(cfg.OperatorTokenSecret)
	if err != nil {
		cleanup(ctx)
		return nil, fmt.Errorf("init token verifier: %w", err)
	}

	handler := httpadapter.NewHandler(svc)
	router := httpadapter.NewRouter(handler, webhookVerifier, tokenVerifier)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	grpcadapter.Register(grpcServer, grpcadapter.NewEscrowInternalServer(svc))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		cleanup(ctx)
		return nil, fmt.Errorf("listen gRPC: %w", err)
	}

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		service:    svc,
		httpServer: httpServer,
		grpcServer: grpcServer,
		grpcLis:    lis,
		cleanupFn:  cleanup,
	}, nil
}

func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		r.logger.Info("http server started", "addr", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		r.logger.Info("grpc server started", "addr", r.grpcLis.Addr().String())
		if err := r.grpcServer.Serve(r.grpcLis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
	case err := <-errCh:
		r.logger.Error("server failure", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	r.cleanupFn(shutdownCtx)
	return nil
}

// RunWorker drives the three background loops: due-release processing,
// stuck-state reconciliation and outbox flushing.
func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r.logger.Info("worker started",
		"process_interval", r.cfg.ProcessInterval.String(),
		"reconcile_interval", r.cfg.ReconcileInterval.String(),
		"outbox_interval", r.cfg.OutboxInterval.String(),
	)

	processTicker := time.NewTicker(r.cfg.ProcessInterval)
	reconcileTicker := time.NewTicker(r.cfg.ReconcileInterval)
	outboxTicker := time.NewTicker(r.cfg.OutboxInterval)
	defer processTicker.Stop()
	defer reconcileTicker.Stop()
	defer outboxTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			r.cleanupFn(shutdownCtx)
			return nil
		case <-processTicker.C:
			if _, err := r.service.ProcessDueReleases(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("process due releases failed", "error", err)
			}
		case <-reconcileTicker.C:
			if _, err := r.service.ReconcileStuck(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("reconcile stuck releases failed", "error", err)
			}
		case <-outboxTicker.C:
			if err := r.service.FlushOutbox(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("flush outbox failed", "error", err)
			}
		}
	}
}
