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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	cacheadapter "github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/adapters/cache"
	emailadapter "github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/adapters/email"
	eventadapter "github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/adapters/events"
	grpcadapter "github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/adapters/grpc"
	httpadapter "github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/adapters/http"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/adapters/postgres"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/adapters/security"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/application"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/observability"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/ports"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/worker"
)

type Runtime struct {
	cfg           Config
	logger        *slog.Logger
	httpServer    *http.Server
	grpcServer    *grpc.Server
	health        *health.Server
	dispatcher    *eventadapter.OutboxDispatcher
	resetWorker   *eventadapter.QueueWorker[application.PasswordResetJob]
	webhookWorker *eventadapter.QueueWorker[domain.DeliveryUpdate]
	cleanupFn     func(context.Context)
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("bootstrapping account service",
		"module", "bootstrap",
		"layer", "runtime",
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
	)

	// cleanups run in reverse order of acquisition.
	var cleanups []func(context.Context)
	cleanup := func(ctx context.Context) {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i](ctx)
		}
	}
	fail := func(err error) (*Runtime, error) {
		cleanup(context.Background())
		return nil, err
	}

	tracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		ServiceName: cfg.ServiceID,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		SampleRatio: cfg.TraceSampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}
	cleanups = append(cleanups, func(ctx context.Context) { _ = tracing.Shutdown(ctx) })

	db, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.PoolConfig{
		MaxConns:        cfg.MaxDBConns,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return fail(fmt.Errorf("connect postgres: %w", err))
	}
	cleanups = append(cleanups, func(context.Context) { _ = postgres.Close(db) })

	if err := postgres.RunMigrations(ctx, db); err != nil {
		return fail(fmt.Errorf("run migrations: %w", err))
	}

	redisClient, err := cacheadapter.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return fail(fmt.Errorf("connect redis: %w", err))
	}
	cleanups = append(cleanups, func(context.Context) { _ = redisClient.Close() })

	repos := postgres.NewRepositories(db, cfg.OutboxReceiveBudget)
	tokenSigner, err := security.NewJWTSigner(cfg.JWTKeyID, cfg.JWTIssuer, cfg.JWTPrivateKeyPEM, cfg.JWTPublicKeyPEM)
	if err != nil {
		if !cfg.AllowEphemeralJWT {
			return fail(fmt.Errorf("init jwt signer: %w", err))
		}
		logger.Warn("using ephemeral JWT keys for local/dev runtime", "module", "bootstrap", "layer", "runtime")
		tokenSigner, err = security.NewEphemeralJWTSigner(cfg.JWTKeyID, cfg.JWTIssuer)
		if err != nil {
			return fail(fmt.Errorf("init ephemeral jwt signer: %w", err))
		}
	}

	sender, err := newEmailSender(cfg, logger)
	if err != nil {
		return fail(err)
	}
	publisher, closePublisher, err := newEventPublisher(cfg, logger)
	if err != nil {
		return fail(err)
	}
	cleanups = append(cleanups, func(context.Context) { closePublisher() })

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	resetQueue := worker.NewQueue[application.PasswordResetJob]("password_reset", cfg.ResetQueueCapacity)
	webhookQueue := worker.NewQueue[domain.DeliveryUpdate]("email_webhook", cfg.WebhookQueueCapacity)

	svc := application.NewService(application.Dependencies{
		Config: application.Config{
			AccessTokenTTL:       cfg.AccessTokenTTL,
			RefreshTokenTTL:      cfg.RefreshTokenTTL,
			FailedLoginThreshold: cfg.FailedLoginThreshold,
			EmailVerificationTTL: cfg.EmailVerificationTTL,
			PasswordResetTTL:     cfg.PasswordResetTTL,
			RegisterRateLimit:    cfg.RegisterRateLimit,
			ResetRequestLimit:    cfg.ResetRequestLimit,
			RateLimitWindow:      cfg.RateLimitWindow,
			PublicBaseURL:        cfg.PublicBaseURL,
		},
		Logger:         logger,
		Accounts:       repos.Accounts,
		TokenLog:       repos.TokenLog,
		Recovery:       repos.Recovery,
		Communications: repos.Communications,
		Revocations:    cacheadapter.NewRedisRevocationStore(redisClient),
		RateLimits:     cacheadapter.NewRedisRateLimitStore(redisClient),
		Hasher:         security.NewBcryptHasher(cfg.BcryptCost),
		Tokens:         tokenSigner,
		Email:          sender,
		Publisher:      publisher,
		ResetQueue:     resetQueue,
		WebhookQueue:   webhookQueue,
		Metrics:        metrics,
	})

	router, err := application.NewEventRouter(svc, logger, cfg.EventHandlerTimeout)
	if err != nil {
		return fail(fmt.Errorf("init event router: %w", err))
	}
	dispatcher := eventadapter.NewOutboxDispatcher(logger, repos.Outbox, router, metrics, eventadapter.DispatcherConfig{
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
		Lease:        cfg.OutboxLease,
		MaxBackoff:   cfg.OutboxMaxBackoff,
	})

	checks := map[string]httpadapter.ReadinessCheck{
		"postgres": func(ctx context.Context) error { return postgres.Ping(ctx, db) },
		"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	}
	handler := httpadapter.NewHandler(svc, metrics, checks)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           httpadapter.NewRouter(handler, promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	grpcadapter.Register(grpcServer, grpcadapter.NewAccountInternalServer(svc))

	return &Runtime{
		cfg:           cfg,
		logger:        logger,
		httpServer:    httpServer,
		grpcServer:    grpcServer,
		health:        healthSrv,
		dispatcher:    dispatcher,
		resetWorker:   eventadapter.NewQueueWorker(logger, resetQueue, svc.ProcessPasswordReset, cfg.QueueItemTimeout, metrics),
		webhookWorker: eventadapter.NewQueueWorker(logger, webhookQueue, svc.ApplyDeliveryUpdate, cfg.QueueItemTimeout, metrics),
		cleanupFn:     cleanup,
	}, nil
}

func newEmailSender(cfg Config, logger *slog.Logger) (ports.EmailSender, error) {
	if cfg.SMTPHost == "" {
		logger.Warn("SMTP_HOST not set; outgoing mail is logged only", "module", "bootstrap", "layer", "runtime")
		return emailadapter.NewLoggingSender(logger), nil
	}
	sender, err := emailadapter.NewSMTPSender(emailadapter.SMTPConfig{
		Host:        cfg.SMTPHost,
		Port:        cfg.SMTPPort,
		Username:    cfg.SMTPUsername,
		Password:    cfg.SMTPPassword,
		From:        cfg.SMTPFrom,
		ImplicitTLS: cfg.SMTPImplicitTLS,
		Timeout:     cfg.SMTPTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("init smtp sender: %w", err)
	}
	return sender, nil
}

func newEventPublisher(cfg Config, logger *slog.Logger) (ports.EventPublisher, func(), error) {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Warn("KAFKA_BROKERS not set; integration events are logged only", "module", "bootstrap", "layer", "runtime")
		return eventadapter.NewLoggingPublisher(logger), func() {}, nil
	}
	publisher, err := eventadapter.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaTopicByEvent)
	if err != nil {
		return nil, nil, fmt.Errorf("init kafka publisher: %w", err)
	}
	return publisher, func() { _ = publisher.Close() }, nil
}

// RunAPI serves HTTP and gRPC and drains both work queues. The outbox
// dispatcher joins the group only when OUTBOX_EMBEDDED is set.
func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", r.cfg.GRPCPort))
	if err != nil {
		r.cleanupFn(context.Background())
		return fmt.Errorf("listen gRPC: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.logger.Info("http server started", "module", "bootstrap", "layer", "runtime", "addr", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		r.logger.Info("grpc server started", "module", "bootstrap", "layer", "runtime", "addr", lis.Addr().String())
		if err := r.grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error { return ignoreCanceled(r.resetWorker.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(r.webhookWorker.Run(gctx)) })
	if r.cfg.EmbeddedDispatcher {
		g.Go(func() error { return ignoreCanceled(r.dispatcher.Run(gctx)) })
	}
	g.Go(func() error {
		<-gctx.Done()
		r.logger.Info("shutdown started", "module", "bootstrap", "layer", "runtime")
		r.health.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), r.cfg.ShutdownTimeout)
		defer cancel()
		_ = r.httpServer.Shutdown(shutdownCtx)
		r.grpcServer.GracefulStop()
		return nil
	})

	err = g.Wait()
	if err != nil {
		r.logger.Error("server failure", "module", "bootstrap", "layer", "runtime", "error", err)
	}
	cleanupCtx, cancel := context.WithTimeout(context.Background(), r.cfg.ShutdownTimeout)
	defer cancel()
	r.cleanupFn(cleanupCtx)
	return err
}

// RunWorker runs the outbox dispatcher alone.
func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r.logger.Info("outbox dispatcher started", "module", "bootstrap", "layer", "runtime")
	err := ignoreCanceled(r.dispatcher.Run(ctx))

	cleanupCtx, cancel := context.WithTimeout(context.Background(), r.cfg.ShutdownTimeout)
	defer cancel()
	r.cleanupFn(cleanupCtx)
	return err
}

func ignoreCanceled(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
