package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/md-rashed-zaman/studiobook/libs/config"
	"github.com/md-rashed-zaman/studiobook/libs/db"
	"github.com/md-rashed-zaman/studiobook/libs/httpx"
	"github.com/md-rashed-zaman/studiobook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/studiobook/libs/otel"
	"github.com/md-rashed-zaman/studiobook/libs/outbox"
	"github.com/md-rashed-zaman/studiobook/libs/runtime"
	"github.com/md-rashed-zaman/studiobook/services/identity-service/internal/audit"
	"github.com/md-rashed-zaman/studiobook/services/identity-service/internal/handlers"
	"github.com/md-rashed-zaman/studiobook/services/identity-service/internal/identity"
	"github.com/md-rashed-zaman/studiobook/services/identity-service/internal/sessions"
	"github.com/md-rashed-zaman/studiobook/services/identity-service/internal/tokens"
	"github.com/md-rashed-zaman/studiobook/services/identity-service/internal/users"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.Load(config.String("CONFIG_FILE", ""), ".env"); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "identity-service")
	port, err := config.Port("PORT", "8081")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service, config.String("LOG_LEVEL", "info"))

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL, db.PoolConfig{
		MaxConns:        int32(config.Int("DB_MAX_CONNS", 10)),
		MaxConnLifetime: config.Duration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
	})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	signer, err := buildSigner()
	if err != nil {
		logger.Error("failed to init jwt signer", "err", err)
		panic(err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	events := outbox.NewRepository()
	auditRepo := audit.NewRepository(pool)
	svc := identity.NewService(
		users.NewRepository(pool),
		sessions.NewRepository(),
		auditRepo,
		events,
		signer,
		identity.Config{
			AccessTTL:  config.Duration("ACCESS_TOKEN_TTL", 15*time.Minute),
			RefreshTTL: config.Duration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		},
		logger,
	)

	brokers := kafkax.SplitBrokers(config.String("KAFKA_BROKERS", ""))
	var writer outbox.MessageWriter
	if len(brokers) > 0 {
		w := kafkax.NewWriter(brokers)
		defer func() { _ = w.Close() }()
		writer = w
	}
	publisher := outbox.NewPublisher(pool, events, writer, logger, reg, outbox.PublisherConfig{
		PollEvery: config.Duration("OUTBOX_POLL_EVERY", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go publisher.Run(ctx)

	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
	if len(brokers) > 0 {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	if err := startHealthServer(ctx, logger, checks); err != nil {
		logger.Error("grpc health server failed", "err", err)
		panic(err)
	}

	base := runtime.NewBaseMux(reg, checks...)
	router := mux.NewRouter()
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		router.Handle(path, base)
	}
	handlers.New(svc, signer, auditRepo, logger).Register(router)
	router.Use(mux.MiddlewareFunc(httpx.NewMetrics(reg, service).Middleware(handlers.RouteTemplate)))

	httpHandler := httpx.Chain(router,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(int64(config.Int("MAX_BODY_BYTES", 64<<10))),
		httpx.WithTimeout(config.Duration("REQUEST_TIMEOUT", 10*time.Second)),
	)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           otelhttp.NewHandler(httpHandler, "identity"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	runtime.Serve(ctx, srv, logger, 10*time.Second)
}

// buildSigner prefers RS256 key sets so the gateway can verify through JWKS.
func buildSigner() (tokens.Signer, error) {
	if pems := config.String("JWT_PRIVATE_KEYS_PEM", ""); pems != "" {
		keys, err := tokens.ParseRSAKeys(pems)
		if err != nil {
			return nil, err
		}
		return tokens.NewKeySet(keys, config.String("JWT_ACTIVE_KID", ""))
	}
	secret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		return nil, err
	}
	return tokens.NewHS256Signer(secret), nil
}
