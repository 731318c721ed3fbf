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
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/catalog"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/ledger"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/projector"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/validator"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.Load(config.String("CONFIG_FILE", ""), ".env"); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
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

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    config.List("REDIS_ADDRS", "localhost:6379"),
		Password: config.String("REDIS_PASSWORD", ""),
	})
	defer func() { _ = rdb.Close() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	repo := storage.NewBookingRepository(pool)
	cache := catalog.NewCache(rdb, catalog.NewPostgres(pool), config.Duration("CATALOG_CACHE_TTL", 5*time.Minute), logger)
	cat := catalog.New(cache)
	index := availability.NewIndex(repo)
	events := outbox.NewRepository()
	bookings := ledger.New(ledger.Deps{
		Repo:      repo,
		Validator: validator.New(cat, index),
		Index:     index,
		Catalog:   cat,
		Events:    events,
		Metrics:   ledger.NewMetrics(reg),
		Logger:    logger,
	})

	brokers := kafkax.SplitBrokers(config.String("KAFKA_BROKERS", ""))
	var writer outbox.MessageWriter
	if len(brokers) > 0 {
		w := kafkax.NewWriter(brokers)
		defer func() { _ = w.Close() }()
		writer = w

		consumer := kafkax.NewConsumer(logger, kafkax.ConsumerConfig{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", service),
			Topics:  []string{config.String("KAFKA_CATALOG_TOPIC", catalog.TopicChanged)},
		}, kafkax.NewRedisDeduper(rdb, "dedupe:"+service, 24*time.Hour), cache.HandleChanged)
		go consumer.Run(ctx)
	}
	publisher := outbox.NewPublisher(pool, events, writer, logger, reg, outbox.PublisherConfig{
		PollEvery: config.Duration("OUTBOX_POLL_EVERY", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go publisher.Run(ctx)

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	}
	if len(brokers) > 0 {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	base := runtime.NewBaseMux(reg, checks...)
	router := mux.NewRouter()
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		router.Handle(path, base)
	}
	handlers.New(bookings, cat, projector.New(repo), logger).Register(router)
	router.Use(mux.MiddlewareFunc(httpx.NewMetrics(reg, service).Middleware(handlers.RouteTemplate)))

	httpHandler := httpx.Chain(router,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(int64(config.Int("MAX_BODY_BYTES", 1<<20))),
		httpx.WithTimeout(config.Duration("REQUEST_TIMEOUT", 10*time.Second)),
	)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           otelhttp.NewHandler(httpHandler, "booking"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	runtime.Serve(ctx, srv, logger, 10*time.Second)
}
