package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/md-rashed-zaman/studiobook/libs/auth"
	"github.com/md-rashed-zaman/studiobook/libs/config"
	"github.com/md-rashed-zaman/studiobook/libs/grpcx"
	"github.com/md-rashed-zaman/studiobook/libs/httpx"
	"github.com/md-rashed-zaman/studiobook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/studiobook/libs/otel"
	"github.com/md-rashed-zaman/studiobook/libs/runtime"
	"github.com/md-rashed-zaman/studiobook/services/gateway-service/internal/proxy"
	"github.com/md-rashed-zaman/studiobook/services/gateway-service/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.Load(config.String("CONFIG_FILE", ""), ".env"); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "gateway-service")
	port, err := config.Port("PORT", "8080")
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

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var checks []runtime.ReadyCheck
	accessTTL := config.Duration("ACCESS_TOKEN_TTL", 15*time.Minute)
	limitPerMinute := config.Int("RATE_LIMIT_PER_MINUTE", 120)

	var (
		revocations session.Revocations
		dedupe      kafkax.Deduper
		rateLimitMW httpx.Middleware
	)
	if addrs := config.List("REDIS_ADDRS", ""); len(addrs) > 0 {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: config.String("REDIS_PASSWORD", ""),
		})
		defer func() { _ = rdb.Close() }()
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }})

		revocations = session.NewRedisRevocations(rdb, accessTTL)
		dedupe = kafkax.NewRedisDeduper(rdb, "dedupe:"+service, 24*time.Hour)
		rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl"), httpx.UserOrIP)
		rateLimitMW = rl.Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute)
	} else {
		revocations = session.NewMemoryRevocations(accessTTL)
		rateLimitMW = httpx.NewRateLimiter(limitPerMinute, time.Minute, httpx.UserOrIP).Middleware()
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	}

	if brokers := kafkax.SplitBrokers(config.String("KAFKA_BROKERS", "")); len(brokers) > 0 {
		consumer := kafkax.NewConsumer(logger, kafkax.ConsumerConfig{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", service),
			Topics:  []string{auth.TopicSessionChanged},
		}, dedupe, session.HandleChanges(revocations, logger))
		go consumer.Run(ctx)
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	} else {
		logger.Warn("session change consumer disabled (no kafka brokers configured)")
	}

	if addr := config.String("IDENTITY_GRPC_ADDR", ""); addr != "" {
		conn, err := grpcx.Dial(addr, grpcx.DialOptions{})
		if err != nil {
			logger.Error("identity grpc dial failed", "err", err)
			panic(err)
		}
		defer func() { _ = conn.Close() }()
		checks = append(checks, runtime.ReadyCheck{Name: "identity", Check: grpcx.HealthCheck(conn, "")})
	}

	var jwks *auth.JWKSClient
	if jwksURL := config.String("JWKS_URL", ""); jwksURL != "" {
		jwks = auth.NewJWKSClient(jwksURL, config.Duration("JWKS_CACHE_TTL", 5*time.Minute))
	}
	authn := proxy.NewAuthenticator(auth.NewVerifier(config.String("JWT_SECRET", ""), jwks), revocations, logger)

	mux := runtime.NewBaseMux(reg, checks...)
	registerRoutes(mux, authn, upstreams{
		identity: mustParseURL(config.String("IDENTITY_URL", "http://identity-service:8081")),
		booking:  mustParseURL(config.String("BOOKING_URL", "http://booking-service:8083")),
	}, logger)

	handler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   config.List("CORS_ALLOWED_ORIGINS", ""),
			AllowedMethods:   config.List("CORS_ALLOWED_METHODS", "GET,POST,PUT,PATCH,DELETE,OPTIONS"),
			AllowedHeaders:   config.List("CORS_ALLOWED_HEADERS", "Authorization,Content-Type,X-Request-Id"),
			ExposedHeaders:   []string{httpx.RequestIDHeader, "Retry-After"},
			AllowCredentials: config.Bool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           config.Duration("CORS_MAX_AGE", 10*time.Minute),
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.NewMetrics(reg, service).Middleware(routeLabel),
		httpx.WithBodyLimit(int64(config.Int("MAX_BODY_BYTES", 1<<20))),
		httpx.WithTimeout(config.Duration("REQUEST_TIMEOUT", 15*time.Second)),
		rateLimitMW,
	)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           otelhttp.NewHandler(handler, "gateway"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	runtime.Serve(ctx, srv, logger, 10*time.Second)
}

type upstreams struct {
	identity *url.URL
	booking  *url.URL
}

func registerRoutes(mux *http.ServeMux, authn *proxy.Authenticator, up upstreams, logger *slog.Logger) {
	identity := proxy.NewReverseProxy(up.identity, logger)
	booking := proxy.NewReverseProxy(up.booking, logger)

	registerProxy(mux, "/.well-known/jwks.json", identity)
	// Sign-up, sign-in and refresh are anonymous; identity decides which of its
	// routes need the forwarded identity.
	registerProxy(mux, "/api/v1/auth", authn.Optional(identity))
	registerProxy(mux, "/api/v1/auth/keys", authn.Require(proxy.RequireRole(identity, auth.RoleAdmin)))
	registerProxy(mux, "/api/v1/auth/audit", authn.Require(proxy.RequireRole(identity, auth.RoleAdmin)))

	registerProxy(mux, "/api/v1/catalog", authn.Optional(booking))
	for _, prefix := range []string{"/api/v1/bookings", "/api/v1/slots", "/api/v1/availability", "/api/v1/calendar"} {
		registerProxy(mux, prefix, authn.Require(booking))
	}
}

// routeLabel keeps metric cardinality bounded by labelling with the proxied prefix.
func routeLabel(r *http.Request) string {
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 4)
	if len(parts) >= 3 && parts[0] == "api" {
		return "/" + strings.Join(parts[:3], "/")
	}
	if len(parts) > 0 && parts[0] != "" && parts[0] != "api" {
		return "/" + parts[0]
	}
	return "unmatched"
}

func registerProxy(mux *http.ServeMux, prefix string, handler http.Handler) {
	if !strings.HasSuffix(prefix, "/") {
		mux.Handle(prefix, handler)
		mux.Handle(prefix+"/", handler)
		return
	}
	mux.Handle(prefix, handler)
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		panic(err)
	}
	return u
}
