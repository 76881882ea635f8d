// Package main is the entry point for the API server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/onnwee/orbit/internal/api"
	"github.com/onnwee/orbit/internal/config"
	"github.com/onnwee/orbit/internal/dispatch"
	"github.com/onnwee/orbit/internal/event"
	"github.com/onnwee/orbit/internal/geo"
	"github.com/onnwee/orbit/internal/health"
	"github.com/onnwee/orbit/internal/ingest"
	"github.com/onnwee/orbit/internal/jobs"
	"github.com/onnwee/orbit/internal/livestatus"
	"github.com/onnwee/orbit/internal/middleware"
	"github.com/onnwee/orbit/internal/query"
	"github.com/onnwee/orbit/internal/rules"
	"github.com/onnwee/orbit/internal/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

const (
	shutdownTimeout = 10 * time.Second
	cleanupInterval = time.Minute
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to a YAML config file (environment variables take precedence)")
	flag.Parse()

	if *help {
		fmt.Println("Orbit API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// A missing .env file is normal outside local development
	_ = godotenv.Load()

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	tp, err := tracing.NewProvider(tracing.Config{
		ServiceName:  api.ServiceName,
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.TracingEndpoint,
		SamplingRate: cfg.TracingSampleRate,
		InsecureMode: cfg.TracingInsecure,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	app, err := newApp(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if app.cleanup != nil {
		app.cleanup.Start(ctx)
		defer app.cleanup.Stop()
	}

	ln, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.Port))
	if err != nil {
		logger.Error("failed to listen", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	serveErr := serve(ctx, newHTTPServer(app.handler), ln, logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to flush traces", "error", err)
	}

	if serveErr != nil {
		logger.Error("server error", "error", serveErr)
		os.Exit(1)
	}
}

// app holds the wired services and the root handler.
type app struct {
	handler http.Handler
	bus     *dispatch.Bus

	// In-memory rate limit stores and the job sweeping them. Unset when
	// Redis backs rate limiting.
	limiters []*middleware.InMemoryRateLimitStore
	cleanup  *jobs.Periodic
	redis    *redis.Client
}

// newApp wires stores, services and the middleware chain from cfg.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var (
		httpMetrics     *middleware.Metrics
		ingestMetrics   *ingest.Metrics
		dispatchMetrics *dispatch.Metrics
		jobMetrics      *jobs.Metrics
		metricsHandler  http.Handler
	)
	if cfg.MetricsEnabled {
		httpMetrics = middleware.NewMetrics()
		ingestMetrics = ingest.NewMetrics()
		dispatchMetrics = dispatch.NewMetrics()
		jobMetrics = jobs.NewMetrics()
		if err := httpMetrics.Register(reg); err != nil {
			return nil, fmt.Errorf("register http metrics: %w", err)
		}
		if err := ingestMetrics.Register(reg); err != nil {
			return nil, fmt.Errorf("register ingest metrics: %w", err)
		}
		if err := dispatchMetrics.Register(reg); err != nil {
			return nil, fmt.Errorf("register dispatch metrics: %w", err)
		}
		if err := jobMetrics.Register(reg); err != nil {
			return nil, fmt.Errorf("register job metrics: %w", err)
		}
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	eventRepo := event.NewInMemoryEventRepository()
	memberRepo := event.NewInMemoryMemberRepository()
	ruleRepo := rules.NewInMemoryRepository()
	live := livestatus.NewStore(cfg.GeohashPrecision)
	updates := livestatus.NewUpdateLog(cfg.LocationLogCapacity)
	bus := dispatch.NewBus(dispatch.BusConfig{
		HandlerTimeout: cfg.DispatchHandlerTimeout(),
		Metrics:        dispatchMetrics,
	})

	a := &app{bus: bus}

	var (
		globalStore   middleware.RateLimitStore
		locationStore middleware.RateLimitStore
		healthConfig  = api.HealthHandlersConfig{MetricsEnabled: cfg.MetricsEnabled}
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		a.redis = redis.NewClient(opts)
		store := middleware.NewRedisRateLimitStore(a.redis).WithMetrics(httpMetrics)
		globalStore, locationStore = store, store
		healthConfig.RedisChecker = health.NewRedisChecker(a.redis)
		logger.Info("rate limits backed by redis")
	} else {
		global := middleware.NewInMemoryRateLimitStore()
		location := middleware.NewInMemoryRateLimitStore()
		a.limiters = []*middleware.InMemoryRateLimitStore{global, location}
		globalStore, locationStore = global, location
		a.cleanup = jobs.NewPeriodic(jobs.PeriodicConfig{
			Name:     jobs.JobTypeRateLimitCleanup,
			Interval: cleanupInterval,
			Logger:   logger,
			Metrics:  jobMetrics,
		}, a.sweepLimiters)
		logger.Info("rate limits kept in memory")
	}

	router := api.NewRouter(api.RouterConfig{
		Events: event.NewService(eventRepo, memberRepo, live, event.ServiceConfig{
			DefaultAnchor: geo.Point{Lat: cfg.DefaultAnchorLat, Lng: cfg.DefaultAnchorLng},
		}),
		Rules: rules.NewService(ruleRepo, eventRepo),
		Ingester: ingest.NewService(eventRepo, memberRepo, live, updates,
			rules.NewEngine(ruleRepo), bus, ingest.Config{Metrics: ingestMetrics}),
		Snapshots:       query.NewService(eventRepo, live, nil),
		Bus:             bus,
		LocationLimiter: locationStore,
		LocationLimit:   perMinute(cfg.LocationRateLimit),
		Metrics:         httpMetrics,
		AllowedOrigins:  cfg.AllowedOrigins,
		Health:          healthConfig,
		MetricsHandler:  metricsHandler,
	})

	// Apply middleware: RequestID -> Logging -> HTTPMetrics -> Tracing -> CORS -> RateLimiter
	var handler http.Handler = router
	handler = middleware.RateLimiter(globalStore, perMinute(cfg.GlobalRateLimit), middleware.IPKeyFunc(), httpMetrics)(handler)
	handler = middleware.CORS(middleware.CORSConfig{AllowedOrigins: cfg.AllowedOrigins, MaxAge: 600})(handler)
	handler = middleware.Tracing(api.ServiceName)(handler)
	if httpMetrics != nil {
		handler = middleware.HTTPMetrics(httpMetrics)(handler)
	}
	handler = middleware.Logging(logger)(handler)
	a.handler = middleware.RequestID(handler)

	return a, nil
}

// sweepLimiters drops expired in-memory rate limit windows.
func (a *app) sweepLimiters(ctx context.Context) error {
	for _, l := range a.limiters {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.Cleanup()
	}
	return nil
}

// Close releases external connections.
func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.Error("failed to close redis client", "error", err)
		}
	}
}

func perMinute(n int) middleware.RateLimitConfig {
	return middleware.RateLimitConfig{RequestsPerWindow: n, WindowDuration: time.Minute}
}

func newHTTPServer(handler http.Handler) *http.Server {
	return &http.Server{
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// serve runs server on ln until ctx is cancelled, then shuts it down
// gracefully, letting in-flight requests finish.
func serve(ctx context.Context, server *http.Server, ln net.Listener, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
