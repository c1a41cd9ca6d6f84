package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/tablero/tablero/pkg/access"
	"github.com/tablero/tablero/pkg/api"
	"github.com/tablero/tablero/pkg/authn"
	"github.com/tablero/tablero/pkg/authz"
	"github.com/tablero/tablero/pkg/cache"
	"github.com/tablero/tablero/pkg/config"
	"github.com/tablero/tablero/pkg/menu"
	"github.com/tablero/tablero/pkg/observability"
	"github.com/tablero/tablero/pkg/scope"
	"github.com/tablero/tablero/pkg/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tablero: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("Starting tablero")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	db, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := access.Migrate(ctx, db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	contextCache, sessions, closeCache, err := buildCacheBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	store := access.NewPostgresStore(db, logger, metrics)
	mutator := access.NewMutator(store, contextCache, logger, cfg.Cache.EntityTTL)

	janitor := access.NewJanitor(store, contextCache, logger, metrics)
	if cfg.Janitor.Enabled {
		if err := janitor.Start(cfg.Janitor.Schedule); err != nil {
			return fmt.Errorf("failed to start grant janitor: %w", err)
		}
		defer janitor.Stop()
	}

	gate := authz.NewGate(metrics)
	enforcer := scope.NewEnforcer(func(ctx context.Context) (int64, bool) {
		tn := authz.TenantFromContext(ctx)
		if tn == nil {
			return 0, false
		}
		return tn.ID(ctx)
	}, menu.ScopeManifest())
	menus := menu.NewRepository(db, enforcer, logger)

	verifier := authn.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	router := mux.NewRouter()
	router.Use(observability.RequestIDMiddleware)
	router.Use(observability.LoggingMiddleware(logger))
	if metrics != nil {
		router.Use(metrics.HTTPMiddleware)
	}
	router.Use(authn.Middleware(verifier, logger))
	router.Use(authz.ContextMiddleware(authz.MiddlewareDeps{
		Store:          store,
		Cache:          contextCache,
		Sessions:       sessions,
		Mutator:        mutator,
		Logger:         logger,
		Metrics:        metrics,
		EntityTTL:      cfg.Cache.EntityTTL,
		AggregationTTL: cfg.Cache.AggregationTTL,
	}))

	api.NewServer(gate, menus, logger).Routes(router)

	var handler http.Handler = router
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, "tablero")
	}

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthRoutes(db, registry),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("API server listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("API server shutdown failed")
		}
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Health server shutdown failed")
		}
		if tp != nil {
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Warn("Tracer shutdown failed")
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("Stopped")
	return nil
}

func openDatabase(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Database.ConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info("Connected to postgres")
	return db, nil
}

// buildCacheBackend selects the context cache and session store backend.
// Redis shares one connection pool between the two.
func buildCacheBackend(ctx context.Context, cfg *config.Config, logger *observability.Logger) (cache.Cache, session.Store, func(), error) {
	switch cfg.Cache.Backend {
	case "redis":
		redisCache, err := cache.NewRedisCache(ctx, cache.RedisOptions{
			URL:      cfg.Cache.RedisURL,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
			PoolSize: cfg.Cache.RedisPoolSize,
		}, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		sessions := session.NewRedisStore(redisCache.Client(), cfg.Cache.SessionTTL)
		logger.Info("Using redis cache backend")
		return redisCache, sessions, func() { redisCache.Close() }, nil

	default:
		maxTTL := cfg.Cache.EntityTTL
		if cfg.Cache.AggregationTTL > maxTTL {
			maxTTL = cfg.Cache.AggregationTTL
		}
		memCache := cache.NewMemoryCache(cfg.Cache.MemoryMaxEntries, maxTTL)
		sessions := session.NewMemoryStore(cfg.Cache.SessionTTL)
		logger.Info("Using in-memory cache backend")
		return memCache, sessions, func() {}, nil
	}
}

func healthRoutes(db *sql.DB, registry *prometheus.Registry) http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	router.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	router.Handle("/metrics", observability.Handler(registry))
	return router
}
