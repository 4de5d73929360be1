package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/cpl/auction-engine/internal/auction"
	"github.com/cpl/auction-engine/internal/config"
	"github.com/cpl/auction-engine/internal/lock"
	"github.com/cpl/auction-engine/internal/metrics"
	"github.com/cpl/auction-engine/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to TOML configuration file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("auction-engine exited", "err", err)
		os.Exit(1)
	}
	slog.Info("auction-engine stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	// --- Initialize store ---
	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	st, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	cleanup = append(cleanup, closeStore)

	// --- Cache and locks ---
	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.Redis.Enabled() {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL.Duration)
		locker = lock.NewRedisLocker(rdb, cfg.Redis.LockTTL.Duration, cfg.Redis.LockWait.Duration)
		slog.Info("redis cache and locks enabled", "cache_ttl", cfg.Redis.CacheTTL.Duration.String())
	} else {
		slog.Info("using in-process locks")
	}

	// --- Auction service ---
	wsHub := auction.NewWSHub()
	svc := auction.NewService(st, locker, cfg.League, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"auction-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket feed of settlements and reversals.
		r.Get("/ws", wsHub.HandleWS)

		// The timeout skips /ws so upgraded connections are not cut off.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			auction.NewHandler(svc).Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return wsHub.Run(ctx)
	})

	g.Go(func() error {
		slog.Info("auction-engine listening",
			"addr", srv.Addr,
			"driver", cfg.Database.Driver,
			"team_budget", cfg.League.TeamBudget.String(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Graceful shutdown.
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down auction-engine...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openStore builds the primary store for the configured driver and returns a
// close function for it.
func openStore(ctx context.Context, db config.DatabaseConfig) (store.Store, func(), error) {
	switch strings.ToLower(db.Driver) {
	case config.DriverPostgres:
		poolCfg, err := pgxpool.ParseConfig(db.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid database dsn: %w", err)
		}
		poolCfg.MaxConns = db.MaxConns
		poolCfg.MinConns = db.MinConns

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("database ping: %w", err)
		}

		pg := store.NewPostgresStore(pool)
		if db.RunMigrations {
			if err := pg.Migrate(ctx); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
		}
		slog.Info("connected to PostgreSQL", "max_conns", db.MaxConns)
		return pg, pool.Close, nil

	case config.DriverSQLite:
		sq, err := store.NewSQLiteStore(db.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("opened SQLite store", "path", db.SQLitePath)
		return sq, func() { sq.Close() }, nil

	default:
		slog.Warn("using in-memory store (data will not persist)")
		return store.NewMemoryStore(), func() {}, nil
	}
}
