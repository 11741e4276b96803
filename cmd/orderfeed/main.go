package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/orderfeed/internal/auth"
	"github.com/rickgao/orderfeed/internal/broker"
	"github.com/rickgao/orderfeed/internal/config"
	"github.com/rickgao/orderfeed/internal/connection"
	"github.com/rickgao/orderfeed/internal/database"
	"github.com/rickgao/orderfeed/internal/orders"
	"github.com/rickgao/orderfeed/internal/router"
	"github.com/rickgao/orderfeed/internal/server"
	"github.com/rickgao/orderfeed/internal/session"
	"github.com/rickgao/orderfeed/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/orderfeed.local.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "config", *configPath)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting orderfeed",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)
	logger.Info("configuration loaded", "summary", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("orderfeed stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("orderfeed stopped")
}

func run(ctx context.Context, cfg *config.ServiceConfig, logger *slog.Logger) error {
	// Broker
	logger.Info("connecting to broker", "host", cfg.Broker.Host, "port", cfg.Broker.Port, "vhost", cfg.Broker.VHost)
	bridge := broker.New(broker.Config{
		URL:               cfg.Broker.URL(),
		MaxRetries:        cfg.Broker.MaxRetries,
		RetryInterval:     cfg.Broker.RetryInterval,
		ReconnectMaxDelay: cfg.Broker.ReconnectMaxDelay,
		Prefetch:          cfg.Broker.Prefetch,
		PublishTimeout:    cfg.Broker.PublishTimeout,
	}, logger)
	if err := bridge.Connect(ctx); err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}

	// Session store
	sessStore, err := session.NewRedisStore(ctx, session.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Timeout:  cfg.Redis.Timeout,
	}, logger)
	if err != nil {
		closeBridge(bridge, logger)
		return fmt.Errorf("connect session store: %w", err)
	}
	defer sessStore.Close()

	sessCfg := session.Config{
		KeyPrefix:    cfg.Redis.KeyPrefix,
		TTL:          cfg.Redis.SessionTTL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		Timeout:      cfg.Redis.Timeout,
	}
	checks := map[string]server.Check{"redis": sessStore.HealthCheck}

	// Order store
	store, closeStore, err := openOrderStore(ctx, cfg.Database, logger)
	if err != nil {
		closeBridge(bridge, logger)
		return err
	}
	defer closeStore()
	checks[cfg.Database.Driver] = store.Ping

	directory, err := auth.NewDirectory(cfg.Directory.Users)
	if err != nil {
		closeBridge(bridge, logger)
		return fmt.Errorf("load directory: %w", err)
	}
	logger.Info("directory loaded", "users", directory.Len())

	// Fan-out
	registry := connection.NewRegistry(logger)
	rt := router.NewRouter(router.DefaultRouterConfig(), bridge, registry, logger)
	if err := rt.Start(ctx); err != nil {
		closeBridge(bridge, logger)
		return fmt.Errorf("start router: %w", err)
	}

	srv := server.New(server.ConfigFrom(cfg), server.Deps{
		Gate:      session.NewGate(sessStore, sessCfg, logger),
		Sessions:  session.NewManager(sessStore, sessCfg, logger),
		Directory: directory,
		Orders:    orders.NewService(store, bridge, logger),
		Registry:  registry,
		Broker:    bridge,
		Checks:    checks,
		Menu:      cfg.Menu.Dishes,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.ListenAndServe)

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-bridge.Fatal():
			return fmt.Errorf("broker: %w", err)
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "connections", registry.Len())
		return shutdown(cfg.Server.ShutdownTimeout, srv, rt, bridge, registry, logger)
	})

	logger.Info("orderfeed running",
		"instance_id", cfg.Instance.ID,
		"addr", cfg.Server.Addr,
		"ws_path", cfg.Server.WSPath,
	)

	return g.Wait()
}

// shutdown stops intake first, then cancels the broker consumers and drains
// the deliveries already received while the router still accepts them, then
// closes the dashboards with a going-away frame. Undelivered events stay on
// the broker.
func shutdown(timeout time.Duration, srv *server.Server, rt router.Router, bridge *broker.Bridge, registry *connection.Registry, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := bridge.StopConsuming(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop consuming: %w", err))
	}
	if err := rt.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop router: %w", err))
	}
	if err := bridge.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close broker: %w", err))
	}
	if err := registry.CloseAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close connections: %w", err))
	}

	stats := rt.Stats()
	bstats := bridge.Stats()
	logger.Info("shutdown complete",
		"events_routed", stats.EventsRouted,
		"decode_errors", stats.DecodeErrors,
		"deliveries", stats.Deliveries,
		"acked", bstats.Acked,
		"nacked", bstats.Nacked,
	)
	return errors.Join(errs...)
}

// pinger is an order store that can report its health.
type pinger interface {
	orders.Store
	Ping(ctx context.Context) error
}

func openOrderStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (pinger, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Warn("using in-memory order store; orders are lost on restart")
		return orders.NewMemoryStore(), func() {}, nil
	default:
		logger.Info("connecting to database",
			"host", cfg.Postgres.Host,
			"port", cfg.Postgres.Port,
			"database", cfg.Postgres.Name,
		)
		pool, err := database.Connect(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		store := database.NewOrderStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("database connected")
		return store, pool.Close, nil
	}
}

func closeBridge(bridge *broker.Bridge, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := bridge.Close(ctx); err != nil {
		logger.Warn("broker close failed", "error", err)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
