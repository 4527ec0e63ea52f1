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

	"golang.org/x/sync/errgroup"

	"gamehub/internal/catalog"
	"gamehub/internal/config"
	"gamehub/internal/hub"
)

const ConfigPath = "config/hubserver.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgPath := ConfigPath
	if p := os.Getenv("GAMEHUB_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadServer(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))

	slog.Info("gamehub server starting")
	slog.Info("config loaded", "bind", cfg.BindAddress, "port", cfg.Port, "catalog", cfg.Catalog.Backend)

	if err := os.MkdirAll(cfg.ArtifactDir, 0o755); err != nil {
		return fmt.Errorf("creating artifact dir: %w", err)
	}

	store, closeStore, err := openCatalog(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening catalog: %w", err)
	}
	defer closeStore()

	server := hub.NewServer(cfg, store)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting hub server")
		if err := server.Run(gctx); err != nil {
			return fmt.Errorf("hub server: %w", err)
		}
		return nil
	})

	if cfg.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", server.Metrics().Handler())
		srv := &http.Server{Addr: cfg.MetricsAddress, Handler: mux}

		g.Go(func() error {
			slog.Info("starting metrics server", "address", cfg.MetricsAddress)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// openCatalog builds the configured catalog backend and returns it
// with its cleanup function.
func openCatalog(ctx context.Context, cfg config.Server) (catalog.Store, func(), error) {
	switch cfg.Catalog.Backend {
	case config.CatalogFile, "":
		store, err := catalog.NewFileStore(cfg.Catalog.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil

	case config.CatalogPostgres:
		dsn := cfg.Catalog.Database.DSN()
		if err := catalog.RunMigrations(ctx, dsn); err != nil {
			return nil, nil, fmt.Errorf("running migrations: %w", err)
		}
		slog.Info("database migrations applied")
		store, err := catalog.NewPostgresStore(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown catalog backend %q", cfg.Catalog.Backend)
	}
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
