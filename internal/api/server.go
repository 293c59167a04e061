package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/werkplatz/werkplatz-api/internal/billing"
	"github.com/werkplatz/werkplatz-api/internal/config"
	"github.com/werkplatz/werkplatz-api/internal/logging"
	"github.com/werkplatz/werkplatz-api/internal/store"
)

const shutdownTimeout = 30 * time.Second

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// OpenStore opens and migrates the configured store.
func OpenStore(ctx context.Context, cfg *config.Config) (*store.SQLStore, error) {
	s, err := store.Open(ctx, store.Config{
		Driver:  store.Driver(cfg.StoreDriver),
		DataDir: cfg.DataDir,
		DSN:     cfg.DatabaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if _, err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return s, nil
}

// Run starts the API server with graceful shutdown.
func Run(ctx context.Context, cfg *config.Config, version string) error {
	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "api",
	})

	log.Info().Str("version", version).Msg("Starting Werkplatz API")

	s, err := OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("Admin guard using Redis backend")
	} else {
		log.Warn().Msg("WP_REDIS_ADDR not set; admin guard state is process-local")
	}

	if cfg.StripeAPIKey == "" {
		log.Warn().Msg("STRIPE_API_KEY not set; checkout and subscription lookups will fail")
	}
	resolver := billing.NewResolver(cfg.DNSRefresh)
	billing.UseResolver(resolver)
	deps := NewDeps(cfg, s, billing.NewClient(cfg.StripeAPIKey), rdb, version)

	addr := cfg.ListenAddr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(deps),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go resolver.Run(ctx)

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down...")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down...")
	case err, ok := <-serveErr:
		if ok && err != nil {
			return fmt.Errorf("serve %s: %w", addr, err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("API stopped")
	return nil
}
