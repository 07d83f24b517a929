package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spk364/procomp/internal/auth"
	"github.com/spk364/procomp/internal/config"
	"github.com/spk364/procomp/internal/database"
	"github.com/spk364/procomp/internal/hub"
	"github.com/spk364/procomp/internal/logging"
	"github.com/spk364/procomp/internal/match"
	"github.com/spk364/procomp/internal/redis"
	"github.com/spk364/procomp/internal/server"
)

// redisPinger adapts the go-redis client to the server's health check interface.
type redisPinger struct {
	rdb *goredis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func runGracefulShutdown(cfg *config.Config, srv *server.Server, h *hub.Hub, broker *redis.Broker) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		h.Stop()
		if err := broker.Close(); err != nil {
			slog.Error("Broker close error", "error", err)
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := database.EnsureSchema(ctx, pool); err != nil {
		slog.Error("Failed to ensure database schema", "error", err)
		os.Exit(1)
	}
	cancel()
	defer pool.Close()

	redisClient, err := redis.NewClient(context.Background(), cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() { _ = redisClient.Close() }()

	broker := redis.NewBroker(redisClient)

	matchRepo := database.NewMatchRepo(pool)
	eventRepo := database.NewEventRepo(pool)
	engine := match.NewEngine(matchRepo, eventRepo, clock)

	h := hub.NewHub(broker, clock, hub.Options{
		MaxClientsPerChannel: cfg.MaxClientsPerChannel,
		PingInterval:         cfg.PingInterval,
		IdleTimeout:          cfg.IdleTimeout,
	})

	verifier := auth.NewHMACVerifier(cfg.TokenSecret, clock)

	srv := server.NewServer(cfg, h, engine, verifier, clock, redisPinger{rdb: redisClient}, pool)

	done := runGracefulShutdown(cfg, srv, h, broker)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
