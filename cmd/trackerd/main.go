package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lockpick/tracker/internal/config"
	"github.com/lockpick/tracker/internal/engine"
	"github.com/lockpick/tracker/internal/events"
	"github.com/lockpick/tracker/internal/logger"
	"github.com/lockpick/tracker/internal/storage"
	"github.com/lockpick/tracker/internal/transport"
	pkgstorage "github.com/lockpick/tracker/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logg := logger.Setup(cfg)

	logg.Info("Starting Tracker Engine Daemon",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"redis_url", cfg.RedisURL)

	// Redis is optional: without it sessions are not persisted and pushes are
	// not fanned out, but the protocol itself is fully functional.
	var store pkgstorage.Storage
	var bcast *events.Broadcaster
	if cfg.RedisURL != "" {
		redisStore := storage.NewRedisStorage(cfg.RedisURL, logg)
		waitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := redisStore.WaitForConnection(waitCtx); err != nil {
			logg.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		store = redisStore
		defer func() {
			if err := redisStore.Close(); err != nil {
				logg.Error("Error closing Redis storage", "error", err)
			}
		}()

		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error("Error closing Redis client", "error", err)
			}
		}()
		bcast = events.NewBroadcaster(redisClient, logg)
		logg.Info("Redis persistence and fan-out enabled")
	}

	ctx, cancelSessions := context.WithCancel(context.Background())
	defer cancelSessions()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	// Each websocket connection gets its own engine and runner: sessions are
	// fully independent.
	mux.Handle("/session", transport.Handler(logg, func(tr transport.Transport) {
		e := engine.New(logg, nil)
		sessionLog := logger.WithSession(logg, e.SessionID())

		opts := []engine.RunnerOption{}
		if store != nil {
			opts = append(opts, engine.WithStorage(store))
		}
		if bcast != nil {
			opts = append(opts, engine.WithBroadcaster(bcast))
		}

		r := engine.NewRunner(e, tr, sessionLog, opts...)
		go func() {
			if err := r.Run(ctx); err != nil {
				sessionLog.Error("Session runner error", "error", err)
			}
			_ = tr.Close()
		}()
	}))

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logg.Info("Listening for sessions", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logg.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logg.Info("Shutdown signal received")

	cancelSessions()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error("Server shutdown error", "error", err)
	}

	logg.Info("Tracker daemon exited")
}
