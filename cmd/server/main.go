// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"progress-stream-service/internal/entity"
	"progress-stream-service/internal/producer"
	"progress-stream-service/internal/repository"
	"progress-stream-service/internal/repository/postgresql"
	"progress-stream-service/internal/repository/redisstore"
	"progress-stream-service/internal/service"
	httptransport "progress-stream-service/internal/transport/http"
	"progress-stream-service/internal/transport/ws"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := envOr("HTTP_ADDR", ":8080")

	cfg := service.DefaultConfig()
	cfg.ThrottleUpdates = envIntOr("THROTTLE_UPDATES", cfg.ThrottleUpdates)
	cfg.ThrottleInterval = envDurOr("THROTTLE_INTERVAL", cfg.ThrottleInterval)
	cfg.Retention = envDurOr("RETENTION", cfg.Retention)
	cfg.SweepInterval = envDurOr("SWEEP_INTERVAL", cfg.SweepInterval)
	cfg.HeartbeatTimeout = envDurOr("HEARTBEAT_TIMEOUT", cfg.HeartbeatTimeout)

	store, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}

	// DI
	registry := service.NewRegistry(store, cfg)
	go registry.Run(ctx)

	gateway := ws.NewGateway(registry, cfg.HeartbeatTimeout)
	handler := httptransport.NewHandler(registry)
	router := httptransport.Routes(handler, gateway)

	if envOr("DEMO_JOB", "") == "1" {
		go func() {
			sim := producer.NewSimulator(registry, envDurOr("DEMO_INTERVAL", time.Second))
			if _, err := sim.Run(ctx, entity.PipelineBatchEnrichment, envIntOr("DEMO_TOTAL", 50)); err != nil {
				log.Printf("[demo] producer stopped: %v", err)
			}
		}()
	}

	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("server started: addr=%s store=%s", addr, envOr("STATE_STORE", "redis"))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http: %v", err)
	}
	log.Println("server stopped")
}

func buildStore(ctx context.Context, cfg service.Config) (service.StateStore, error) {
	switch kind := envOr("STATE_STORE", "redis"); kind {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: mustEnv("REDIS_ADDR")})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, err
		}
		return redisstore.New(rdb, cfg.Retention), nil
	case "postgres":
		pool, err := postgresql.NewPool(ctx, mustEnv("POSTGRES_DSN"))
		if err != nil {
			return nil, err
		}
		return postgresql.NewStateStore(pool), nil
	case "memory":
		log.Println("using in-memory store: job state will not survive a restart")
		return repository.NewMemoryStore(), nil
	default:
		return nil, errors.New("unknown STATE_STORE: " + kind)
	}
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("missing env: %s", key)
	}
	return v
}

func envOr(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func envDurOr(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
