// Package main implements the OtoMind diagnostic API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/OtoMind/otomind-engine/engine/cache"
	"github.com/OtoMind/otomind-engine/engine/diagnose"
	"github.com/OtoMind/otomind-engine/engine/events"
	"github.com/OtoMind/otomind-engine/engine/graph"
	"github.com/OtoMind/otomind-engine/pkg/metrics"
	"github.com/OtoMind/otomind-engine/pkg/mid"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
)

// Config holds all environment-based configuration.
type Config struct {
	Port       string
	Neo4jURL   string
	Neo4jUser  string
	Neo4jPass  string
	RedisURL   string
	NATSURL    string
	CORSOrigin string
	CacheTTL   time.Duration
	Threshold  float64
	RateRPS    float64
	RateBurst  int
}

func loadConfig() Config {
	return Config{
		Port:       envOr("PORT", "8080"),
		Neo4jURL:   envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser:  envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:  envOr("NEO4J_PASS", "password"),
		RedisURL:   envOr("REDIS_URL", "redis://localhost:6379/0"),
		NATSURL:    envOr("NATS_URL", ""),
		CORSOrigin: envOr("CORS_ORIGIN", "*"),
		CacheTTL:   time.Duration(envFloat("CACHE_TTL_SECONDS", 3600)) * time.Second,
		Threshold:  envFloat("CONFIDENCE_THRESHOLD", 0.75),
		RateRPS:    envFloat("RATE_LIMIT_RPS", 50),
		RateBurst:  int(envFloat("RATE_LIMIT_BURST", 100)),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Connect to Neo4j ---
	neo4jDriver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer neo4jDriver.Close(ctx)

	graphStore := graph.New(neo4jDriver, logger)

	// --- Connect to Redis ---
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	queryCache := cache.New(rdb, cfg.CacheTTL, logger)

	// --- Connect to NATS (optional) ---
	var sink diagnose.EventSink
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("otomind-api"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()
		sink = events.NewBus(nc, logger)
	}

	// --- Build diagnosis service ---
	reg := metrics.New()
	opts := diagnose.DefaultOptions()
	opts.DefaultThreshold = cfg.Threshold
	diagSvc := diagnose.New(graphStore, queryCache, sink, opts, logger, reg)

	// --- Build HTTP server ---
	api := &apiServer{
		graph:  graphStore,
		cache:  queryCache,
		diag:   diagSvc,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.Handle("GET /metrics", reg.Handler())
	mux.HandleFunc("POST /api/diagnose", api.handleDiagnose)
	mux.HandleFunc("GET /api/stats", api.handleStats)

	mux.HandleFunc("POST /api/nodes", api.handleCreateNode)
	mux.HandleFunc("POST /api/nodes/batch", api.handleCreateNodes)
	mux.HandleFunc("GET /api/nodes", api.handleListNodes)
	mux.HandleFunc("GET /api/nodes/search", api.handleSearchNodes)
	mux.HandleFunc("GET /api/nodes/{id}", api.handleGetNode)
	mux.HandleFunc("PATCH /api/nodes/{id}", api.handleUpdateNode)
	mux.HandleFunc("DELETE /api/nodes/{id}", api.handleDeleteNode)
	mux.HandleFunc("GET /api/nodes/{id}/edges", api.handleNodeEdges)

	mux.HandleFunc("POST /api/edges", api.handleCreateEdge)
	mux.HandleFunc("POST /api/edges/batch", api.handleCreateEdges)
	mux.HandleFunc("GET /api/edges/{id}", api.handleGetEdge)
	mux.HandleFunc("PATCH /api/edges/{id}", api.handleUpdateEdge)
	mux.HandleFunc("DELETE /api/edges/{id}", api.handleDeleteEdge)

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.RateLimit(cfg.RateRPS, cfg.RateBurst),
		mid.OTel("otomind-api"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
