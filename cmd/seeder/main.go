// Command seeder loads knowledge-graph nodes and edges into Neo4j. It can
// apply a one-shot JSON seed file and/or consume graph.batch payloads from
// NATS produced by external curation tools.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"

	"github.com/OtoMind/otomind-engine/engine/events"
	"github.com/OtoMind/otomind-engine/engine/graph"
	"github.com/OtoMind/otomind-engine/pkg/metrics"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

var met = metrics.New()

var (
	mBatches = met.Counter("otomind_seeder_batches_total", "Graph batches applied")
	mNodes   = met.Counter("otomind_seeder_nodes_total", "Nodes created")
	mEdges   = met.Counter("otomind_seeder_edges_total", "Edges created")
	mErrors  = met.Counter("otomind_seeder_errors_total", "Failed batch applications")
)

func main() {
	var (
		seedFile    = flag.String("file", "", "JSON seed file to apply on startup")
		natsURL     = flag.String("nats", "", "NATS URL to subscribe for graph batches (empty disables)")
		neo4jURL    = flag.String("neo4j", "neo4j://localhost:7687", "Neo4j bolt URL")
		neo4jUser   = flag.String("neo4j-user", "neo4j", "Neo4j username")
		neo4jPass   = flag.String("neo4j-pass", "password", "Neo4j password")
		metricsPort = flag.Int("metrics-port", 9092, "port for /metrics")
	)
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	if err := run(*seedFile, *natsURL, *neo4jURL, *neo4jUser, *neo4jPass, *metricsPort, log); err != nil {
		log.Error("seeder exited with error", "err", err)
		os.Exit(1)
	}
}

func run(seedFile, natsURL, neo4jURL, neo4jUser, neo4jPass string, metricsPort int, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	driver, err := neo4j.NewDriverWithContext(neo4jURL, neo4j.BasicAuth(neo4jUser, neo4jPass, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer driver.Close(ctx)
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("neo4j verify: %w", err)
	}
	log.Info("connected to Neo4j", "url", neo4jURL)

	gs := graph.New(driver, log)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", met.Handler())
	go func() {
		if err := http.ListenAndServe(fmt.Sprintf(":%d", metricsPort), mux); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics server stopped", "err", err)
		}
	}()

	if seedFile != "" {
		batch, err := loadSeedFile(seedFile)
		if err != nil {
			return err
		}
		if err := applyBatch(ctx, gs, batch, log); err != nil {
			return fmt.Errorf("apply seed file: %w", err)
		}
	}

	if natsURL == "" {
		log.Info("no NATS URL configured, exiting after one-shot seed")
		return nil
	}

	nc, err := nats.Connect(natsURL, nats.Name("otomind-seeder"))
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Drain()

	sub, err := events.SubscribeGraphBatch(nc, func(ctx context.Context, batch events.GraphBatch) {
		if err := applyBatch(ctx, gs, batch, log); err != nil {
			mErrors.Inc()
			log.Error("apply graph batch failed", "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe graph batch: %w", err)
	}
	defer sub.Unsubscribe()

	log.Info("seeder listening", "subject", events.SubjectGraphBatch)
	<-ctx.Done()
	log.Info("shutdown signal received")
	return nil
}

func loadSeedFile(path string) (events.GraphBatch, error) {
	var batch events.GraphBatch
	data, err := os.ReadFile(path)
	if err != nil {
		return batch, fmt.Errorf("read seed file: %w", err)
	}
	if err := json.Unmarshal(data, &batch); err != nil {
		return batch, fmt.Errorf("parse seed file: %w", err)
	}
	return batch, nil
}

// applyBatch creates nodes before edges so edges may reference node IDs
// assigned in the same batch.
func applyBatch(ctx context.Context, gs *graph.GraphStore, batch events.GraphBatch, log *slog.Logger) error {
	if len(batch.Nodes) > 0 {
		nodes, err := gs.CreateNodes(ctx, batch.Nodes)
		if err != nil {
			return fmt.Errorf("create nodes: %w", err)
		}
		mNodes.Add(int64(len(nodes)))
	}
	if len(batch.Edges) > 0 {
		edges, err := gs.CreateEdges(ctx, batch.Edges)
		if err != nil {
			return fmt.Errorf("create edges: %w", err)
		}
		mEdges.Add(int64(len(edges)))
	}
	mBatches.Inc()
	log.Info("graph batch applied", "nodes", len(batch.Nodes), "edges", len(batch.Edges))
	return nil
}
