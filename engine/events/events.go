// Package events defines the NATS subjects and payloads shared by the API
// server and the seeder.
package events

import (
	"context"
	"log/slog"

	"github.com/OtoMind/otomind-engine/engine/diagnose"
	"github.com/OtoMind/otomind-engine/engine/graph"
	"github.com/OtoMind/otomind-engine/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

const (
	// SubjectDiagnosisCompleted carries one event per finished diagnosis.
	SubjectDiagnosisCompleted = "diag.completed"
	// SubjectGraphBatch carries bulk node/edge payloads from external
	// seeding producers.
	SubjectGraphBatch = "graph.batch"
)

// GraphBatch is a bulk graph mutation produced by seeding tools. Nodes are
// applied before edges so edges can reference producer-assigned node IDs
// from the same batch.
type GraphBatch struct {
	Nodes []graph.NodeInput `json:"nodes"`
	Edges []graph.EdgeInput `json:"edges"`
}

// Bus publishes engine events over NATS. It satisfies diagnose.EventSink;
// publish failures are logged and dropped so events never slow a diagnosis.
type Bus struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// NewBus wraps a NATS connection.
func NewBus(nc *nats.Conn, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{nc: nc, logger: logger}
}

var _ diagnose.EventSink = (*Bus)(nil)

// DiagnosisCompleted publishes a completed diagnosis event.
func (b *Bus) DiagnosisCompleted(ctx context.Context, ev diagnose.CompletedEvent) {
	if err := natsutil.Publish(ctx, b.nc, SubjectDiagnosisCompleted, ev); err != nil {
		b.logger.Warn("events: publish diagnosis completed failed", "err", err)
	}
}

// SubscribeGraphBatch registers a handler for incoming graph batches.
func SubscribeGraphBatch(nc *nats.Conn, handler func(context.Context, GraphBatch)) (*nats.Subscription, error) {
	return natsutil.Subscribe(nc, SubjectGraphBatch, handler)
}
