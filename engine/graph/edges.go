package graph

import (
	"context"
	"fmt"

	"github.com/OtoMind/otomind-engine/pkg/fn"
)

// EdgeInput carries caller-supplied fields for edge creation. Omitted
// confidence defaults to 1.0, omitted weight to 1.0; an omitted ID is
// generated.
type EdgeInput struct {
	ID            string         `json:"edge_id,omitempty"`
	SourceID      string         `json:"source_node_id"`
	TargetID      string         `json:"target_node_id"`
	Type          EdgeType       `json:"edge_type"`
	Weight        *float64       `json:"weight,omitempty"`
	Bidirectional bool           `json:"is_bidirectional,omitempty"`
	Confidence    *float64       `json:"confidence,omitempty"`
	Evidence      map[string]any `json:"evidence,omitempty"`
	Sources       []string       `json:"sources,omitempty"`
	CreatedBy     string         `json:"created_by,omitempty"`
}

func (g *GraphStore) newEdge(in EdgeInput) Edge {
	now := g.now().UTC()
	e := Edge{
		ID:               g.newID(),
		SourceID:         in.SourceID,
		TargetID:         in.TargetID,
		Type:             in.Type,
		Weight:           1.0,
		Bidirectional:    in.Bidirectional,
		Confidence:       1.0,
		Evidence:         in.Evidence,
		Sources:          []string{},
		ValidationStatus: StatusPending,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
		CreatedBy:        in.CreatedBy,
		Active:           true,
	}
	if in.ID != "" {
		e.ID = in.ID
	}
	if in.Weight != nil {
		e.Weight = *in.Weight
	}
	if in.Confidence != nil {
		e.Confidence = *in.Confidence
	}
	if in.Sources != nil {
		e.Sources = in.Sources
	}
	return e
}

func validateEdgeInput(in EdgeInput) error {
	if !in.Type.Valid() {
		return fmt.Errorf("graph: %w: invalid edge type %q", ErrInvalid, in.Type)
	}
	if in.SourceID == "" || in.TargetID == "" {
		return fmt.Errorf("graph: %w: edge source and target node ids are required", ErrInvalid)
	}
	if in.Confidence != nil && (*in.Confidence < 0 || *in.Confidence > 1) {
		return fmt.Errorf("graph: %w: confidence %v outside [0,1]", ErrInvalid, *in.Confidence)
	}
	return nil
}

// createEdgeCypher relates two existing nodes. Node liveness is deliberately
// not checked here; traversal joins filter both sides on is_active instead.
func createEdgeCypher(typ EdgeType) string {
	return fmt.Sprintf(
		`MATCH (a {node_id: $src}), (b {node_id: $dst})
		 CREATE (a)-[r:%s $props]->(b)
		 RETURN r`, typ)
}

// CreateEdge inserts an edge between two existing nodes and returns it.
// Referencing an unknown node ID is an error.
func (g *GraphStore) CreateEdge(ctx context.Context, in EdgeInput) (Edge, error) {
	if err := validateEdgeInput(in); err != nil {
		return Edge{}, err
	}
	e := g.newEdge(in)

	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, createEdgeCypher(e.Type), map[string]any{
		"src": e.SourceID, "dst": e.TargetID, "props": edgeToProps(e),
	})
	if err != nil {
		return Edge{}, fmt.Errorf("graph: create edge: %w", err)
	}
	if !result.Next(ctx) {
		return Edge{}, fmt.Errorf("graph: create edge: source %s or target %s: %w", in.SourceID, in.TargetID, ErrNotFound)
	}
	return e, nil
}

// CreateEdges inserts a batch of edges in a single transaction.
func (g *GraphStore) CreateEdges(ctx context.Context, ins []EdgeInput) ([]Edge, error) {
	edges := make([]Edge, 0, len(ins))
	for i, in := range ins {
		if err := validateEdgeInput(in); err != nil {
			return nil, fmt.Errorf("graph: batch edge %d: %w", i, err)
		}
		edges = append(edges, g.newEdge(in))
	}

	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx CypherRunner) (any, error) {
		for _, e := range edges {
			result, err := tx.Run(ctx, createEdgeCypher(e.Type), map[string]any{
				"src": e.SourceID, "dst": e.TargetID, "props": edgeToProps(e),
			})
			if err != nil {
				return nil, err
			}
			if !result.Next(ctx) {
				return nil, fmt.Errorf("source %s or target %s: %w", e.SourceID, e.TargetID, ErrNotFound)
			}
		}
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph: create edges: %w", err)
	}
	return edges, nil
}

// GetEdge returns the active edge with the given ID, or nil when missing,
// inactive, or the store is unavailable.
func (g *GraphStore) GetEdge(ctx context.Context, id string) *Edge {
	res := fn.Retry(ctx, readRetry, func(ctx context.Context) fn.Result[*Edge] {
		sess := g.opener.OpenSession(ctx)
		defer sess.Close(ctx)

		cypher := `MATCH (a)-[r {edge_id: $id}]->(b)
		           WHERE r.is_active = true
		           RETURN r, a.node_id AS src, b.node_id AS dst`
		result, err := sess.Run(ctx, cypher, map[string]any{"id": id})
		if err != nil {
			return fn.Err[*Edge](err)
		}
		if !result.Next(ctx) {
			return fn.Ok[*Edge](nil)
		}
		e := edgeFromRecord(result.Record())
		return fn.Ok(&e)
	})
	edge, err := res.Unwrap()
	if err != nil {
		g.logger.Error("graph: get edge failed", "edge_id", id, "err", err)
		return nil
	}
	return edge
}

// OutgoingEdges lists active edges leaving a node, strongest confidence
// first. typ narrows to a single edge type when non-empty.
func (g *GraphStore) OutgoingEdges(ctx context.Context, nodeID string, typ EdgeType) []Edge {
	return g.collectEdges(ctx, "outgoing edges",
		`MATCH (a {node_id: $id})-[r]->(b)
		 WHERE r.is_active = true AND ($type = '' OR r.edge_type = $type)
		 RETURN r, a.node_id AS src, b.node_id AS dst
		 ORDER BY r.confidence DESC`,
		map[string]any{"id": nodeID, "type": string(typ)})
}

// IncomingEdges lists active edges arriving at a node, strongest confidence
// first.
func (g *GraphStore) IncomingEdges(ctx context.Context, nodeID string, typ EdgeType) []Edge {
	return g.collectEdges(ctx, "incoming edges",
		`MATCH (a)-[r]->(b {node_id: $id})
		 WHERE r.is_active = true AND ($type = '' OR r.edge_type = $type)
		 RETURN r, a.node_id AS src, b.node_id AS dst
		 ORDER BY r.confidence DESC`,
		map[string]any{"id": nodeID, "type": string(typ)})
}

// EdgeUpdate carries a partial edge mutation; nil fields are left unchanged.
type EdgeUpdate struct {
	Weight           *float64          `json:"weight,omitempty"`
	Bidirectional    *bool             `json:"is_bidirectional,omitempty"`
	Confidence       *float64          `json:"confidence,omitempty"`
	Evidence         map[string]any    `json:"evidence,omitempty"`
	Sources          []string          `json:"sources,omitempty"`
	ValidationStatus *ValidationStatus `json:"validation_status,omitempty"`
}

func (u EdgeUpdate) props() map[string]any {
	props := map[string]any{}
	if u.Weight != nil {
		props["weight"] = *u.Weight
	}
	if u.Bidirectional != nil {
		props["is_bidirectional"] = *u.Bidirectional
	}
	if u.Confidence != nil {
		props["confidence"] = *u.Confidence
	}
	if u.Evidence != nil {
		e := Edge{Evidence: u.Evidence}
		if v, ok := edgeToProps(e)["evidence"]; ok {
			props["evidence"] = v
		}
	}
	if u.Sources != nil {
		props["sources"] = toAnySlice(u.Sources)
	}
	if u.ValidationStatus != nil {
		props["validation_status"] = string(*u.ValidationStatus)
	}
	return props
}

// UpdateEdge applies the supplied fields to an edge, bumps its version, and
// returns the updated record.
func (g *GraphStore) UpdateEdge(ctx context.Context, id string, u EdgeUpdate) (Edge, error) {
	if u.Confidence != nil && (*u.Confidence < 0 || *u.Confidence > 1) {
		return Edge{}, fmt.Errorf("graph: %w: confidence %v outside [0,1]", ErrInvalid, *u.Confidence)
	}

	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (a)-[r {edge_id: $id}]->(b)
	           SET r += $props, r.version = r.version + 1, r.updated_at = $now
	           RETURN r, a.node_id AS src, b.node_id AS dst`
	result, err := sess.Run(ctx, cypher, map[string]any{
		"id":    id,
		"props": u.props(),
		"now":   g.now().UTC().Format(timeLayout),
	})
	if err != nil {
		return Edge{}, fmt.Errorf("graph: update edge %s: %w", id, err)
	}
	if !result.Next(ctx) {
		return Edge{}, fmt.Errorf("graph: update edge %s: %w", id, ErrNotFound)
	}
	return edgeFromRecord(result.Record()), nil
}

// DeleteEdge deactivates an edge.
func (g *GraphStore) DeleteEdge(ctx context.Context, id string) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH ()-[r {edge_id: $id}]->()
	           SET r.is_active = false, r.version = r.version + 1, r.updated_at = $now
	           RETURN r`
	result, err := sess.Run(ctx, cypher, map[string]any{
		"id":  id,
		"now": g.now().UTC().Format(timeLayout),
	})
	if err != nil {
		return fmt.Errorf("graph: delete edge %s: %w", id, err)
	}
	if !result.Next(ctx) {
		return fmt.Errorf("graph: delete edge %s: %w", id, ErrNotFound)
	}
	return nil
}

// edgeFromRecord decodes an edge row shaped as (r, src, dst).
func edgeFromRecord(rec Record) Edge {
	val, _ := rec.Get("r")
	e := edgeFromProps(nodeValueProps(val))
	if src, ok := rec.Get("src"); ok {
		if s, ok := src.(string); ok {
			e.SourceID = s
		}
	}
	if dst, ok := rec.Get("dst"); ok {
		if s, ok := dst.(string); ok {
			e.TargetID = s
		}
	}
	return e
}

// collectEdges runs a read query with retry and decodes (r, src, dst) rows.
// Failures degrade to nil after logging.
func (g *GraphStore) collectEdges(ctx context.Context, op, cypher string, params map[string]any) []Edge {
	res := fn.Retry(ctx, readRetry, func(ctx context.Context) fn.Result[[]Edge] {
		sess := g.opener.OpenSession(ctx)
		defer sess.Close(ctx)

		result, err := sess.Run(ctx, cypher, params)
		if err != nil {
			return fn.Err[[]Edge](err)
		}
		var edges []Edge
		for result.Next(ctx) {
			edges = append(edges, edgeFromRecord(result.Record()))
		}
		if err := result.Err(); err != nil {
			return fn.Err[[]Edge](err)
		}
		return fn.Ok(edges)
	})
	edges, err := res.Unwrap()
	if err != nil {
		g.logger.Error("graph: "+op+" failed", "err", err)
		return nil
	}
	return edges
}
