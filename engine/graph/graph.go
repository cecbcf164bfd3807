package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/OtoMind/otomind-engine/pkg/fn"
	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// readRetry bounds retries on read-path queries before they degrade to an
// empty result.
var readRetry = fn.RetryOpts{
	MaxAttempts: 2,
	InitialWait: 100 * time.Millisecond,
	MaxWait:     time.Second,
	Jitter:      true,
}

// GraphStore provides typed node and edge operations over Neo4j.
//
// Read paths never return errors: a missing record and an unavailable store
// both surface as a zero value, with the failure logged. Mutations propagate
// errors to the caller.
type GraphStore struct {
	opener SessionOpener
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// New creates a GraphStore backed by a Neo4j driver.
func New(driver neo4j.DriverWithContext, logger *slog.Logger) *GraphStore {
	return NewWithOpener(NewDriverOpener(driver), logger)
}

// NewWithOpener creates a GraphStore with a custom session opener. Used by
// tests to substitute fakes.
func NewWithOpener(opener SessionOpener, logger *slog.Logger) *GraphStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphStore{
		opener: opener,
		logger: logger,
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
}

// NodeInput carries caller-supplied fields for node creation. Omitted
// confidence defaults to 1.0; an omitted ID is generated.
type NodeInput struct {
	ID         string         `json:"node_id,omitempty"`
	Type       NodeType       `json:"node_type"`
	Label      string         `json:"node_label"`
	Alias      string         `json:"node_alias,omitempty"`
	Category   string         `json:"node_category,omitempty"`
	Data       map[string]any `json:"node_data,omitempty"`
	Confidence *float64       `json:"confidence,omitempty"`
	Sources    []string       `json:"sources,omitempty"`
	CreatedBy  string         `json:"created_by,omitempty"`
}

func (g *GraphStore) newNode(in NodeInput) Node {
	now := g.now().UTC()
	n := Node{
		ID:               g.newID(),
		Type:             in.Type,
		Label:            in.Label,
		Alias:            in.Alias,
		Category:         in.Category,
		Data:             in.Data,
		Confidence:       1.0,
		Sources:          []string{},
		ValidationStatus: StatusPending,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
		CreatedBy:        in.CreatedBy,
		Active:           true,
	}
	if in.ID != "" {
		n.ID = in.ID
	}
	if in.Confidence != nil {
		n.Confidence = *in.Confidence
	}
	if in.Sources != nil {
		n.Sources = in.Sources
	}
	return n
}

func validateNodeInput(in NodeInput) error {
	if !in.Type.Valid() {
		return fmt.Errorf("graph: %w: invalid node type %q", ErrInvalid, in.Type)
	}
	if in.Label == "" {
		return fmt.Errorf("graph: %w: node label is required", ErrInvalid)
	}
	if in.Confidence != nil && (*in.Confidence < 0 || *in.Confidence > 1) {
		return fmt.Errorf("graph: %w: confidence %v outside [0,1]", ErrInvalid, *in.Confidence)
	}
	return nil
}

// CreateNode inserts a node with defaults applied and returns it.
func (g *GraphStore) CreateNode(ctx context.Context, in NodeInput) (Node, error) {
	if err := validateNodeInput(in); err != nil {
		return Node{}, err
	}
	n := g.newNode(in)

	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(`CREATE (n:%s $props) RETURN n`, n.Type)
	result, err := sess.Run(ctx, cypher, map[string]any{"props": nodeToProps(n)})
	if err != nil {
		return Node{}, fmt.Errorf("graph: create node: %w", err)
	}
	if !result.Next(ctx) {
		return Node{}, fmt.Errorf("graph: create node: no row returned")
	}
	return n, nil
}

// CreateNodes inserts a batch of nodes in a single transaction. The whole
// batch fails if any node is invalid or any write fails.
func (g *GraphStore) CreateNodes(ctx context.Context, ins []NodeInput) ([]Node, error) {
	nodes := make([]Node, 0, len(ins))
	for i, in := range ins {
		if err := validateNodeInput(in); err != nil {
			return nil, fmt.Errorf("graph: batch node %d: %w", i, err)
		}
		nodes = append(nodes, g.newNode(in))
	}

	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx CypherRunner) (any, error) {
		for _, n := range nodes {
			cypher := fmt.Sprintf(`CREATE (n:%s $props)`, n.Type)
			if _, err := tx.Run(ctx, cypher, map[string]any{"props": nodeToProps(n)}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph: create nodes: %w", err)
	}
	return nodes, nil
}

// GetNode returns the active node with the given ID, or nil when it does not
// exist, is inactive, or the store is unavailable.
func (g *GraphStore) GetNode(ctx context.Context, id string) *Node {
	res := fn.Retry(ctx, readRetry, func(ctx context.Context) fn.Result[*Node] {
		sess := g.opener.OpenSession(ctx)
		defer sess.Close(ctx)

		cypher := `MATCH (n {node_id: $id}) WHERE n.is_active = true RETURN n`
		result, err := sess.Run(ctx, cypher, map[string]any{"id": id})
		if err != nil {
			return fn.Err[*Node](err)
		}
		if !result.Next(ctx) {
			return fn.Ok[*Node](nil)
		}
		val, _ := result.Record().Get("n")
		n := nodeFromProps(nodeValueProps(val))
		return fn.Ok(&n)
	})
	node, err := res.Unwrap()
	if err != nil {
		g.logger.Error("graph: get node failed", "node_id", id, "err", err)
		return nil
	}
	return node
}

// GetNodesByType returns active nodes of the given type, newest first.
func (g *GraphStore) GetNodesByType(ctx context.Context, typ NodeType, limit, offset int) []Node {
	if !typ.Valid() {
		g.logger.Warn("graph: list nodes with invalid type", "type", typ)
		return nil
	}
	if limit <= 0 {
		limit = 100
	}
	cypher := fmt.Sprintf(
		`MATCH (n:%s) WHERE n.is_active = true
		 RETURN n ORDER BY n.created_at DESC SKIP $offset LIMIT $limit`, typ)
	return g.collectNodes(ctx, "list nodes", cypher, map[string]any{
		"offset": offset, "limit": limit,
	})
}

// SearchNodes returns active nodes whose label contains the query,
// case-insensitively. Exact label matches sort first, then shorter labels,
// so the head of the result is the closest match. typ narrows the search
// when non-empty.
func (g *GraphStore) SearchNodes(ctx context.Context, query string, typ NodeType, limit int) []Node {
	if query == "" {
		return nil
	}
	if limit <= 0 {
		limit = 20
	}
	pattern := "(n)"
	if typ != "" {
		if !typ.Valid() {
			g.logger.Warn("graph: search with invalid type", "type", typ)
			return nil
		}
		pattern = fmt.Sprintf("(n:%s)", typ)
	}
	cypher := fmt.Sprintf(
		`MATCH %s
		 WHERE n.is_active = true AND toLower(n.node_label) CONTAINS toLower($q)
		 RETURN n
		 ORDER BY (toLower(n.node_label) = toLower($q)) DESC, size(n.node_label) ASC, n.node_id ASC
		 LIMIT $limit`, pattern)
	return g.collectNodes(ctx, "search nodes", cypher, map[string]any{
		"q": query, "limit": limit,
	})
}

// NodeUpdate carries a partial node mutation; nil fields are left unchanged.
type NodeUpdate struct {
	Label            *string           `json:"node_label,omitempty"`
	Alias            *string           `json:"node_alias,omitempty"`
	Category         *string           `json:"node_category,omitempty"`
	Data             map[string]any    `json:"node_data,omitempty"`
	Confidence       *float64          `json:"confidence,omitempty"`
	Sources          []string          `json:"sources,omitempty"`
	ValidationStatus *ValidationStatus `json:"validation_status,omitempty"`
}

func (u NodeUpdate) props() map[string]any {
	props := map[string]any{}
	if u.Label != nil {
		props["node_label"] = *u.Label
	}
	if u.Alias != nil {
		props["node_alias"] = *u.Alias
	}
	if u.Category != nil {
		props["node_category"] = *u.Category
	}
	if u.Data != nil {
		n := Node{Data: u.Data}
		if v, ok := nodeToProps(n)["node_data"]; ok {
			props["node_data"] = v
		}
	}
	if u.Confidence != nil {
		props["confidence"] = *u.Confidence
	}
	if u.Sources != nil {
		props["sources"] = toAnySlice(u.Sources)
	}
	if u.ValidationStatus != nil {
		props["validation_status"] = string(*u.ValidationStatus)
	}
	return props
}

// UpdateNode applies the supplied fields to a node, bumps its version, and
// returns the updated record. Updating an unknown node is an error.
func (g *GraphStore) UpdateNode(ctx context.Context, id string, u NodeUpdate) (Node, error) {
	if u.Confidence != nil && (*u.Confidence < 0 || *u.Confidence > 1) {
		return Node{}, fmt.Errorf("graph: %w: confidence %v outside [0,1]", ErrInvalid, *u.Confidence)
	}

	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (n {node_id: $id})
	           SET n += $props, n.version = n.version + 1, n.updated_at = $now
	           RETURN n`
	result, err := sess.Run(ctx, cypher, map[string]any{
		"id":    id,
		"props": u.props(),
		"now":   g.now().UTC().Format(timeLayout),
	})
	if err != nil {
		return Node{}, fmt.Errorf("graph: update node %s: %w", id, err)
	}
	if !result.Next(ctx) {
		return Node{}, fmt.Errorf("graph: update node %s: %w", id, ErrNotFound)
	}
	val, _ := result.Record().Get("n")
	return nodeFromProps(nodeValueProps(val)), nil
}

// DeleteNode deactivates a node. The record is never physically removed.
func (g *GraphStore) DeleteNode(ctx context.Context, id string) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (n {node_id: $id})
	           SET n.is_active = false, n.version = n.version + 1, n.updated_at = $now
	           RETURN n`
	result, err := sess.Run(ctx, cypher, map[string]any{
		"id":  id,
		"now": g.now().UTC().Format(timeLayout),
	})
	if err != nil {
		return fmt.Errorf("graph: delete node %s: %w", id, err)
	}
	if !result.Next(ctx) {
		return fmt.Errorf("graph: delete node %s: %w", id, ErrNotFound)
	}
	return nil
}

// collectNodes runs a read query with retry and decodes every "n" column.
// Failures degrade to nil after logging.
func (g *GraphStore) collectNodes(ctx context.Context, op, cypher string, params map[string]any) []Node {
	res := fn.Retry(ctx, readRetry, func(ctx context.Context) fn.Result[[]Node] {
		sess := g.opener.OpenSession(ctx)
		defer sess.Close(ctx)

		result, err := sess.Run(ctx, cypher, params)
		if err != nil {
			return fn.Err[[]Node](err)
		}
		var nodes []Node
		for result.Next(ctx) {
			val, _ := result.Record().Get("n")
			if props := nodeValueProps(val); props != nil {
				nodes = append(nodes, nodeFromProps(props))
			}
		}
		if err := result.Err(); err != nil {
			return fn.Err[[]Node](err)
		}
		return fn.Ok(nodes)
	})
	nodes, err := res.Unwrap()
	if err != nil {
		g.logger.Error("graph: "+op+" failed", "err", err)
		return nil
	}
	return nodes
}
