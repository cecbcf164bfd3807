package graph

import (
	"context"
)

// FaultCandidate is one CAUSES edge from a matched observable to a fault,
// joined with the fault node.
type FaultCandidate struct {
	FaultID       string   `json:"fault_id"`
	FaultLabel    string   `json:"fault_label"`
	FaultCategory string   `json:"fault_category,omitempty"`
	Weight        float64  `json:"weight"`
	Confidence    float64  `json:"confidence"`
	ObservableID  string   `json:"observable_id"`
	Sources       []string `json:"sources"`
}

// PartRef is a replacement part joined through a FIXED_BY edge.
type PartRef struct {
	PartID     string  `json:"part_id"`
	Label      string  `json:"label"`
	Category   string  `json:"category,omitempty"`
	Confidence float64 `json:"confidence"`
	Weight     float64 `json:"weight"`
}

// ActionRef is a diagnostic action joined through a DIAGNOSED_BY edge.
type ActionRef struct {
	ActionID   string  `json:"action_id"`
	Label      string  `json:"label"`
	Category   string  `json:"category,omitempty"`
	Confidence float64 `json:"confidence"`
	Weight     float64 `json:"weight"`
}

// Each traversal below has an optimized single-query path that pushes the
// edge+node join to the server, and a client-side fallback that performs an
// equivalent join over OutgoingEdges + GetNode. The optimized path is
// re-attempted on every call; a failure downgrades that call only.

// FaultsCausedBy returns every active CAUSES edge from the given observable
// nodes to an active fault node.
func (g *GraphStore) FaultsCausedBy(ctx context.Context, observableIDs []string) []FaultCandidate {
	if len(observableIDs) == 0 {
		return nil
	}
	if out, err := g.faultsCausedByOptimized(ctx, observableIDs); err == nil {
		return out
	} else {
		g.logger.Warn("graph: optimized fault traversal failed, using fallback", "err", err)
	}
	return g.faultsCausedByFallback(ctx, observableIDs)
}

func (g *GraphStore) faultsCausedByOptimized(ctx context.Context, observableIDs []string) ([]FaultCandidate, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (o:Observable)-[r:CAUSES]->(f:Fault)
	           WHERE o.node_id IN $ids
	             AND o.is_active = true AND r.is_active = true AND f.is_active = true
	           RETURN f.node_id AS fault_id, f.node_label AS fault_label,
	                  f.node_category AS fault_category, r.weight AS weight,
	                  r.confidence AS confidence, o.node_id AS observable_id,
	                  r.sources AS sources
	           ORDER BY r.confidence DESC`
	result, err := sess.Run(ctx, cypher, map[string]any{"ids": toAnySlice(observableIDs)})
	if err != nil {
		return nil, err
	}
	var out []FaultCandidate
	for result.Next(ctx) {
		rec := result.Record()
		c := FaultCandidate{
			FaultID:       strColumn(rec, "fault_id"),
			FaultLabel:    strColumn(rec, "fault_label"),
			FaultCategory: strColumn(rec, "fault_category"),
			Weight:        floatColumn(rec, "weight"),
			Confidence:    floatColumn(rec, "confidence"),
			ObservableID:  strColumn(rec, "observable_id"),
			Sources:       strSliceColumn(rec, "sources"),
		}
		out = append(out, c)
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (g *GraphStore) faultsCausedByFallback(ctx context.Context, observableIDs []string) []FaultCandidate {
	var out []FaultCandidate
	for _, obsID := range observableIDs {
		for _, e := range g.OutgoingEdges(ctx, obsID, EdgeCauses) {
			// Edges may survive the deactivation of their endpoints;
			// GetNode filters on is_active for us.
			fault := g.GetNode(ctx, e.TargetID)
			if fault == nil || fault.Type != NodeFault {
				continue
			}
			out = append(out, FaultCandidate{
				FaultID:       fault.ID,
				FaultLabel:    fault.Label,
				FaultCategory: fault.Category,
				Weight:        e.Weight,
				Confidence:    e.Confidence,
				ObservableID:  obsID,
				Sources:       e.Sources,
			})
		}
	}
	return out
}

// PartsFixing returns parts connected to a fault by active FIXED_BY edges,
// strongest confidence first.
func (g *GraphStore) PartsFixing(ctx context.Context, faultID string) []PartRef {
	if out, err := g.targetsOptimized(ctx, faultID, EdgeFixedBy, NodePart); err == nil {
		parts := make([]PartRef, len(out))
		for i, t := range out {
			parts[i] = t.part()
		}
		return parts
	} else {
		g.logger.Warn("graph: optimized part traversal failed, using fallback", "err", err)
	}
	var parts []PartRef
	for _, t := range g.targetsFallback(ctx, faultID, EdgeFixedBy, NodePart) {
		parts = append(parts, t.part())
	}
	return parts
}

// ActionsDiagnosing returns actions connected to a fault by active
// DIAGNOSED_BY edges, strongest confidence first.
func (g *GraphStore) ActionsDiagnosing(ctx context.Context, faultID string) []ActionRef {
	if out, err := g.targetsOptimized(ctx, faultID, EdgeDiagnosedBy, NodeAction); err == nil {
		actions := make([]ActionRef, len(out))
		for i, t := range out {
			actions[i] = t.action()
		}
		return actions
	} else {
		g.logger.Warn("graph: optimized action traversal failed, using fallback", "err", err)
	}
	var actions []ActionRef
	for _, t := range g.targetsFallback(ctx, faultID, EdgeDiagnosedBy, NodeAction) {
		actions = append(actions, t.action())
	}
	return actions
}

// targetRef is the shared row shape for fault→part and fault→action joins.
type targetRef struct {
	ID         string
	Label      string
	Category   string
	Confidence float64
	Weight     float64
}

func (t targetRef) part() PartRef {
	return PartRef{
		PartID:     t.ID,
		Label:      t.Label,
		Category:   t.Category,
		Confidence: t.Confidence,
		Weight:     t.Weight,
	}
}

func (t targetRef) action() ActionRef {
	return ActionRef{
		ActionID:   t.ID,
		Label:      t.Label,
		Category:   t.Category,
		Confidence: t.Confidence,
		Weight:     t.Weight,
	}
}

func (g *GraphStore) targetsOptimized(ctx context.Context, faultID string, et EdgeType, nt NodeType) ([]targetRef, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (f:Fault {node_id: $id})-[r:` + string(et) + `]->(t:` + string(nt) + `)
	           WHERE f.is_active = true AND r.is_active = true AND t.is_active = true
	           RETURN t.node_id AS id, t.node_label AS label, t.node_category AS category,
	                  r.confidence AS confidence, r.weight AS weight
	           ORDER BY r.confidence DESC`
	result, err := sess.Run(ctx, cypher, map[string]any{"id": faultID})
	if err != nil {
		return nil, err
	}
	var out []targetRef
	for result.Next(ctx) {
		rec := result.Record()
		out = append(out, targetRef{
			ID:         strColumn(rec, "id"),
			Label:      strColumn(rec, "label"),
			Category:   strColumn(rec, "category"),
			Confidence: floatColumn(rec, "confidence"),
			Weight:     floatColumn(rec, "weight"),
		})
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (g *GraphStore) targetsFallback(ctx context.Context, faultID string, et EdgeType, nt NodeType) []targetRef {
	var out []targetRef
	for _, e := range g.OutgoingEdges(ctx, faultID, et) {
		node := g.GetNode(ctx, e.TargetID)
		if node == nil || node.Type != nt {
			continue
		}
		out = append(out, targetRef{
			ID:         node.ID,
			Label:      node.Label,
			Category:   node.Category,
			Confidence: e.Confidence,
			Weight:     e.Weight,
		})
	}
	return out
}

func strColumn(rec Record, key string) string {
	if v, ok := rec.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func floatColumn(rec Record, key string) float64 {
	v, ok := rec.Get(key)
	if !ok {
		return 0
	}
	switch f := v.(type) {
	case float64:
		return f
	case int64:
		return float64(f)
	case int:
		return float64(f)
	}
	return 0
}

func strSliceColumn(rec Record, key string) []string {
	v, ok := rec.Get(key)
	if !ok {
		return []string{}
	}
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}
