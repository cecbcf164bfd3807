// Package graph provides Neo4j knowledge graph operations for automotive
// diagnostic data: typed nodes, weighted relations, and the traversals the
// reasoning engine consumes.
package graph

import (
	"encoding/json"
	"time"
)

// NodeType classifies a graph node.
type NodeType string

const (
	NodeVehicle    NodeType = "Vehicle"
	NodeSystem     NodeType = "System"
	NodeObservable NodeType = "Observable"
	NodeFault      NodeType = "Fault"
	NodeAction     NodeType = "Action"
	NodePart       NodeType = "Part"
)

// NodeTypes lists every valid node type.
var NodeTypes = []NodeType{
	NodeVehicle, NodeSystem, NodeObservable, NodeFault, NodeAction, NodePart,
}

// Valid reports whether t is a known node type.
func (t NodeType) Valid() bool {
	for _, k := range NodeTypes {
		if t == k {
			return true
		}
	}
	return false
}

// EdgeType classifies a relation between two nodes.
type EdgeType string

const (
	EdgeHasSystem      EdgeType = "HAS_SYSTEM"
	EdgeShowsSymptom   EdgeType = "SHOWS_SYMPTOM"
	EdgeCauses         EdgeType = "CAUSES"
	EdgeCausedBy       EdgeType = "CAUSED_BY"
	EdgeDiagnosedBy    EdgeType = "DIAGNOSED_BY"
	EdgeFixedBy        EdgeType = "FIXED_BY"
	EdgeRequiresPart   EdgeType = "REQUIRES_PART"
	EdgeCompatibleWith EdgeType = "COMPATIBLE_WITH"
	EdgeCorrelatesWith EdgeType = "CORRELATES_WITH"
	EdgeOftenWith      EdgeType = "OFTEN_WITH"
	EdgePrecedes       EdgeType = "PRECEDES"
	EdgeMentionedIn    EdgeType = "MENTIONED_IN"
	EdgeSimilarTo      EdgeType = "SIMILAR_TO"
)

// EdgeTypes lists every valid edge type. Only CAUSES, DIAGNOSED_BY and
// FIXED_BY are traversed by the reasoning engine; the rest are stored for
// graph authoring tools.
var EdgeTypes = []EdgeType{
	EdgeHasSystem, EdgeShowsSymptom, EdgeCauses, EdgeCausedBy,
	EdgeDiagnosedBy, EdgeFixedBy, EdgeRequiresPart, EdgeCompatibleWith,
	EdgeCorrelatesWith, EdgeOftenWith, EdgePrecedes, EdgeMentionedIn,
	EdgeSimilarTo,
}

// Valid reports whether t is a known edge type.
func (t EdgeType) Valid() bool {
	for _, k := range EdgeTypes {
		if t == k {
			return true
		}
	}
	return false
}

// ValidationStatus tracks editorial review of a node or edge.
type ValidationStatus string

const (
	StatusPending      ValidationStatus = "pending"
	StatusApproved     ValidationStatus = "approved"
	StatusRejected     ValidationStatus = "rejected"
	StatusManualReview ValidationStatus = "manual_review"
)

// Node is a typed vertex in the diagnostic knowledge graph.
type Node struct {
	ID               string           `json:"node_id"`
	Type             NodeType         `json:"node_type"`
	Label            string           `json:"node_label"`
	Alias            string           `json:"node_alias,omitempty"`
	Category         string           `json:"node_category,omitempty"`
	Data             map[string]any   `json:"node_data,omitempty"`
	Confidence       float64          `json:"confidence"`
	Sources          []string         `json:"sources"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	Version          int64            `json:"version"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	CreatedBy        string           `json:"created_by,omitempty"`
	Active           bool             `json:"is_active"`
}

// Edge is a typed, weighted, directed relation between two nodes.
type Edge struct {
	ID               string           `json:"edge_id"`
	SourceID         string           `json:"source_node_id"`
	TargetID         string           `json:"target_node_id"`
	Type             EdgeType         `json:"edge_type"`
	Weight           float64          `json:"weight"`
	Bidirectional    bool             `json:"is_bidirectional"`
	Confidence       float64          `json:"confidence"`
	Evidence         map[string]any   `json:"evidence,omitempty"`
	Sources          []string         `json:"sources"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	Version          int64            `json:"version"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	CreatedBy        string           `json:"created_by,omitempty"`
	Active           bool             `json:"is_active"`
}

// timeLayout is a fixed-width RFC 3339 form: fractional seconds are never
// trimmed, so lexicographic ORDER BY on stored timestamps is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// nodeToProps flattens a Node into Neo4j properties. Structured payloads are
// stored as JSON strings because Neo4j properties cannot nest maps.
func nodeToProps(n Node) map[string]any {
	props := map[string]any{
		"node_id":           n.ID,
		"node_type":         string(n.Type),
		"node_label":        n.Label,
		"node_alias":        n.Alias,
		"node_category":     n.Category,
		"confidence":        n.Confidence,
		"sources":           toAnySlice(n.Sources),
		"validation_status": string(n.ValidationStatus),
		"version":           n.Version,
		"created_at":        n.CreatedAt.UTC().Format(timeLayout),
		"updated_at":        n.UpdatedAt.UTC().Format(timeLayout),
		"created_by":        n.CreatedBy,
		"is_active":         n.Active,
	}
	if len(n.Data) > 0 {
		if raw, err := json.Marshal(n.Data); err == nil {
			props["node_data"] = string(raw)
		}
	}
	return props
}

// nodeFromProps rebuilds a Node from Neo4j properties.
func nodeFromProps(props map[string]any) Node {
	n := Node{
		ID:               strProp(props, "node_id"),
		Type:             NodeType(strProp(props, "node_type")),
		Label:            strProp(props, "node_label"),
		Alias:            strProp(props, "node_alias"),
		Category:         strProp(props, "node_category"),
		Confidence:       floatProp(props, "confidence"),
		Sources:          strSliceProp(props, "sources"),
		ValidationStatus: ValidationStatus(strProp(props, "validation_status")),
		Version:          intProp(props, "version"),
		CreatedAt:        timeProp(props, "created_at"),
		UpdatedAt:        timeProp(props, "updated_at"),
		CreatedBy:        strProp(props, "created_by"),
		Active:           boolProp(props, "is_active"),
	}
	if raw := strProp(props, "node_data"); raw != "" {
		var data map[string]any
		if err := json.Unmarshal([]byte(raw), &data); err == nil {
			n.Data = data
		}
	}
	return n
}

// edgeToProps flattens an Edge into Neo4j relationship properties.
func edgeToProps(e Edge) map[string]any {
	props := map[string]any{
		"edge_id":           e.ID,
		"edge_type":         string(e.Type),
		"weight":            e.Weight,
		"is_bidirectional":  e.Bidirectional,
		"confidence":        e.Confidence,
		"sources":           toAnySlice(e.Sources),
		"validation_status": string(e.ValidationStatus),
		"version":           e.Version,
		"created_at":        e.CreatedAt.UTC().Format(timeLayout),
		"updated_at":        e.UpdatedAt.UTC().Format(timeLayout),
		"created_by":        e.CreatedBy,
		"is_active":         e.Active,
	}
	if len(e.Evidence) > 0 {
		if raw, err := json.Marshal(e.Evidence); err == nil {
			props["evidence"] = string(raw)
		}
	}
	return props
}

// edgeFromProps rebuilds an Edge from relationship properties. Source and
// target node IDs travel outside the property map and are filled by the caller.
func edgeFromProps(props map[string]any) Edge {
	e := Edge{
		ID:               strProp(props, "edge_id"),
		Type:             EdgeType(strProp(props, "edge_type")),
		Weight:           floatProp(props, "weight"),
		Bidirectional:    boolProp(props, "is_bidirectional"),
		Confidence:       floatProp(props, "confidence"),
		Sources:          strSliceProp(props, "sources"),
		ValidationStatus: ValidationStatus(strProp(props, "validation_status")),
		Version:          intProp(props, "version"),
		CreatedAt:        timeProp(props, "created_at"),
		UpdatedAt:        timeProp(props, "updated_at"),
		CreatedBy:        strProp(props, "created_by"),
		Active:           boolProp(props, "is_active"),
	}
	if raw := strProp(props, "evidence"); raw != "" {
		var ev map[string]any
		if err := json.Unmarshal([]byte(raw), &ev); err == nil {
			e.Evidence = ev
		}
	}
	return e
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func strProp(props map[string]any, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func floatProp(props map[string]any, key string) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

func intProp(props map[string]any, key string) int64 {
	switch v := props[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func boolProp(props map[string]any, key string) bool {
	if v, ok := props[key].(bool); ok {
		return v
	}
	return false
}

func timeProp(props map[string]any, key string) time.Time {
	switch v := props[key].(type) {
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	case time.Time:
		return v
	}
	return time.Time{}
}

func strSliceProp(props map[string]any, key string) []string {
	switch v := props[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}
