package graph

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestFaultsCausedByOptimized(t *testing.T) {
	sess := &fakeSession{respond: func(cypher string, params map[string]any) (CypherResult, error) {
		if !strings.Contains(cypher, "(o:Observable)-[r:CAUSES]->(f:Fault)") {
			t.Fatalf("unexpected cypher: %s", cypher)
		}
		return rows(
			mapRecord{
				"fault_id": "f1", "fault_label": "Vanne EGR encrassée",
				"fault_category": "moteur", "weight": 0.8, "confidence": 0.95,
				"observable_id": "o1", "sources": []any{"rta"},
			},
			mapRecord{
				"fault_id": "f2", "fault_label": "Turbo fatigué",
				"weight": 0.5, "confidence": 0.6, "observable_id": "o1",
			},
		), nil
	}}
	gs := testStore(sess)

	got := gs.FaultsCausedBy(context.Background(), []string{"o1", "o2"})
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].FaultID != "f1" || got[0].Confidence != 0.95 || got[0].ObservableID != "o1" {
		t.Fatalf("wrong candidate: %+v", got[0])
	}
	if len(got[0].Sources) != 1 || got[0].Sources[0] != "rta" {
		t.Fatalf("sources not decoded: %v", got[0].Sources)
	}
	if got[1].Sources == nil {
		t.Fatal("missing sources column should decode to empty slice")
	}
	// A single server-side join, no per-observable round trips.
	if len(sess.calls) != 1 {
		t.Fatalf("expected 1 query, got %d", len(sess.calls))
	}
}

func TestFaultsCausedByEmptyInput(t *testing.T) {
	sess := &fakeSession{}
	gs := testStore(sess)
	if got := gs.FaultsCausedBy(context.Background(), nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
	if len(sess.calls) != 0 {
		t.Fatal("empty input must not hit the store")
	}
}

// fallbackSession fails the server-side join and serves the client-side
// edge and node lookups instead.
type fallbackSession struct {
	fakeSession
}

func (s *fallbackSession) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	s.calls = append(s.calls, runCall{cypher: cypher, params: params})
	switch {
	case strings.Contains(cypher, "(o:Observable)-[r:CAUSES]->(f:Fault)"):
		return nil, errors.New("join not supported")
	case strings.Contains(cypher, "MATCH (a {node_id: $id})-[r]->(b)"):
		return rows(mapRecord{
			"r":   edgeToProps(Edge{ID: "e1", Type: EdgeCauses, Weight: 0.7, Confidence: 0.9, Active: true}),
			"src": params["id"], "dst": "f1",
		}), nil
	case strings.Contains(cypher, "MATCH (n {node_id: $id})"):
		return rows(mapRecord{"n": nodeToProps(Node{
			ID: "f1", Type: NodeFault, Label: "Injecteur encrassé", Category: "moteur", Active: true,
		})}), nil
	}
	return rows(), nil
}

func TestFaultsCausedByFallsBackOnError(t *testing.T) {
	sess := &fallbackSession{}
	gs := testStore(sess)

	got := gs.FaultsCausedBy(context.Background(), []string{"o1"})
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate via fallback, got %d", len(got))
	}
	c := got[0]
	if c.FaultID != "f1" || c.FaultLabel != "Injecteur encrassé" {
		t.Fatalf("wrong candidate: %+v", c)
	}
	if c.Weight != 0.7 || c.Confidence != 0.9 || c.ObservableID != "o1" {
		t.Fatalf("edge fields lost in fallback: %+v", c)
	}
}

// nonFaultTargetSession serves an edge whose target is not a fault node.
type nonFaultTargetSession struct {
	fakeSession
}

func (s *nonFaultTargetSession) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	switch {
	case strings.Contains(cypher, "(o:Observable)-[r:CAUSES]->(f:Fault)"):
		return nil, errors.New("join not supported")
	case strings.Contains(cypher, "MATCH (a {node_id: $id})-[r]->(b)"):
		return rows(mapRecord{
			"r":   edgeToProps(Edge{ID: "e1", Type: EdgeCauses, Active: true}),
			"src": params["id"], "dst": "sys1",
		}), nil
	case strings.Contains(cypher, "MATCH (n {node_id: $id})"):
		return rows(mapRecord{"n": nodeToProps(Node{ID: "sys1", Type: NodeSystem, Active: true})}), nil
	}
	return rows(), nil
}

func TestFaultsCausedByFallbackSkipsNonFaults(t *testing.T) {
	gs := testStore(&nonFaultTargetSession{})
	if got := gs.FaultsCausedBy(context.Background(), []string{"o1"}); len(got) != 0 {
		t.Fatalf("non-fault targets must be skipped, got %v", got)
	}
}

func TestPartsFixingOptimized(t *testing.T) {
	sess := &fakeSession{respond: func(cypher string, _ map[string]any) (CypherResult, error) {
		if !strings.Contains(cypher, "[r:FIXED_BY]->(t:Part)") {
			t.Fatalf("unexpected cypher: %s", cypher)
		}
		return rows(mapRecord{
			"id": "p1", "label": "Vanne EGR", "category": "moteur",
			"confidence": 0.97, "weight": 1.0,
		}), nil
	}}
	gs := testStore(sess)

	got := gs.PartsFixing(context.Background(), "f1")
	if len(got) != 1 || got[0].PartID != "p1" || got[0].Label != "Vanne EGR" {
		t.Fatalf("wrong parts: %v", got)
	}
}

func TestActionsDiagnosingOptimized(t *testing.T) {
	sess := &fakeSession{respond: func(cypher string, _ map[string]any) (CypherResult, error) {
		if !strings.Contains(cypher, "[r:DIAGNOSED_BY]->(t:Action)") {
			t.Fatalf("unexpected cypher: %s", cypher)
		}
		return rows(mapRecord{
			"id": "a1", "label": "Nettoyage vanne EGR", "confidence": 0.9, "weight": 0.8,
		}), nil
	}}
	gs := testStore(sess)

	got := gs.ActionsDiagnosing(context.Background(), "f1")
	if len(got) != 1 || got[0].ActionID != "a1" {
		t.Fatalf("wrong actions: %v", got)
	}
}

// partFallbackSession fails the server-side part join and serves the
// client-side lookups.
type partFallbackSession struct {
	fakeSession
}

func (s *partFallbackSession) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	switch {
	case strings.Contains(cypher, "[r:FIXED_BY]->(t:Part)"):
		return nil, errors.New("join not supported")
	case strings.Contains(cypher, "MATCH (a {node_id: $id})-[r]->(b)"):
		return rows(mapRecord{
			"r":   edgeToProps(Edge{ID: "e1", Type: EdgeFixedBy, Weight: 0.6, Confidence: 0.85, Active: true}),
			"src": params["id"], "dst": "p1",
		}), nil
	case strings.Contains(cypher, "MATCH (n {node_id: $id})"):
		return rows(mapRecord{"n": nodeToProps(Node{ID: "p1", Type: NodePart, Label: "Filtre à air", Active: true})}), nil
	}
	return rows(), nil
}

func TestPartsFixingFallsBackOnError(t *testing.T) {
	gs := testStore(&partFallbackSession{})

	got := gs.PartsFixing(context.Background(), "f1")
	if len(got) != 1 {
		t.Fatalf("expected 1 part via fallback, got %d", len(got))
	}
	if got[0].PartID != "p1" || got[0].Confidence != 0.85 {
		t.Fatalf("wrong part: %+v", got[0])
	}
}
