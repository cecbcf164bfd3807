package graph

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestStatsCounts(t *testing.T) {
	sess := &fakeSession{respond: func(cypher string, _ map[string]any) (CypherResult, error) {
		if strings.Contains(cypher, "MATCH (n)") {
			return rows(
				mapRecord{"type": "Fault", "count": int64(12)},
				mapRecord{"type": "Observable", "count": int64(30)},
			), nil
		}
		return rows(
			mapRecord{"type": "CAUSES", "count": int64(3), "mean": 0.9},
			mapRecord{"type": "FIXED_BY", "count": int64(1), "mean": 0.5},
		), nil
	}}
	gs := testStore(sess)

	s := gs.Stats(context.Background())
	if s.NodesByType["Fault"] != 12 || s.NodesByType["Observable"] != 30 {
		t.Fatalf("node counts = %v", s.NodesByType)
	}
	if s.EdgesByType["CAUSES"] != 3 || s.EdgesByType["FIXED_BY"] != 1 {
		t.Fatalf("edge counts = %v", s.EdgesByType)
	}
	// (3*0.9 + 1*0.5) / 4 = 0.8
	if s.MeanEdgeConfidence != 0.8 {
		t.Fatalf("mean confidence = %v", s.MeanEdgeConfidence)
	}
}

func TestStatsDegradeOnError(t *testing.T) {
	sess := &fakeSession{respond: func(_ string, _ map[string]any) (CypherResult, error) {
		return nil, errors.New("down")
	}}
	gs := testStore(sess)

	s := gs.Stats(context.Background())
	if s.NodesByType == nil || s.EdgesByType == nil {
		t.Fatal("maps must be non-nil on failure")
	}
	if len(s.NodesByType) != 0 || s.MeanEdgeConfidence != 0 {
		t.Fatalf("expected empty stats, got %+v", s)
	}
}

func TestStatsEmptyGraph(t *testing.T) {
	gs := testStore(&fakeSession{})
	s := gs.Stats(context.Background())
	if len(s.NodesByType) != 0 || len(s.EdgesByType) != 0 || s.MeanEdgeConfidence != 0 {
		t.Fatalf("expected zero stats, got %+v", s)
	}
}
