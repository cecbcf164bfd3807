package graph

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestCreateNodeDefaults(t *testing.T) {
	sess := &fakeSession{respond: func(_ string, params map[string]any) (CypherResult, error) {
		return rows(mapRecord{"n": params["props"]}), nil
	}}
	gs := testStore(sess)

	n, err := gs.CreateNode(context.Background(), NodeInput{
		Type:  NodeObservable,
		Label: "fumée noire",
	})
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if n.ID != "id-1" {
		t.Fatalf("expected generated id, got %q", n.ID)
	}
	if n.Confidence != 1.0 {
		t.Fatalf("default confidence = %v", n.Confidence)
	}
	if n.ValidationStatus != StatusPending || n.Version != 1 || !n.Active {
		t.Fatalf("defaults wrong: %+v", n)
	}
	if n.Sources == nil || len(n.Sources) != 0 {
		t.Fatalf("sources should default to empty slice, got %v", n.Sources)
	}
	if len(sess.calls) != 1 || !strings.Contains(sess.calls[0].cypher, "CREATE (n:Observable") {
		t.Fatalf("wrong cypher: %+v", sess.calls)
	}
}

func TestCreateNodeKeepsCallerID(t *testing.T) {
	sess := &fakeSession{respond: func(_ string, params map[string]any) (CypherResult, error) {
		return rows(mapRecord{"n": params["props"]}), nil
	}}
	gs := testStore(sess)

	n, err := gs.CreateNode(context.Background(), NodeInput{
		ID: "obs-ext-1", Type: NodeObservable, Label: "voyant moteur",
	})
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if n.ID != "obs-ext-1" {
		t.Fatalf("caller id dropped: %q", n.ID)
	}
}

func TestCreateNodeValidation(t *testing.T) {
	gs := testStore(&fakeSession{})

	tests := []struct {
		name string
		in   NodeInput
	}{
		{"unknown type", NodeInput{Type: "Widget", Label: "x"}},
		{"missing label", NodeInput{Type: NodeFault}},
		{"confidence too high", NodeInput{Type: NodeFault, Label: "x", Confidence: ptr(1.5)}},
		{"confidence negative", NodeInput{Type: NodeFault, Label: "x", Confidence: ptr(-0.1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := gs.CreateNode(context.Background(), tt.in)
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestCreateNodesBatchAllOrNothing(t *testing.T) {
	sess := &fakeSession{respond: func(_ string, params map[string]any) (CypherResult, error) {
		return rows(mapRecord{"n": params["props"]}), nil
	}}
	gs := testStore(sess)

	_, err := gs.CreateNodes(context.Background(), []NodeInput{
		{Type: NodeFault, Label: "ok"},
		{Type: "Bogus", Label: "bad"},
	})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if len(sess.calls) != 0 {
		t.Fatal("no writes should happen when any input is invalid")
	}
}

func TestCreateNodesWriteError(t *testing.T) {
	sess := &fakeSession{writeErr: errors.New("tx fail")}
	gs := testStore(sess)

	_, err := gs.CreateNodes(context.Background(), []NodeInput{{Type: NodeFault, Label: "x"}})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestGetNodeFound(t *testing.T) {
	stored := nodeToProps(Node{ID: "n1", Type: NodeFault, Label: "Bougie usée", Active: true})
	sess := &fakeSession{respond: func(_ string, _ map[string]any) (CypherResult, error) {
		return rows(mapRecord{"n": stored}), nil
	}}
	gs := testStore(sess)

	n := gs.GetNode(context.Background(), "n1")
	if n == nil {
		t.Fatal("expected node")
	}
	if n.Label != "Bougie usée" || !n.Active {
		t.Fatalf("wrong node: %+v", n)
	}
	if !strings.Contains(sess.calls[0].cypher, "n.is_active = true") {
		t.Fatal("read must filter on liveness")
	}
}

func TestGetNodeMissingIsNil(t *testing.T) {
	gs := testStore(&fakeSession{})
	if n := gs.GetNode(context.Background(), "nope"); n != nil {
		t.Fatalf("expected nil, got %+v", n)
	}
}

func TestGetNodeStoreErrorDegradesToNil(t *testing.T) {
	sess := &fakeSession{respond: func(_ string, _ map[string]any) (CypherResult, error) {
		return nil, errors.New("connection refused")
	}}
	gs := testStore(sess)

	if n := gs.GetNode(context.Background(), "n1"); n != nil {
		t.Fatalf("expected nil on store error, got %+v", n)
	}
	// The read is retried once before giving up.
	if len(sess.calls) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(sess.calls))
	}
}

func TestGetNodesByTypeInvalidType(t *testing.T) {
	sess := &fakeSession{}
	gs := testStore(sess)
	if got := gs.GetNodesByType(context.Background(), "Bogus", 10, 0); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
	if len(sess.calls) != 0 {
		t.Fatal("invalid type must not hit the store")
	}
}

func TestGetNodesByTypePaging(t *testing.T) {
	sess := &fakeSession{respond: func(_ string, _ map[string]any) (CypherResult, error) {
		return rows(
			mapRecord{"n": nodeToProps(Node{ID: "a", Type: NodeFault, Active: true})},
			mapRecord{"n": nodeToProps(Node{ID: "b", Type: NodeFault, Active: true})},
		), nil
	}}
	gs := testStore(sess)

	got := gs.GetNodesByType(context.Background(), NodeFault, 2, 4)
	if len(got) != 2 || got[0].ID != "a" {
		t.Fatalf("wrong nodes: %v", got)
	}
	params := sess.calls[0].params
	if params["limit"] != 2 || params["offset"] != 4 {
		t.Fatalf("paging params = %v", params)
	}
}

func TestSearchNodesEmptyQuery(t *testing.T) {
	sess := &fakeSession{}
	gs := testStore(sess)
	if got := gs.SearchNodes(context.Background(), "", "", 10); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
	if len(sess.calls) != 0 {
		t.Fatal("empty query must not hit the store")
	}
}

func TestSearchNodesScopesType(t *testing.T) {
	sess := &fakeSession{}
	gs := testStore(sess)

	gs.SearchNodes(context.Background(), "fumée", NodeObservable, 5)
	if !strings.Contains(sess.calls[0].cypher, "(n:Observable)") {
		t.Fatalf("type scope missing: %s", sess.calls[0].cypher)
	}

	gs.SearchNodes(context.Background(), "fumée", "", 5)
	if strings.Contains(sess.calls[1].cypher, "(n:Observable)") {
		t.Fatal("untyped search must not carry a label")
	}
}

func TestUpdateNodePartial(t *testing.T) {
	sess := &fakeSession{respond: func(_ string, params map[string]any) (CypherResult, error) {
		props := nodeToProps(Node{ID: "n1", Type: NodeFault, Label: "updated", Version: 2, Active: true})
		return rows(mapRecord{"n": props}), nil
	}}
	gs := testStore(sess)

	n, err := gs.UpdateNode(context.Background(), "n1", NodeUpdate{
		Label:      ptr("updated"),
		Confidence: ptr(0.5),
	})
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if n.Label != "updated" || n.Version != 2 {
		t.Fatalf("wrong node: %+v", n)
	}
	props := sess.calls[0].params["props"].(map[string]any)
	if props["node_label"] != "updated" || props["confidence"] != 0.5 {
		t.Fatalf("wrong props: %v", props)
	}
	if _, ok := props["node_alias"]; ok {
		t.Fatal("unset fields must not appear in the patch")
	}
}

func TestUpdateNodeNotFound(t *testing.T) {
	gs := testStore(&fakeSession{})
	_, err := gs.UpdateNode(context.Background(), "ghost", NodeUpdate{Label: ptr("x")})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateNodeRejectsBadConfidence(t *testing.T) {
	gs := testStore(&fakeSession{})
	_, err := gs.UpdateNode(context.Background(), "n1", NodeUpdate{Confidence: ptr(2.0)})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestDeleteNodeSoft(t *testing.T) {
	sess := &fakeSession{respond: func(_ string, _ map[string]any) (CypherResult, error) {
		return rows(mapRecord{"n": map[string]any{}}), nil
	}}
	gs := testStore(sess)

	if err := gs.DeleteNode(context.Background(), "n1"); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	cy := sess.calls[0].cypher
	if !strings.Contains(cy, "n.is_active = false") {
		t.Fatalf("delete must deactivate, not remove: %s", cy)
	}
	if strings.Contains(cy, "DELETE") {
		t.Fatalf("delete must never remove the record: %s", cy)
	}
}

func TestDeleteNodeNotFound(t *testing.T) {
	gs := testStore(&fakeSession{})
	if err := gs.DeleteNode(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
