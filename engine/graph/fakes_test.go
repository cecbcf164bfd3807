package graph

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// --- Test doubles for the session abstraction ---

type fakeOpener struct {
	sess CypherSession
}

func (o *fakeOpener) OpenSession(_ context.Context) CypherSession { return o.sess }

type mapRecord map[string]any

func (m mapRecord) Get(key string) (any, bool) {
	v, ok := m[key]
	return v, ok
}

type fakeResult struct {
	records []mapRecord
	idx     int
	err     error
}

func rows(rs ...mapRecord) *fakeResult { return &fakeResult{records: rs} }

func (r *fakeResult) Next(_ context.Context) bool {
	if r.idx < len(r.records) {
		r.idx++
		return true
	}
	return false
}

func (r *fakeResult) Record() Record { return r.records[r.idx-1] }
func (r *fakeResult) Err() error     { return r.err }

type runCall struct {
	cypher string
	params map[string]any
}

// fakeSession records every Run call and answers via respond. A nil respond
// returns an empty result. ExecuteWrite reuses the session as the runner.
type fakeSession struct {
	respond  func(cypher string, params map[string]any) (CypherResult, error)
	writeErr error
	calls    []runCall
	closes   int
}

func (s *fakeSession) Run(_ context.Context, cypher string, params map[string]any) (CypherResult, error) {
	s.calls = append(s.calls, runCall{cypher: cypher, params: params})
	if s.respond != nil {
		return s.respond(cypher, params)
	}
	return rows(), nil
}

func (s *fakeSession) ExecuteWrite(_ context.Context, work func(tx CypherRunner) (any, error)) (any, error) {
	if s.writeErr != nil {
		return nil, s.writeErr
	}
	return work(s)
}

func (s *fakeSession) Close(_ context.Context) error {
	s.closes++
	return nil
}

// testStore builds a GraphStore with deterministic time and IDs.
func testStore(sess CypherSession) *GraphStore {
	gs := NewWithOpener(&fakeOpener{sess: sess}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	gs.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	seq := 0
	gs.newID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	return gs
}

func ptr[T any](v T) *T { return &v }
