package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Record is the minimal read interface over a result row. *neo4j.Record
// satisfies it directly.
type Record interface {
	Get(key string) (any, bool)
}

// CypherResult is the minimal interface over a streamed query result.
type CypherResult interface {
	Next(ctx context.Context) bool
	Record() Record
	Err() error
}

// CypherRunner executes a single Cypher statement. Both sessions and managed
// transactions satisfy it.
type CypherRunner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error)
}

// CypherSession is the subset of a Neo4j session the store needs.
type CypherSession interface {
	CypherRunner
	ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error)
	Close(ctx context.Context) error
}

// SessionOpener opens sessions against the backing store. Tests substitute
// in-memory doubles.
type SessionOpener interface {
	OpenSession(ctx context.Context) CypherSession
}

// driverOpener adapts a neo4j driver to SessionOpener.
type driverOpener struct {
	driver neo4j.DriverWithContext
}

// NewDriverOpener wraps a Neo4j driver as a SessionOpener.
func NewDriverOpener(driver neo4j.DriverWithContext) SessionOpener {
	return &driverOpener{driver: driver}
}

func (o *driverOpener) OpenSession(ctx context.Context) CypherSession {
	return &driverSession{sess: o.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

type driverSession struct {
	sess neo4j.SessionWithContext
}

func (s *driverSession) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	res, err := s.sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return &driverResult{res: res}, nil
}

func (s *driverSession) ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error) {
	return s.sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return work(&txRunner{tx: tx})
	})
}

func (s *driverSession) Close(ctx context.Context) error {
	return s.sess.Close(ctx)
}

type txRunner struct {
	tx neo4j.ManagedTransaction
}

func (r *txRunner) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	res, err := r.tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return &driverResult{res: res}, nil
}

type driverResult struct {
	res neo4j.ResultWithContext
}

func (r *driverResult) Next(ctx context.Context) bool { return r.res.Next(ctx) }
func (r *driverResult) Record() Record                { return r.res.Record() }
func (r *driverResult) Err() error                    { return r.res.Err() }

// nodeValueProps extracts the property map from a value returned for a node
// column. Real results yield dbtype.Node; test doubles may yield a plain map.
func nodeValueProps(val any) map[string]any {
	type propsHolder interface {
		GetProperties() map[string]any
	}
	if ph, ok := val.(propsHolder); ok {
		return ph.GetProperties()
	}
	if m, ok := val.(map[string]any); ok {
		return m
	}
	return nil
}
