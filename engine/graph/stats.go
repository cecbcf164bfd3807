package graph

import (
	"context"

	"github.com/OtoMind/otomind-engine/pkg/fn"
)

// Stats aggregates graph-wide counts. CacheHitRate is filled in by the API
// layer from the query cache; the graph store only knows about nodes and
// edges.
type Stats struct {
	NodesByType        map[string]int64 `json:"nodes_by_type"`
	EdgesByType        map[string]int64 `json:"edges_by_type"`
	MeanEdgeConfidence float64          `json:"mean_edge_confidence"`
	CacheHitRate       float64          `json:"cache_hit_rate"`
}

// Stats returns active node counts by type, active edge counts by type, and
// the mean confidence over active edges. Follows the read-path contract:
// failures degrade to empty maps.
func (g *GraphStore) Stats(ctx context.Context) Stats {
	stats := Stats{
		NodesByType: map[string]int64{},
		EdgesByType: map[string]int64{},
	}

	res := fn.Retry(ctx, readRetry, func(ctx context.Context) fn.Result[Stats] {
		sess := g.opener.OpenSession(ctx)
		defer sess.Close(ctx)

		s := Stats{
			NodesByType: map[string]int64{},
			EdgesByType: map[string]int64{},
		}

		cypher := `MATCH (n) WHERE n.is_active = true
		           RETURN n.node_type AS type, count(*) AS count`
		result, err := sess.Run(ctx, cypher, nil)
		if err != nil {
			return fn.Err[Stats](err)
		}
		for result.Next(ctx) {
			rec := result.Record()
			if t := strColumn(rec, "type"); t != "" {
				s.NodesByType[t] = intColumn(rec, "count")
			}
		}
		if err := result.Err(); err != nil {
			return fn.Err[Stats](err)
		}

		cypher = `MATCH ()-[r]->() WHERE r.is_active = true
		          RETURN r.edge_type AS type, count(*) AS count, avg(r.confidence) AS mean`
		result, err = sess.Run(ctx, cypher, nil)
		if err != nil {
			return fn.Err[Stats](err)
		}
		var totalEdges, weightedSum float64
		for result.Next(ctx) {
			rec := result.Record()
			t := strColumn(rec, "type")
			if t == "" {
				continue
			}
			count := intColumn(rec, "count")
			s.EdgesByType[t] = count
			totalEdges += float64(count)
			weightedSum += float64(count) * floatColumn(rec, "mean")
		}
		if err := result.Err(); err != nil {
			return fn.Err[Stats](err)
		}
		if totalEdges > 0 {
			s.MeanEdgeConfidence = weightedSum / totalEdges
		}
		return fn.Ok(s)
	})

	s, err := res.Unwrap()
	if err != nil {
		g.logger.Error("graph: stats failed", "err", err)
		return stats
	}
	return s
}

func intColumn(rec Record, key string) int64 {
	v, ok := rec.Get(key)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
