// Package diagnose orchestrates the diagnostic reasoning pipeline: symptom
// resolution, graph traversal, fault scoring, enrichment, explanation, and
// result memoization.
package diagnose

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/OtoMind/otomind-engine/engine/cache"
	"github.com/OtoMind/otomind-engine/engine/graph"
	"github.com/OtoMind/otomind-engine/pkg/fn"
	"github.com/OtoMind/otomind-engine/pkg/metrics"
)

// Grapher is the slice of the graph store the engine consumes.
type Grapher interface {
	SearchNodes(ctx context.Context, query string, typ graph.NodeType, limit int) []graph.Node
	FaultsCausedBy(ctx context.Context, observableIDs []string) []graph.FaultCandidate
	PartsFixing(ctx context.Context, faultID string) []graph.PartRef
	ActionsDiagnosing(ctx context.Context, faultID string) []graph.ActionRef
}

// ResultCache memoizes full diagnostic results.
type ResultCache interface {
	Get(ctx context.Context, hash string) (*cache.Entry, error)
	Put(ctx context.Context, e cache.Entry) error
	Touch(ctx context.Context, hash string) error
}

// CompletedEvent describes a finished diagnosis.
type CompletedEvent struct {
	QueryHash         string  `json:"query_hash"`
	VehicleNodeID     string  `json:"vehicle_node_id,omitempty"`
	PrimaryFaultID    string  `json:"primary_fault_id,omitempty"`
	Score             float64 `json:"score"`
	Cached            bool    `json:"cached"`
	ComputationTimeMs int64   `json:"computation_time_ms"`
}

// EventSink receives diagnosis lifecycle events. Implementations must not
// block the pipeline.
type EventSink interface {
	DiagnosisCompleted(ctx context.Context, ev CompletedEvent)
}

// Options configures the reasoning engine.
type Options struct {
	// DefaultThreshold is the minimum fault score when the request does
	// not supply one.
	DefaultThreshold float64
	// MaxFaults caps how many faults are enriched and returned.
	MaxFaults int
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		DefaultThreshold: 0.75,
		MaxFaults:        5,
	}
}

// Request is one diagnostic query.
type Request struct {
	VehicleID           string   `json:"vehicleId,omitempty"`
	Observables         []string `json:"observables"`
	ConfidenceThreshold *float64 `json:"confidenceThreshold,omitempty"`
}

// Fault is one enriched fault candidate in a diagnostic result.
type Fault struct {
	FaultID            string            `json:"faultId"`
	FaultLabel         string            `json:"faultLabel"`
	Category           string            `json:"category,omitempty"`
	Score              float64           `json:"score"`
	Matches            int               `json:"matches"`
	MatchRatio         float64           `json:"matchRatio"`
	AvgConfidence      float64           `json:"avgConfidence"`
	MatchedObservables []string          `json:"matchedObservables"`
	Sources            []string          `json:"sources"`
	Parts              []graph.PartRef   `json:"parts"`
	Actions            []graph.ActionRef `json:"actions"`
}

// Result is the outcome of one diagnosis.
type Result struct {
	Faults            []Fault  `json:"faults"`
	PrimaryFault      *Fault   `json:"primaryFault,omitempty"`
	Confidence        float64  `json:"confidence"`
	Explanation       string   `json:"explanation"`
	Sources           []string `json:"sources"`
	MatchedSymptoms   []string `json:"matchedSymptoms"`
	UnmatchedSymptoms []string `json:"unmatchedSymptoms"`
	ComputationTimeMs int64    `json:"computationTimeMs"`
}

// Service is the diagnostic reasoning engine. It holds no mutable state of
// its own; all state lives in the graph store and the query cache.
type Service struct {
	graph  Grapher
	cache  ResultCache
	sink   EventSink
	opts   Options
	logger *slog.Logger

	mDiagnoses   *metrics.Counter
	mCacheHits   *metrics.Counter
	mCacheMisses *metrics.Counter
	mDuration    *metrics.Histogram
}

// New creates a reasoning engine. sink may be nil; reg may be nil, in which
// case metrics go to a private unexported registry.
func New(g Grapher, c ResultCache, sink EventSink, opts Options, logger *slog.Logger, reg *metrics.Registry) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	if opts.DefaultThreshold <= 0 {
		opts.DefaultThreshold = DefaultOptions().DefaultThreshold
	}
	if opts.MaxFaults <= 0 {
		opts.MaxFaults = DefaultOptions().MaxFaults
	}
	return &Service{
		graph:        g,
		cache:        c,
		sink:         sink,
		opts:         opts,
		logger:       logger,
		mDiagnoses:   reg.Counter("diag_requests_total", "Diagnostic requests processed"),
		mCacheHits:   reg.Counter("diag_cache_hits_total", "Diagnoses served from the query cache"),
		mCacheMisses: reg.Counter("diag_cache_misses_total", "Diagnoses that ran the full pipeline"),
		mDuration:    reg.Histogram("diag_duration_seconds", "Diagnosis latency", nil),
	}
}

// Diagnose runs the full pipeline. It never returns an error for
// data-availability reasons: an empty graph, unknown symptoms, or an
// unavailable store all yield the canonical empty result.
func (s *Service) Diagnose(ctx context.Context, req Request) Result {
	start := time.Now()
	s.mDiagnoses.Inc()
	defer func() { s.mDuration.Observe(time.Since(start).Seconds()) }()

	threshold := s.opts.DefaultThreshold
	if req.ConfidenceThreshold != nil {
		threshold = *req.ConfidenceThreshold
	}

	observables := normalizeObservables(req.Observables)
	if len(observables) == 0 {
		return s.emptyResult(observables, start)
	}

	hash := cache.QueryHash(req.VehicleID, observables)
	if res, ok := s.fromCache(ctx, hash, start); ok {
		s.mCacheHits.Inc()
		s.publish(ctx, hash, req.VehicleID, res, true)
		return res
	}
	s.mCacheMisses.Inc()

	// Resolve each symptom to its best Observable node, first match wins.
	// Resolution is a sequential loop so latency stays linear in symptom
	// count.
	labelByObservable := map[string]string{}
	var observableIDs []string
	for _, label := range observables {
		nodes := s.graph.SearchNodes(ctx, label, graph.NodeObservable, 1)
		if len(nodes) == 0 {
			continue
		}
		id := nodes[0].ID
		if _, dup := labelByObservable[id]; !dup {
			labelByObservable[id] = label
			observableIDs = append(observableIDs, id)
		}
	}

	candidates := s.graph.FaultsCausedBy(ctx, observableIDs)
	ranked := filterAndRank(scoreFaults(candidates, labelByObservable, len(observables)), threshold)
	if len(ranked) > s.opts.MaxFaults {
		ranked = ranked[:s.opts.MaxFaults]
	}

	if len(ranked) == 0 {
		res := s.emptyResult(observables, start)
		s.store(ctx, hash, req.VehicleID, observables, res)
		s.publish(ctx, hash, req.VehicleID, res, false)
		return res
	}

	faults := make([]Fault, len(ranked))
	for i, sf := range ranked {
		faults[i] = Fault{
			FaultID:            sf.FaultID,
			FaultLabel:         sf.FaultLabel,
			Category:           sf.FaultCategory,
			Score:              sf.Score,
			Matches:            sf.Matches,
			MatchRatio:         sf.MatchRatio,
			AvgConfidence:      sf.AvgConfidence,
			MatchedObservables: sf.MatchedObservables,
			Sources:            sf.Sources,
		}
		// Faults are enriched one at a time; within one fault the two
		// lookups run in parallel.
		pair := fn.FanOut(
			func() any { return s.graph.PartsFixing(ctx, sf.FaultID) },
			func() any { return s.graph.ActionsDiagnosing(ctx, sf.FaultID) },
		)
		faults[i].Parts, _ = pair[0].([]graph.PartRef)
		faults[i].Actions, _ = pair[1].([]graph.ActionRef)
		if faults[i].Parts == nil {
			faults[i].Parts = []graph.PartRef{}
		}
		if faults[i].Actions == nil {
			faults[i].Actions = []graph.ActionRef{}
		}
	}

	primary := &faults[0]
	matched := map[string]bool{}
	for _, label := range primary.MatchedObservables {
		matched[label] = true
	}
	// Symptoms not explained by the primary fault; faults further down the
	// list may still match them.
	unmatched := []string{}
	for _, label := range observables {
		if !matched[label] {
			unmatched = append(unmatched, label)
		}
	}

	res := Result{
		Faults:            faults,
		PrimaryFault:      primary,
		Confidence:        primary.Score,
		Explanation:       buildExplanation(*primary),
		Sources:           primary.Sources,
		MatchedSymptoms:   primary.MatchedObservables,
		UnmatchedSymptoms: unmatched,
		ComputationTimeMs: time.Since(start).Milliseconds(),
	}

	s.store(ctx, hash, req.VehicleID, observables, res)
	s.publish(ctx, hash, req.VehicleID, res, false)
	return res
}

// fromCache returns a memoized result when present. Hit accounting is
// awaited on the critical path; the cached payload comes back with the
// computation time of this call, not the original one.
func (s *Service) fromCache(ctx context.Context, hash string, start time.Time) (Result, bool) {
	if s.cache == nil {
		return Result{}, false
	}
	entry, err := s.cache.Get(ctx, hash)
	if err != nil {
		s.logger.Warn("diagnose: cache lookup failed", "query_hash", hash, "err", err)
		return Result{}, false
	}
	if entry == nil {
		return Result{}, false
	}
	var res Result
	if err := json.Unmarshal(entry.Payload, &res); err != nil {
		s.logger.Warn("diagnose: cached payload corrupt, recomputing", "query_hash", hash, "err", err)
		return Result{}, false
	}
	// Only a usable payload counts as a hit.
	if err := s.cache.Touch(ctx, hash); err != nil {
		s.logger.Warn("diagnose: cache hit accounting failed", "query_hash", hash, "err", err)
	}
	res.ComputationTimeMs = time.Since(start).Milliseconds()
	return res, true
}

// store memoizes a result. Persistence failures never fail the diagnosis.
func (s *Service) store(ctx context.Context, hash, vehicleID string, observables []string, res Result) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(res)
	if err != nil {
		s.logger.Error("diagnose: encode result for cache", "query_hash", hash, "err", err)
		return
	}
	entry := cache.Entry{
		QueryHash:         hash,
		VehicleNodeID:     vehicleID,
		InputObservables:  observables,
		Payload:           payload,
		Score:             res.Confidence,
		Explanation:       res.Explanation,
		ComputationTimeMs: res.ComputationTimeMs,
	}
	if res.PrimaryFault != nil {
		entry.PrimaryFaultID = res.PrimaryFault.FaultID
	}
	if err := s.cache.Put(ctx, entry); err != nil {
		s.logger.Warn("diagnose: cache store failed", "query_hash", hash, "err", err)
	}
}

func (s *Service) publish(ctx context.Context, hash, vehicleID string, res Result, cached bool) {
	if s.sink == nil {
		return
	}
	ev := CompletedEvent{
		QueryHash:         hash,
		VehicleNodeID:     vehicleID,
		Score:             res.Confidence,
		Cached:            cached,
		ComputationTimeMs: res.ComputationTimeMs,
	}
	if res.PrimaryFault != nil {
		ev.PrimaryFaultID = res.PrimaryFault.FaultID
	}
	s.sink.DiagnosisCompleted(ctx, ev)
}

// emptyResult is the canonical shape when nothing can be established. Every
// normalized input symptom is reported as unmatched.
func (s *Service) emptyResult(observables []string, start time.Time) Result {
	return Result{
		Faults:            []Fault{},
		PrimaryFault:      nil,
		Confidence:        0,
		Explanation:       buildEmptyExplanation(observables),
		Sources:           []string{},
		MatchedSymptoms:   []string{},
		UnmatchedSymptoms: observables,
		ComputationTimeMs: time.Since(start).Milliseconds(),
	}
}
