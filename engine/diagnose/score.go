package diagnose

import (
	"math"
	"sort"
	"strings"

	"github.com/OtoMind/otomind-engine/engine/graph"
)

// normalizeObservables lowercases and trims each reported symptom, dropping
// blanks. Order is preserved.
func normalizeObservables(observables []string) []string {
	out := make([]string, 0, len(observables))
	for _, o := range observables {
		o = strings.ToLower(strings.TrimSpace(o))
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}

// scoredFault is a fault candidate after grouping and scoring.
type scoredFault struct {
	FaultID            string
	FaultLabel         string
	FaultCategory      string
	Matches            int
	MatchRatio         float64
	AvgConfidence      float64
	Score              float64
	MatchedObservables []string
	Sources            []string
}

// scoreFaults groups CAUSES candidates by fault and scores each one:
//
//	score = round2(matches/totalSymptoms * avgConfidence)
//
// Candidates arrive ordered by edge confidence descending; when two edges
// link the same observable to the same fault, the strongest one counts.
// labelByObservable maps matched observable node IDs back to the input
// symptom labels that resolved to them.
func scoreFaults(candidates []graph.FaultCandidate, labelByObservable map[string]string, totalSymptoms int) []scoredFault {
	if totalSymptoms == 0 {
		return nil
	}

	type group struct {
		first       graph.FaultCandidate
		confByObs   map[string]float64
		obsOrder    []string
		sources     []string
		seenSources map[string]bool
	}

	groups := map[string]*group{}
	var order []string
	for _, c := range candidates {
		gr, ok := groups[c.FaultID]
		if !ok {
			gr = &group{
				first:       c,
				confByObs:   map[string]float64{},
				seenSources: map[string]bool{},
			}
			groups[c.FaultID] = gr
			order = append(order, c.FaultID)
		}
		if _, seen := gr.confByObs[c.ObservableID]; !seen {
			gr.confByObs[c.ObservableID] = c.Confidence
			gr.obsOrder = append(gr.obsOrder, c.ObservableID)
		}
		for _, src := range c.Sources {
			if !gr.seenSources[src] {
				gr.seenSources[src] = true
				gr.sources = append(gr.sources, src)
			}
		}
	}

	out := make([]scoredFault, 0, len(groups))
	for _, faultID := range order {
		gr := groups[faultID]

		matches := len(gr.confByObs)
		var sum float64
		for _, conf := range gr.confByObs {
			sum += conf
		}
		avg := sum / float64(matches)
		ratio := float64(matches) / float64(totalSymptoms)

		labels := make([]string, 0, matches)
		seen := map[string]bool{}
		for _, obsID := range gr.obsOrder {
			label := labelByObservable[obsID]
			if label != "" && !seen[label] {
				seen[label] = true
				labels = append(labels, label)
			}
		}

		sources := gr.sources
		if sources == nil {
			sources = []string{}
		}
		out = append(out, scoredFault{
			FaultID:            faultID,
			FaultLabel:         gr.first.FaultLabel,
			FaultCategory:      gr.first.FaultCategory,
			Matches:            matches,
			MatchRatio:         ratio,
			AvgConfidence:      avg,
			Score:              round2(ratio * avg),
			MatchedObservables: labels,
			Sources:            sources,
		})
	}
	return out
}

// filterAndRank drops faults below the threshold and orders the rest by
// score descending. Equal scores break deterministically on fault ID.
func filterAndRank(faults []scoredFault, threshold float64) []scoredFault {
	kept := make([]scoredFault, 0, len(faults))
	for _, f := range faults {
		if f.Score >= threshold {
			kept = append(kept, f)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		return kept[i].FaultID < kept[j].FaultID
	})
	return kept
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
