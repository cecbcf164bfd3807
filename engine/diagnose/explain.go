package diagnose

import (
	"fmt"
	"math"
	"strings"
)

// buildExplanation renders a human-readable summary for the primary fault:
// matched-symptom percentage, confidence, the matched labels, and the
// recommended actions and parts.
func buildExplanation(f Fault) string {
	var b strings.Builder
	pct := int(math.Round(f.MatchRatio * 100))
	fmt.Fprintf(&b, "Most likely fault: %s (confidence %.2f). %d%% of reported symptoms match",
		f.FaultLabel, f.Score, pct)
	if len(f.MatchedObservables) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(f.MatchedObservables, ", "))
	}
	b.WriteString(".")

	if len(f.Actions) > 0 {
		labels := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			labels[i] = a.Label
		}
		fmt.Fprintf(&b, " Recommended actions: %s.", strings.Join(labels, ", "))
	}
	if len(f.Parts) > 0 {
		labels := make([]string, len(f.Parts))
		for i, p := range f.Parts {
			labels[i] = p.Label
		}
		fmt.Fprintf(&b, " Parts concerned: %s.", strings.Join(labels, ", "))
	}
	return b.String()
}

// buildEmptyExplanation renders the no-fault summary, listing every reported
// symptom.
func buildEmptyExplanation(observables []string) string {
	if len(observables) == 0 {
		return "No symptoms were reported."
	}
	return fmt.Sprintf("No fault could be established from the reported symptoms: %s.",
		strings.Join(observables, ", "))
}
