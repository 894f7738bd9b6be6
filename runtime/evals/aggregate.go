package evals

import (
	"fmt"
	"strings"
)

// Aggregate is the weighted average of entries with a positive weight and no
// error. When no entry qualifies it returns 0 and a rationale saying why.
// The rationale lists each active metric on its own line in entry order.
func Aggregate(entries []ScoreEntry) (float64, string) {
	if len(entries) == 0 {
		return 0, "No scorers configured"
	}

	var (
		subtotal, total float64
		reasons         []string
	)
	for _, e := range entries {
		if e.Weight <= 0 || e.Errored() {
			continue
		}
		subtotal += e.Weight * e.Value
		total += e.Weight
		reasons = append(reasons, fmt.Sprintf("%s:%.2f (%s)", e.Metric, e.Value, e.Rationale))
	}
	if total == 0 {
		return 0, "No active scorers (all weights are 0 or every scorer errored)"
	}
	return subtotal / total, strings.Join(reasons, "\n")
}
