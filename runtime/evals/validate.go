package evals

import "fmt"

// ValidateSpecs checks scorer specs without resolving them. The scope is
// used in messages (e.g. "case:weather"). It checks:
//   - kind is set and known to r
//   - metric names are unique within the slice
//   - weights are not negative
func (r *Registry) ValidateSpecs(specs []ScorerSpec, scope string) []string {
	var errs []string
	seen := make(map[string]bool, len(specs))
	for i, spec := range specs {
		prefix := fmt.Sprintf("%s scorers[%d]", scope, i)
		if spec.Kind == "" {
			errs = append(errs, prefix+": type is required")
			continue
		}
		if !r.Has(spec.Kind) {
			errs = append(errs, fmt.Sprintf("%s: unknown type %q", prefix, spec.Kind))
		}
		metric := spec.Metric()
		if seen[metric] {
			errs = append(errs, fmt.Sprintf("%s: duplicate metric %q, set a distinct name", prefix, metric))
		}
		seen[metric] = true
		if spec.EffectiveWeight() < 0 {
			errs = append(errs, fmt.Sprintf("%s: weight must not be negative", prefix))
		}
	}
	return errs
}
