package anonymizer

import "sort"

// CombineStatistics sums per-entity-type counts across results. Nil maps
// are skipped.
func CombineStatistics(all ...map[string]int) map[string]int {
	out := make(map[string]int)
	for _, stats := range all {
		for entityType, n := range stats {
			out[entityType] += n
		}
	}
	return out
}

// StatisticsKeys returns the entity types of stats in sorted order, for
// stable printing.
func StatisticsKeys(stats map[string]int) []string {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
