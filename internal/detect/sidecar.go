package detect

import (
	"sort"
	"time"
)

// confirmWithSidecars keeps only the candidates with at least one sidecar
// timestamp within maxDelta of their start, per spec.md §4.3.3. A binary
// search finds the first sidecar at or after the start, clamped to the last
// sidecar; that sidecar and the one before it are the two nearest neighbors
// checked (DESIGN.md open question 3). sidecars need not be pre-sorted; they
// are sorted here.
func confirmWithSidecars(candidates []rawCandidate, sidecars []time.Time, maxDelta time.Duration) []rawCandidate {
	if len(sidecars) == 0 {
		return nil
	}

	sorted := append([]time.Time(nil), sidecars...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	var confirmed []rawCandidate
	for _, c := range candidates {
		idx := sort.Search(len(sorted), func(i int) bool { return !sorted[i].Before(c.Start) })

		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}

		ok := absDuration(sorted[idx].Sub(c.Start)) <= maxDelta
		if !ok && idx > 0 {
			ok = absDuration(sorted[idx-1].Sub(c.Start)) <= maxDelta
		}

		if ok {
			confirmed = append(confirmed, c)
		}
	}

	return confirmed
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
