package detect

import "time"

// rawCandidate is a (start, end) pair produced by peak detection, before
// sidecar confirmation and before a station/id are attached.
type rawCandidate struct {
	Start time.Time
	End   time.Time
}

// detectPeaks runs the two-state hysteresis machine from spec.md §4.3.2 over
// detrended[i] against cutoff*sigma[i], keyed by timestamps. This mirrors
// identifyFireballs()'s up/down flag logic exactly, including its trigger-on
// (>=) and trigger-off (<=) boundary tests. An event still TRIGGERED at the
// end of the sequence is discarded with no synthetic end, per spec.md
// §4.3.2's explicit "on reaching end-of-sequence... discarded" rule.
func detectPeaks(timestamps []time.Time, detrended, sigma []float64, cutoff float64) []rawCandidate {
	var candidates []rawCandidate

	armed := true
	var start time.Time

	for i := range detrended {
		threshold := cutoff * sigma[i]

		// Both checks run unconditionally each sample (not else-if),
		// matching identifyFireballs(): a sample whose value equals the
		// threshold exactly can both open and close the same event.
		if armed && detrended[i] >= threshold {
			armed = false
			start = timestamps[i]
		}
		if !armed && detrended[i] <= threshold {
			armed = true
			candidates = append(candidates, rawCandidate{Start: start, End: timestamps[i]})
		}
	}

	return candidates
}
