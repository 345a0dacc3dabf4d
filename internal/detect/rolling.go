package detect

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// rollingMean computes a causal moving mean of values keyed by timestamps,
// honoring actual elapsed time rather than a fixed sample count, in the
// manner of pandas' `.rolling(window='30s').mean()` used in
// preprocessFieldsums(). out[i] is the mean of all values[j] with
// timestamps[j] in [timestamps[i]-window, timestamps[i]]: a sample exactly
// one window older than timestamps[i] is included.
func rollingMean(timestamps []time.Time, values []float64, window time.Duration) []float64 {
	out := make([]float64, len(values))
	left := 0
	for i := range values {
		for timestamps[i].Sub(timestamps[left]) > window {
			left++
		}
		out[i] = stat.Mean(values[left:i+1], nil)
	}
	return out
}

// rollingStd computes a causal moving sample standard deviation (ddof=1,
// matching pandas' default) of values keyed by timestamps over the trailing
// window. Windows with fewer than 2 samples report 0, since a standard
// deviation is undefined for a single point.
func rollingStd(timestamps []time.Time, values []float64, window time.Duration) []float64 {
	out := make([]float64, len(values))
	left := 0
	for i := range values {
		for timestamps[i].Sub(timestamps[left]) > window {
			left++
		}
		if i-left < 1 {
			out[i] = 0
			continue
		}
		_, std := stat.MeanStdDev(values[left:i+1], nil)
		out[i] = std
	}
	return out
}
