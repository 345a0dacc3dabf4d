package detect

import (
	"testing"
	"time"
)

func secondsTimestamps(n int) []time.Time {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]time.Time, n)
	for i := range out {
		out[i] = base.Add(time.Duration(i) * time.Second)
	}
	return out
}

func TestRollingMean_ConstantSignal(t *testing.T) {
	ts := secondsTimestamps(100)
	values := make([]float64, 100)
	for i := range values {
		values[i] = 5.0
	}
	means := rollingMean(ts, values, 30*time.Second)
	for i, m := range means {
		if m != 5.0 {
			t.Fatalf("mean[%d] = %v, want 5.0", i, m)
		}
	}
}

func TestRollingMean_WindowExcludesOldSamples(t *testing.T) {
	ts := secondsTimestamps(40)
	values := make([]float64, 40)
	for i := range values {
		values[i] = float64(i)
	}
	means := rollingMean(ts, values, 9*time.Second)
	// At i=39 (t=39s), window keeps samples with ts[39]-ts[left] <= 9s,
	// i.e. indices 30..39 inclusive (10 samples).
	want := 0.0
	for i := 30; i <= 39; i++ {
		want += values[i]
	}
	want /= 10
	if diff := means[39] - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("mean[39] = %v, want %v", means[39], want)
	}
}

func TestRollingStd_SinglePointWindowIsZero(t *testing.T) {
	ts := []time.Time{time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	values := []float64{42.0}
	std := rollingStd(ts, values, 30*time.Second)
	if std[0] != 0 {
		t.Errorf("std[0] = %v, want 0", std[0])
	}
}

func TestRollingStd_ConstantSignalIsZero(t *testing.T) {
	ts := secondsTimestamps(50)
	values := make([]float64, 50)
	for i := range values {
		values[i] = 3.0
	}
	std := rollingStd(ts, values, 30*time.Second)
	for i, s := range std {
		if s != 0 {
			t.Fatalf("std[%d] = %v, want 0 for constant signal", i, s)
		}
	}
}
