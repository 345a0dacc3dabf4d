package detect

import (
	"math"
	"os"
	"testing"
	"time"

	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/db"
	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/model"
)

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()
	fname := t.Name() + ".db"
	_ = os.Remove(fname)

	database, err := db.NewDB(fname)
	if err != nil {
		t.Fatalf("failed to create test DB: %v", err)
	}
	return database
}

func cleanupTestDB(t *testing.T, database *db.DB) {
	t.Helper()
	fname := t.Name() + ".db"
	database.Close()
	_ = os.Remove(fname)
	_ = os.Remove(fname + "-shm")
	_ = os.Remove(fname + "-wal")
}

// syntheticNight builds a quiet-signal night with a single injected burst
// around t=60s, long enough for the 30s rolling windows to establish a
// stable baseline before the burst arrives.
func syntheticNight(station string) model.RawNight {
	const fps = 25.0
	base := time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC)
	step := time.Duration(float64(time.Second) / fps)

	n := int(120 * fps)
	samples := make([]model.Sample, n)
	for i := 0; i < n; i++ {
		t := base.Add(time.Duration(i) * step)
		v := 1000.0
		sec := float64(i) / fps
		if sec >= 60.0 && sec < 60.5 {
			v += 5000 * math.Sin(2*math.Pi*(sec-60.0)*10)
		}
		samples[i] = model.Sample{Time: t, Intensity: uint32(v)}
	}

	return model.RawNight{
		Station:           station,
		Night:             time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Samples:           samples,
		SidecarTimestamps: []time.Time{base.Add(60300 * time.Millisecond)},
	}
}

func testConfig() Config {
	return Config{
		FPS:              25.0,
		Cutoff:           3,
		AvgWindow:        30 * time.Second,
		StdWindow:        30 * time.Second,
		FREventProximity: 10 * time.Second,
		BandpassLowHz:    DefaultBandpassLowHz,
		BandpassHighHz:   DefaultBandpassHighHz,
	}
}

func TestRun_EmptyNightReturnsNoCandidates(t *testing.T) {
	database := setupTestDB(t)
	defer cleanupTestDB(t, database)

	if err := database.UpsertStation(model.Station{ID: "AB1234", Lat: 45, Lon: -75}); err != nil {
		t.Fatalf("UpsertStation: %v", err)
	}

	night := model.RawNight{Station: "AB1234", Night: time.Now()}
	confirmed, err := Run(database, night, testConfig())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(confirmed) != 0 {
		t.Errorf("expected no candidates for empty night, got %d", len(confirmed))
	}
}

func TestRun_PersistsFireballsAndCandidates(t *testing.T) {
	database := setupTestDB(t)
	defer cleanupTestDB(t, database)

	night := syntheticNight("AB1234")
	confirmed, err := Run(database, night, testConfig())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	candidates, err := database.CandidatesForNight(night.Night, []string{"AB1234"})
	if err != nil {
		t.Fatalf("CandidatesForNight: %v", err)
	}
	if len(candidates) != len(confirmed) {
		t.Errorf("persisted %d candidates, Run returned %d", len(candidates), len(confirmed))
	}
}

func TestCondition_ProducesParallelSlices(t *testing.T) {
	night := syntheticNight("AB1234")
	detrended, sigma := Condition(night.Samples, testConfig())
	if len(detrended) != len(night.Samples) {
		t.Fatalf("detrended length %d, want %d", len(detrended), len(night.Samples))
	}
	if len(sigma) != len(night.Samples) {
		t.Fatalf("sigma length %d, want %d", len(sigma), len(night.Samples))
	}
}
