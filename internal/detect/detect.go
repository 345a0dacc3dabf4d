// Package detect implements the per-station signal conditioning, hysteresis
// peak detection, and sidecar confirmation pipeline described in spec.md
// §4.3 (Detection Engine).
package detect

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/db"
	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/model"
)

// Config carries the tunable parameters of the detection pipeline. All
// fields mirror spec.md §6's configuration table; see internal/config for
// where these are sourced from an operator-supplied tuning file.
type Config struct {
	FPS              float64
	Cutoff           float64
	AvgWindow        time.Duration
	StdWindow        time.Duration
	FREventProximity time.Duration
	BandpassLowHz    float64
	BandpassHighHz   float64
}

// DefaultBandpass matches preprocessFieldsums()'s scipy.signal.butter(2,
// [1/10, 1], btype='band', fs=FPS) cutoffs.
const (
	DefaultBandpassLowHz  = 0.1
	DefaultBandpassHighHz = 1.0
)

// TuningConfig is the subset of internal/config.TuningConfig that this
// package's Config is built from; spelled out as an interface so detect
// does not need to import internal/config.
type TuningConfig interface {
	GetCutoff() float64
	GetAvgWindowSeconds() float64
	GetStdWindowSeconds() float64
	GetFREventProximity() float64
	GetFPS() float64
}

// NewConfig builds a detection Config from an operator tuning config,
// applying the fixed bandpass cutoffs from spec.md §4.3.1 (the tuning file
// has no knob for these; only the window sizes and cutoff multiplier vary).
func NewConfig(t TuningConfig) Config {
	return Config{
		FPS:              t.GetFPS(),
		Cutoff:           t.GetCutoff(),
		AvgWindow:        time.Duration(t.GetAvgWindowSeconds() * float64(time.Second)),
		StdWindow:        time.Duration(t.GetStdWindowSeconds() * float64(time.Second)),
		FREventProximity: time.Duration(t.GetFREventProximity() * float64(time.Second)),
		BandpassLowHz:    DefaultBandpassLowHz,
		BandpassHighHz:   DefaultBandpassHighHz,
	}
}

// Condition runs signal conditioning (spec.md §4.3.1): bandpass, detrend,
// and rolling sigma. Returns parallel detrended/sigma slices, one entry per
// input sample.
func Condition(samples []model.Sample, cfg Config) (detrended, sigma []float64) {
	n := len(samples)
	if n == 0 {
		return nil, nil
	}

	timestamps := make([]time.Time, n)
	raw := make([]float64, n)
	for i, s := range samples {
		timestamps[i] = s.Time
		raw[i] = float64(s.Intensity)
	}

	filter := designBandpass(cfg.BandpassLowHz, cfg.BandpassHighHz, cfg.FPS)
	bandpassed := filtfilt(filter, raw)
	for i := range bandpassed {
		bandpassed[i] = math.Abs(bandpassed[i])
	}

	movingMean := rollingMean(timestamps, bandpassed, cfg.AvgWindow)

	detrended = make([]float64, n)
	floats.SubTo(detrended, bandpassed, movingMean)
	for i := range detrended {
		detrended[i] = math.Abs(detrended[i])
	}

	sigma = rollingStd(timestamps, detrended, cfg.StdWindow)

	return detrended, sigma
}

// Run performs the full per-station Detection Engine (spec.md §4.3) against
// one RawNight: conditioning, hysteresis peak detection, sidecar
// confirmation, and persistence. Every candidate (pre-confirmation) is
// written to the fireballs table; confirmed survivors are additionally
// written to candidate_fireballs carrying the same id (§4.3.4).
func Run(store *db.DB, night model.RawNight, cfg Config) ([]model.Candidate, error) {
	if len(night.Samples) == 0 {
		return nil, nil
	}

	timestamps := make([]time.Time, len(night.Samples))
	for i, s := range night.Samples {
		timestamps[i] = s.Time
	}

	detrended, sigma := Condition(night.Samples, cfg)
	raw := detectPeaks(timestamps, detrended, sigma, cfg.Cutoff)

	confirmedSet := map[rawCandidate]bool{}
	for _, c := range confirmWithSidecars(raw, night.SidecarTimestamps, cfg.FREventProximity) {
		confirmedSet[c] = true
	}

	var confirmed []model.Candidate
	for _, c := range raw {
		id, err := store.InsertFireball(night.Station, c.Start, c.End)
		if err != nil {
			return nil, fmt.Errorf("detect: insert fireball for %s: %w", night.Station, err)
		}

		if !confirmedSet[c] {
			continue
		}
		if err := store.InsertCandidateFireball(id, night.Station, c.Start, c.End); err != nil {
			return nil, fmt.Errorf("detect: insert candidate fireball for %s: %w", night.Station, err)
		}
		confirmed = append(confirmed, model.Candidate{
			ID:      id,
			Station: night.Station,
			Start:   c.Start,
			End:     c.End,
		})
	}

	return confirmed, nil
}
