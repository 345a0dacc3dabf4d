// Package model holds the plain domain types shared across the ingestion,
// detection, clustering, and scheduling packages.
package model

import (
	"fmt"
	"time"
)

// Station is an immutable entry from the external station catalog.
type Station struct {
	ID  string
	Lat float64
	Lon float64
}

// Neighborhood is the set of station IDs within RadiusKM of StationID,
// computed once from the station catalog (bounding-box approximation, see
// DESIGN.md open question 1).
type Neighborhood struct {
	StationID string
	Members   []string
}

// Sample is one (timestamp, summed intensity) half-frame observation.
type Sample struct {
	Time      time.Time
	Intensity uint32
}

// RawNight is the ordered time series and sidecar events ingested for one
// station on one UTC night.
type RawNight struct {
	Station           string
	Night             time.Time // UTC midnight of the night key
	Samples           []Sample  // monotone non-decreasing in Time
	SidecarTimestamps []time.Time
}

// AnalysisStatus is the (station, night) processing state. It advances only
// in the order Ingested -> Processing -> Processed; see CanAdvanceTo.
type AnalysisStatus string

const (
	StatusIngested  AnalysisStatus = "ingested"
	StatusProcessing AnalysisStatus = "processing"
	StatusProcessed  AnalysisStatus = "processed"
)

// statusRank gives the total order used to enforce monotone transitions.
var statusRank = map[AnalysisStatus]int{
	StatusIngested:   0,
	StatusProcessing: 1,
	StatusProcessed:  2,
}

// Valid reports whether s is one of the three recognized statuses.
func (s AnalysisStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// CanAdvanceTo reports whether transitioning from s to next is a legal,
// non-backward transition (spec.md §3 invariants). Equal states are not an
// advance and are rejected: callers that want idempotent re-entry should
// check equality themselves before calling this.
func (s AnalysisStatus) CanAdvanceTo(next AnalysisStatus) bool {
	cur, ok := statusRank[s]
	if !ok {
		return false
	}
	nxt, ok := statusRank[next]
	if !ok {
		return false
	}
	return nxt > cur
}

// StationNight is a (station, night-date) composite key.
type StationNight struct {
	Station string
	Night   time.Time
}

// String renders a StationNight for log lines, e.g. "AB1234@2024-03-01".
func (sn StationNight) String() string {
	return fmt.Sprintf("%s@%s", sn.Station, sn.Night.Format("2006-01-02"))
}

// Candidate is a per-station transient event surviving signal detection and
// sidecar confirmation.
type Candidate struct {
	ID      int64
	Station string
	Start   time.Time
	End     time.Time
}

// ConfirmedCluster is a multi-station agreement on a transient event after
// spatiotemporal density clustering.
type ConfirmedCluster struct {
	ID       int64
	Stations []string
	Start    time.Time
	End      time.Time
}
