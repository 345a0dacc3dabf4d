package cluster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/model"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("time.Parse(%q): %v", s, err)
	}
	return ts
}

func TestClusterFireballs_AdmitsDenseMultiStationEvent(t *testing.T) {
	base := mustTime(t, "2024-03-01T03:00:00Z")
	candidates := []model.Candidate{
		{ID: 1, Station: "AB1234", Start: base, End: base.Add(2 * time.Second)},
		{ID: 2, Station: "CD5678", Start: base.Add(1 * time.Second), End: base.Add(3 * time.Second)},
		{ID: 3, Station: "EF9012", Start: base.Add(2 * time.Second), End: base.Add(4 * time.Second)},
	}
	stations := map[string]model.Station{
		"AB1234": {ID: "AB1234", Lat: 45.0, Lon: -75.0},
		"CD5678": {ID: "CD5678", Lat: 45.1, Lon: -75.1},
		"EF9012": {ID: "EF9012", Lat: 45.2, Lon: -75.2},
	}

	clusters, err := ClusterFireballs(candidates, stations, 3)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Len(t, clusters[0].Stations, 3)
	assert.True(t, clusters[0].Start.Equal(base), "start: got %v want %v", clusters[0].Start, base)
	wantEnd := base.Add(4 * time.Second)
	assert.True(t, clusters[0].End.Equal(wantEnd), "end: got %v want %v", clusters[0].End, wantEnd)
}

func TestClusterFireballs_RejectsBelowMinObservers(t *testing.T) {
	base := mustTime(t, "2024-03-01T03:00:00Z")
	candidates := []model.Candidate{
		{ID: 1, Station: "AB1234", Start: base, End: base.Add(time.Second)},
		{ID: 2, Station: "CD5678", Start: base.Add(time.Second), End: base.Add(2 * time.Second)},
	}
	stations := map[string]model.Station{
		"AB1234": {ID: "AB1234", Lat: 45.0, Lon: -75.0},
		"CD5678": {ID: "CD5678", Lat: 45.1, Lon: -75.1},
	}

	clusters, err := ClusterFireballs(candidates, stations, 3)
	require.NoError(t, err)
	assert.Empty(t, clusters, "below MIN_OBSERVERS should admit nothing")
}

func TestClusterFireballs_SplitsTemporallyDistantEvents(t *testing.T) {
	base := mustTime(t, "2024-03-01T03:00:00Z")
	stations := map[string]model.Station{
		"AB1234": {ID: "AB1234", Lat: 45.0, Lon: -75.0},
		"CD5678": {ID: "CD5678", Lat: 45.1, Lon: -75.1},
		"EF9012": {ID: "EF9012", Lat: 45.2, Lon: -75.2},
	}
	candidates := []model.Candidate{
		{ID: 1, Station: "AB1234", Start: base, End: base.Add(time.Second)},
		{ID: 2, Station: "CD5678", Start: base.Add(time.Second), End: base.Add(2 * time.Second)},
		{ID: 3, Station: "EF9012", Start: base.Add(time.Hour), End: base.Add(time.Hour + time.Second)},
	}

	clusters, err := ClusterFireballs(candidates, stations, 2)
	require.NoError(t, err)
	// Only the first two candidates are temporally close enough (eps=10s);
	// the third is an hour away and forms its own (too-small) group.
	require.Len(t, clusters, 1)
	assert.Len(t, clusters[0].Stations, 2)
}

func TestClusterFireballs_RejectsSpatiallyDistantStations(t *testing.T) {
	base := mustTime(t, "2024-03-01T03:00:00Z")
	// Temporally dense but over 1000km apart: London vs New York.
	stations := map[string]model.Station{
		"LDN001": {ID: "LDN001", Lat: 51.5, Lon: -0.1},
		"NYC001": {ID: "NYC001", Lat: 40.7, Lon: -74.0},
	}
	candidates := []model.Candidate{
		{ID: 1, Station: "LDN001", Start: base, End: base.Add(time.Second)},
		{ID: 2, Station: "NYC001", Start: base.Add(time.Second), End: base.Add(2 * time.Second)},
	}

	clusters, err := ClusterFireballs(candidates, stations, 2)
	require.NoError(t, err)
	assert.Empty(t, clusters, "spatially disjoint stations should admit nothing")
}

func TestClusterFireballs_EmptyInput(t *testing.T) {
	clusters, err := ClusterFireballs(nil, nil, 3)
	require.NoError(t, err)
	assert.Nil(t, clusters)
}

func TestClusterFireballs_UnknownStationErrors(t *testing.T) {
	base := mustTime(t, "2024-03-01T03:00:00Z")
	candidates := []model.Candidate{
		{ID: 1, Station: "UNKNOWN", Start: base, End: base.Add(time.Second)},
		{ID: 2, Station: "UNKNOWN2", Start: base.Add(time.Second), End: base.Add(2 * time.Second)},
	}
	_, err := ClusterFireballs(candidates, map[string]model.Station{}, 2)
	assert.Error(t, err)
}

func TestHaversine_SameSpotIsZero(t *testing.T) {
	assert.Zero(t, haversine(0.1, 0.2, 0.1, 0.2))
}

func TestMarshalStations(t *testing.T) {
	b, err := MarshalStations([]string{"AB1234", "CD5678"})
	require.NoError(t, err)
	assert.JSONEq(t, `["AB1234","CD5678"]`, string(b))
}
