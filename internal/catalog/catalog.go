// Package catalog fetches the station coordinate catalog and computes
// radius-based neighborhoods (spec.md §6's station catalog source and
// §4.5's neighborhood inputs).
package catalog

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"

	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/db"
	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/httputil"
	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/model"
)

// earthRadiusKM is the sphere radius used by haversineRadiusPoint
// (utils/math.py uses 6371.0, distinct from the 6371.0088 WGS84 mean radius
// the Clusterer's haversine epsilon uses).
const earthRadiusKM = 6371.0

// catalogEntry is one timestamped {lat, lon} observation for a station, as
// served by the remote catalog endpoint.
type catalogEntry struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Fetch retrieves the station catalog from url and returns one Station per
// entry, keeping only the latest-timestamped observation per spec.md §6.
func Fetch(client httputil.HTTPClient, url string) ([]model.Station, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("catalog: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog: fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("catalog: read response body: %w", err)
	}

	var raw map[string]map[string]catalogEntry
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("catalog: parse response: %w", err)
	}

	stations := make([]model.Station, 0, len(raw))
	for stationID, byTimestamp := range raw {
		var latestTS string
		var latest catalogEntry
		for ts, entry := range byTimestamp {
			if latestTS == "" || ts > latestTS {
				latestTS = ts
				latest = entry
			}
		}
		if latestTS == "" {
			continue
		}
		stations = append(stations, model.Station{ID: stationID, Lat: latest.Lat, Lon: latest.Lon})
	}

	sort.Slice(stations, func(i, j int) bool { return stations[i].ID < stations[j].ID })
	return stations, nil
}

// haversineRadiusPoint returns the point `distanceKM` from (lat, lon) along
// `bearingDegrees`, matching utils/math.py's haversineRadiusPoint exactly
// (great-circle destination point formula).
func haversineRadiusPoint(lat, lon, distanceKM, bearingDegrees float64) (newLat, newLon float64) {
	latRad := lat * math.Pi / 180
	lonRad := lon * math.Pi / 180
	bearingRad := bearingDegrees * math.Pi / 180

	distanceRatio := distanceKM / earthRadiusKM

	newLatRad := math.Asin(math.Sin(latRad)*math.Cos(distanceRatio) +
		math.Cos(latRad)*math.Sin(distanceRatio)*math.Cos(bearingRad))
	newLonRad := lonRad + math.Atan2(
		math.Sin(bearingRad)*math.Sin(distanceRatio)*math.Cos(latRad),
		math.Cos(distanceRatio)-math.Sin(latRad)*math.Sin(newLatRad),
	)

	return newLatRad * 180 / math.Pi, newLonRad * 180 / math.Pi
}

// stationsWithinRadius returns the ids of every station in stations whose
// (lat, lon) falls within the axis-aligned bounding box of radiusKM around
// (lat, lon), matching utils/math.py's stationsWithinRadius bounding-box
// approximation (not an exact great-circle membership test; see DESIGN.md
// open question on this approximation's edge cases near the poles and the
// antimeridian).
func stationsWithinRadius(stations []model.Station, lat, lon, radiusKM float64) []string {
	northLat, _ := haversineRadiusPoint(lat, lon, radiusKM, 0)
	southLat, _ := haversineRadiusPoint(lat, lon, radiusKM, 180)
	_, eastLon := haversineRadiusPoint(lat, lon, radiusKM, 90)
	_, westLon := haversineRadiusPoint(lat, lon, radiusKM, 270)

	var out []string
	for _, s := range stations {
		if s.Lat >= southLat && s.Lat <= northLat && s.Lon >= westLon && s.Lon <= eastLon {
			out = append(out, s.ID)
		}
	}
	return out
}

// ComputeNeighborhoods derives a model.Neighborhood for every station in
// stations, using radiusKM as the search radius, and returns them in
// station-id order.
func ComputeNeighborhoods(stations []model.Station, radiusKM float64) []model.Neighborhood {
	out := make([]model.Neighborhood, len(stations))
	for i, s := range stations {
		out[i] = model.Neighborhood{
			StationID: s.ID,
			Members:   stationsWithinRadius(stations, s.Lat, s.Lon, radiusKM),
		}
	}
	return out
}

// Sync fetches the station catalog, computes each station's neighborhood,
// and persists both, per spec.md §6 ("Fetched once at database
// initialization").
func Sync(client httputil.HTTPClient, url string, radiusKM float64, store *db.DB) error {
	stations, err := Fetch(client, url)
	if err != nil {
		return err
	}
	for _, s := range stations {
		if err := store.UpsertStation(s); err != nil {
			return fmt.Errorf("catalog: persist station %s: %w", s.ID, err)
		}
	}
	for _, nb := range ComputeNeighborhoods(stations, radiusKM) {
		if err := store.UpsertNeighborhood(nb); err != nil {
			return fmt.Errorf("catalog: persist neighborhood %s: %w", nb.StationID, err)
		}
	}
	return nil
}
