package cluster

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/western-gmn-fireball/gmn-fireball-clustering/internal/model"
)

const (
	// temporalEps is the stage-1 neighborhood radius in seconds.
	temporalEps = 10.0
	// spatialEpsRadians is 1000 km expressed as an angle on a unit-radius
	// sphere using the mean Earth radius in kilometers (6371.0088).
	spatialEpsRadians = 1000.0 / 6371.0088
	minClusterSize    = 2
)

// ClusterFireballs runs the two-stage density clustering described in
// spec.md §4.4 over a pooled set of confirmed candidates from one
// neighborhood scan, and returns the admitted multi-station clusters.
//
// Successive scheduler ticks are not deduplicated against each other: a
// neighborhood dispatched twice with overlapping candidates produces two
// independent cluster rows, matching clusterFireballs()'s own behavior and
// this spec's explicit non-goal of cross-neighborhood dedup (DESIGN.md open
// question 2).
func ClusterFireballs(candidates []model.Candidate, stations map[string]model.Station, minObservers int) ([]model.ConfirmedCluster, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	yearStart := startOfYear(earliestStart(candidates))

	temporal := make([][2]float64, len(candidates))
	for i, c := range candidates {
		temporal[i] = [2]float64{
			c.Start.Sub(yearStart).Seconds(),
			c.End.Sub(yearStart).Seconds(),
		}
	}

	temporalLabels := dbscan(len(candidates), minClusterSize, func(i int) []int {
		return euclideanNeighbors(temporal, i, temporalEps)
	})

	var clusters []model.ConfirmedCluster
	nextID := int64(1)

	for _, group := range groupByLabel(temporalLabels) {
		members := make([]model.Candidate, len(group))
		coordsRad := make([][2]float64, len(group))
		for i, idx := range group {
			c := candidates[idx]
			members[i] = c
			st, ok := stations[c.Station]
			if !ok {
				return nil, fmt.Errorf("cluster: unknown station %q in candidate set", c.Station)
			}
			coordsRad[i] = [2]float64{st.Lat * math.Pi / 180, st.Lon * math.Pi / 180}
		}

		spatialLabels := dbscan(len(members), minClusterSize, func(i int) []int {
			return haversineNeighbors(coordsRad, i, spatialEpsRadians)
		})

		for _, spatialGroup := range groupByLabel(spatialLabels) {
			stationSet := map[string]bool{}
			var start, end time.Time
			for i, idx := range spatialGroup {
				m := members[idx]
				stationSet[m.Station] = true
				if i == 0 || m.Start.Before(start) {
					start = m.Start
				}
				if i == 0 || m.End.After(end) {
					end = m.End
				}
			}

			if len(stationSet) < minObservers {
				continue
			}

			stationList := make([]string, 0, len(stationSet))
			for s := range stationSet {
				stationList = append(stationList, s)
			}
			sort.Strings(stationList)

			clusters = append(clusters, model.ConfirmedCluster{
				ID:       nextID,
				Stations: stationList,
				Start:    start,
				End:      end,
			})
			nextID++
		}
	}

	return clusters, nil
}

// earliestStart returns the minimum Start among candidates. Candidates is
// never empty when called.
func earliestStart(candidates []model.Candidate) time.Time {
	earliest := candidates[0].Start
	for _, c := range candidates[1:] {
		if c.Start.Before(earliest) {
			earliest = c.Start
		}
	}
	return earliest
}

// startOfYear returns UTC midnight on January 1 of t's year.
func startOfYear(t time.Time) time.Time {
	return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
}

// groupByLabel buckets indices by DBSCAN label, dropping noise (label -1)
// per spec.md §4.4's "drop points labeled as noise".
func groupByLabel(labels []int) [][]int {
	buckets := map[int][]int{}
	for i, l := range labels {
		if l < 1 {
			continue
		}
		buckets[l] = append(buckets[l], i)
	}

	ids := make([]int, 0, len(buckets))
	for id := range buckets {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([][]int, len(ids))
	for i, id := range ids {
		out[i] = buckets[id]
	}
	return out
}

// euclideanNeighbors returns all indices (including i) within eps of
// points[i] under 2D Euclidean distance.
func euclideanNeighbors(points [][2]float64, i int, eps float64) []int {
	var out []int
	pi := points[i][:]
	for j, pj := range points {
		if floats.Distance(pi, pj[:], 2) <= eps {
			out = append(out, j)
		}
	}
	return out
}

// haversineNeighbors returns all indices (including i) within eps radians
// of coordsRad[i] under the haversine great-circle metric, both given as
// (lat, lon) in radians on a unit-radius sphere.
func haversineNeighbors(coordsRad [][2]float64, i int, eps float64) []int {
	var out []int
	pi := coordsRad[i]
	for j, pj := range coordsRad {
		if haversine(pi[0], pi[1], pj[0], pj[1]) <= eps {
			out = append(out, j)
		}
	}
	return out
}

// haversine returns the great-circle angular distance in radians between
// two (lat, lon) points given in radians, on a unit-radius sphere.
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := lat2 - lat1
	dLon := lon2 - lon1
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * math.Asin(math.Sqrt(a))
}

// MarshalStations serializes a cluster's participating station ids as a
// JSON list, per spec.md §4.4's persistence format.
func MarshalStations(stations []string) ([]byte, error) {
	return json.Marshal(stations)
}
