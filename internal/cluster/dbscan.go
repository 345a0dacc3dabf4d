// Package cluster implements the two-stage spatiotemporal density clustering
// of confirmed candidates into multi-station fireball events (spec.md §4.4).
package cluster

// regionQuery returns the indices of all points within eps of point i,
// including i itself, under whatever metric the caller's closure implements.
type regionQuery func(i int) []int

// dbscan is a minimal DBSCAN core shared by the temporal and spatial
// clustering stages. Label 0 means unvisited, -1 means noise, and any
// positive integer is a 1-based cluster id. Neighborhoods here are small
// (a handful to a few dozen candidates), so a brute-force regionQuery is
// used by both callers rather than a spatial grid index.
func dbscan(n int, minPts int, neighbors regionQuery) []int {
	labels := make([]int, n)
	clusterID := 0

	for i := 0; i < n; i++ {
		if labels[i] != 0 {
			continue
		}

		seeds := neighbors(i)
		if len(seeds) < minPts {
			labels[i] = -1
			continue
		}

		clusterID++
		expandCluster(labels, i, seeds, clusterID, minPts, neighbors)
	}

	return labels
}

// expandCluster grows clusterID outward from a core point's seed
// neighborhood, following the teacher's queue-based expansion idiom.
func expandCluster(labels []int, seedIdx int, seeds []int, clusterID, minPts int, neighbors regionQuery) {
	labels[seedIdx] = clusterID

	for j := 0; j < len(seeds); j++ {
		idx := seeds[j]

		if labels[idx] == -1 {
			labels[idx] = clusterID // noise becomes a border point
		}
		if labels[idx] != 0 {
			continue
		}

		labels[idx] = clusterID
		more := neighbors(idx)
		if len(more) >= minPts {
			seeds = append(seeds, more...)
		}
	}
}
