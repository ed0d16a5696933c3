package memory

import "slices"

// DefaultClusterEps is the DBSCAN neighbourhood radius used for consolidation.
const DefaultClusterEps = 0.5

// Cluster groups vectors with DBSCAN using a minimum of one sample per core
// point and euclidean distance: two vectors share a cluster when a chain of
// vectors at most eps apart connects them. Each cluster lists member indices in
// ascending order; clusters are ordered by their first member.
func Cluster(vectors [][]float64, eps float64) [][]int {
	labels := make([]int, len(vectors))
	for i := range labels {
		labels[i] = -1
	}

	var clusters [][]int
	for i := range vectors {
		if labels[i] >= 0 {
			continue
		}
		id := len(clusters)
		labels[i] = id
		members := []int{i}
		for q := 0; q < len(members); q++ {
			p := members[q]
			for j := range vectors {
				if labels[j] >= 0 {
					continue
				}
				if Euclidean(vectors[p], vectors[j]) <= eps {
					labels[j] = id
					members = append(members, j)
				}
			}
		}
		slices.Sort(members)
		clusters = append(clusters, members)
	}
	return clusters
}
