package clustering

import (
	"math"
	"sort"

	"mintage/internal/distance"
)

// SilhouetteScore calculates the silhouette score for a single point
// Returns a score between -1 and 1:
//
//	-1: Point likely in wrong cluster
//	 0: Point on the border between clusters
//	+1: Point well matched to its cluster
func SilhouetteScore(pointIdx int, assignments []int, dm *distance.Condensed) float64 {
	n := len(assignments)
	if n == 0 || pointIdx >= n {
		return 0.0
	}

	sums := make(map[int]float64)
	counts := make(map[int]int)
	for i, label := range assignments {
		if i == pointIdx {
			continue
		}
		sums[label] += dm.At(pointIdx, i)
		counts[label]++
	}

	own := assignments[pointIdx]
	if counts[own] == 0 {
		return 0.0 // Singleton cluster
	}
	a := sums[own] / float64(counts[own])

	b := math.Inf(1)
	for label, count := range counts {
		if label == own || count == 0 {
			continue
		}
		if mean := sums[label] / float64(count); mean < b {
			b = mean
		}
	}
	if math.IsInf(b, 1) {
		return 0.0 // No other clusters
	}

	if m := math.Max(a, b); m > 0 {
		return (b - a) / m
	}
	return 0.0
}

// SilhouetteAnalysis summarises how well separated a partition is
type SilhouetteAnalysis struct {
	OverallScore  float64         // Average across all points
	ClusterScores map[int]float64 // Per-cluster average scores
	PointScores   []float64       // Individual point scores
	NumClusters   int             // Total number of clusters
	NumPoints     int             // Total number of points
	Quality       string          // Interpretation: Excellent/Good/Fair/Poor
}

// PerformSilhouetteAnalysis scores every point of the partition given by
// assignments against the distance matrix.
func PerformSilhouetteAnalysis(dm *distance.Condensed, assignments []int) *SilhouetteAnalysis {
	pointScores := make([]float64, len(assignments))
	perCluster := make(map[int][]float64)
	total := 0.0

	for i, label := range assignments {
		score := SilhouetteScore(i, assignments, dm)
		pointScores[i] = score
		perCluster[label] = append(perCluster[label], score)
		total += score
	}

	clusterScores := make(map[int]float64, len(perCluster))
	for label, scores := range perCluster {
		sum := 0.0
		for _, s := range scores {
			sum += s
		}
		clusterScores[label] = sum / float64(len(scores))
	}

	overall := 0.0
	if len(assignments) > 0 {
		overall = total / float64(len(assignments))
	}

	return &SilhouetteAnalysis{
		OverallScore:  overall,
		ClusterScores: clusterScores,
		PointScores:   pointScores,
		NumClusters:   len(perCluster),
		NumPoints:     len(assignments),
		Quality:       interpretSilhouetteScore(overall),
	}
}

// WorstClusters returns cluster ids ordered from the lowest mean score.
func (s *SilhouetteAnalysis) WorstClusters() []int {
	ids := make([]int, 0, len(s.ClusterScores))
	for id := range s.ClusterScores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		si, sj := s.ClusterScores[ids[i]], s.ClusterScores[ids[j]]
		if si != sj {
			return si < sj
		}
		return ids[i] < ids[j]
	})
	return ids
}

// interpretSilhouetteScore provides human-readable interpretation
func interpretSilhouetteScore(score float64) string {
	if score >= 0.71 {
		return "Excellent - Strong cluster structure"
	} else if score >= 0.51 {
		return "Good - Reasonable cluster structure"
	} else if score >= 0.26 {
		return "Fair - Weak cluster structure"
	} else if score >= 0.0 {
		return "Poor - No substantial cluster structure"
	} else {
		return "Very Poor - Artificial/forced clustering"
	}
}
