package clustering

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mintage/internal/distance"
)

func lineDistances(t *testing.T, xs ...float64) *distance.Condensed {
	t.Helper()
	dm, err := distance.Pairwise(context.Background(), lineMatrix(xs...).Rows, distance.Euclidean)
	require.NoError(t, err)
	return dm
}

func TestSilhouetteScore(t *testing.T) {
	dm := lineDistances(t, 0, 1, 10, 11)
	assignments := []int{0, 0, 1, 1}

	// a = 1, b = (10 + 11) / 2
	assert.InDelta(t, (10.5-1)/10.5, SilhouetteScore(0, assignments, dm), 1e-12)
	assert.Zero(t, SilhouetteScore(7, assignments, dm), "index out of range")
}

func TestSilhouetteScoreSingletonAndSingleCluster(t *testing.T) {
	dm := lineDistances(t, 0, 1, 10)
	assert.Zero(t, SilhouetteScore(2, []int{0, 0, 1}, dm), "singleton")
	assert.Zero(t, SilhouetteScore(0, []int{0, 0, 0}, dm), "no other cluster")
}

func TestPerformSilhouetteAnalysis(t *testing.T) {
	dm := lineDistances(t, 0, 1, 2, 50, 51, 52)
	analysis := PerformSilhouetteAnalysis(dm, []int{0, 0, 0, 1, 1, 1})

	assert.Equal(t, 2, analysis.NumClusters)
	assert.Equal(t, 6, analysis.NumPoints)
	assert.Len(t, analysis.PointScores, 6)
	assert.Greater(t, analysis.OverallScore, 0.9)
	assert.Contains(t, analysis.Quality, "Excellent")
	assert.InDelta(t, analysis.ClusterScores[0], analysis.ClusterScores[1], 1e-12, "mirror images score alike")
}

func TestWorstClusters(t *testing.T) {
	// Cluster 1 is spread out and close to cluster 0.
	dm := lineDistances(t, 0, 1, 5, 12, 30, 31)
	analysis := PerformSilhouetteAnalysis(dm, []int{0, 0, 1, 1, 2, 2})

	worst := analysis.WorstClusters()
	require.Len(t, worst, 3)
	assert.Equal(t, 1, worst[0])
}

func TestInterpretSilhouetteScore(t *testing.T) {
	testCases := map[float64]string{
		0.8:  "Excellent",
		0.6:  "Good",
		0.3:  "Fair",
		0.1:  "Poor",
		-0.2: "Very Poor",
	}
	for score, want := range testCases {
		assert.Contains(t, interpretSilhouetteScore(score), want)
	}
}
