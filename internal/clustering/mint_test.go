package clustering

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mintage/internal/core"
)

// scriptedHunter returns canned answers keyed by pre-cluster size.
type scriptedHunter struct {
	mu      sync.Mutex
	calls   int
	scales  []float64
	answers map[int]scriptedAnswer
	err     error
}

type scriptedAnswer struct {
	subclusters [][]int
	noise       []int
}

func (h *scriptedHunter) Hunt(_ context.Context, scale float64, data [][]float64, clusters [][]int, outliers []int) ([][]int, []int, error) {
	h.mu.Lock()
	h.calls++
	h.scales = append(h.scales, scale)
	h.mu.Unlock()

	if h.err != nil {
		return nil, nil, h.err
	}
	if len(clusters) != 1 || len(clusters[0]) != len(data) || len(outliers) != 0 {
		return nil, nil, fmt.Errorf("unexpected initial partition %v / %v", clusters, outliers)
	}
	for i, local := range clusters[0] {
		if local != i {
			return nil, nil, fmt.Errorf("initial partition not the identity: %v", clusters[0])
		}
	}
	ans, ok := h.answers[len(data)]
	if !ok {
		return [][]int{clusters[0]}, nil, nil
	}
	return ans.subclusters, ans.noise, nil
}

func makeSuites(n int) []core.Suite {
	suites := make([]core.Suite, n)
	for i := range suites {
		suites[i] = core.Suite{ID: fmt.Sprintf("s-%d", i), Dihedrals: []float64{float64(i), 0, 0}}
	}
	return suites
}

func seq(from, to int) []int {
	out := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}

func TestPostclusterScenario(t *testing.T) {
	suites := makeSuites(40)
	// Pre-cluster members are suites 10..39.
	members := seq(10, 40)
	hunter := &scriptedHunter{answers: map[int]scriptedAnswer{
		30: {subclusters: [][]int{seq(0, 18), seq(18, 28)}, noise: []int{28, 29}},
	}}

	result, err := Postcluster(context.Background(), suites, core.ClusterList{members}, hunter, DefaultPostclusterOptions())
	require.NoError(t, err)

	require.Len(t, result.Refined, 2)
	assert.Equal(t, []int{18, 10}, result.Refined.Sizes())
	assert.Equal(t, seq(10, 28), result.Refined[0])
	assert.Equal(t, seq(28, 38), result.Refined[1])
	assert.Equal(t, []int{38, 39}, result.Noise)
	assert.Equal(t, []int{0, 0}, result.Origins)
	assert.Equal(t, []float64{DefaultScale}, hunter.scales)

	for _, id := range seq(10, 28) {
		label, ok := suites[id].Labels.Get(core.StageFinal)
		require.True(t, ok)
		assert.Equal(t, 0, label.Index)
	}
	for _, id := range seq(28, 38) {
		label, ok := suites[id].Labels.Get(core.StageFinal)
		require.True(t, ok)
		assert.Equal(t, 1, label.Index)
	}
	for _, id := range []int{38, 39} {
		_, ok := suites[id].Labels.Get(core.StageFinal)
		assert.False(t, ok, "noise suite %d must not get a final label", id)
	}
}

func TestPostclusterLabelsAreContinuousAcrossPreclusters(t *testing.T) {
	suites := makeSuites(20)
	clusters := core.ClusterList{seq(0, 6), {}, seq(6, 10), seq(10, 20)}
	hunter := &scriptedHunter{answers: map[int]scriptedAnswer{
		6:  {subclusters: [][]int{{0, 2, 4}, {1, 3, 5}}},
		4:  {subclusters: [][]int{{3, 2}}, noise: []int{0, 1}},
		10: {subclusters: [][]int{seq(0, 4), seq(4, 7), seq(7, 10)}},
	}}

	for _, workers := range []int{0, 1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			hunter.calls = 0
			opts := PostclusterOptions{Scale: 500, Workers: workers}
			result, err := Postcluster(context.Background(), suites, clusters, hunter, opts)
			require.NoError(t, err)

			assert.Equal(t, 3, hunter.calls, "empty pre-cluster must be skipped")
			require.Len(t, result.Refined, 6)
			assert.Equal(t, []int{0, 0, 2, 3, 3, 3}, result.Origins)
			assert.Equal(t, []int{0, 2, 4}, result.Refined[0])
			assert.Equal(t, []int{1, 3, 5}, result.Refined[1])
			assert.Equal(t, []int{9, 8}, result.Refined[2])
			assert.Equal(t, []int{6, 7}, result.Noise)

			for label, members := range result.Refined {
				for _, id := range members {
					got, ok := suites[id].Labels.Get(core.StageFinal)
					require.True(t, ok)
					assert.Equal(t, label, got.Index)
				}
			}
		})
	}
}

func TestPostclusterClearsStaleFinalLabels(t *testing.T) {
	suites := makeSuites(4)
	stale := core.ClusterLabel(99)
	suites[3].Labels.Final = &stale

	hunter := &scriptedHunter{answers: map[int]scriptedAnswer{
		4: {subclusters: [][]int{{0, 1, 2}}, noise: []int{3}},
	}}
	_, err := Postcluster(context.Background(), suites, core.ClusterList{seq(0, 4)}, hunter, DefaultPostclusterOptions())
	require.NoError(t, err)

	_, ok := suites[3].Labels.Get(core.StageFinal)
	assert.False(t, ok)
}

func TestPostclusterErrors(t *testing.T) {
	suites := makeSuites(5)
	clusters := core.ClusterList{seq(0, 5)}

	_, err := Postcluster(context.Background(), suites, clusters, nil, DefaultPostclusterOptions())
	assert.Error(t, err)

	boom := errors.New("torus PCA diverged")
	_, err = Postcluster(context.Background(), suites, clusters, &scriptedHunter{err: boom}, DefaultPostclusterOptions())
	assert.ErrorIs(t, err, boom)

	outOfRange := &scriptedHunter{answers: map[int]scriptedAnswer{5: {subclusters: [][]int{{0, 5}}}}}
	_, err = Postcluster(context.Background(), suites, clusters, outOfRange, DefaultPostclusterOptions())
	assert.ErrorContains(t, err, "out of range")

	badNoise := &scriptedHunter{answers: map[int]scriptedAnswer{5: {noise: []int{-1}}}}
	_, err = Postcluster(context.Background(), suites, clusters, badNoise, DefaultPostclusterOptions())
	assert.ErrorContains(t, err, "out of range")

	for i := range suites {
		_, ok := suites[i].Labels.Get(core.StageFinal)
		assert.False(t, ok, "failed runs must not label suites")
	}
}

func TestPostclusterDoesNotShareFeatureRows(t *testing.T) {
	suites := makeSuites(3)
	mutating := huntFunc(func(data [][]float64) ([][]int, []int) {
		for _, row := range data {
			row[0] = -1
		}
		return [][]int{{0, 1, 2}}, nil
	})

	_, err := Postcluster(context.Background(), suites, core.ClusterList{seq(0, 3)}, mutating, DefaultPostclusterOptions())
	require.NoError(t, err)
	for i := range suites {
		assert.Equal(t, float64(i), suites[i].Dihedrals[0])
	}
}

type huntFunc func(data [][]float64) ([][]int, []int)

func (f huntFunc) Hunt(_ context.Context, _ float64, data [][]float64, _ [][]int, _ []int) ([][]int, []int, error) {
	sub, noise := f(data)
	return sub, noise, nil
}
