package align

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mintage/internal/core"
)

func backbone() [][3]float64 {
	return [][3]float64{{1, 2, 3}, {3, 2, 3}, {2, 5, 3}, {2, -1, 7}}
}

// transform rotates points by angle about z, then about x, and shifts them.
func transform(points [][3]float64, angle float64, shift [3]float64) [][3]float64 {
	sin, cos := math.Sincos(angle)
	out := make([][3]float64, len(points))
	for i, p := range points {
		x, y, z := cos*p[0]-sin*p[1], sin*p[0]+cos*p[1], p[2]
		y, z = cos*y-sin*z, sin*y+cos*z
		out[i] = [3]float64{x + shift[0], y + shift[1], z + shift[2]}
	}
	return out
}

func rmsd(a, b [][3]float64) float64 {
	var sum float64
	for i := range a {
		for k := 0; k < 3; k++ {
			d := a[i][k] - b[i][k]
			sum += d * d
		}
	}
	return math.Sqrt(sum / float64(len(a)))
}

func assertCentred(t *testing.T, points [][3]float64) {
	t.Helper()
	var c [3]float64
	for _, pt := range points {
		for k := range c {
			c[k] += pt[k]
		}
	}
	for k := range c {
		assert.InDelta(t, 0, c[k], 1e-9)
	}
}

func TestAlignSuperimposesRotatedCopies(t *testing.T) {
	suites := []core.Suite{
		{ID: "a", Backbone: backbone(), Dihedrals: []float64{10, 20}},
		{ID: "b", Backbone: transform(backbone(), math.Pi/2, [3]float64{10, -4, 2})},
		{ID: "c", Backbone: transform(backbone(), 2.1, [3]float64{-3, 0, 8})},
		{ID: "d", Dihedrals: []float64{30, 40}},
	}

	out, err := New().Align(context.Background(), suites, true)
	require.NoError(t, err)
	require.Len(t, out, len(suites))

	for i := range suites {
		assert.Equal(t, suites[i].ID, out[i].ID, "order must be preserved")
		assert.Equal(t, suites[i].Dihedrals, out[i].Dihedrals)
	}
	assert.Less(t, rmsd(out[0].Backbone, out[1].Backbone), 1e-9)
	assert.Less(t, rmsd(out[0].Backbone, out[2].Backbone), 1e-9)

	size := CentroidSize(backbone())
	for i := 0; i < 3; i++ {
		assert.True(t, out[i].Aligned)
		assertCentred(t, out[i].Backbone)
		assert.InDelta(t, size, CentroidSize(out[i].Backbone), 1e-9, "rigid alignment keeps size")
	}
	assert.False(t, out[3].Aligned, "suites without backbone pass through")

	// Input is not modified.
	assert.Equal(t, backbone(), suites[0].Backbone)
	assert.False(t, suites[0].Aligned)
}

func TestAlignDoesNotReflect(t *testing.T) {
	mirrored := backbone()
	for i := range mirrored {
		mirrored[i][0] = -mirrored[i][0]
	}
	suites := []core.Suite{{ID: "a", Backbone: backbone()}, {ID: "mirror", Backbone: mirrored}}

	out, err := New().Align(context.Background(), suites, true)
	require.NoError(t, err)
	assert.Greater(t, rmsd(out[0].Backbone, out[1].Backbone), 1e-3, "a mirror image is not a rotation")
}

func TestAlignWithScaling(t *testing.T) {
	grown := transform(backbone(), 1.0, [3]float64{1, 1, 1})
	for i := range grown {
		for k := range grown[i] {
			grown[i][k] *= 3
		}
	}
	suites := []core.Suite{{ID: "a", Backbone: backbone()}, {ID: "b", Backbone: grown}}

	out, err := New(WithScaling()).Align(context.Background(), suites, true)
	require.NoError(t, err)
	for _, s := range out {
		assert.InDelta(t, 1, CentroidSize(s.Backbone), 1e-9)
	}
	assert.Less(t, rmsd(out[0].Backbone, out[1].Backbone), 1e-9)
}

func TestAlignSingleIterationUsesFirstBackbone(t *testing.T) {
	suites := []core.Suite{
		{ID: "a", Backbone: backbone()},
		{ID: "b", Backbone: transform(backbone(), 0.7, [3]float64{5, 5, 5})},
	}

	out, err := New(WithIterations(1)).Align(context.Background(), suites, true)
	require.NoError(t, err)

	centred := transform(backbone(), 0, [3]float64{-2, -2, -4})
	assert.Less(t, rmsd(centred, out[0].Backbone), 1e-9, "reference keeps its orientation")
	assert.Less(t, rmsd(centred, out[1].Backbone), 1e-9)
}

func TestAlignGroupsByAtomCount(t *testing.T) {
	short := [][3]float64{{0, 0, 0}, {4, 0, 0}, {0, 3, 0}}
	suites := []core.Suite{
		{ID: "short", Backbone: short},
		{ID: "a", Backbone: backbone()},
		{ID: "b", Backbone: transform(backbone(), 1.3, [3]float64{0, 2, 0})},
		{ID: "flat", Backbone: [][3]float64{{5, 5, 5}, {5, 5, 5}}},
	}

	out, err := New().Align(context.Background(), suites, true)
	require.NoError(t, err)

	assertCentred(t, out[0].Backbone)
	assert.InDelta(t, CentroidSize(short), CentroidSize(out[0].Backbone), 1e-9)
	assert.Less(t, rmsd(out[1].Backbone, out[2].Backbone), 1e-9)
	assert.Equal(t, [][3]float64{{0, 0, 0}, {0, 0, 0}}, out[3].Backbone, "degenerate backbone is only centred")
	for _, s := range out {
		assert.True(t, s.Aligned)
	}
}

func TestAlignRespectsOverwrite(t *testing.T) {
	rotated := transform(backbone(), 0.5, [3]float64{})
	suites := []core.Suite{
		{ID: "a", Backbone: backbone(), Aligned: true},
		{ID: "b", Backbone: rotated},
	}

	kept, err := New().Align(context.Background(), suites, false)
	require.NoError(t, err)
	assert.Equal(t, backbone(), kept[0].Backbone)
	assertCentred(t, kept[1].Backbone)

	redone, err := New().Align(context.Background(), suites, true)
	require.NoError(t, err)
	assert.Less(t, rmsd(redone[0].Backbone, redone[1].Backbone), 1e-9)
}

func TestCentroidSize(t *testing.T) {
	assert.Zero(t, CentroidSize(nil))
	// Two points 2 apart: each sits 1 from the centroid.
	assert.InDelta(t, 1.4142135623730951, CentroidSize([][3]float64{{0, 0, 0}, {2, 0, 0}}), 1e-12)
}

func TestAlignCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Align(ctx, []core.Suite{{ID: "a", Backbone: backbone()}}, true)
	assert.ErrorIs(t, err, context.Canceled)
}
