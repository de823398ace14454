package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mintage/internal/core"
)

func sampleSuites() []core.Suite {
	pre := core.ClusterLabel(0)
	out := core.OutlierLabel()
	final := core.ClusterLabel(3)
	return []core.Suite{
		{ID: "a", Source: "x.json", Dihedrals: []float64{1, 2, 3}, Labels: core.Labels{Precluster: &pre, Final: &final}},
		{ID: "b", Source: "x.json", Dihedrals: []float64{4, 5, 6}, Labels: core.Labels{Precluster: &out}},
		{ID: "c", Source: "y.json", Backbone: [][3]float64{{1, 0, 0}}, Aligned: true},
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", FinalFile)
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	err := Save(path, Envelope{Kind: KindFinal, RunID: "run-1", CreatedAt: created, Suites: sampleSuites()})
	require.NoError(t, err)

	env, err := Load(path, KindFinal)
	require.NoError(t, err)
	assert.Equal(t, formatVersion, env.Version)
	assert.Equal(t, "run-1", env.RunID)
	assert.True(t, created.Equal(env.CreatedAt))
	assert.Equal(t, sampleSuites(), env.Suites)

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, matches, "temp files must not be left behind")
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), AlignedFile), KindAligned)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.False(t, errors.Is(err, ErrCorrupt))
}

func TestLoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.zst")
	require.NoError(t, os.WriteFile(garbage, []byte("definitely not zstd"), 0644))

	_, err := Load(garbage, KindAligned)
	assert.ErrorIs(t, err, ErrCorrupt)

	wrongKind := filepath.Join(dir, AlignedFile)
	require.NoError(t, Save(wrongKind, Envelope{Kind: KindFinal}))
	_, err = Load(wrongKind, KindAligned)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestSaveOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), AlignedFile)
	require.NoError(t, Save(path, Envelope{Kind: KindAligned, Suites: sampleSuites()}))
	require.NoError(t, Save(path, Envelope{Kind: KindAligned, Suites: sampleSuites()[:1]}))

	env, err := Load(path, KindAligned)
	require.NoError(t, err)
	assert.Len(t, env.Suites, 1)
	assert.False(t, env.CreatedAt.IsZero())
}
