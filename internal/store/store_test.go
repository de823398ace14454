package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"mintage/internal/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func labelled() []core.Suite {
	pre0 := core.ClusterLabel(0)
	out := core.OutlierLabel()
	final1 := core.ClusterLabel(1)
	return []core.Suite{
		{ID: "s1", Source: "a.json", Labels: core.Labels{Precluster: &pre0, Final: &final1}},
		{ID: "s2", Source: "a.json"},
		{ID: "s3", Source: "b.json", Labels: core.Labels{Precluster: &out}},
		{ID: "s4", Source: "b.json", Labels: core.Labels{Precluster: &pre0}},
	}
}

func sampleRun(id string, started time.Time) RunRecord {
	score := 0.62
	return RunRecord{
		ID:                id,
		InputDir:          "/data/suites",
		OutputDir:         "/data/out",
		Method:            "average",
		Metric:            "euclidean",
		MinClusterSize:    20,
		OutlierPercentage: 0.15,
		Scale:             12000,
		Threshold:         41.5,
		Suites:            4,
		Eligible:          3,
		Preclusters:       1,
		Outliers:          1,
		FinalClusters:     2,
		Noise:             1,
		Silhouette:        &score,
		StartedAt:         started,
		FinishedAt:        started.Add(3 * time.Second),
		PreclusterSizes:   []int{2},
		FinalSizes:        []int{1, 1},
	}
}

func TestNewStore(t *testing.T) {
	tmpDir := t.TempDir()

	store, err := NewStore(tmpDir)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	if store.db == nil {
		t.Error("Store database should not be nil")
	}

	// Check that database file was created
	dbPath := filepath.Join(tmpDir, DatabaseFile)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file should be created")
	}
	if store.Path() != dbPath {
		t.Errorf("Expected path %s, got %s", dbPath, store.Path())
	}
}

func TestNewStore_InvalidDirectory(t *testing.T) {
	// Try to create store in a file (not directory)
	tmpDir := t.TempDir()
	invalidPath := filepath.Join(tmpDir, "file.txt")
	_ = os.WriteFile(invalidPath, []byte("test"), 0644)

	_, err := NewStore(invalidPath)
	if err == nil {
		t.Error("Expected error when creating store in invalid directory")
	}
}

func TestRecordRun_GetRun(t *testing.T) {
	store := newTestStore(t)
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	run := sampleRun(uuid.NewString(), started)

	if err := store.RecordRun(run, labelled()); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}

	got, err := store.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected run to be found")
	}

	if got.Method != "average" || got.MinClusterSize != 20 || got.Threshold != 41.5 {
		t.Errorf("Unexpected run parameters: %+v", got)
	}
	if got.FinalClusters != 2 || got.Noise != 1 || got.Outliers != 1 {
		t.Errorf("Unexpected run outcome: %+v", got)
	}
	if got.Silhouette == nil || *got.Silhouette != 0.62 {
		t.Errorf("Expected silhouette 0.62, got %v", got.Silhouette)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("Expected start %v, got %v", started, got.StartedAt)
	}
	if len(got.FinalSizes) != 2 || len(got.PreclusterSizes) != 1 || got.PreclusterSizes[0] != 2 {
		t.Errorf("Unexpected cluster sizes: %v / %v", got.PreclusterSizes, got.FinalSizes)
	}

	missing, err := store.GetRun("nope")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if missing != nil {
		t.Error("Expected nil for unknown run")
	}
}

func TestRecordRun_NilSilhouette(t *testing.T) {
	store := newTestStore(t)
	run := sampleRun("run-1", time.Now().UTC())
	run.Silhouette = nil

	if err := store.RecordRun(run, nil); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}
	got, err := store.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Silhouette != nil {
		t.Errorf("Expected nil silhouette, got %v", *got.Silhouette)
	}
}

func TestRunLabels(t *testing.T) {
	store := newTestStore(t)
	if err := store.RecordRun(sampleRun("run-1", time.Now().UTC()), labelled()); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}

	labels, err := store.RunLabels("run-1")
	if err != nil {
		t.Fatalf("RunLabels failed: %v", err)
	}

	// s2 carries no label and is not recorded
	if len(labels) != 3 {
		t.Fatalf("Expected 3 labelled suites, got %d", len(labels))
	}
	if labels[0].SuiteID != "s1" || labels[1].SuiteID != "s3" || labels[2].SuiteID != "s4" {
		t.Errorf("Unexpected order: %v", labels)
	}
	if labels[0].Final == nil || labels[0].Final.Index != 1 {
		t.Errorf("Expected s1 final label 1, got %v", labels[0].Final)
	}
	if labels[1].Precluster == nil || !labels[1].Precluster.Outlier {
		t.Errorf("Expected s3 to be an outlier, got %v", labels[1].Precluster)
	}
	if labels[1].Final != nil || labels[2].Final != nil {
		t.Error("Expected noise and outliers to have no final label")
	}
	if labels[2].Source != "b.json" {
		t.Errorf("Expected source b.json, got %s", labels[2].Source)
	}
}

func TestRecordRun_ReplacesLabels(t *testing.T) {
	store := newTestStore(t)
	run := sampleRun("run-1", time.Now().UTC())
	if err := store.RecordRun(run, labelled()); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}
	if err := store.RecordRun(run, labelled()[:1]); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}

	labels, err := store.RunLabels("run-1")
	if err != nil {
		t.Fatalf("RunLabels failed: %v", err)
	}
	if len(labels) != 1 {
		t.Errorf("Expected 1 label after re-recording, got %d", len(labels))
	}
}

func TestListRuns(t *testing.T) {
	store := newTestStore(t)
	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{"old", "mid", "new"} {
		if err := store.RecordRun(sampleRun(id, base.Add(time.Duration(i)*time.Minute)), nil); err != nil {
			t.Fatalf("RecordRun failed: %v", err)
		}
	}

	runs, err := store.ListRuns(0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 3 || runs[0].ID != "new" || runs[2].ID != "old" {
		t.Errorf("Expected newest first, got %v", runIDs(runs))
	}

	limited, err := store.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(limited) != 2 || limited[0].ID != "new" || limited[1].ID != "mid" {
		t.Errorf("Unexpected limited runs %v", runIDs(limited))
	}
}

func TestStatsAndClear(t *testing.T) {
	store := newTestStore(t)
	if err := store.RecordRun(sampleRun("run-1", time.Now().UTC()), labelled()); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}

	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.RunCount != 1 || stats.LabelCount != 3 {
		t.Errorf("Unexpected stats %+v", stats)
	}
	if stats.Size == 0 {
		t.Error("Expected non-zero ledger size")
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	stats, err = store.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.RunCount != 0 || stats.LabelCount != 0 {
		t.Errorf("Expected empty ledger, got %+v", stats)
	}
}

func TestPruneRuns(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()
	if err := store.RecordRun(sampleRun("ancient", now.Add(-48*time.Hour)), labelled()); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}
	if err := store.RecordRun(sampleRun("recent", now.Add(-time.Minute)), labelled()); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}

	pruned, err := store.PruneRuns(24 * time.Hour)
	if err != nil {
		t.Fatalf("PruneRuns failed: %v", err)
	}
	if pruned != 1 {
		t.Errorf("Expected 1 pruned run, got %d", pruned)
	}

	runs, err := store.ListRuns(0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "recent" {
		t.Errorf("Expected only the recent run, got %v", runIDs(runs))
	}
	labels, _ := store.RunLabels("ancient")
	if len(labels) != 0 {
		t.Errorf("Expected pruned run labels to be gone, got %d", len(labels))
	}
}

func runIDs(runs []RunRecord) []string {
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	return ids
}
