package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mintage/internal/core"
)

// DatabaseFile is the ledger's file name inside the data directory.
const DatabaseFile = "mintage.db"

// Store represents the SQLite-based run ledger
type Store struct {
	db   *sql.DB
	path string
}

// RunRecord describes one completed pipeline run
type RunRecord struct {
	ID                string
	InputDir          string
	OutputDir         string
	Method            string
	Metric            string
	MinClusterSize    int
	OutlierPercentage float64
	Scale             float64
	Threshold         float64
	Suites            int
	Eligible          int
	Preclusters       int
	Outliers          int
	FinalClusters     int
	Noise             int
	Silhouette        *float64 // nil when fewer than two pre-clusters
	StartedAt         time.Time
	FinishedAt        time.Time
	PreclusterSizes   []int
	FinalSizes        []int
}

// SuiteLabel is the labelling of one suite in a recorded run
type SuiteLabel struct {
	SuiteID    string
	Source     string
	Precluster *core.Label
	Final      *core.Label
}

// NewStore creates a new store instance with SQLite database
func NewStore(dataDir string) (*Store, error) {
	// Ensure data directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DatabaseFile)
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		db:   db,
		path: dbPath,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store, nil
}

// initialize creates the necessary tables
func (s *Store) initialize() error {
	runsTable := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		input_dir TEXT,
		output_dir TEXT,
		method TEXT,
		metric TEXT,
		min_cluster_size INTEGER,
		outlier_percentage REAL,
		scale REAL,
		threshold REAL,
		suites INTEGER,
		eligible INTEGER,
		preclusters INTEGER,
		outliers INTEGER,
		final_clusters INTEGER,
		noise INTEGER,
		silhouette REAL,
		started_at DATETIME,
		finished_at DATETIME,
		cluster_sizes TEXT
	);`

	// One row per suite that received at least one label
	labelsTable := `
	CREATE TABLE IF NOT EXISTS suite_labels (
		run_id TEXT,
		position INTEGER,
		suite_id TEXT,
		source TEXT,
		precluster TEXT,
		final_cluster INTEGER,
		PRIMARY KEY (run_id, position),
		FOREIGN KEY (run_id) REFERENCES runs (id)
	);`

	tables := []string{runsTable, labelsTable}
	for _, table := range tables {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

type clusterSizes struct {
	Precluster []int `json:"precluster"`
	Final      []int `json:"final"`
}

// RecordRun stores a run and the labels of its suites in one transaction
func (s *Store) RecordRun(run RunRecord, suites []core.Suite) error {
	sizes, _ := json.Marshal(clusterSizes{Precluster: run.PreclusterSizes, Final: run.FinalSizes})

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
	INSERT OR REPLACE INTO runs
	(id, input_dir, output_dir, method, metric, min_cluster_size, outlier_percentage, scale,
	 threshold, suites, eligible, preclusters, outliers, final_clusters, noise, silhouette,
	 started_at, finished_at, cluster_sizes)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var silhouette sql.NullFloat64
	if run.Silhouette != nil {
		silhouette = sql.NullFloat64{Float64: *run.Silhouette, Valid: true}
	}

	_, err = tx.Exec(query,
		run.ID,
		run.InputDir,
		run.OutputDir,
		run.Method,
		run.Metric,
		run.MinClusterSize,
		run.OutlierPercentage,
		run.Scale,
		run.Threshold,
		run.Suites,
		run.Eligible,
		run.Preclusters,
		run.Outliers,
		run.FinalClusters,
		run.Noise,
		silhouette,
		run.StartedAt.UTC(),
		run.FinishedAt.UTC(),
		string(sizes),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM suite_labels WHERE run_id = ?", run.ID); err != nil {
		return fmt.Errorf("failed to reset labels: %w", err)
	}

	stmt, err := tx.Prepare(`
	INSERT INTO suite_labels (run_id, position, suite_id, source, precluster, final_cluster)
	VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare label insert: %w", err)
	}
	defer stmt.Close()

	for i, suite := range suites {
		preLabel, hasPre := suite.Labels.Get(core.StagePrecluster)
		finalLabel, hasFinal := suite.Labels.Get(core.StageFinal)
		if !hasPre && !hasFinal {
			continue
		}
		var pre sql.NullString
		if hasPre {
			pre = sql.NullString{String: preLabel.String(), Valid: true}
		}
		var final sql.NullInt64
		if hasFinal {
			final = sql.NullInt64{Int64: int64(finalLabel.Index), Valid: true}
		}
		if _, err := stmt.Exec(run.ID, i, suite.ID, suite.Source, pre, final); err != nil {
			return fmt.Errorf("failed to insert label for suite %s: %w", suite.ID, err)
		}
	}

	return tx.Commit()
}

const runColumns = `id, input_dir, output_dir, method, metric, min_cluster_size, outlier_percentage,
	scale, threshold, suites, eligible, preclusters, outliers, final_clusters, noise, silhouette,
	started_at, finished_at, cluster_sizes`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var run RunRecord
	var silhouette sql.NullFloat64
	var sizesJSON string

	err := row.Scan(
		&run.ID,
		&run.InputDir,
		&run.OutputDir,
		&run.Method,
		&run.Metric,
		&run.MinClusterSize,
		&run.OutlierPercentage,
		&run.Scale,
		&run.Threshold,
		&run.Suites,
		&run.Eligible,
		&run.Preclusters,
		&run.Outliers,
		&run.FinalClusters,
		&run.Noise,
		&silhouette,
		&run.StartedAt,
		&run.FinishedAt,
		&sizesJSON,
	)
	if err != nil {
		return nil, err
	}

	if silhouette.Valid {
		v := silhouette.Float64
		run.Silhouette = &v
	}
	var sizes clusterSizes
	if err := json.Unmarshal([]byte(sizesJSON), &sizes); err == nil {
		run.PreclusterSizes = sizes.Precluster
		run.FinalSizes = sizes.Final
	}
	return &run, nil
}

// GetRun retrieves a single run; it returns nil when the run is unknown
func (s *Store) GetRun(id string) (*RunRecord, error) {
	row := s.db.QueryRow("SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first; limit <= 0 returns all
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	query := "SELECT " + runColumns + " FROM runs ORDER BY started_at DESC, id"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// RunLabels returns the labelled suites of a run in collection order
func (s *Store) RunLabels(runID string) ([]SuiteLabel, error) {
	rows, err := s.db.Query(`
	SELECT suite_id, source, precluster, final_cluster
	FROM suite_labels
	WHERE run_id = ?
	ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query labels: %w", err)
	}
	defer rows.Close()

	var labels []SuiteLabel
	for rows.Next() {
		var l SuiteLabel
		var pre sql.NullString
		var final sql.NullInt64
		if err := rows.Scan(&l.SuiteID, &l.Source, &pre, &final); err != nil {
			return nil, fmt.Errorf("failed to scan label: %w", err)
		}
		if pre.Valid {
			label, err := core.ParseLabel(pre.String)
			if err != nil {
				return nil, err
			}
			l.Precluster = &label
		}
		if final.Valid {
			label := core.ClusterLabel(int(final.Int64))
			l.Final = &label
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

// LedgerStats represents ledger statistics
type LedgerStats struct {
	RunCount    int
	LabelCount  int
	Size        int64
	LastUpdated time.Time
}

// Stats returns statistics about the ledger
func (s *Store) Stats() (*LedgerStats, error) {
	stats := &LedgerStats{}

	queries := map[string]*int{
		"SELECT COUNT(*) FROM runs":         &stats.RunCount,
		"SELECT COUNT(*) FROM suite_labels": &stats.LabelCount,
	}

	for query, target := range queries {
		err := s.db.QueryRow(query).Scan(target)
		if err != nil {
			return nil, fmt.Errorf("failed to get count: %w", err)
		}
	}

	// Ledger size (file size)
	if fileInfo, err := os.Stat(s.path); err == nil {
		stats.Size = fileInfo.Size()
		stats.LastUpdated = fileInfo.ModTime()
	}

	return stats, nil
}

// Clear removes all recorded runs
func (s *Store) Clear() error {
	tables := []string{"suite_labels", "runs"}

	for _, table := range tables {
		_, err := s.db.Exec(fmt.Sprintf("DELETE FROM %s", table))
		if err != nil {
			return fmt.Errorf("failed to clear %s table: %w", table, err)
		}
	}

	// Vacuum to reclaim space
	_, err := s.db.Exec("VACUUM")
	if err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}

	return nil
}

// PruneRuns removes runs that started before maxAge ago and returns how many
func (s *Store) PruneRuns(maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec("DELETE FROM suite_labels WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune labels: %w", err)
	}
	res, err := tx.Exec("DELETE FROM runs WHERE started_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(n), nil
}
