package pipeline

import (
	"context"

	"mintage/internal/align"
	"mintage/internal/clustering"
	"mintage/internal/core"
	"mintage/internal/modehunt"
	"mintage/internal/parser"
	"mintage/internal/render"
	"mintage/internal/store"
)

// SuiteParser turns a directory of structure-derived files into suites
type SuiteParser interface {
	// ParseDirectory returns the suites of every file in dir, in a stable order.
	// Suites without dihedrals are returned with nil Dihedrals.
	ParseDirectory(dir string) ([]core.Suite, error)
}

// Aligner superimposes suite backbones
type Aligner interface {
	// Align returns suites of the same length and order with aligned backbones.
	// overwrite forces alignment of suites already marked as aligned.
	Align(ctx context.Context, suites []core.Suite, overwrite bool) ([]core.Suite, error)
}

// ModeHunter splits one pre-cluster into modes plus noise
type ModeHunter = clustering.ModeHunter

// Visualizer renders the final clusters (optional)
type Visualizer interface {
	// Render writes artifacts for refined into outDir.
	// Failures never abort a run.
	Render(ctx context.Context, suites []core.Suite, refined core.ClusterList, outDir string) error
}

// RunLedger keeps a history of completed runs (optional)
type RunLedger interface {
	// RecordRun stores the run summary and the labels of its suites
	RecordRun(run store.RunRecord, suites []core.Suite) error
}

var (
	_ SuiteParser = (*parser.Parser)(nil)
	_ Aligner     = (*align.Procrustes)(nil)
	_ ModeHunter  = (*modehunt.TorusSlink)(nil)
	_ Visualizer  = (*render.ClusterReport)(nil)
	_ RunLedger   = (*store.Store)(nil)
)
