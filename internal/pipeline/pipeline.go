package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"mintage/internal/artifact"
	"mintage/internal/clustering"
	"mintage/internal/core"
	"mintage/internal/distance"
	"mintage/internal/logger"
	"mintage/internal/store"
)

// Pipeline orchestrates the MINT-AGE workflow: parse, align, pre-cluster,
// post-cluster, render and persist
type Pipeline struct {
	// Core components
	parser  SuiteParser
	aligner Aligner
	hunter  ModeHunter

	// Optional components
	visualizer Visualizer
	ledger     RunLedger

	// Configuration
	config   *Config
	progress io.Writer
}

// Config holds pipeline configuration
type Config struct {
	// Clustering settings not covered by Options
	Period      float64
	Scale       float64
	Workers     int
	MinModeSize int
	Dimensions  int

	// Output settings
	PlotDir string // Relative to the output directory unless absolute

	// Processing settings
	Timeout time.Duration // Zero means no deadline
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Period:      distance.DefaultPeriod,
		Scale:       clustering.DefaultScale,
		Workers:     1,
		MinModeSize: 5,
		Dimensions:  7,
		PlotDir:     "final_plots",
	}
}

// NewPipeline creates a new pipeline with all dependencies
func NewPipeline(
	parser SuiteParser,
	aligner Aligner,
	hunter ModeHunter,
	visualizer Visualizer,
	ledger RunLedger,
	config *Config,
) *Pipeline {
	if config == nil {
		config = DefaultConfig()
	}

	return &Pipeline{
		parser:     parser,
		aligner:    aligner,
		hunter:     hunter,
		visualizer: visualizer,
		ledger:     ledger,
		config:     config,
		progress:   os.Stdout,
	}
}

// Options configures a single run
type Options struct {
	InputDir          string
	OutputDir         string
	Recompute         bool // Bypass and regenerate the alignment cache
	MinClusterSize    int
	OutlierPercentage float64
	Method            clustering.Method
	Metric            distance.Metric
	Plot              bool
}

// DefaultOptions returns the settings of the reference pipeline
func DefaultOptions(inputDir, outputDir string) Options {
	return Options{
		InputDir:          inputDir,
		OutputDir:         outputDir,
		MinClusterSize:    20,
		OutlierPercentage: 0.15,
		Method:            clustering.MethodAverage,
		Metric:            distance.MetricEuclidean,
		Plot:              true,
	}
}

// Result contains the output of a run
type Result struct {
	RunID       string
	Suites      []core.Suite // Final labelled suites
	Preclusters core.ClusterList
	Outliers    []int
	Refined     core.ClusterList
	Noise       []int
	Threshold   float64
	Silhouette  *clustering.SilhouetteAnalysis
	FinalPath   string
	PlotDir     string // Empty when nothing was rendered
	Stats       RunStats
}

// RunStats tracks pipeline execution metrics
type RunStats struct {
	TotalSuites    int
	EligibleSuites int
	Preclusters    int
	Outliers       int
	FinalClusters  int
	Noise          int
	CacheHit       bool
	PlotFailed     bool
	LedgerFailed   bool
	ProcessingTime time.Duration
	StartTime      time.Time
	EndTime        time.Time
}

// SetProgress redirects the step-by-step progress output
func (p *Pipeline) SetProgress(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	p.progress = w
}

func (p *Pipeline) printf(format string, args ...any) {
	fmt.Fprintf(p.progress, format, args...)
}

// Run executes the full pipeline. Nothing is written to the final artifact
// or the ledger unless every clustering step succeeds.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Result, error) {
	if p.parser == nil || p.aligner == nil || p.hunter == nil {
		return nil, errors.New("pipeline is missing a parser, aligner or mode hunter")
	}
	if opts.InputDir == "" {
		return nil, errors.New("input directory is required")
	}
	if opts.OutputDir == "" {
		return nil, errors.New("output directory is required")
	}
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	startTime := time.Now()
	runID := uuid.NewString()
	stats := RunStats{StartTime: startTime}
	log := logger.Get().With("run_id", runID)

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	// Step 1: Parse suites
	p.printf("📄 Step 1/6: Parsing suites from %s...\n", opts.InputDir)
	suites, err := p.parser.ParseDirectory(opts.InputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to parse suites: %w", err)
	}
	stats.TotalSuites = len(suites)
	p.printf("   ✓ Parsed %d suites\n\n", stats.TotalSuites)

	// Step 2: Alignment, cached between runs
	p.printf("📐 Step 2/6: Aligning backbones...\n")
	suites, stats.CacheHit, err = p.alignWithCache(ctx, suites, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to align suites: %w", err)
	}
	if stats.CacheHit {
		p.printf("   ✓ Loaded %d aligned suites from cache\n\n", len(suites))
	} else {
		p.printf("   ✓ Aligned %d suites\n\n", len(suites))
	}

	// Labels always come from this run
	for i := range suites {
		suites[i].Labels = core.Labels{}
	}

	// Step 3: AGE pre-clustering
	p.printf("🌳 Step 3/6: Average-linkage pre-clustering...\n")
	pre, err := clustering.Precluster(ctx, suites, clustering.PreclusterOptions{
		Method:            opts.Method,
		Metric:            opts.Metric,
		Period:            p.config.Period,
		OutlierPercentage: opts.OutlierPercentage,
		MinClusterSize:    opts.MinClusterSize,
	})
	if err != nil {
		return nil, fmt.Errorf("pre-clustering failed: %w", err)
	}
	stats.EligibleSuites = len(pre.Eligible)
	stats.Preclusters = len(pre.Clusters)
	stats.Outliers = len(pre.Outliers)
	p.printf("   ✓ %d pre-clusters, %d outliers (threshold %.4f)\n\n", stats.Preclusters, stats.Outliers, pre.Threshold)

	// Step 4: MINT post-clustering
	p.printf("🧭 Step 4/6: Mode hunting on each pre-cluster...\n")
	post, err := clustering.Postcluster(ctx, suites, pre.Clusters, p.hunter, clustering.PostclusterOptions{
		Scale:   p.config.Scale,
		Workers: p.config.Workers,
	})
	if err != nil {
		return nil, fmt.Errorf("post-clustering failed: %w", err)
	}
	stats.FinalClusters = len(post.Refined)
	stats.Noise = len(post.Noise)
	p.printf("   ✓ %d final clusters, %d noise suites\n\n", stats.FinalClusters, stats.Noise)

	// Step 5: Optional rendering
	var plotDir string
	if opts.Plot && p.visualizer != nil {
		p.printf("🎨 Step 5/6: Rendering final clusters...\n")
		dir := p.plotDirectory(opts.OutputDir)
		if err := p.render(ctx, suites, post.Refined, dir); err != nil {
			// Non-fatal: log warning and continue without plots
			log.Warn("Rendering failed", "error", err, "dir", dir)
			p.printf("   ⚠️  Rendering failed, continuing without it\n\n")
			stats.PlotFailed = true
		} else {
			plotDir = dir
			p.printf("   ✓ Saved to %s\n\n", dir)
		}
	} else {
		p.printf("⏭️  Step 5/6: Skipping rendering\n\n")
	}

	// Step 6: Persist final suites
	p.printf("💾 Step 6/6: Saving final suites...\n")
	finalPath := filepath.Join(opts.OutputDir, artifact.FinalFile)
	err = artifact.Save(finalPath, artifact.Envelope{
		Kind:   artifact.KindFinal,
		RunID:  runID,
		Suites: suites,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save final suites: %w", err)
	}
	p.printf("   ✓ Saved to %s\n\n", finalPath)

	stats.EndTime = time.Now()
	stats.ProcessingTime = stats.EndTime.Sub(startTime)

	if p.ledger != nil {
		if err := p.ledger.RecordRun(p.runRecord(runID, opts, pre, post, stats), suites); err != nil {
			// Non-fatal: the artifact is already on disk
			log.Warn("Failed to record run in ledger", "error", err)
			stats.LedgerFailed = true
		}
	}

	log.Info("Pipeline complete",
		"final_clusters", stats.FinalClusters,
		"preclusters", stats.Preclusters,
		"duration", stats.ProcessingTime)
	p.printf("Total final clusters: %d\n", stats.FinalClusters)

	return &Result{
		RunID:       runID,
		Suites:      suites,
		Preclusters: pre.Clusters,
		Outliers:    pre.Outliers,
		Refined:     post.Refined,
		Noise:       post.Noise,
		Threshold:   pre.Threshold,
		Silhouette:  pre.Silhouette,
		FinalPath:   finalPath,
		PlotDir:     plotDir,
		Stats:       stats,
	}, nil
}

// alignWithCache loads the alignment artifact unless recompute is set or it
// is missing or unreadable; otherwise it aligns and rewrites the artifact.
func (p *Pipeline) alignWithCache(ctx context.Context, suites []core.Suite, opts Options) ([]core.Suite, bool, error) {
	path := filepath.Join(opts.OutputDir, artifact.AlignedFile)
	log := logger.Get()

	if !opts.Recompute {
		env, err := artifact.Load(path, artifact.KindAligned)
		switch {
		case err == nil:
			log.Info("Loaded aligned suites from cache", "path", path, "suites", len(env.Suites))
			return env.Suites, true, nil
		case errors.Is(err, os.ErrNotExist):
			log.Debug("No alignment cache", "path", path)
		default:
			log.Warn("Alignment cache unreadable, recomputing", "path", path, "error", err)
		}
	}

	aligned, err := p.aligner.Align(ctx, suites, true)
	if err != nil {
		return nil, false, err
	}
	if len(aligned) != len(suites) {
		return nil, false, fmt.Errorf("aligner returned %d suites for %d inputs", len(aligned), len(suites))
	}

	if err := artifact.Save(path, artifact.Envelope{Kind: artifact.KindAligned, Suites: aligned}); err != nil {
		// Non-fatal: the cache only saves time on the next run
		log.Warn("Failed to write alignment cache", "path", path, "error", err)
	}
	return aligned, false, nil
}

// render calls the visualizer, turning a panic into an error so that a
// broken renderer cannot discard finished clustering results.
func (p *Pipeline) render(ctx context.Context, suites []core.Suite, refined core.ClusterList, dir string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("visualizer panicked: %v", r)
		}
	}()
	return p.visualizer.Render(ctx, suites, refined, dir)
}

func (p *Pipeline) plotDirectory(outputDir string) string {
	if filepath.IsAbs(p.config.PlotDir) {
		return p.config.PlotDir
	}
	return filepath.Join(outputDir, p.config.PlotDir)
}

func (p *Pipeline) runRecord(runID string, opts Options, pre *clustering.PreclusterResult, post *clustering.PostclusterResult, stats RunStats) store.RunRecord {
	rec := store.RunRecord{
		ID:                runID,
		InputDir:          opts.InputDir,
		OutputDir:         opts.OutputDir,
		Method:            opts.Method.String(),
		Metric:            opts.Metric.String(),
		MinClusterSize:    opts.MinClusterSize,
		OutlierPercentage: opts.OutlierPercentage,
		Scale:             p.config.Scale,
		Threshold:         pre.Threshold,
		Suites:            stats.TotalSuites,
		Eligible:          stats.EligibleSuites,
		Preclusters:       stats.Preclusters,
		Outliers:          stats.Outliers,
		FinalClusters:     stats.FinalClusters,
		Noise:             stats.Noise,
		StartedAt:         stats.StartTime,
		FinishedAt:        stats.EndTime,
		PreclusterSizes:   pre.Clusters.Sizes(),
		FinalSizes:        post.Refined.Sizes(),
	}
	if pre.Silhouette != nil {
		score := pre.Silhouette.OverallScore
		rec.Silhouette = &score
	}
	return rec
}
