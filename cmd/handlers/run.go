package handlers

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"mintage/internal/clustering"
	"mintage/internal/config"
	"mintage/internal/distance"
	"mintage/internal/logger"
	"mintage/internal/pipeline"
)

// NewRunCmd creates the command that runs the full MINT-AGE pipeline
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [input-dir]",
		Short: "Cluster the suites of a directory of structure files",
		Long: `Run the full MINT-AGE pipeline on every *.json file in the input directory.

Steps:
  • Parse suites and their dihedral angles
  • Align backbones (cached in the output directory)
  • AGE pre-clustering with the adaptive outlier threshold
  • MINT mode hunting inside every pre-cluster
  • Render cluster reports and save the labelled suites

Examples:
  # Cluster with the reference settings
  mintage run ./suites

  # Smaller clusters, torus distances, fresh alignment
  mintage run ./suites --min-cluster-size 10 --metric torus --recompute

  # Skip the reports and refine pre-clusters in parallel
  mintage run ./suites --no-plot --workers 4`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *config.Get()
			if len(args) == 1 {
				cfg.Input.Directory = args[0]
			}
			if err := applyRunFlags(cmd, &cfg); err != nil {
				return err
			}
			return runPipeline(cmd, &cfg)
		},
	}

	cmd.Flags().StringP("output", "o", "", "Output directory (default from config)")
	cmd.Flags().Bool("recompute", false, "Ignore the alignment cache")
	cmd.Flags().Int("min-cluster-size", 0, "Smallest pre-cluster that is not an outlier")
	cmd.Flags().Float64("outlier-percentage", 0, "Tolerated share of suites in undersized clusters")
	cmd.Flags().String("linkage", "", "Linkage method: average, single, complete or weighted")
	cmd.Flags().String("metric", "", "Distance metric: euclidean or torus")
	cmd.Flags().Float64("scale", 0, "Mode hunting sensitivity")
	cmd.Flags().Int("workers", 0, "Pre-clusters refined concurrently")
	cmd.Flags().Bool("no-plot", false, "Skip cluster reports")
	cmd.Flags().Bool("no-ledger", false, "Do not record the run")

	return cmd
}

// applyRunFlags copies explicitly set flags over the loaded configuration.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	var err error
	if flags.Changed("output") {
		cfg.Output.Directory, err = flags.GetString("output")
	}
	if err == nil && flags.Changed("recompute") {
		cfg.Pipeline.Recompute, err = flags.GetBool("recompute")
	}
	if err == nil && flags.Changed("min-cluster-size") {
		cfg.Clustering.MinClusterSize, err = flags.GetInt("min-cluster-size")
	}
	if err == nil && flags.Changed("outlier-percentage") {
		cfg.Clustering.OutlierPercentage, err = flags.GetFloat64("outlier-percentage")
	}
	if err == nil && flags.Changed("linkage") {
		cfg.Clustering.Method, err = flags.GetString("linkage")
	}
	if err == nil && flags.Changed("metric") {
		cfg.Clustering.Metric, err = flags.GetString("metric")
	}
	if err == nil && flags.Changed("scale") {
		cfg.ModeHunting.Scale, err = flags.GetFloat64("scale")
	}
	if err == nil && flags.Changed("workers") {
		cfg.ModeHunting.Workers, err = flags.GetInt("workers")
	}
	if err == nil && flags.Changed("no-plot") {
		var noPlot bool
		noPlot, err = flags.GetBool("no-plot")
		cfg.Output.Plot = !noPlot
	}
	if err == nil && flags.Changed("no-ledger") {
		var noLedger bool
		noLedger, err = flags.GetBool("no-ledger")
		cfg.Pipeline.Ledger = !noLedger
	}
	return err
}

func runPipeline(cmd *cobra.Command, cfg *config.Config) error {
	out := cmd.OutOrStdout()
	if cfg.Input.Directory == "" {
		return errors.New("an input directory is required (argument or input.directory)")
	}
	if cfg.Clustering.MinClusterSize < 1 {
		return fmt.Errorf("--min-cluster-size must be positive, got %d", cfg.Clustering.MinClusterSize)
	}
	if cfg.Clustering.OutlierPercentage < 0 || cfg.Clustering.OutlierPercentage > 1 {
		return fmt.Errorf("--outlier-percentage must be within [0, 1], got %v", cfg.Clustering.OutlierPercentage)
	}
	method, err := clustering.ParseMethod(cfg.Clustering.Method)
	if err != nil {
		return err
	}
	metric, err := distance.ParseMetric(cfg.Clustering.Metric)
	if err != nil {
		return err
	}

	builder := pipeline.NewBuilder().
		WithConfig(pipeline.ConfigFrom(cfg)).
		WithProgress(out)
	if cfg.Pipeline.Ledger {
		builder = builder.WithLedgerDir(cfg.App.DataDir)
	} else {
		builder = builder.WithoutLedger()
	}
	p, closeLedger, err := builder.Build()
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	defer func() {
		if err := closeLedger(); err != nil {
			logger.Error("Failed to close run ledger", err)
		}
	}()

	opts := pipeline.Options{
		InputDir:          cfg.Input.Directory,
		OutputDir:         cfg.Output.Directory,
		Recompute:         cfg.Pipeline.Recompute,
		MinClusterSize:    cfg.Clustering.MinClusterSize,
		OutlierPercentage: cfg.Clustering.OutlierPercentage,
		Method:            method,
		Metric:            metric,
		Plot:              cfg.Output.Plot,
	}

	fmt.Fprintf(out, "🚀 Running MINT-AGE on %s\n\n", opts.InputDir)
	result, err := p.Run(cmd.Context(), opts)
	if err != nil {
		var insufficient *clustering.InsufficientDataError
		if errors.As(err, &insufficient) {
			fmt.Fprintf(out, "⚠️  Only %d suites carry dihedral angles; at least 2 are needed\n", insufficient.Eligible)
		}
		return err
	}

	printRunSummary(out, result)
	return nil
}

func printRunSummary(w io.Writer, result *pipeline.Result) {
	fmt.Fprintf(w, "\n📊 Run %s\n", result.RunID)
	fmt.Fprintf(w, "   Suites: %d (%d with dihedrals)\n", result.Stats.TotalSuites, result.Stats.EligibleSuites)
	fmt.Fprintf(w, "   Pre-clusters: %d, outliers: %d, threshold: %.4f\n",
		result.Stats.Preclusters, result.Stats.Outliers, result.Threshold)
	fmt.Fprintf(w, "   Final clusters: %d, noise: %d\n", result.Stats.FinalClusters, result.Stats.Noise)
	if result.Silhouette != nil {
		fmt.Fprintf(w, "   Silhouette: %.3f (%s)\n", result.Silhouette.OverallScore, result.Silhouette.Quality)
		if worst := result.Silhouette.WorstClusters(); len(worst) > 0 {
			worst = worst[:min(len(worst), 3)]
			fmt.Fprintf(w, "   Least separated pre-clusters: %v\n", worst)
		}
	}
	fmt.Fprintf(w, "   Labelled suites: %s\n", result.FinalPath)
	if result.PlotDir != "" {
		fmt.Fprintf(w, "   Reports: %s\n", result.PlotDir)
	}
	fmt.Fprintf(w, "   Took %s\n", result.Stats.ProcessingTime.Round(time.Millisecond))
}
