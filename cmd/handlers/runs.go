package handlers

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mintage/internal/config"
	"mintage/internal/core"
	"mintage/internal/logger"
	"mintage/internal/store"
)

// NewRunsCmd creates the command group for the run ledger
func NewRunsCmd() *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and manage recorded pipeline runs",
		Long:  `List, inspect, prune and clear the SQLite ledger of completed MINT-AGE runs.`,
	}

	runsCmd.AddCommand(newRunsListCmd())
	runsCmd.AddCommand(newRunsShowCmd())
	runsCmd.AddCommand(newRunsPruneCmd())
	runsCmd.AddCommand(newRunsClearCmd())

	return runsCmd
}

func newRunsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(func(s *store.Store) error {
				return runRunsList(cmd.OutOrStdout(), s, limit)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum runs to show (0 for all)")
	return cmd
}

func newRunsShowCmd() *cobra.Command {
	var showLabels bool
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the parameters and outcome of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(func(s *store.Store) error {
				return runRunsShow(cmd.OutOrStdout(), s, args[0], showLabels)
			})
		},
	}
	cmd.Flags().BoolVar(&showLabels, "labels", false, "Also print the label of every suite")
	return cmd
}

func newRunsPruneCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove runs older than a given age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive, got %s", olderThan)
			}
			return withLedger(func(s *store.Store) error {
				removed, err := s.PruneRuns(olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "🧹 Pruned %d runs older than %s\n", removed, olderThan)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Age beyond which runs are removed")
	return cmd
}

func newRunsClearCmd() *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every recorded run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm && !askConfirmation(cmd, "⚠️  This will remove every recorded run. Continue? [y/N]: ") {
				fmt.Fprintln(cmd.OutOrStdout(), "Clear cancelled")
				return nil
			}
			return withLedger(func(s *store.Store) error {
				if err := s.Clear(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "✅ Run ledger cleared")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "Skip confirmation prompt")
	return cmd
}

// withLedger opens the ledger in the configured data directory for fn
func withLedger(fn func(s *store.Store) error) error {
	s, err := store.NewStore(config.Get().App.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open run ledger: %w", err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Error("Failed to close run ledger", err)
		}
	}()
	return fn(s)
}

func askConfirmation(cmd *cobra.Command, prompt string) bool {
	fmt.Fprint(cmd.OutOrStdout(), prompt)
	response, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(response)) {
	case "y", "yes":
		return true
	}
	return false
}

func runRunsList(w io.Writer, s *store.Store, limit int) error {
	runs, err := s.ListRuns(limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded yet")
		return nil
	}

	fmt.Fprintln(w, "📚 Recorded runs")
	fmt.Fprintln(w, "================")
	for _, run := range runs {
		fmt.Fprintf(w, "%s  %s  %s  %d suites → %d pre-clusters → %d final clusters\n",
			run.ID,
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			run.InputDir,
			run.Suites,
			run.Preclusters,
			run.FinalClusters)
	}
	return nil
}

func runRunsShow(w io.Writer, s *store.Store, id string, showLabels bool) error {
	run, err := s.GetRun(id)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("no run with id %s", id)
	}

	fmt.Fprintf(w, "🔎 Run %s\n", run.ID)
	fmt.Fprintf(w, "   Input: %s\n", run.InputDir)
	fmt.Fprintf(w, "   Output: %s\n", run.OutputDir)
	fmt.Fprintf(w, "   Started: %s (took %s)\n",
		run.StartedAt.Local().Format("2006-01-02 15:04:05"),
		run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(w, "   Linkage: %s, metric: %s, min cluster size: %d, outlier percentage: %.3f\n",
		run.Method, run.Metric, run.MinClusterSize, run.OutlierPercentage)
	fmt.Fprintf(w, "   Threshold: %.4f, scale: %g\n", run.Threshold, run.Scale)
	fmt.Fprintf(w, "   Suites: %d (%d with dihedrals)\n", run.Suites, run.Eligible)
	fmt.Fprintf(w, "   Pre-clusters: %d %v, outliers: %d\n", run.Preclusters, run.PreclusterSizes, run.Outliers)
	fmt.Fprintf(w, "   Final clusters: %d %v, noise: %d\n", run.FinalClusters, run.FinalSizes, run.Noise)
	if run.Silhouette != nil {
		fmt.Fprintf(w, "   Silhouette: %.3f\n", *run.Silhouette)
	}

	if !showLabels {
		return nil
	}
	labels, err := s.RunLabels(id)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "\n   suite\tsource\tprecluster\tfinal")
	for _, l := range labels {
		fmt.Fprintf(w, "   %s\t%s\t%s\t%s\n", l.SuiteID, l.Source, labelText(l.Precluster), labelText(l.Final))
	}
	return nil
}

func labelText(l *core.Label) string {
	if l == nil {
		return "-"
	}
	return l.String()
}
