package handlers

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"mintage/internal/artifact"
	"mintage/internal/config"
	"mintage/internal/store"
)

// NewCacheCmd creates the cache management command
func NewCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the alignment cache",
		Long:  `Inspect and clear the cached backbone alignment kept in the output directory.`,
	}

	cacheCmd.PersistentFlags().StringP("output", "o", "", "Output directory holding the cache (default from config)")

	// Add subcommands
	cacheCmd.AddCommand(newCacheStatsCmd())
	cacheCmd.AddCommand(newCacheClearCmd())

	return cacheCmd
}

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show alignment cache and run ledger statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheStats(cmd.OutOrStdout(), cacheDir(cmd))
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the alignment cache so the next run re-aligns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			confirm, _ := cmd.Flags().GetBool("confirm")
			if !confirm && !askConfirmation(cmd, "⚠️  This will remove the cached alignment. Continue? [y/N]: ") {
				fmt.Fprintln(cmd.OutOrStdout(), "Cache clear cancelled")
				return nil
			}
			return runCacheClear(cmd.OutOrStdout(), cacheDir(cmd))
		},
	}

	clearCmd.Flags().Bool("confirm", false, "Skip confirmation prompt")
	return clearCmd
}

func cacheDir(cmd *cobra.Command) string {
	if dir, _ := cmd.Flags().GetString("output"); dir != "" {
		return dir
	}
	return config.Get().Output.Directory
}

func runCacheStats(w io.Writer, outputDir string) error {
	fmt.Fprintln(w, "📊 Cache Statistics")
	fmt.Fprintln(w, "==================")

	path := filepath.Join(outputDir, artifact.AlignedFile)
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		fmt.Fprintf(w, "📐 Alignment cache: none in %s\n", outputDir)
	case err != nil:
		return fmt.Errorf("failed to inspect alignment cache: %w", err)
	default:
		fmt.Fprintf(w, "📐 Alignment cache: %s\n", path)
		fmt.Fprintf(w, "💾 Cache size: %.2f MB\n", float64(info.Size())/1024/1024)
		fmt.Fprintf(w, "📅 Last updated: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
		env, err := artifact.Load(path, artifact.KindAligned)
		if err != nil {
			fmt.Fprintf(w, "⚠️  Unreadable, the next run will re-align: %v\n", err)
		} else {
			aligned := 0
			for _, s := range env.Suites {
				if s.Aligned {
					aligned++
				}
			}
			fmt.Fprintf(w, "🧬 Suites cached: %d (%d aligned)\n", len(env.Suites), aligned)
		}
	}

	dataDir := config.Get().App.DataDir
	if _, err := os.Stat(filepath.Join(dataDir, store.DatabaseFile)); err != nil {
		fmt.Fprintf(w, "📚 Run ledger: none in %s\n", dataDir)
		return nil
	}
	return withLedger(func(s *store.Store) error {
		stats, err := s.Stats()
		if err != nil {
			return fmt.Errorf("failed to get ledger statistics: %w", err)
		}
		fmt.Fprintf(w, "📚 Run ledger: %s\n", s.Path())
		fmt.Fprintf(w, "📚 Runs recorded: %d\n", stats.RunCount)
		fmt.Fprintf(w, "🏷️  Suite labels: %d\n", stats.LabelCount)
		fmt.Fprintf(w, "💾 Ledger size: %.2f MB\n", float64(stats.Size)/1024/1024)
		return nil
	})
}

func runCacheClear(w io.Writer, outputDir string) error {
	path := filepath.Join(outputDir, artifact.AlignedFile)
	fmt.Fprintln(w, "🗑️  Clearing alignment cache...")
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(w, "Nothing to clear")
			return nil
		}
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	fmt.Fprintln(w, "✅ Cache cleared successfully")
	return nil
}
