package clustering

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"mintage/internal/core"
	"mintage/internal/logger"
)

// DefaultScale is the mode-hunting sensitivity used by the reference pipeline.
const DefaultScale = 12000.0

// ModeHunter splits one pre-cluster into modes. data holds the pre-cluster's
// feature rows; clusters and outliers are the starting partition in local row
// indices. It returns sub-clusters and noise, both in local row indices.
// Implementations must not keep state between calls.
type ModeHunter interface {
	Hunt(ctx context.Context, scale float64, data [][]float64, clusters [][]int, outliers []int) ([][]int, []int, error)
}

// PostclusterOptions configures the mode-hunting refinement pass.
type PostclusterOptions struct {
	Scale   float64 // Passed through to the ModeHunter
	Workers int     // Pre-clusters hunted concurrently; < 1 means 1
}

// DefaultPostclusterOptions returns the settings of the reference pipeline.
func DefaultPostclusterOptions() PostclusterOptions {
	return PostclusterOptions{Scale: DefaultScale, Workers: 1}
}

// PostclusterResult is the outcome of Postcluster.
type PostclusterResult struct {
	Refined core.ClusterList // Final clusters; position is the final label
	Origins []int            // Pre-cluster index each refined cluster came from
	Noise   []int            // Suite indices the hunter rejected
}

type huntResult struct {
	subclusters [][]int
	noise       []int
}

// Postcluster runs MINT: every non-empty pre-cluster goes through the mode
// hunter and its sub-clusters become final clusters. Final labels count up
// from zero across all pre-clusters in list order, however the hunts are
// scheduled. Suites rejected as noise keep only their pre-cluster label.
func Postcluster(ctx context.Context, suites []core.Suite, clusters core.ClusterList, hunter ModeHunter, opts PostclusterOptions) (*PostclusterResult, error) {
	if hunter == nil {
		return nil, errors.New("mode hunter is required")
	}
	log := logger.Get()
	workers := max(opts.Workers, 1)
	log.Info("Refining pre-clusters", "preclusters", len(clusters), "scale", opts.Scale, "workers", workers)

	results := make([]huntResult, len(clusters))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for ci, members := range clusters {
		if len(members) == 0 {
			continue
		}
		g.Go(func() error {
			res, err := huntPrecluster(gctx, suites, members, hunter, opts.Scale)
			if err != nil {
				return fmt.Errorf("mode hunting failed for pre-cluster %d: %w", ci, err)
			}
			results[ci] = res
			log.Debug("Pre-cluster refined",
				"precluster", ci,
				"size", len(members),
				"modes", len(res.subclusters),
				"noise", len(res.noise))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, members := range clusters {
		for _, id := range members {
			suites[id].Labels.Final = nil
		}
	}

	out := &PostclusterResult{}
	finalLabel := 0
	for ci, members := range clusters {
		for _, sub := range results[ci].subclusters {
			mapped := make([]int, len(sub))
			for k, local := range sub {
				id := members[local]
				mapped[k] = id
				label := core.ClusterLabel(finalLabel)
				suites[id].Labels.Final = &label
			}
			out.Refined = append(out.Refined, mapped)
			out.Origins = append(out.Origins, ci)
			finalLabel++
		}
		for _, local := range results[ci].noise {
			out.Noise = append(out.Noise, members[local])
		}
	}

	log.Info("Post-clustering complete",
		"final_clusters", len(out.Refined),
		"sizes", out.Refined.Sizes(),
		"noise", len(out.Noise))
	return out, nil
}

func huntPrecluster(ctx context.Context, suites []core.Suite, members []int, hunter ModeHunter, scale float64) (huntResult, error) {
	data := make([][]float64, len(members))
	initial := make([]int, len(members))
	for i, id := range members {
		data[i] = slices.Clone(suites[id].Dihedrals)
		initial[i] = i
	}

	subclusters, noise, err := hunter.Hunt(ctx, scale, data, [][]int{initial}, []int{})
	if err != nil {
		return huntResult{}, err
	}

	inRange := func(local int) bool { return local >= 0 && local < len(members) }
	for _, sub := range subclusters {
		for _, local := range sub {
			if !inRange(local) {
				return huntResult{}, fmt.Errorf("sub-cluster index %d out of range [0,%d)", local, len(members))
			}
		}
	}
	for _, local := range noise {
		if !inRange(local) {
			return huntResult{}, fmt.Errorf("noise index %d out of range [0,%d)", local, len(members))
		}
	}
	return huntResult{subclusters: subclusters, noise: noise}, nil
}
