// Package modehunt provides the default mode-hunting collaborator: single
// linkage on the flat torus, split wherever the chaining gap exceeds a
// scale-derived cut.
package modehunt

import (
	"context"
	"fmt"
	"math"
	"slices"

	"mintage/internal/clustering"
	"mintage/internal/distance"
	"mintage/internal/logger"
)

// DefaultMinModeSize is the smallest sub-cluster kept as a mode.
const DefaultMinModeSize = 5

var _ clustering.ModeHunter = (*TorusSlink)(nil)

// TorusSlink hunts modes by cutting a single-linkage hierarchy built on
// torus distance. It holds configuration only; calls share no state.
type TorusSlink struct {
	MinModeSize int     // Modes below this size become noise
	Period      float64 // Angle period, 360 for degrees
}

// New returns a TorusSlink, substituting defaults for non-positive values.
func New(minModeSize int, period float64) *TorusSlink {
	if minModeSize < 1 {
		minModeSize = DefaultMinModeSize
	}
	if period <= 0 {
		period = distance.DefaultPeriod
	}
	return &TorusSlink{MinModeSize: minModeSize, Period: period}
}

// Gap returns the single-linkage cut distance for the given scale and
// feature dimension.
func Gap(scale float64, dims int) float64 {
	if scale <= 0 || dims < 1 {
		return 0
	}
	return math.Sqrt(scale / float64(dims))
}

// Hunt splits every cluster of the starting partition into modes. Indices
// are local rows of data. Starting outliers are passed through as noise.
func (t *TorusSlink) Hunt(ctx context.Context, scale float64, data [][]float64, clusters [][]int, outliers []int) ([][]int, []int, error) {
	minSize := max(t.MinModeSize, 1)
	metric := distance.Torus(t.Period)

	noise := slices.Clone(outliers)
	var modes [][]int
	for _, members := range clusters {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		for _, local := range members {
			if local < 0 || local >= len(data) {
				return nil, nil, fmt.Errorf("row %d out of range [0,%d)", local, len(data))
			}
		}

		split, err := t.split(ctx, scale, data, members, metric)
		if err != nil {
			return nil, nil, err
		}
		for _, mode := range split {
			if len(mode) < minSize {
				noise = append(noise, mode...)
				continue
			}
			modes = append(modes, mode)
		}
	}
	slices.Sort(noise)

	logger.Debug("Mode hunt finished",
		"rows", len(data),
		"modes", len(modes),
		"noise", len(noise),
		"scale", scale)
	return modes, noise, nil
}

func (t *TorusSlink) split(ctx context.Context, scale float64, data [][]float64, members []int, metric distance.Func) ([][]int, error) {
	switch len(members) {
	case 0:
		return nil, nil
	case 1:
		return [][]int{slices.Clone(members)}, nil
	}

	rows := make([][]float64, len(members))
	for i, local := range members {
		rows[i] = data[local]
	}
	lk, err := clustering.BuildLinkage(ctx, clustering.FeatureMatrix{Rows: rows, IDs: members}, metric, clustering.MethodSingle)
	if err != nil {
		return nil, fmt.Errorf("single linkage failed: %w", err)
	}

	partition := lk.Cut(Gap(scale, len(rows[0])))
	out := make([][]int, partition.NumClusters())
	for row, c := range partition {
		out[c] = append(out[c], members[row])
	}
	return out, nil
}
