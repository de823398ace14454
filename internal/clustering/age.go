package clustering

import (
	"context"
	"fmt"
	"log/slog"

	"mintage/internal/core"
	"mintage/internal/distance"
	"mintage/internal/logger"
)

// PreclusterOptions configures the average-linkage pre-clustering pass.
type PreclusterOptions struct {
	Method            Method          // Linkage merge criterion
	Metric            distance.Metric // Distance between dihedral vectors
	Period            float64         // Angle period for the torus metric
	OutlierPercentage float64         // Tolerated share of points in undersized clusters
	MinClusterSize    int             // Clusters below this size are outliers
}

// DefaultPreclusterOptions returns the settings of the reference pipeline.
func DefaultPreclusterOptions() PreclusterOptions {
	return PreclusterOptions{
		Method:            MethodAverage,
		Metric:            distance.MetricEuclidean,
		Period:            distance.DefaultPeriod,
		OutlierPercentage: 0.15,
		MinClusterSize:    20,
	}
}

// PreclusterResult is the outcome of Precluster.
type PreclusterResult struct {
	Clusters   core.ClusterList    // Retained clusters of suite indices
	Outliers   []int               // Suite indices in undersized clusters
	Eligible   []int               // Suite indices that carried features
	Threshold  float64             // Distance the linkage was cut at
	Linkage    *Linkage            // Full merge hierarchy over eligible suites
	Silhouette *SilhouetteAnalysis // Separation of retained clusters; nil below two clusters
}

// NewFeatureMatrix collects the dihedral vectors of suites that have them,
// remembering which suite every row came from.
func NewFeatureMatrix(suites []core.Suite) FeatureMatrix {
	var fm FeatureMatrix
	for i := range suites {
		if !suites[i].HasFeatures() {
			continue
		}
		fm.Rows = append(fm.Rows, suites[i].Dihedrals)
		fm.IDs = append(fm.IDs, i)
	}
	return fm
}

// Precluster runs AGE: average-linkage clustering cut at the adaptive
// outlier threshold. Every suite with features is labelled under
// core.StagePrecluster with its cluster index or the outlier sentinel;
// suites without features are left untouched.
func Precluster(ctx context.Context, suites []core.Suite, opts PreclusterOptions) (*PreclusterResult, error) {
	if opts.MinClusterSize < 1 {
		return nil, fmt.Errorf("minimum cluster size must be positive, got %d", opts.MinClusterSize)
	}
	log := logger.Get()

	fm := NewFeatureMatrix(suites)
	n := fm.Len()
	log.Info("Pre-clustering suites",
		"eligible", n,
		"total", len(suites),
		"method", opts.Method.String(),
		"metric", opts.Metric.String())
	if n < 2 {
		return nil, &InsufficientDataError{Eligible: n}
	}

	dm, err := distance.Pairwise(ctx, fm.Rows, opts.Metric.Func(opts.Period))
	if err != nil {
		return nil, fmt.Errorf("failed to compute pairwise distances: %w", err)
	}
	lk, err := LinkageFromDistances(dm, opts.Method)
	if err != nil {
		return nil, err
	}

	threshold := FindOutlierThreshold(lk, opts.OutlierPercentage, n, opts.MinClusterSize)
	partition := lk.Cut(threshold)
	sizes := partition.Sizes()

	// Partition ids already follow first-encounter order.
	position := make([]int, len(sizes))
	var clusters core.ClusterList
	for c, size := range sizes {
		if size >= opts.MinClusterSize {
			position[c] = len(clusters)
			clusters = append(clusters, make([]int, 0, size))
		} else {
			position[c] = -1
		}
	}

	var outliers []int
	var retainedRows, retainedLabels []int
	for row, c := range partition {
		id := fm.IDs[row]
		if pos := position[c]; pos >= 0 {
			clusters[pos] = append(clusters[pos], id)
			label := core.ClusterLabel(pos)
			suites[id].Labels.Precluster = &label
			retainedRows = append(retainedRows, row)
			retainedLabels = append(retainedLabels, pos)
		} else {
			outliers = append(outliers, id)
			label := core.OutlierLabel()
			suites[id].Labels.Precluster = &label
		}
	}

	result := &PreclusterResult{
		Clusters:  clusters,
		Outliers:  outliers,
		Eligible:  fm.IDs,
		Threshold: threshold,
		Linkage:   lk,
	}
	if len(clusters) > 1 {
		result.Silhouette = PerformSilhouetteAnalysis(dm.Subset(retainedRows), retainedLabels)
	}

	logPrecluster(log, result, n)
	return result, nil
}

func logPrecluster(log *slog.Logger, r *PreclusterResult, n int) {
	args := []any{
		"threshold", r.Threshold,
		"clusters", len(r.Clusters),
		"sizes", r.Clusters.Sizes(),
		"outliers", len(r.Outliers),
		"outlier_fraction", float64(len(r.Outliers)) / float64(n),
	}
	if r.Silhouette != nil {
		args = append(args, "silhouette", r.Silhouette.OverallScore, "quality", r.Silhouette.Quality)
	}
	log.Info("Pre-clustering complete", args...)
}
