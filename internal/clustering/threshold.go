package clustering

import "sort"

// FindOutlierThreshold returns the smallest merge distance at which at most
// percentage of the dataCount rows sit in clusters smaller than
// minClusterSize.
//
// Candidates are scanned in ascending order and the first one meeting the
// bound wins. The undersized fraction is not monotone in the cut distance,
// so this is deliberately not a binary search. When percentage <= 0 or no
// candidate qualifies, the result lies above the final merge, i.e. the
// coarsest cut.
func FindOutlierThreshold(lk *Linkage, percentage float64, dataCount, minClusterSize int) float64 {
	fallback := lk.MaxDistance() + 1.0
	if percentage <= 0 {
		return fallback
	}

	candidates := lk.Distances()
	sort.Float64s(candidates)
	for i, d := range candidates {
		// Equal distances produce the same cut.
		if i > 0 && d == candidates[i-1] {
			continue
		}
		if UndersizedFraction(lk.Cut(d), minClusterSize, dataCount) <= percentage {
			return d
		}
	}
	return fallback
}

// UndersizedFraction is the share of rows belonging to clusters with fewer
// than minClusterSize members. dataCount <= 0 means len(p).
func UndersizedFraction(p Partition, minClusterSize, dataCount int) float64 {
	if dataCount <= 0 {
		dataCount = len(p)
	}
	if dataCount == 0 {
		return 0
	}

	small := 0
	for _, size := range p.Sizes() {
		if size < minClusterSize {
			small += size
		}
	}
	return float64(small) / float64(dataCount)
}
