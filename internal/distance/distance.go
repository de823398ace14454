// Package distance provides the metrics used to compare dihedral feature
// vectors and a condensed pairwise distance matrix built from them.
package distance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"
)

// ErrUnknownMetric is returned by ParseMetric for unsupported names.
var ErrUnknownMetric = errors.New("unknown distance metric")

// DefaultPeriod is the period of dihedral angles expressed in degrees.
const DefaultPeriod = 360.0

// Func computes the distance between two feature vectors.
type Func func(a, b []float64) float64

// Metric selects a distance function.
type Metric int

const (
	MetricEuclidean Metric = iota
	MetricTorus
)

func (m Metric) String() string {
	switch m {
	case MetricEuclidean:
		return "euclidean"
	case MetricTorus:
		return "torus"
	default:
		return fmt.Sprintf("unknown(%d)", m)
	}
}

// ParseMetric maps a configuration name to a Metric.
func ParseMetric(name string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "euclidean", "l2":
		return MetricEuclidean, nil
	case "torus", "angular":
		return MetricTorus, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, name)
	}
}

// Func returns the distance function for the metric. period only applies to
// MetricTorus; non-positive values fall back to DefaultPeriod.
func (m Metric) Func(period float64) Func {
	if m == MetricTorus {
		return Torus(period)
	}
	return Euclidean
}

// Euclidean is the straight-line distance, ignoring angular wrap-around.
func Euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Torus returns a Euclidean distance on the flat torus: every coordinate
// difference is taken the short way round a circle of the given period.
func Torus(period float64) Func {
	if period <= 0 {
		period = DefaultPeriod
	}
	half := period / 2
	return func(a, b []float64) float64 {
		var sum float64
		for i := range a {
			d := math.Mod(math.Abs(a[i]-b[i]), period)
			if d > half {
				d = period - d
			}
			sum += d * d
		}
		return math.Sqrt(sum)
	}
}

// DimensionMismatchError reports a row whose length differs from the first row.
type DimensionMismatchError struct {
	Row      int
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch at row %d: expected %d, got %d", e.Row, e.Expected, e.Actual)
}

// Condensed stores the upper triangle of a symmetric distance matrix with a
// zero diagonal, row-major: (0,1), (0,2), ..., (1,2), ...
type Condensed struct {
	n    int
	data []float64
}

// NewCondensed allocates a zeroed matrix for n points.
func NewCondensed(n int) *Condensed {
	size := 0
	if n > 1 {
		size = n * (n - 1) / 2
	}
	return &Condensed{n: n, data: make([]float64, size)}
}

// N returns the number of points.
func (c *Condensed) N() int { return c.n }

func (c *Condensed) index(i, j int) int {
	if i > j {
		i, j = j, i
	}
	return c.n*i - i*(i+1)/2 + (j - i - 1)
}

// At returns the distance between points i and j.
func (c *Condensed) At(i, j int) float64 {
	if i == j {
		return 0
	}
	return c.data[c.index(i, j)]
}

// Set stores the distance between points i and j (i != j).
func (c *Condensed) Set(i, j int, v float64) {
	c.data[c.index(i, j)] = v
}

// Clone returns an independent copy.
func (c *Condensed) Clone() *Condensed {
	data := make([]float64, len(c.data))
	copy(data, c.data)
	return &Condensed{n: c.n, data: data}
}

// Subset returns the matrix restricted to the given points, in that order.
func (c *Condensed) Subset(points []int) *Condensed {
	out := NewCondensed(len(points))
	for a := 0; a < len(points); a++ {
		for b := a + 1; b < len(points); b++ {
			out.Set(a, b, c.At(points[a], points[b]))
		}
	}
	return out
}

// Square expands the matrix to a dense n x n form.
func (c *Condensed) Square() [][]float64 {
	out := make([][]float64, c.n)
	for i := range out {
		out[i] = make([]float64, c.n)
		for j := range out[i] {
			out[i][j] = c.At(i, j)
		}
	}
	return out
}

// Pairwise computes the condensed distance matrix of rows. Rows are split
// across goroutines; the result does not depend on scheduling.
func Pairwise(ctx context.Context, rows [][]float64, fn Func) (*Condensed, error) {
	n := len(rows)
	if fn == nil {
		fn = Euclidean
	}
	for i := 1; i < n; i++ {
		if len(rows[i]) != len(rows[0]) {
			return nil, &DimensionMismatchError{Row: i, Expected: len(rows[0]), Actual: len(rows[i])}
		}
	}

	out := NewCondensed(n)
	if n < 2 {
		return out, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < n-1; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for j := i + 1; j < n; j++ {
				out.Set(i, j, fn(rows[i], rows[j]))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
