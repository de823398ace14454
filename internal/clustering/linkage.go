package clustering

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"mintage/internal/distance"
)

// ErrInvalidMethod is returned by ParseMethod for unsupported linkage names.
var ErrInvalidMethod = errors.New("unknown linkage method")

// InsufficientDataError is returned when fewer than two suites carry features.
type InsufficientDataError struct {
	Eligible int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for clustering: need at least 2 suites with dihedral features, got %d", e.Eligible)
}

// Method is the agglomerative merge criterion.
type Method int

const (
	MethodAverage Method = iota
	MethodSingle
	MethodComplete
	MethodWeighted
)

func (m Method) String() string {
	switch m {
	case MethodAverage:
		return "average"
	case MethodSingle:
		return "single"
	case MethodComplete:
		return "complete"
	case MethodWeighted:
		return "weighted"
	default:
		return fmt.Sprintf("unknown(%d)", m)
	}
}

// ParseMethod maps a configuration name to a Method.
func ParseMethod(name string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "average", "upgma":
		return MethodAverage, nil
	case "single":
		return MethodSingle, nil
	case "complete":
		return MethodComplete, nil
	case "weighted", "wpgma":
		return MethodWeighted, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidMethod, name)
	}
}

// update is the Lance-Williams recurrence: distance from cluster i to the
// union of x and y, given the distances before the merge.
func (m Method) update(dix, diy, dxy float64, nx, ny, ni int) float64 {
	switch m {
	case MethodSingle:
		return math.Min(dix, diy)
	case MethodComplete:
		return math.Max(dix, diy)
	case MethodWeighted:
		return (dix + diy) / 2
	default:
		return (float64(nx)*dix + float64(ny)*diy) / float64(nx+ny)
	}
}

// Merge is one row of a linkage: clusters Left and Right join at Distance
// into a new cluster of Size points. Ids below N are single rows; merge i
// creates cluster N+i.
type Merge struct {
	Left     int
	Right    int
	Distance float64
	Size     int
}

// Linkage is a hierarchical merge sequence over N rows, sorted by distance.
type Linkage struct {
	N      int
	Merges []Merge
}

// FeatureMatrix pairs feature rows with the suite indices they came from.
type FeatureMatrix struct {
	Rows [][]float64
	IDs  []int
}

// Len returns the number of rows.
func (fm FeatureMatrix) Len() int { return len(fm.Rows) }

// BuildLinkage computes pairwise distances of the rows and agglomerates them.
func BuildLinkage(ctx context.Context, fm FeatureMatrix, fn distance.Func, method Method) (*Linkage, error) {
	if fm.Len() < 2 {
		return nil, &InsufficientDataError{Eligible: fm.Len()}
	}
	dm, err := distance.Pairwise(ctx, fm.Rows, fn)
	if err != nil {
		return nil, fmt.Errorf("failed to compute pairwise distances: %w", err)
	}
	return LinkageFromDistances(dm, method)
}

// LinkageFromDistances runs nearest-neighbour-chain agglomeration over a
// condensed distance matrix. The matrix is not modified.
func LinkageFromDistances(dm *distance.Condensed, method Method) (*Linkage, error) {
	n := dm.N()
	if n < 2 {
		return nil, &InsufficientDataError{Eligible: n}
	}

	d := dm.Clone()
	size := make([]int, n)
	for i := range size {
		size[i] = 1
	}
	removed := make([]bool, n)

	raw := make([]Merge, 0, n-1)
	chain := make([]int, 0, n)

	for k := 0; k < n-1; k++ {
		if len(chain) == 0 {
			for i := 0; i < n; i++ {
				if !removed[i] {
					chain = append(chain, i)
					break
				}
			}
		}

		var x, y int
		var best float64
		for {
			x = chain[len(chain)-1]
			y = -1
			best = math.Inf(1)
			if len(chain) > 1 {
				y = chain[len(chain)-2]
				best = d.At(x, y)
			}
			for i := 0; i < n; i++ {
				if removed[i] || i == x {
					continue
				}
				if dist := d.At(x, i); dist < best || y == -1 {
					best = dist
					y = i
				}
			}
			if len(chain) > 1 && y == chain[len(chain)-2] {
				break
			}
			chain = append(chain, y)
		}
		chain = chain[:len(chain)-2]

		if x > y {
			x, y = y, x
		}
		nx, ny := size[x], size[y]
		raw = append(raw, Merge{Left: x, Right: y, Distance: best, Size: nx + ny})

		removed[x] = true
		size[y] = nx + ny
		for i := 0; i < n; i++ {
			if removed[i] || i == y {
				continue
			}
			d.Set(i, y, method.update(d.At(i, x), d.At(i, y), best, nx, ny, size[i]))
		}
	}

	sort.SliceStable(raw, func(i, j int) bool { return raw[i].Distance < raw[j].Distance })
	return &Linkage{N: n, Merges: relabel(n, raw)}, nil
}

// relabel turns merges expressed as row slots into cluster ids: leaves are
// 0..n-1 and merge i creates cluster n+i.
func relabel(n int, raw []Merge) []Merge {
	uf := newUnionFind(2*n - 1)
	out := make([]Merge, len(raw))
	for i, m := range raw {
		a, b := uf.find(m.Left), uf.find(m.Right)
		if a > b {
			a, b = b, a
		}
		id := n + i
		uf.parent[a] = id
		uf.parent[b] = id
		uf.size[id] = uf.size[a] + uf.size[b]
		out[i] = Merge{Left: a, Right: b, Distance: m.Distance, Size: uf.size[id]}
	}
	return out
}

// MaxDistance returns the distance of the final merge.
func (lk *Linkage) MaxDistance() float64 {
	if len(lk.Merges) == 0 {
		return 0
	}
	return lk.Merges[len(lk.Merges)-1].Distance
}

// Distances returns the merge distances in linkage order.
func (lk *Linkage) Distances() []float64 {
	out := make([]float64, len(lk.Merges))
	for i, m := range lk.Merges {
		out[i] = m.Distance
	}
	return out
}

// Cut flattens the hierarchy: two rows share a cluster iff their cophenetic
// distance is at most t.
func (lk *Linkage) Cut(t float64) Partition {
	uf := newUnionFind(lk.N)
	rep := make([]int, lk.N+len(lk.Merges))
	for i := 0; i < lk.N; i++ {
		rep[i] = i
	}
	for i, m := range lk.Merges {
		rep[lk.N+i] = rep[m.Left]
		if m.Distance <= t {
			uf.union(rep[m.Left], rep[m.Right])
		}
	}

	ids := make(map[int]int)
	p := make(Partition, lk.N)
	for row := 0; row < lk.N; row++ {
		root := uf.find(row)
		id, ok := ids[root]
		if !ok {
			id = len(ids)
			ids[root] = id
		}
		p[row] = id
	}
	return p
}

// Partition maps each row to a cluster id. Ids run from 0 in order of the
// first row that belongs to each cluster and only hold for a single cut.
type Partition []int

// NumClusters returns the number of distinct clusters.
func (p Partition) NumClusters() int {
	k := 0
	for _, c := range p {
		if c+1 > k {
			k = c + 1
		}
	}
	return k
}

// Sizes returns the member count of every cluster id.
func (p Partition) Sizes() []int {
	sizes := make([]int, p.NumClusters())
	for _, c := range p {
		sizes[c]++
	}
	return sizes
}

type unionFind struct {
	parent []int
	size   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), size: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
		uf.size[i] = 1
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if uf.size[ra] < uf.size[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	uf.size[ra] += uf.size[rb]
}
