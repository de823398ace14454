// Package align provides the default alignment collaborator. Backbones with
// the same number of atoms are superimposed by generalized Procrustes
// analysis: each is centred on its centroid and rotated onto a common
// reference shape. Sizes are kept unless scaling is requested.
package align

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"mintage/internal/core"
	"mintage/internal/logger"
)

const (
	// DefaultIterations bounds the reference refinement rounds.
	DefaultIterations = 10
	convergence       = 1e-10
)

// Procrustes rigidly superimposes suite backbones.
type Procrustes struct {
	Iterations int  // Reference refinement rounds; 1 aligns onto the first backbone only
	Scale      bool // Also scale every backbone to unit centroid size
}

// Option configures a Procrustes aligner.
type Option func(*Procrustes)

// WithScaling scales backbones to unit centroid size before rotating them.
// The result is no longer a rigid transform of the input.
func WithScaling() Option {
	return func(p *Procrustes) { p.Scale = true }
}

// WithIterations sets how many times the reference shape is re-estimated.
func WithIterations(n int) Option {
	return func(p *Procrustes) {
		if n > 0 {
			p.Iterations = n
		}
	}
}

// New returns a Procrustes aligner.
func New(opts ...Option) *Procrustes {
	p := &Procrustes{Iterations: DefaultIterations}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Align returns a copy of suites in the same order with every backbone
// centred and rotated onto the reference of its atom count. Suites without a
// backbone are copied unchanged. Already aligned suites are only re-aligned
// when overwrite is set. Dihedral features are never touched.
func (p *Procrustes) Align(ctx context.Context, suites []core.Suite, overwrite bool) ([]core.Suite, error) {
	out := make([]core.Suite, len(suites))
	copy(out, suites)

	// Only backbones of equal length can be superimposed.
	groups := make(map[int][]int)
	var order []int
	for i := range suites {
		if len(suites[i].Backbone) == 0 || (suites[i].Aligned && !overwrite) {
			continue
		}
		atoms := len(suites[i].Backbone)
		if _, ok := groups[atoms]; !ok {
			order = append(order, atoms)
		}
		groups[atoms] = append(groups[atoms], i)
	}

	aligned := 0
	for _, atoms := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		members := groups[atoms]
		shapes := make([]*mat.Dense, len(members))
		for k, id := range members {
			shapes[k] = p.centred(suites[id].Backbone)
		}
		if err := p.superimpose(ctx, shapes); err != nil {
			return nil, err
		}
		for k, id := range members {
			out[id].Backbone = toPoints(shapes[k])
			out[id].Aligned = true
		}
		aligned += len(members)
		logger.Debug("Superimposed backbones", "atoms", atoms, "suites", len(members))
	}

	logger.Info("Aligned suite backbones", "aligned", aligned, "total", len(suites), "groups", len(order))
	return out, nil
}

// superimpose rotates every shape in place onto a reference that starts as
// the first non-degenerate shape and is refined to the mean of the rotated
// shapes until it stops moving.
func (p *Procrustes) superimpose(ctx context.Context, shapes []*mat.Dense) error {
	var ref *mat.Dense
	for _, s := range shapes {
		if mat.Norm(s, 2) > 0 {
			ref = mat.DenseCopyOf(s)
			break
		}
	}
	if ref == nil {
		return nil
	}

	for iter := 0; ; iter++ {
		for k, s := range shapes {
			if k%256 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			rotateOnto(s, ref)
		}
		if iter+1 >= p.Iterations {
			return nil
		}

		mean := meanShape(shapes)
		if p.Scale {
			if size := mat.Norm(mean, 2); size > 0 {
				mean.Scale(1/size, mean)
			}
		}
		var diff mat.Dense
		diff.Sub(mean, ref)
		ref = mean
		if mat.Norm(&diff, 2) < convergence {
			return nil
		}
	}
}

// rotateOnto replaces a with a·R, where R is the proper rotation minimising
// ||a·R - b||. R = U·Vᵀ from the SVD of aᵀ·b; a reflection is undone by
// flipping the column of U that belongs to the smallest singular value.
func rotateOnto(a, b *mat.Dense) {
	var m mat.Dense
	m.Mul(a.T(), b)

	var svd mat.SVD
	if !svd.Factorize(&m, mat.SVDFull) {
		return
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var r mat.Dense
	r.Mul(&u, v.T())
	if mat.Det(&r) < 0 {
		// Singular values come sorted in decreasing order.
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		r.Mul(&u, v.T())
	}

	var rotated mat.Dense
	rotated.Mul(a, &r)
	a.Copy(&rotated)
}

// centred returns the backbone as an atoms×3 matrix translated to its
// centroid, and scaled to unit centroid size when requested.
func (p *Procrustes) centred(points [][3]float64) *mat.Dense {
	c := centroid(points)
	size := CentroidSize(points)

	m := mat.NewDense(len(points), 3, nil)
	for i, pt := range points {
		v := r3.Sub(toVec(pt), c)
		if p.Scale && size > 0 {
			v = r3.Scale(1/size, v)
		}
		m.SetRow(i, []float64{v.X, v.Y, v.Z})
	}
	return m
}

func meanShape(shapes []*mat.Dense) *mat.Dense {
	rows, cols := shapes[0].Dims()
	mean := mat.NewDense(rows, cols, nil)
	for _, s := range shapes {
		mean.Add(mean, s)
	}
	mean.Scale(1/float64(len(shapes)), mean)
	return mean
}

// CentroidSize is the root of the summed squared distances of the points to
// their centroid.
func CentroidSize(points [][3]float64) float64 {
	if len(points) == 0 {
		return 0
	}
	c := centroid(points)
	var sum float64
	for _, pt := range points {
		sum += r3.Norm2(r3.Sub(toVec(pt), c))
	}
	return math.Sqrt(sum)
}

func centroid(points [][3]float64) r3.Vec {
	var sum r3.Vec
	for _, pt := range points {
		sum = r3.Add(sum, toVec(pt))
	}
	return r3.Scale(1/float64(len(points)), sum)
}

func toVec(pt [3]float64) r3.Vec {
	return r3.Vec{X: pt[0], Y: pt[1], Z: pt[2]}
}

func toPoints(m *mat.Dense) [][3]float64 {
	rows, _ := m.Dims()
	out := make([][3]float64, rows)
	for i := range out {
		out[i] = [3]float64{m.At(i, 0), m.At(i, 1), m.At(i, 2)}
	}
	return out
}
