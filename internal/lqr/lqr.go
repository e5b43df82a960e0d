// Package lqr holds the per-mode linear quadratic algebra shared by the
// Riccati solver, the stability checker and the TD(λ) engines.
package lqr

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"mjlstd/internal/model"
)

var ErrSingular = errors.New("singular gain system")

// ClosedLoop returns G = A + B F.
func ClosedLoop(a, b, f mat.Matrix) *mat.Dense {
	var g mat.Dense
	g.Mul(b, f)
	g.Add(a, &g)
	return &g
}

// ClosedLoops returns G_i = A_i + B_i F_i for every mode.
func ClosedLoops(sys *model.System, f []*mat.Dense) []*mat.Dense {
	out := make([]*mat.Dense, sys.N())
	for i := range out {
		out[i] = ClosedLoop(sys.A(i), sys.B(i), f[i])
	}
	return out
}

// Gain solves (D + B' E B) F = -B' E A for F, where E is the expected
// successor value seen from the mode.
func Gain(a, b, d, e mat.Matrix) (*mat.Dense, error) {
	var be mat.Dense
	be.Mul(b.T(), e)

	var lhs mat.Dense
	lhs.Mul(&be, b)
	lhs.Add(d, &lhs)

	var rhs mat.Dense
	rhs.Mul(&be, a)
	rhs.Scale(-1, &rhs)

	var f mat.Dense
	if err := f.Solve(&lhs, &rhs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	return &f, nil
}

// Gains applies Gain to every mode with e[i] as the successor expectation.
func Gains(sys *model.System, e []*mat.Dense) ([]*mat.Dense, error) {
	out := make([]*mat.Dense, sys.N())
	for i := range out {
		f, err := Gain(sys.A(i), sys.B(i), sys.D(i), e[i])
		if err != nil {
			return nil, fmt.Errorf("mode %d: %w", i, err)
		}
		out[i] = f
	}
	return out, nil
}

// StageCost returns C + F' D F, the quadratic weight of one step under u = F x.
func StageCost(c, d, f mat.Matrix) *mat.Dense {
	var fd mat.Dense
	fd.Mul(f.T(), d)
	var q mat.Dense
	q.Mul(&fd, f)
	q.Add(c, &q)
	return &q
}

// CostToGo returns C + F' D F + G' E G with G = A + B F, symmetrised.
func CostToGo(a, b, c, d, f, e mat.Matrix) *mat.Dense {
	g := ClosedLoop(a, b, f)
	out := StageCost(c, d, f)
	out.Add(out, Congruence(g, e))
	return Symmetrize(out)
}

// Congruence returns G' E G.
func Congruence(g, e mat.Matrix) *mat.Dense {
	var ge mat.Dense
	ge.Mul(g.T(), e)
	var out mat.Dense
	out.Mul(&ge, g)
	return &out
}

// Expectation returns E_i(X) = Σ_j P[i][j] X_j for every mode.
func Expectation(sys *model.System, x []*mat.Dense) []*mat.Dense {
	out := make([]*mat.Dense, sys.N())
	for i := range out {
		acc := mat.NewDense(sys.StateDim(), sys.StateDim(), nil)
		for j := 0; j < sys.N(); j++ {
			p := sys.Prob(i, j)
			if p == 0 {
				continue
			}
			var term mat.Dense
			term.Scale(p, x[j])
			acc.Add(acc, &term)
		}
		out[i] = acc
	}
	return out
}

// Symmetrize replaces x by (x + x')/2 in place and returns it.
func Symmetrize(x *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	if r != c {
		panic("lqr: symmetrize non-square matrix")
	}
	for i := 0; i < r; i++ {
		for j := i + 1; j < c; j++ {
			v := 0.5 * (x.At(i, j) + x.At(j, i))
			x.Set(i, j, v)
			x.Set(j, i, v)
		}
	}
	return x
}

// MaxAbsDiff returns max_i max_rc |a_i - b_i|.
func MaxAbsDiff(a, b []*mat.Dense) float64 {
	worst := 0.0
	for i := range a {
		r, c := a[i].Dims()
		for row := 0; row < r; row++ {
			for col := 0; col < c; col++ {
				if d := math.Abs(a[i].At(row, col) - b[i].At(row, col)); d > worst || math.IsNaN(d) {
					worst = d
				}
			}
		}
	}
	return worst
}

// FirstNonFinite returns the first mode holding a NaN or Inf entry, or -1.
func FirstNonFinite(xs []*mat.Dense) int {
	for i, x := range xs {
		r, c := x.Dims()
		for row := 0; row < r; row++ {
			for col := 0; col < c; col++ {
				v := x.At(row, col)
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return i
				}
			}
		}
	}
	return -1
}
