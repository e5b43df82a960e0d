package model

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// stochasticTolerance bounds how far a row of P (or Pi) may drift from 1.
const stochasticTolerance = 1e-9

var ErrInvalidSystem = errors.New("invalid mjls system")

// System is the immutable dynamics of a Markov jump linear system. Mode i
// evolves as x' = A[i] x + B[i] u and pays x' C[i] x + u' D[i] u per step;
// the mode jumps from i to j with probability P[i][j].
type System struct {
	n, m int
	a    []*mat.Dense
	b    []*mat.Dense
	c    []*mat.Dense
	d    []*mat.Dense
	p    *mat.Dense
	pi   []float64
}

// SystemConfig carries caller supplied matrices for NewSystem. Pi is
// optional; a nil Pi starts every episode from a uniformly drawn mode.
type SystemConfig struct {
	A  []*mat.Dense
	B  []*mat.Dense
	C  []*mat.Dense
	D  []*mat.Dense
	P  *mat.Dense
	Pi []float64
}

// NewSystem validates dimensions and transition probabilities and returns
// the system. The matrices are referenced, not copied.
func NewSystem(cfg SystemConfig) (*System, error) {
	modes := len(cfg.A)
	if modes == 0 {
		return nil, fmt.Errorf("%w: at least one mode is required", ErrInvalidSystem)
	}
	if len(cfg.B) != modes || len(cfg.C) != modes || len(cfg.D) != modes {
		return nil, fmt.Errorf("%w: mode count mismatch A=%d B=%d C=%d D=%d", ErrInvalidSystem, modes, len(cfg.B), len(cfg.C), len(cfg.D))
	}

	if cfg.A[0] == nil || cfg.B[0] == nil {
		return nil, fmt.Errorf("%w: mode 0 dynamics are nil", ErrInvalidSystem)
	}
	n, _ := cfg.A[0].Dims()
	_, m := cfg.B[0].Dims()
	if n == 0 || m == 0 {
		return nil, fmt.Errorf("%w: empty state or control dimension", ErrInvalidSystem)
	}
	for i := 0; i < modes; i++ {
		if err := checkDims("A", i, cfg.A[i], n, n); err != nil {
			return nil, err
		}
		if err := checkDims("B", i, cfg.B[i], n, m); err != nil {
			return nil, err
		}
		if err := checkDims("C", i, cfg.C[i], n, n); err != nil {
			return nil, err
		}
		if err := checkDims("D", i, cfg.D[i], m, m); err != nil {
			return nil, err
		}
	}

	if err := checkDims("P", 0, cfg.P, modes, modes); err != nil {
		return nil, err
	}
	for i := 0; i < modes; i++ {
		if err := checkDistribution(fmt.Sprintf("P row %d", i), mat.Row(nil, i, cfg.P)); err != nil {
			return nil, err
		}
	}

	var pi []float64
	if cfg.Pi != nil {
		if len(cfg.Pi) != modes {
			return nil, fmt.Errorf("%w: Pi has %d entries, want %d", ErrInvalidSystem, len(cfg.Pi), modes)
		}
		if err := checkDistribution("Pi", cfg.Pi); err != nil {
			return nil, err
		}
		pi = append([]float64(nil), cfg.Pi...)
	}

	return &System{
		n:  n,
		m:  m,
		a:  cfg.A,
		b:  cfg.B,
		c:  cfg.C,
		d:  cfg.D,
		p:  cfg.P,
		pi: pi,
	}, nil
}

func checkDims(name string, mode int, x *mat.Dense, rows, cols int) error {
	if x == nil {
		return fmt.Errorf("%w: %s[%d] is nil", ErrInvalidSystem, name, mode)
	}
	r, c := x.Dims()
	if r != rows || c != cols {
		return fmt.Errorf("%w: %s[%d] is %dx%d, want %dx%d", ErrInvalidSystem, name, mode, r, c, rows, cols)
	}
	return nil
}

func checkDistribution(name string, row []float64) error {
	sum := 0.0
	for j, v := range row {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: %s entry %d = %v outside [0,1]", ErrInvalidSystem, name, j, v)
		}
		sum += v
	}
	if math.Abs(sum-1) > stochasticTolerance {
		return fmt.Errorf("%w: %s sums to %v", ErrInvalidSystem, name, sum)
	}
	return nil
}

// N is the number of modes.
func (s *System) N() int { return len(s.a) }

// StateDim is n, the dimension of x.
func (s *System) StateDim() int { return s.n }

// ControlDim is m, the dimension of u.
func (s *System) ControlDim() int { return s.m }

func (s *System) A(i int) *mat.Dense { return s.a[i] }
func (s *System) B(i int) *mat.Dense { return s.b[i] }
func (s *System) C(i int) *mat.Dense { return s.c[i] }
func (s *System) D(i int) *mat.Dense { return s.d[i] }

// P is the mode transition matrix.
func (s *System) P() *mat.Dense { return s.p }

// Prob returns P[i][j].
func (s *System) Prob(i, j int) float64 { return s.p.At(i, j) }

// InitialDistribution returns the distribution of the first mode of an
// episode. The returned slice is a copy.
func (s *System) InitialDistribution() []float64 {
	if s.pi != nil {
		return append([]float64(nil), s.pi...)
	}
	out := make([]float64, s.N())
	for i := range out {
		out[i] = 1 / float64(len(out))
	}
	return out
}

// ABCD returns the four matrices of mode i.
func (s *System) ABCD(i int) (a, b, c, d *mat.Dense) {
	return s.a[i], s.b[i], s.c[i], s.d[i]
}

// AllABCD returns every mode's matrices.
func (s *System) AllABCD() (a, b, c, d []*mat.Dense) {
	return s.a, s.b, s.c, s.d
}

// WithControlCost returns a copy of the system whose control weights are
// D[i] scaled by factor. Dynamics matrices are shared with s.
func (s *System) WithControlCost(factor float64) *System {
	out := *s
	out.d = make([]*mat.Dense, len(s.d))
	for i, d := range s.d {
		var scaled mat.Dense
		scaled.Scale(factor, d)
		out.d[i] = &scaled
	}
	return &out
}
