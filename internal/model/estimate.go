package model

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Estimate is a per-mode value/gain pair. Solvers and engines own their
// estimate exclusively and hand back a fresh one.
type Estimate struct {
	X []*mat.Dense
	F []*mat.Dense
}

// ZeroEstimate returns X = 0 (n×n) and F = 0 (m×n) for every mode.
func ZeroEstimate(sys *System) *Estimate {
	est := &Estimate{
		X: make([]*mat.Dense, sys.N()),
		F: make([]*mat.Dense, sys.N()),
	}
	for i := 0; i < sys.N(); i++ {
		est.X[i] = mat.NewDense(sys.StateDim(), sys.StateDim(), nil)
		est.F[i] = mat.NewDense(sys.ControlDim(), sys.StateDim(), nil)
	}
	return est
}

// Clone deep copies the estimate. Nil slices stay nil.
func (e *Estimate) Clone() *Estimate {
	if e == nil {
		return nil
	}
	return &Estimate{X: CloneMatrices(e.X), F: CloneMatrices(e.F)}
}

// CheckShape verifies that the estimate fits sys. A nil X or F is accepted
// only when the corresponding allow flag is set.
func (e *Estimate) CheckShape(sys *System, allowNilX, allowNilF bool) error {
	if e == nil {
		return fmt.Errorf("%w: estimate is nil", ErrInvalidSystem)
	}
	if e.X == nil && !allowNilX {
		return fmt.Errorf("%w: X is required", ErrInvalidSystem)
	}
	if e.F == nil && !allowNilF {
		return fmt.Errorf("%w: F is required", ErrInvalidSystem)
	}
	if e.X != nil {
		if len(e.X) != sys.N() {
			return fmt.Errorf("%w: X has %d modes, want %d", ErrInvalidSystem, len(e.X), sys.N())
		}
		for i, x := range e.X {
			if err := checkDims("X", i, x, sys.StateDim(), sys.StateDim()); err != nil {
				return err
			}
		}
	}
	if e.F != nil {
		if len(e.F) != sys.N() {
			return fmt.Errorf("%w: F has %d modes, want %d", ErrInvalidSystem, len(e.F), sys.N())
		}
		for i, f := range e.F {
			if err := checkDims("F", i, f, sys.ControlDim(), sys.StateDim()); err != nil {
				return err
			}
		}
	}
	return nil
}

// CloneMatrices deep copies a per-mode matrix slice.
func CloneMatrices(in []*mat.Dense) []*mat.Dense {
	if in == nil {
		return nil
	}
	out := make([]*mat.Dense, len(in))
	for i, x := range in {
		if x == nil {
			continue
		}
		out[i] = mat.DenseCopyOf(x)
	}
	return out
}
