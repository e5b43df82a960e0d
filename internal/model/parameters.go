package model

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidParameters = errors.New("invalid learning parameters")

// Parameters are the learning hyperparameters of one run.
type Parameters struct {
	T       int     `json:"T"`
	L       int     `json:"L"`
	K       int     `json:"K"`
	Lambda  float64 `json:"lambda"`
	C       float64 `json:"c"`
	Epsilon float64 `json:"epsilon"`
	Eta     float64 `json:"eta"`
	Seed    int64   `json:"seed"`
}

func (p Parameters) Validate() error {
	if p.T <= 0 {
		return fmt.Errorf("%w: T must be > 0", ErrInvalidParameters)
	}
	if p.L <= 0 {
		return fmt.Errorf("%w: L must be > 0", ErrInvalidParameters)
	}
	if p.K <= 0 {
		return fmt.Errorf("%w: K must be > 0", ErrInvalidParameters)
	}
	if math.IsNaN(p.Lambda) || p.Lambda < 0 || p.Lambda >= 1 {
		return fmt.Errorf("%w: lambda must be in [0,1)", ErrInvalidParameters)
	}
	if !(p.C > 0) || math.IsInf(p.C, 0) {
		return fmt.Errorf("%w: c must be > 0", ErrInvalidParameters)
	}
	if !(p.Epsilon > 0) {
		return fmt.Errorf("%w: epsilon must be > 0", ErrInvalidParameters)
	}
	if math.IsNaN(p.Eta) || p.Eta < 0 {
		return fmt.Errorf("%w: eta must be >= 0", ErrInvalidParameters)
	}
	return nil
}
