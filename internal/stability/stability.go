// Package stability tests a gain and trace decay pair against the
// convergence conditions of Monte Carlo TD(λ) for MJLS optimal control
// (Costa and Aya, Automatica 38, 2002).
package stability

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/mat"

	"mjlstd/internal/lqr"
	"mjlstd/internal/model"
)

const (
	WarnStabilizability = "F does not satisfy Lemma 3 (stabilizability)"
	WarnConvergence     = "lambda does not satisfy Lemma 2 (convergence)"
)

var ErrGainRequired = errors.New("F must be provided")

type Options struct {
	// Logger receives one warning record per violated condition. Nil uses
	// slog.Default().
	Logger *slog.Logger
}

// Report is the outcome of Check. Violations never abort; the caller
// decides whether to proceed.
type Report struct {
	Lambda         float64
	SpectralRadius float64
	VMax           float64
	Stabilizable   bool
	Convergent     bool
	Warnings       []string
}

func (r Report) OK() bool {
	return r.Stabilizable && r.Convergent
}

// Check forms G_i = A_i + B_i F_i and K_i = G_i ⊗ G_i for every mode. The
// gain is stabilizing when the block diagonal of the K_i has spectral radius
// below one, and lambda is admissible when lambda² < max_i 1/‖K_i‖₂.
func Check(sys *model.System, f []*mat.Dense, lambda float64, opts Options) (Report, error) {
	if f == nil {
		return Report{}, ErrGainRequired
	}
	if err := (&model.Estimate{F: f}).CheckShape(sys, true, false); err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrGainRequired, err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	krs := make([]*mat.Dense, sys.N())
	vMax := math.Inf(-1)
	for i := 0; i < sys.N(); i++ {
		g := lqr.ClosedLoop(sys.A(i), sys.B(i), f[i])
		kr := lqr.Kron(g, g)
		krs[i] = kr

		norm, err := lqr.SpectralNorm(kr)
		if err != nil {
			return Report{}, fmt.Errorf("mode %d: %w", i, err)
		}
		if v := 1 / norm; v > vMax {
			vMax = v
		}
	}

	radius, err := lqr.SpectralRadius(lqr.BlockDiag(krs))
	if err != nil {
		return Report{}, err
	}

	report := Report{
		Lambda:         lambda,
		SpectralRadius: radius,
		VMax:           vMax,
		Stabilizable:   radius < 1,
		Convergent:     lambda*lambda < vMax,
	}
	if !report.Stabilizable {
		report.Warnings = append(report.Warnings, WarnStabilizability)
		logger.Warn("test_stability: "+WarnStabilizability,
			slog.Float64("spectral_radius", radius),
		)
	}
	if !report.Convergent {
		report.Warnings = append(report.Warnings, WarnConvergence)
		logger.Warn("test_stability: "+WarnConvergence,
			slog.Float64("lambda", lambda),
			slog.Float64("v_max", vMax),
		)
	}
	return report, nil
}
