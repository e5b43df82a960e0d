// Package riccati solves the coupled algebraic Riccati equations of a Markov
// jump linear system by value iteration.
package riccati

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/mat"

	"mjlstd/internal/lqr"
	"mjlstd/internal/model"
)

const (
	DefaultEpsilon       = 1e-6
	DefaultMaxIterations = 1_000_000
)

var ErrDiverged = errors.New("riccati iteration produced non-finite values")

type Options struct {
	Epsilon       float64
	MaxIterations int
	// Initial warm-starts X. Nil starts from X_i = 0.
	Initial *model.Estimate
	Logger  *slog.Logger
}

// Result holds the last iterate. Converged is false when MaxIterations ran
// out before the residual dropped below Epsilon; the iterate is still
// returned so the caller can decide what to do with it.
type Result struct {
	Estimate   *model.Estimate
	Converged  bool
	Iterations int
	Residual   float64
}

// Solve iterates
//
//	E_i = Σ_j P[i][j] X_j
//	F_i = -(D_i + B_i' E_i B_i)⁻¹ B_i' E_i A_i
//	X_i = C_i + F_i' D_i F_i + (A_i + B_i F_i)' E_i (A_i + B_i F_i)
//
// until max_i |X_i' - X_i| < Epsilon.
func Solve(ctx context.Context, sys *model.System, opts Options) (Result, error) {
	if sys == nil {
		return Result{}, errors.New("system is required")
	}
	eps := opts.Epsilon
	if eps == 0 {
		eps = DefaultEpsilon
	}
	if eps < 0 {
		return Result{}, errors.New("epsilon must be > 0")
	}
	maxIter := opts.MaxIterations
	if maxIter == 0 {
		maxIter = DefaultMaxIterations
	}
	if maxIter < 0 {
		return Result{}, errors.New("max iterations must be > 0")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	x := model.ZeroEstimate(sys).X
	if opts.Initial != nil {
		if err := opts.Initial.CheckShape(sys, false, true); err != nil {
			return Result{}, err
		}
		x = model.CloneMatrices(opts.Initial.X)
	}

	var (
		f        []*mat.Dense
		residual float64
	)
	for iter := 1; iter <= maxIter; iter++ {
		if iter%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
		}
		next, gains, err := Step(sys, x)
		if err != nil {
			return Result{}, fmt.Errorf("iteration %d: %w", iter, err)
		}
		if mode := lqr.FirstNonFinite(next); mode >= 0 {
			return Result{}, fmt.Errorf("%w: iteration %d mode %d", ErrDiverged, iter, mode)
		}
		residual = lqr.MaxAbsDiff(next, x)
		x, f = next, gains
		if residual < eps {
			logger.Debug("riccati converged", slog.Int("iterations", iter), slog.Float64("residual", residual))
			return Result{
				Estimate:   &model.Estimate{X: x, F: f},
				Converged:  true,
				Iterations: iter,
				Residual:   residual,
			}, nil
		}
	}

	logger.Warn("riccati did not converge",
		slog.Int("iterations", maxIter),
		slog.Float64("residual", residual),
		slog.Float64("epsilon", eps),
	)
	return Result{
		Estimate:   &model.Estimate{X: x, F: f},
		Converged:  false,
		Iterations: maxIter,
		Residual:   residual,
	}, nil
}

// Step performs one coupled Riccati update from x and returns the next
// value matrices together with the gains that produced them.
func Step(sys *model.System, x []*mat.Dense) ([]*mat.Dense, []*mat.Dense, error) {
	e := lqr.Expectation(sys, x)
	gains, err := lqr.Gains(sys, e)
	if err != nil {
		return nil, nil, err
	}
	next := make([]*mat.Dense, sys.N())
	for i := range next {
		a, b, c, d := sys.ABCD(i)
		next[i] = lqr.CostToGo(a, b, c, d, gains[i], e[i])
	}
	return next, gains, nil
}
