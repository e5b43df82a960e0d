// Package td estimates the coupled Riccati solution of a Markov jump linear
// system from simulated mode trajectories with matrix valued TD(λ).
//
// Each engine learns Y_i ≈ E_i(X) = Σ_j P[i][j] X_j under a behaviour gain
// F. A transition i -> j produces the TD error
//
//	d = C_j + F_j' D_j F_j + G_j' Y_j G_j - Y_i,   G_j = A_j + B_j F_j
//
// and past update directions are carried forward through the closed loops,
// which in vectorised form is multiplication by G_j' ⊗ G_j'. After every
// round of L episodes the behaviour gain is replaced by the greedy gain
// F_i(Y) = -(D_i + B_i' Y_i B_i)⁻¹ B_i' Y_i A_i.
package td

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"mjlstd/internal/model"
)

type Engine string

const (
	Offline     Engine = "offline"
	Online      Engine = "online"
	Eligibility Engine = "eligibility"
)

var (
	ErrDiverged      = errors.New("td estimate diverged")
	ErrGainRequired  = errors.New("initial gain is required")
	ErrUnknownEngine = errors.New("unknown td engine")
)

var engineAliases = map[string]Engine{
	"offline":            Offline,
	"mjlstd":             Offline,
	"online":             Online,
	"mjlstd_online":      Online,
	"eligibility":        Eligibility,
	"mjlstd_eligibility": Eligibility,
}

// ParseEngine resolves an engine name or one of its historical aliases.
func ParseEngine(name string) (Engine, error) {
	engine, ok := engineAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownEngine, name)
	}
	return engine, nil
}

// Engines lists the canonical engine names.
func Engines() []Engine {
	return []Engine{Offline, Online, Eligibility}
}

type Options struct {
	// HistoryStride keeps every n-th snapshot (the last one is always kept).
	// Zero keeps all of them.
	HistoryStride int
	Logger        *slog.Logger
}

type Result struct {
	Engine Engine
	// Estimate holds X = Y and the greedy gain of Y.
	Estimate *model.Estimate
	History  *model.History
	Updates  int
}

// Run dispatches to the named engine. initial.F is the behaviour gain of
// the first round and initial.X (optional) the starting Y. Neither sys nor
// initial is modified.
func Run(ctx context.Context, engine Engine, sys *model.System, initial *model.Estimate, params model.Parameters, opts Options) (Result, error) {
	l, err := newLearner(engine, sys, initial, params, opts)
	if err != nil {
		return Result{}, err
	}

	var episode func(round, episode int) error
	switch engine {
	case Offline:
		episode = l.offlineEpisode
	case Online:
		episode = l.onlineEpisode
	case Eligibility:
		episode = l.eligibilityEpisode
	default:
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownEngine, engine)
	}

	if err := l.run(ctx, episode); err != nil {
		return Result{}, err
	}
	return l.result()
}

// RunOffline simulates L trajectories per round and applies one averaged
// λ-return update per trajectory.
func RunOffline(ctx context.Context, sys *model.System, initial *model.Estimate, params model.Parameters, opts Options) (Result, error) {
	return Run(ctx, Offline, sys, initial, params, opts)
}

// RunOnline applies a TD(0) update after every transition.
func RunOnline(ctx context.Context, sys *model.System, initial *model.Estimate, params model.Parameters, opts Options) (Result, error) {
	return Run(ctx, Online, sys, initial, params, opts)
}

// RunEligibility applies backward-view TD(λ) updates through per-mode
// eligibility traces after every transition.
func RunEligibility(ctx context.Context, sys *model.System, initial *model.Estimate, params model.Parameters, opts Options) (Result, error) {
	return Run(ctx, Eligibility, sys, initial, params, opts)
}
