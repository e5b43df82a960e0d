package model

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func twoModeConfig() SystemConfig {
	return SystemConfig{
		A: []*mat.Dense{mat.NewDense(2, 2, []float64{0, 1, -2.5, 3.2}), mat.NewDense(2, 2, []float64{0, 1, 5.3, -5.2})},
		B: []*mat.Dense{mat.NewDense(2, 1, []float64{0, 1}), mat.NewDense(2, 1, []float64{0, 1})},
		C: []*mat.Dense{mat.NewDense(2, 2, []float64{1, 0, 0, 1}), mat.NewDense(2, 2, []float64{2, 0, 0, 2})},
		D: []*mat.Dense{mat.NewDense(1, 1, []float64{1}), mat.NewDense(1, 1, []float64{3})},
		P: mat.NewDense(2, 2, []float64{0.7, 0.3, 0.4, 0.6}),
	}
}

func TestSystemABCDReturnsModeMatrices(t *testing.T) {
	cfg := twoModeConfig()
	sys, err := NewSystem(cfg)
	if err != nil {
		t.Fatalf("new system: %v", err)
	}
	if sys.N() != 2 || sys.StateDim() != 2 || sys.ControlDim() != 1 {
		t.Fatalf("unexpected dims N=%d n=%d m=%d", sys.N(), sys.StateDim(), sys.ControlDim())
	}
	for i := 0; i < sys.N(); i++ {
		a, b, c, d := sys.ABCD(i)
		if a != cfg.A[i] || b != cfg.B[i] || c != cfg.C[i] || d != cfg.D[i] {
			t.Fatalf("mode %d: ABCD did not return the configured matrices", i)
		}
	}
	a, b, c, d := sys.AllABCD()
	if len(a) != 2 || a[1] != cfg.A[1] || b[0] != cfg.B[0] || c[1] != cfg.C[1] || d[0] != cfg.D[0] {
		t.Fatal("AllABCD did not return the configured slices")
	}
}

func TestSystemTransitionRowsAreStochastic(t *testing.T) {
	sys, err := NewSystem(twoModeConfig())
	if err != nil {
		t.Fatalf("new system: %v", err)
	}
	for i := 0; i < sys.N(); i++ {
		sum := 0.0
		for j := 0; j < sys.N(); j++ {
			sum += sys.Prob(i, j)
		}
		if math.Abs(sum-1) > 1e-12 {
			t.Fatalf("row %d sums to %v", i, sum)
		}
	}
	pi := sys.InitialDistribution()
	if len(pi) != 2 || pi[0] != 0.5 || pi[1] != 0.5 {
		t.Fatalf("expected uniform initial distribution, got %v", pi)
	}
}

func TestNewSystemRejectsMalformedConfig(t *testing.T) {
	cases := map[string]func(*SystemConfig){
		"no modes":         func(c *SystemConfig) { c.A = nil },
		"mode mismatch":    func(c *SystemConfig) { c.B = c.B[:1] },
		"bad A":            func(c *SystemConfig) { c.A[1] = mat.NewDense(3, 3, nil) },
		"bad B":            func(c *SystemConfig) { c.B[1] = mat.NewDense(2, 2, nil) },
		"bad C":            func(c *SystemConfig) { c.C[0] = mat.NewDense(1, 1, nil) },
		"bad D":            func(c *SystemConfig) { c.D[1] = mat.NewDense(2, 2, nil) },
		"nil P":            func(c *SystemConfig) { c.P = nil },
		"P not stochastic": func(c *SystemConfig) { c.P = mat.NewDense(2, 2, []float64{0.5, 0.4, 0.4, 0.6}) },
		"P negative":       func(c *SystemConfig) { c.P = mat.NewDense(2, 2, []float64{1.5, -0.5, 0.4, 0.6}) },
		"Pi length":        func(c *SystemConfig) { c.Pi = []float64{1} },
		"Pi not summing":   func(c *SystemConfig) { c.Pi = []float64{0.2, 0.2} },
	}
	for name, mutate := range cases {
		cfg := twoModeConfig()
		mutate(&cfg)
		if _, err := NewSystem(cfg); !errors.Is(err, ErrInvalidSystem) {
			t.Fatalf("%s: expected ErrInvalidSystem, got %v", name, err)
		}
	}
}

func TestSystemWithControlCostScalesOnlyD(t *testing.T) {
	cfg := twoModeConfig()
	sys, err := NewSystem(cfg)
	if err != nil {
		t.Fatalf("new system: %v", err)
	}
	scaled := sys.WithControlCost(10)
	if got := scaled.D(1).At(0, 0); got != 30 {
		t.Fatalf("expected scaled D=30, got %v", got)
	}
	if got := sys.D(1).At(0, 0); got != 3 {
		t.Fatalf("original D mutated: %v", got)
	}
	if scaled.A(0) != sys.A(0) {
		t.Fatal("expected dynamics to be shared")
	}
}

func TestEstimateCloneIsDeep(t *testing.T) {
	sys, err := NewSystem(twoModeConfig())
	if err != nil {
		t.Fatalf("new system: %v", err)
	}
	est := ZeroEstimate(sys)
	clone := est.Clone()
	clone.X[0].Set(0, 0, 42)
	clone.F[1].Set(0, 1, -1)
	if est.X[0].At(0, 0) != 0 || est.F[1].At(0, 1) != 0 {
		t.Fatal("clone aliases the original estimate")
	}
	if err := clone.CheckShape(sys, false, false); err != nil {
		t.Fatalf("check shape: %v", err)
	}
	bad := &Estimate{F: []*mat.Dense{mat.NewDense(1, 2, nil)}}
	if err := bad.CheckShape(sys, true, false); !errors.Is(err, ErrInvalidSystem) {
		t.Fatalf("expected shape error, got %v", err)
	}
}

func TestParametersValidate(t *testing.T) {
	valid := Parameters{T: 10, L: 2, K: 1, Lambda: 0.5, C: 0.1, Epsilon: 1e-6, Eta: 0.6}
	if err := valid.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	bad := []Parameters{
		{T: 0, L: 1, K: 1, C: 1, Epsilon: 1},
		{T: 1, L: 0, K: 1, C: 1, Epsilon: 1},
		{T: 1, L: 1, K: 0, C: 1, Epsilon: 1},
		{T: 1, L: 1, K: 1, C: 1, Epsilon: 1, Lambda: 1},
		{T: 1, L: 1, K: 1, C: 0, Epsilon: 1},
		{T: 1, L: 1, K: 1, C: 1, Epsilon: 0},
		{T: 1, L: 1, K: 1, C: 1, Epsilon: 1, Eta: -1},
	}
	for i, p := range bad {
		if err := p.Validate(); !errors.Is(err, ErrInvalidParameters) {
			t.Fatalf("case %d: expected ErrInvalidParameters, got %v", i, err)
		}
	}
}

func TestHistoryRecordCopiesSnapshots(t *testing.T) {
	y := []*mat.Dense{mat.NewDense(1, 1, []float64{1})}
	f := []*mat.Dense{mat.NewDense(1, 1, []float64{-0.5})}
	h := NewHistory(2)
	h.Record(1, 0, 0, 0, y, f)
	y[0].Set(0, 0, 2)
	h.Record(2, 0, 0, 1, y, f)

	if h.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", h.Len())
	}
	series := h.Series(true, 0, 0, 0)
	if series[0] != 1 || series[1] != 2 {
		t.Fatalf("unexpected Y series: %v", series)
	}
	if steps := h.Snapshots(); steps[1].Update != 2 || steps[1].Transition != 1 {
		t.Fatalf("unexpected step tags: %+v", steps[1])
	}
}

func TestModeMatricesDenseRoundTrip(t *testing.T) {
	in := []*mat.Dense{mat.NewDense(1, 2, []float64{0.25, -1.5})}
	out, err := ToModeMatrices(in).Dense()
	if err != nil {
		t.Fatalf("dense: %v", err)
	}
	if !mat.Equal(in[0], out[0]) {
		t.Fatalf("round trip mismatch: %v vs %v", mat.Formatted(in[0]), mat.Formatted(out[0]))
	}
}

func TestModeMatricesDenseRejectsRaggedRows(t *testing.T) {
	ragged := ModeMatrices{{{1, 2}, {3}}}
	if _, err := ragged.Dense(); !errors.Is(err, ErrInvalidSystem) {
		t.Fatalf("expected ErrInvalidSystem for ragged rows, got %v", err)
	}
	empty := ModeMatrices{{{1}}, {}}
	if _, err := empty.Dense(); !errors.Is(err, ErrInvalidSystem) {
		t.Fatalf("expected ErrInvalidSystem for empty mode, got %v", err)
	}
	if out, err := ModeMatrices(nil).Dense(); err != nil || out != nil {
		t.Fatalf("expected nil stack for nil input, got %v %v", out, err)
	}
}
