package scenario

import (
	"context"
	"errors"
	"math"
	"testing"

	"mjlstd/internal/model"
	"mjlstd/internal/riccati"
	"mjlstd/internal/stability"
)

func TestBuiltInScenariosAreRegistered(t *testing.T) {
	resetRegistryForTests()
	t.Cleanup(resetRegistryForTests)

	names := Names()
	want := []string{"samuelson", "scalar", "two-mode"}
	if len(names) != len(want) {
		t.Fatalf("unexpected scenarios: %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("unexpected scenarios: %v", names)
		}
	}
}

func TestSamuelsonShapesAndRiccatiReference(t *testing.T) {
	spec, err := Get("samuelson")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	sys, err := spec.Build(1)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if sys.N() != 3 || sys.StateDim() != 2 || sys.ControlDim() != 1 {
		t.Fatalf("unexpected dims N=%d n=%d m=%d", sys.N(), sys.StateDim(), sys.ControlDim())
	}

	res, err := riccati.Solve(context.Background(), sys, riccati.Options{Epsilon: 1e-9})
	if err != nil {
		t.Fatalf("riccati: %v", err)
	}
	if !res.Converged {
		t.Fatalf("expected convergence, residual=%v", res.Residual)
	}
	report, err := stability.Check(sys, res.Estimate.F, spec.Parameters.Lambda, stability.Options{})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if math.IsNaN(report.SpectralRadius) || report.VMax == 0 {
		t.Fatalf("unexpected stability report: %+v", report)
	}
	for i, x := range res.Estimate.X {
		if x.At(0, 0) <= 0 || x.At(1, 1) <= 0 {
			t.Fatalf("mode %d: expected positive definite cost-to-go, got %v", i, x)
		}
	}
}

func TestBuildScalesControlCost(t *testing.T) {
	spec, err := Get("samuelson")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	base, err := spec.Build(0)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	scaled, err := spec.Build(10)
	if err != nil {
		t.Fatalf("build scaled: %v", err)
	}
	if got := scaled.D(1).At(0, 0); math.Abs(got-11.65) > 1e-12 {
		t.Fatalf("D_2=%v want 11.65", got)
	}
	if got := base.D(1).At(0, 0); got != 1.165 {
		t.Fatalf("base D_2 changed to %v", got)
	}
	if _, err := spec.Build(-1); err == nil {
		t.Fatal("expected negative factor error")
	}
}

func TestScalarScenarioSolvesToGoldenRatio(t *testing.T) {
	spec, err := Get("scalar")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	sys, err := spec.Build(1)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	res, err := riccati.Solve(context.Background(), sys, riccati.Options{})
	if err != nil {
		t.Fatalf("riccati: %v", err)
	}
	if got := res.Estimate.X[0].At(0, 0); math.Abs(got-(1+math.Sqrt(5))/2) > 1e-5 {
		t.Fatalf("x=%v", got)
	}
}

func TestRegisterRejectsDuplicatesAndBadSpecs(t *testing.T) {
	resetRegistryForTests()
	t.Cleanup(resetRegistryForTests)

	spec, _ := Get("scalar")
	if err := Register(spec); !errors.Is(err, ErrScenarioExists) {
		t.Fatalf("expected ErrScenarioExists, got %v", err)
	}
	if err := Register(Spec{Name: "empty"}); err == nil {
		t.Fatal("expected missing config error")
	}
	bad := spec
	bad.Name = "bad-params"
	bad.Parameters = model.Parameters{}
	if err := Register(bad); !errors.Is(err, model.ErrInvalidParameters) {
		t.Fatalf("expected ErrInvalidParameters, got %v", err)
	}

	custom := spec
	custom.Name = "custom"
	if err := Register(custom); err != nil {
		t.Fatalf("register custom: %v", err)
	}
	if _, err := Get("custom"); err != nil {
		t.Fatalf("get custom: %v", err)
	}
	if _, err := Get("missing"); !errors.Is(err, ErrUnknownScenario) {
		t.Fatalf("expected ErrUnknownScenario, got %v", err)
	}
}
