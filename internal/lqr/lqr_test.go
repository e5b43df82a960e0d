package lqr

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"mjlstd/internal/model"
)

func TestGainScalarGoldenRatio(t *testing.T) {
	phi := (1 + math.Sqrt(5)) / 2
	one := mat.NewDense(1, 1, []float64{1})
	f, err := Gain(one, one, one, mat.NewDense(1, 1, []float64{phi}))
	if err != nil {
		t.Fatalf("gain: %v", err)
	}
	want := -phi / (1 + phi)
	if got := f.At(0, 0); math.Abs(got-want) > 1e-12 {
		t.Fatalf("gain=%v want %v", got, want)
	}

	// x = c + f'df + g'xg holds at the fixed point.
	x := CostToGo(one, one, one, one, f, mat.NewDense(1, 1, []float64{phi}))
	if math.Abs(x.At(0, 0)-phi) > 1e-12 {
		t.Fatalf("cost to go=%v want %v", x.At(0, 0), phi)
	}
}

func TestGainSingular(t *testing.T) {
	zero := mat.NewDense(1, 1, []float64{0})
	one := mat.NewDense(1, 1, []float64{1})
	if _, err := Gain(one, one, zero, zero); !errors.Is(err, ErrSingular) {
		t.Fatalf("expected ErrSingular, got %v", err)
	}
}

func TestExpectationWeightsSuccessors(t *testing.T) {
	one := mat.NewDense(1, 1, []float64{1})
	sys, err := model.NewSystem(model.SystemConfig{
		A: []*mat.Dense{one, one},
		B: []*mat.Dense{one, one},
		C: []*mat.Dense{one, one},
		D: []*mat.Dense{one, one},
		P: mat.NewDense(2, 2, []float64{0.25, 0.75, 1, 0}),
	})
	if err != nil {
		t.Fatalf("new system: %v", err)
	}
	e := Expectation(sys, []*mat.Dense{mat.NewDense(1, 1, []float64{4}), mat.NewDense(1, 1, []float64{8})})
	if e[0].At(0, 0) != 7 || e[1].At(0, 0) != 4 {
		t.Fatalf("unexpected expectation %v %v", e[0].At(0, 0), e[1].At(0, 0))
	}
}

func TestKronAndBlockDiag(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	b := mat.NewDense(1, 1, []float64{2})
	k := Kron(a, b)
	if !mat.Equal(k, mat.NewDense(2, 2, []float64{2, 4, 6, 8})) {
		t.Fatalf("unexpected kron %v", mat.Formatted(k))
	}

	bd := BlockDiag([]*mat.Dense{a, b})
	want := mat.NewDense(3, 3, []float64{
		1, 2, 0,
		3, 4, 0,
		0, 0, 2,
	})
	if !mat.Equal(bd, want) {
		t.Fatalf("unexpected block diag %v", mat.Formatted(bd))
	}
}

func TestSpectralNormAndRadius(t *testing.T) {
	norm, err := SpectralNorm(mat.NewDense(2, 2, []float64{2, 0, 0, -1}))
	if err != nil {
		t.Fatalf("norm: %v", err)
	}
	if math.Abs(norm-2) > 1e-12 {
		t.Fatalf("norm=%v want 2", norm)
	}

	// Eigenvalues 1 and 2.
	radius, err := SpectralRadius(mat.NewDense(2, 2, []float64{0, 1, -2, 3}))
	if err != nil {
		t.Fatalf("radius: %v", err)
	}
	if math.Abs(radius-2) > 1e-9 {
		t.Fatalf("radius=%v want 2", radius)
	}

	// Rotation by 90 degrees: eigenvalues ±i.
	radius, err = SpectralRadius(mat.NewDense(2, 2, []float64{0, -1, 1, 0}))
	if err != nil {
		t.Fatalf("radius: %v", err)
	}
	if math.Abs(radius-1) > 1e-9 {
		t.Fatalf("rotation radius=%v want 1", radius)
	}
}

func TestTransportMatchesCongruence(t *testing.T) {
	g := mat.NewDense(2, 2, []float64{0.5, 0.1, -0.3, 0.2})
	x := mat.NewDense(2, 2, []float64{2, 0.5, 0.5, 1})

	var lifted mat.VecDense
	lifted.MulVec(Transport(g), Vec(x))
	got := Unvec(&lifted, 2, 2)
	want := Congruence(g, x)
	if !mat.EqualApprox(got, want, 1e-12) {
		t.Fatalf("transport %v != congruence %v", mat.Formatted(got), mat.Formatted(want))
	}
}

func TestMaxAbsDiffAndFiniteGuard(t *testing.T) {
	a := []*mat.Dense{mat.NewDense(1, 2, []float64{1, 2})}
	b := []*mat.Dense{mat.NewDense(1, 2, []float64{1.5, 1})}
	if d := MaxAbsDiff(a, b); d != 1 {
		t.Fatalf("max abs diff=%v want 1", d)
	}
	if FirstNonFinite(a) != -1 {
		t.Fatal("expected finite matrices")
	}
	b = append(b, mat.NewDense(1, 1, []float64{math.Inf(1)}))
	if FirstNonFinite(b) != 1 {
		t.Fatal("expected mode 1 to be flagged")
	}
}

func TestSymmetrize(t *testing.T) {
	x := Symmetrize(mat.NewDense(2, 2, []float64{1, 2, 4, 3}))
	if x.At(0, 1) != 3 || x.At(1, 0) != 3 {
		t.Fatalf("unexpected symmetrised matrix %v", mat.Formatted(x))
	}
}
