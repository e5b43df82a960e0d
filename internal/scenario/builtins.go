package scenario

import (
	"gonum.org/v1/gonum/mat"

	"mjlstd/internal/model"
)

func initializeBuiltInScenarios() {
	MustRegister(Spec{
		Name:        "samuelson",
		Description: "multiplier-accelerator national income model with three fiscal policy modes",
		Config:      samuelsonConfig,
		Parameters: model.Parameters{
			T: 100, L: 200, K: 1,
			Lambda: 0.3, C: 0.1, Epsilon: 1e-6, Eta: 0.3,
		},
	})
	MustRegister(Spec{
		Name:        "scalar",
		Description: "single mode x' = x + u with unit weights; X = golden ratio",
		Config:      scalarConfig,
		Parameters: model.Parameters{
			T: 200, L: 1, K: 1,
			Lambda: 0.5, C: 0.5, Epsilon: 1e-6,
		},
	})
	MustRegister(Spec{
		Name:        "two-mode",
		Description: "two stable scalar modes coupled by a persistent chain",
		Config:      twoModeConfig,
		Parameters: model.Parameters{
			T: 20000, L: 1, K: 1,
			Lambda: 0.3, C: 0.5, Epsilon: 1e-6, Eta: 0.7,
		},
	})
}

// Mode 1 is normal, 2 boom and 3 slump. The state is national income at
// the last two periods and the control is government expenditure.
func samuelsonConfig() model.SystemConfig {
	b := func() *mat.Dense { return mat.NewDense(2, 1, []float64{0, 1}) }
	return model.SystemConfig{
		A: []*mat.Dense{
			mat.NewDense(2, 2, []float64{0, 1, -2.5, 3.2}),
			mat.NewDense(2, 2, []float64{0, 1, -43.7, 45.4}),
			mat.NewDense(2, 2, []float64{0, 1, 5.3, -5.2}),
		},
		B: []*mat.Dense{b(), b(), b()},
		C: []*mat.Dense{
			mat.NewDense(2, 2, []float64{3.6, -3.8, -3.8, 4.87}),
			mat.NewDense(2, 2, []float64{10, -3, -3, 8}),
			mat.NewDense(2, 2, []float64{5, -4.5, -4.5, 4.5}),
		},
		D: []*mat.Dense{
			mat.NewDense(1, 1, []float64{2.6}),
			mat.NewDense(1, 1, []float64{1.165}),
			mat.NewDense(1, 1, []float64{1.111}),
		},
		P: mat.NewDense(3, 3, []float64{
			0.67, 0.17, 0.16,
			0.30, 0.47, 0.23,
			0.26, 0.10, 0.64,
		}),
	}
}

func scalarConfig() model.SystemConfig {
	one := func() *mat.Dense { return mat.NewDense(1, 1, []float64{1}) }
	return model.SystemConfig{
		A: []*mat.Dense{one()},
		B: []*mat.Dense{one()},
		C: []*mat.Dense{one()},
		D: []*mat.Dense{one()},
		P: one(),
	}
}

func twoModeConfig() model.SystemConfig {
	one := func() *mat.Dense { return mat.NewDense(1, 1, []float64{1}) }
	return model.SystemConfig{
		A: []*mat.Dense{mat.NewDense(1, 1, []float64{0.5}), mat.NewDense(1, 1, []float64{0.8})},
		B: []*mat.Dense{one(), one()},
		C: []*mat.Dense{one(), one()},
		D: []*mat.Dense{one(), one()},
		P: mat.NewDense(2, 2, []float64{0.7, 0.3, 0.4, 0.6}),
	}
}
