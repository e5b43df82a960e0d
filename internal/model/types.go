package model

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// ModeMatrices is a per-mode matrix stack addressed as [mode][row][col].
type ModeMatrices [][][]float64

func ToModeMatrices(in []*mat.Dense) ModeMatrices {
	if in == nil {
		return nil
	}
	out := make(ModeMatrices, len(in))
	for i, x := range in {
		r, c := x.Dims()
		rows := make([][]float64, r)
		for row := 0; row < r; row++ {
			rows[row] = make([]float64, c)
			for col := 0; col < c; col++ {
				rows[row][col] = x.At(row, col)
			}
		}
		out[i] = rows
	}
	return out
}

// Dense converts the stack back to gonum matrices. Ragged or empty modes
// are rejected with ErrInvalidSystem.
func (mm ModeMatrices) Dense() ([]*mat.Dense, error) {
	if mm == nil {
		return nil, nil
	}
	out := make([]*mat.Dense, len(mm))
	for i, rows := range mm {
		if len(rows) == 0 || len(rows[0]) == 0 {
			return nil, fmt.Errorf("%w: mode %d matrix is empty", ErrInvalidSystem, i)
		}
		cols := len(rows[0])
		x := mat.NewDense(len(rows), cols, nil)
		for r, row := range rows {
			if len(row) != cols {
				return nil, fmt.Errorf("%w: mode %d row %d has %d columns, want %d", ErrInvalidSystem, i, r, len(row), cols)
			}
			x.SetRow(r, row)
		}
		out[i] = x
	}
	return out, nil
}

type RiccatiRecord struct {
	F ModeMatrices `json:"F"`
	X ModeMatrices `json:"X"`
	// Expected is E_i(X), the quantity the TD engines estimate with Y.
	Expected   ModeMatrices `json:"expected_X,omitempty"`
	Converged  bool         `json:"converged"`
	Iterations int          `json:"iterations"`
	Residual   float64      `json:"residual"`
}

type StabilityRecord struct {
	Lambda         float64  `json:"lambda"`
	SpectralRadius float64  `json:"spectral_radius"`
	VMax           *float64 `json:"v_max,omitempty"`
	Stabilizable   bool     `json:"stabilizable"`
	Convergent     bool     `json:"convergent"`
	Warnings       []string `json:"warnings,omitempty"`
}

// StepTag locates a snapshot. Update is the number of updates applied
// when it was taken.
type StepTag struct {
	Update     int `json:"update"`
	Round      int `json:"round"`
	Episode    int `json:"episode"`
	Transition int `json:"transition"`
}

type EngineRecord struct {
	Engine   string         `json:"engine"`
	F        ModeMatrices   `json:"F"`
	Y        ModeMatrices   `json:"Y"`
	Steps    []StepTag      `json:"steps,omitempty"`
	FHistory []ModeMatrices `json:"F_history,omitempty"`
	YHistory []ModeMatrices `json:"Y_history,omitempty"`
}

type RunRecord struct {
	VersionedRecord
	ID                string          `json:"id"`
	Scenario          string          `json:"scenario"`
	ControlCostFactor float64         `json:"control_cost_factor"`
	Parameters        Parameters      `json:"parameters"`
	CreatedAtUTC      string          `json:"created_at_utc"`
	Riccati           RiccatiRecord   `json:"riccati"`
	Stability         StabilityRecord `json:"stability"`
	Engines           []EngineRecord  `json:"engines,omitempty"`
}

// Engine returns the record of the named engine.
func (r RunRecord) Engine(name string) (EngineRecord, bool) {
	for _, e := range r.Engines {
		if e.Engine == name {
			return e, true
		}
	}
	return EngineRecord{}, false
}

// NewEngineRecord flattens an engine's final estimate and history.
func NewEngineRecord(engine string, final *Estimate, history *History) EngineRecord {
	rec := EngineRecord{Engine: engine}
	if final != nil {
		rec.F = ToModeMatrices(final.F)
		rec.Y = ToModeMatrices(final.X)
	}
	for _, s := range history.Snapshots() {
		rec.Steps = append(rec.Steps, StepTag{Update: s.Update, Round: s.Round, Episode: s.Episode, Transition: s.Transition})
		rec.FHistory = append(rec.FHistory, ToModeMatrices(s.F))
		rec.YHistory = append(rec.YHistory, ToModeMatrices(s.Y))
	}
	return rec
}
