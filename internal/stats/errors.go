package stats

import (
	"fmt"
	"math"

	"mjlstd/internal/model"
)

// RelativeDelta returns 100·|ref-est|/|ref| entry by entry. Entries whose
// reference is zero have no relative error and are reported as NaN.
func RelativeDelta(ref, est model.ModeMatrices) (model.ModeMatrices, error) {
	if err := sameShape(ref, est); err != nil {
		return nil, err
	}
	out := make(model.ModeMatrices, len(ref))
	for i := range ref {
		out[i] = make([][]float64, len(ref[i]))
		for r := range ref[i] {
			out[i][r] = make([]float64, len(ref[i][r]))
			for c, want := range ref[i][r] {
				if want == 0 {
					out[i][r][c] = math.NaN()
					continue
				}
				out[i][r][c] = 100 * math.Abs(want-est[i][r][c]) / math.Abs(want)
			}
		}
	}
	return out, nil
}

// MeanAbsRelative averages RelativeDelta over the entries with a non-zero
// reference. It is NaN when every reference entry is zero.
func MeanAbsRelative(ref, est model.ModeMatrices) (float64, error) {
	delta, err := RelativeDelta(ref, est)
	if err != nil {
		return 0, err
	}
	sum, count := 0.0, 0
	for _, rows := range delta {
		for _, row := range rows {
			for _, v := range row {
				if math.IsNaN(v) {
					continue
				}
				sum += v
				count++
			}
		}
	}
	if count == 0 {
		return math.NaN(), nil
	}
	return sum / float64(count), nil
}

// ErrorPoint is the mean relative error of one history snapshot.
type ErrorPoint struct {
	Step   int
	Tag    model.StepTag
	DeltaF float64
	DeltaY float64
}

// ErrorSeries scores every snapshot of an engine against the Riccati
// reference: F against F* and Y against E(X*).
func ErrorSeries(ref model.RiccatiRecord, engine model.EngineRecord) ([]ErrorPoint, error) {
	if len(engine.FHistory) != len(engine.YHistory) || len(engine.Steps) != len(engine.FHistory) {
		return nil, fmt.Errorf("engine %s: history lengths differ", engine.Engine)
	}
	expected := ref.Expected
	if expected == nil {
		return nil, fmt.Errorf("engine %s: reference E(X) is missing", engine.Engine)
	}
	out := make([]ErrorPoint, 0, len(engine.Steps))
	for k := range engine.Steps {
		df, err := MeanAbsRelative(ref.F, engine.FHistory[k])
		if err != nil {
			return nil, fmt.Errorf("engine %s step %d F: %w", engine.Engine, k, err)
		}
		dy, err := MeanAbsRelative(expected, engine.YHistory[k])
		if err != nil {
			return nil, fmt.Errorf("engine %s step %d Y: %w", engine.Engine, k, err)
		}
		out = append(out, ErrorPoint{Step: engine.Steps[k].Update, Tag: engine.Steps[k], DeltaF: df, DeltaY: dy})
	}
	return out, nil
}

func sameShape(a, b model.ModeMatrices) error {
	if len(a) != len(b) {
		return fmt.Errorf("mode count mismatch: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			return fmt.Errorf("mode %d: row count mismatch: %d vs %d", i, len(a[i]), len(b[i]))
		}
		for r := range a[i] {
			if len(a[i][r]) != len(b[i][r]) {
				return fmt.Errorf("mode %d row %d: column count mismatch: %d vs %d", i, r, len(a[i][r]), len(b[i][r]))
			}
		}
	}
	return nil
}
