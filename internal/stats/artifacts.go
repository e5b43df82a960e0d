package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"mjlstd/internal/model"
)

const runIndexFile = "run_index.json"

type RunConfig struct {
	RunID             string           `json:"run_id"`
	Scenario          string           `json:"scenario"`
	ControlCostFactor float64          `json:"control_cost_factor"`
	Parameters        model.Parameters `json:"parameters"`
	Engines           []string         `json:"engines"`
	CreatedAtUTC      string           `json:"created_at_utc"`
}

type RunArtifacts struct {
	Config    RunConfig             `json:"config"`
	Riccati   model.RiccatiRecord   `json:"riccati"`
	Stability model.StabilityRecord `json:"stability"`
	Engines   []model.EngineRecord  `json:"engines"`
}

type RunIndexEntry struct {
	RunID            string   `json:"run_id"`
	Scenario         string   `json:"scenario"`
	Engines          []string `json:"engines"`
	Seed             int64    `json:"seed"`
	RiccatiConverged bool     `json:"riccati_converged"`
	Stabilizable     bool     `json:"stabilizable"`
	Convergent       bool     `json:"convergent"`
	CreatedAtUTC     string   `json:"created_at_utc"`
}

// NewRunArtifacts lays a stored run out for the artifact writer.
func NewRunArtifacts(run model.RunRecord) RunArtifacts {
	engines := make([]string, 0, len(run.Engines))
	for _, e := range run.Engines {
		engines = append(engines, e.Engine)
	}
	return RunArtifacts{
		Config: RunConfig{
			RunID:             run.ID,
			Scenario:          run.Scenario,
			ControlCostFactor: run.ControlCostFactor,
			Parameters:        run.Parameters,
			Engines:           engines,
			CreatedAtUTC:      run.CreatedAtUTC,
		},
		Riccati:   run.Riccati,
		Stability: run.Stability,
		Engines:   run.Engines,
	}
}

// NewRunIndexEntry summarises a stored run for run_index.json.
func NewRunIndexEntry(run model.RunRecord) RunIndexEntry {
	cfg := NewRunArtifacts(run).Config
	return RunIndexEntry{
		RunID:            run.ID,
		Scenario:         run.Scenario,
		Engines:          cfg.Engines,
		Seed:             run.Parameters.Seed,
		RiccatiConverged: run.Riccati.Converged,
		Stabilizable:     run.Stability.Stabilizable,
		Convergent:       run.Stability.Convergent,
		CreatedAtUTC:     run.CreatedAtUTC,
	}
}

// WriteRunArtifacts writes
//
//	<base>/<run_id>/config.json
//	<base>/<run_id>/riccati.json
//	<base>/<run_id>/stability.json
//	<base>/<run_id>/<engine>_history.csv
//	<base>/<run_id>/<engine>_errors.csv
//
// and returns the run directory. Error curves need the Riccati E(X).
func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "riccati.json"), artifacts.Riccati); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "stability.json"), artifacts.Stability); err != nil {
		return "", err
	}
	for _, engine := range artifacts.Engines {
		name := sanitizeFileToken(engine.Engine)
		if err := WriteHistoryCSV(filepath.Join(runDir, name+"_history.csv"), engine); err != nil {
			return "", fmt.Errorf("engine %s history: %w", engine.Engine, err)
		}
		if artifacts.Riccati.Expected == nil {
			continue
		}
		series, err := ErrorSeries(artifacts.Riccati, engine)
		if err != nil {
			return "", err
		}
		if err := WriteErrorsCSV(filepath.Join(runDir, name+"_errors.csv"), series); err != nil {
			return "", fmt.Errorf("engine %s errors: %w", engine.Engine, err)
		}
	}

	return runDir, nil
}

var historyHeader = []string{"step", "round", "episode", "transition", "kind", "mode", "row", "col", "value"}

// WriteHistoryCSV writes one long-format row per matrix entry and snapshot.
// The step column is the snapshot's update count.
func WriteHistoryCSV(path string, engine model.EngineRecord) error {
	if len(engine.FHistory) != len(engine.Steps) || len(engine.YHistory) != len(engine.Steps) {
		return fmt.Errorf("history lengths differ")
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(historyHeader); err != nil {
		return err
	}
	for k, tag := range engine.Steps {
		prefix := []string{strconv.Itoa(tag.Update), strconv.Itoa(tag.Round), strconv.Itoa(tag.Episode), strconv.Itoa(tag.Transition)}
		for _, series := range []struct {
			kind   string
			values model.ModeMatrices
		}{{"Y", engine.YHistory[k]}, {"F", engine.FHistory[k]}} {
			for mode, rows := range series.values {
				for r, row := range rows {
					for c, v := range row {
						record := append(append([]string(nil), prefix...),
							series.kind,
							strconv.Itoa(mode),
							strconv.Itoa(r),
							strconv.Itoa(c),
							strconv.FormatFloat(v, 'g', -1, 64),
						)
						if err := writer.Write(record); err != nil {
							return err
						}
					}
				}
			}
		}
	}
	writer.Flush()
	return writer.Error()
}

// HistoryPoint is one entry of a history series read back from CSV.
type HistoryPoint struct {
	Step  int
	Tag   model.StepTag
	Value float64
}

// ReadHistoryCSV extracts the (kind, mode, row, col) series from a history
// file written by WriteHistoryCSV.
func ReadHistoryCSV(path, kind string, mode, row, col int) ([]HistoryPoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []HistoryPoint{}, nil
		}
		return nil, err
	}
	if len(header) != len(historyHeader) {
		return nil, fmt.Errorf("history header must have %d columns", len(historyHeader))
	}

	points := make([]HistoryPoint, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if record[4] != kind {
			continue
		}
		ints, err := atoiAll(record[:4], record[5:8])
		if err != nil {
			return nil, err
		}
		if ints[4] != mode || ints[5] != row || ints[6] != col {
			continue
		}
		value, err := strconv.ParseFloat(record[8], 64)
		if err != nil {
			return nil, err
		}
		points = append(points, HistoryPoint{
			Step:  ints[0],
			Tag:   model.StepTag{Update: ints[0], Round: ints[1], Episode: ints[2], Transition: ints[3]},
			Value: value,
		})
	}
	return points, nil
}

func WriteErrorsCSV(path string, series []ErrorPoint) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"step", "round", "episode", "transition", "delta_F", "delta_Y"}); err != nil {
		return err
	}
	for _, p := range series {
		if err := writer.Write([]string{
			strconv.Itoa(p.Step),
			strconv.Itoa(p.Tag.Round),
			strconv.Itoa(p.Tag.Episode),
			strconv.Itoa(p.Tag.Transition),
			strconv.FormatFloat(p.DeltaF, 'g', -1, 64),
			strconv.FormatFloat(p.DeltaY, 'g', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	path := filepath.Join(baseDir, runID, "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RunConfig{}, false, nil
		}
		return RunConfig{}, false, err
	}

	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, false, err
	}
	return cfg, true, nil
}

func atoiAll(groups ...[]string) ([]int, error) {
	out := make([]int, 0, 8)
	for _, group := range groups {
		for _, s := range group {
			v, err := strconv.Atoi(s)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
	}
	return out, nil
}

func sanitizeFileToken(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "engine"
	}
	return b.String()
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}
