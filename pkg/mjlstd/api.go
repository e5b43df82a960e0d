// Package mjlstd runs TD(λ) learning experiments on Markov jump linear
// systems and keeps their results.
package mjlstd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"mjlstd/internal/lqr"
	"mjlstd/internal/model"
	"mjlstd/internal/riccati"
	"mjlstd/internal/scenario"
	"mjlstd/internal/stability"
	"mjlstd/internal/stats"
	"mjlstd/internal/storage"
	"mjlstd/internal/td"
)

const (
	defaultArtifactsDir = "runs"
	defaultDBPath       = "mjlstd.db"
	defaultScenario     = "samuelson"
	defaultRunsLimit    = 20
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	Logger       *slog.Logger
}

type Client struct {
	store        storage.Store
	artifactsDir string
	logger       *slog.Logger

	initMu      sync.Mutex
	initialized bool

	// persistMu serialises run index rewrites between concurrent runs.
	persistMu sync.Mutex
}

type ScenarioItem struct {
	Name        string
	Description string
	Modes       int
	StateDim    int
	ControlDim  int
	Parameters  model.Parameters
}

type RunRequest struct {
	RunID             string
	Scenario          string
	ControlCostFactor float64
	// Engines defaults to all of td.Engines().
	Engines []string
	// Parameters defaults to the scenario's parameter set.
	Parameters     *model.Parameters
	HistoryStride  int
	RiccatiEpsilon float64
	RiccatiMaxIter int
}

type EngineSummary struct {
	Engine    string
	Updates   int
	Snapshots int
	F         model.ModeMatrices
	Y         model.ModeMatrices
	// Mean relative errors in percent of the final estimate against F* and E(X*).
	DeltaF float64
	DeltaY float64
}

type RunSummary struct {
	RunID        string
	ArtifactsDir string
	Scenario     string
	Parameters   model.Parameters
	Riccati      RiccatiSummary
	Stability    stability.Report
	Engines      []EngineSummary
}

type RiccatiRequest struct {
	Scenario          string
	ControlCostFactor float64
	Epsilon           float64
	MaxIterations     int
}

type RiccatiSummary struct {
	Scenario   string
	Converged  bool
	Iterations int
	Residual   float64
	F          model.ModeMatrices
	X          model.ModeMatrices
	Expected   model.ModeMatrices
}

type CheckRequest struct {
	Scenario          string
	ControlCostFactor float64
	Lambda            float64
	// Gain defaults to the Riccati gain of the scenario.
	Gain model.ModeMatrices
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID            string
	CreatedAtUTC     string
	Scenario         string
	Engines          []string
	Seed             int64
	RiccatiConverged bool
	Stabilizable     bool
	Convergent       bool
}

type ShowRequest struct {
	RunID  string
	Latest bool
}

type HistoryRequest struct {
	RunID  string
	Latest bool
	Engine string
	// Kind is one of Y, F, delta_Y, delta_F, mean_delta_Y or mean_delta_F.
	Kind  string
	Mode  int
	Row   int
	Col   int
	Limit int
}

type HistoryPoint struct {
	Step       int
	Round      int
	Episode    int
	Transition int
	Value      float64
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:        store,
		artifactsDir: artifactsDir,
		logger:       logger,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.ensureStore(ctx)
}

func (c *Client) Scenarios() []ScenarioItem {
	names := scenario.Names()
	out := make([]ScenarioItem, 0, len(names))
	for _, name := range names {
		spec, err := scenario.Get(name)
		if err != nil {
			continue
		}
		item := ScenarioItem{Name: spec.Name, Description: spec.Description, Parameters: spec.Parameters}
		if sys, err := spec.Build(1); err == nil {
			item.Modes, item.StateDim, item.ControlDim = sys.N(), sys.StateDim(), sys.ControlDim()
		}
		out = append(out, item)
	}
	return out
}

// ScenarioParameters returns the default parameter set of a scenario.
func ScenarioParameters(name string) (model.Parameters, error) {
	if name == "" {
		name = defaultScenario
	}
	spec, err := scenario.Get(name)
	if err != nil {
		return model.Parameters{}, err
	}
	return spec.Parameters, nil
}

func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if req.Scenario == "" {
		req.Scenario = defaultScenario
	}
	if req.ControlCostFactor == 0 {
		req.ControlCostFactor = 1
	}
	spec, err := scenario.Get(req.Scenario)
	if err != nil {
		return RunSummary{}, err
	}
	params := spec.Parameters
	if req.Parameters != nil {
		params = *req.Parameters
	}
	if err := params.Validate(); err != nil {
		return RunSummary{}, err
	}
	engines, err := parseEngines(req.Engines)
	if err != nil {
		return RunSummary{}, err
	}
	if err := c.ensureStore(ctx); err != nil {
		return RunSummary{}, err
	}
	sys, err := spec.Build(req.ControlCostFactor)
	if err != nil {
		return RunSummary{}, err
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := c.logger.With(slog.String("run_id", runID), slog.String("scenario", spec.Name))

	epsilon := req.RiccatiEpsilon
	if epsilon == 0 {
		epsilon = params.Epsilon
	}
	ric, err := riccati.Solve(ctx, sys, riccati.Options{Epsilon: epsilon, MaxIterations: req.RiccatiMaxIter, Logger: logger})
	if err != nil {
		return RunSummary{}, fmt.Errorf("riccati: %w", err)
	}
	report, err := stability.Check(sys, ric.Estimate.F, params.Lambda, stability.Options{Logger: logger})
	if err != nil {
		return RunSummary{}, fmt.Errorf("stability: %w", err)
	}

	record := model.RunRecord{
		ID:                runID,
		Scenario:          spec.Name,
		ControlCostFactor: req.ControlCostFactor,
		Parameters:        params,
		CreatedAtUTC:      time.Now().UTC().Format(time.RFC3339Nano),
		Riccati:           newRiccatiRecord(sys, ric),
		Stability:         newStabilityRecord(report),
	}

	initial := &model.Estimate{F: ric.Estimate.F}
	summaries := make([]EngineSummary, 0, len(engines))
	for _, engine := range engines {
		res, err := td.Run(ctx, engine, sys, initial, params, td.Options{HistoryStride: req.HistoryStride, Logger: logger})
		if err != nil {
			return RunSummary{}, err
		}
		engineRecord := model.NewEngineRecord(string(engine), res.Estimate, res.History)
		record.Engines = append(record.Engines, engineRecord)

		summary := EngineSummary{
			Engine:    string(engine),
			Updates:   res.Updates,
			Snapshots: res.History.Len(),
			F:         engineRecord.F,
			Y:         engineRecord.Y,
		}
		if summary.DeltaF, err = stats.MeanAbsRelative(record.Riccati.F, engineRecord.F); err != nil {
			return RunSummary{}, err
		}
		if summary.DeltaY, err = stats.MeanAbsRelative(record.Riccati.Expected, engineRecord.Y); err != nil {
			return RunSummary{}, err
		}
		logger.Info("engine finished",
			slog.String("engine", summary.Engine),
			slog.Int("updates", summary.Updates),
			slog.Float64("delta_F", summary.DeltaF),
			slog.Float64("delta_Y", summary.DeltaY),
		)
		summaries = append(summaries, summary)
	}

	runDir, err := c.persist(ctx, record)
	if err != nil {
		return RunSummary{}, err
	}

	return RunSummary{
		RunID:        runID,
		ArtifactsDir: filepath.Clean(runDir),
		Scenario:     spec.Name,
		Parameters:   params,
		Riccati:      newRiccatiSummary(spec.Name, record.Riccati),
		Stability:    report,
		Engines:      summaries,
	}, nil
}

func (c *Client) Riccati(ctx context.Context, req RiccatiRequest) (RiccatiSummary, error) {
	if req.Scenario == "" {
		req.Scenario = defaultScenario
	}
	spec, err := scenario.Get(req.Scenario)
	if err != nil {
		return RiccatiSummary{}, err
	}
	sys, err := spec.Build(req.ControlCostFactor)
	if err != nil {
		return RiccatiSummary{}, err
	}
	res, err := riccati.Solve(ctx, sys, riccati.Options{Epsilon: req.Epsilon, MaxIterations: req.MaxIterations, Logger: c.logger})
	if err != nil {
		return RiccatiSummary{}, err
	}
	return newRiccatiSummary(spec.Name, newRiccatiRecord(sys, res)), nil
}

func (c *Client) Check(ctx context.Context, req CheckRequest) (stability.Report, error) {
	if req.Scenario == "" {
		req.Scenario = defaultScenario
	}
	spec, err := scenario.Get(req.Scenario)
	if err != nil {
		return stability.Report{}, err
	}
	sys, err := spec.Build(req.ControlCostFactor)
	if err != nil {
		return stability.Report{}, err
	}
	gain, err := req.Gain.Dense()
	if err != nil {
		return stability.Report{}, fmt.Errorf("gain: %w", err)
	}
	if gain == nil {
		res, err := riccati.Solve(ctx, sys, riccati.Options{Logger: c.logger})
		if err != nil {
			return stability.Report{}, err
		}
		gain = res.Estimate.F
	}
	return stability.Check(sys, gain, req.Lambda, stability.Options{Logger: c.logger})
}

func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = defaultRunsLimit
	}
	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}
	runs, err := c.store.ListRuns(ctx, req.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]RunItem, 0, len(runs))
	for _, run := range runs {
		entry := stats.NewRunIndexEntry(run)
		out = append(out, RunItem{
			RunID:            entry.RunID,
			CreatedAtUTC:     entry.CreatedAtUTC,
			Scenario:         entry.Scenario,
			Engines:          entry.Engines,
			Seed:             entry.Seed,
			RiccatiConverged: entry.RiccatiConverged,
			Stabilizable:     entry.Stabilizable,
			Convergent:       entry.Convergent,
		})
	}
	return out, nil
}

func (c *Client) Show(ctx context.Context, req ShowRequest) (model.RunRecord, error) {
	if req.RunID != "" && req.Latest {
		return model.RunRecord{}, errors.New("use either run id or latest")
	}
	if err := c.ensureStore(ctx); err != nil {
		return model.RunRecord{}, err
	}
	runID := req.RunID
	if req.Latest {
		runs, err := c.store.ListRuns(ctx, 1)
		if err != nil {
			return model.RunRecord{}, err
		}
		if len(runs) == 0 {
			return model.RunRecord{}, errors.New("no runs available")
		}
		runID = runs[0].ID
	}
	if runID == "" {
		return model.RunRecord{}, errors.New("show requires run id or latest")
	}
	run, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return model.RunRecord{}, err
	}
	if !ok {
		return model.RunRecord{}, fmt.Errorf("run not found: %s", runID)
	}
	return run, nil
}

func (c *Client) History(ctx context.Context, req HistoryRequest) ([]HistoryPoint, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	run, err := c.Show(ctx, ShowRequest{RunID: req.RunID, Latest: req.Latest})
	if err != nil {
		return nil, err
	}
	name := req.Engine
	if name == "" {
		name = string(td.Offline)
	}
	engine, err := td.ParseEngine(name)
	if err != nil {
		return nil, err
	}
	rec, ok := run.Engine(string(engine))
	if !ok {
		return nil, fmt.Errorf("run %s has no %s history", run.ID, engine)
	}
	if req.Kind == "" {
		req.Kind = "Y"
	}

	out := make([]HistoryPoint, 0, len(rec.Steps))
	for k, tag := range rec.Steps {
		value, err := historyValue(run.Riccati, rec.FHistory[k], rec.YHistory[k], req)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", k, err)
		}
		out = append(out, HistoryPoint{
			Step:       tag.Update,
			Round:      tag.Round,
			Episode:    tag.Episode,
			Transition: tag.Transition,
			Value:      value,
		})
		if req.Limit > 0 && len(out) == req.Limit {
			break
		}
	}
	return out, nil
}

func historyValue(ref model.RiccatiRecord, f, y model.ModeMatrices, req HistoryRequest) (float64, error) {
	var (
		values model.ModeMatrices
		err    error
	)
	switch req.Kind {
	case "Y":
		values = y
	case "F":
		values = f
	case "delta_Y":
		values, err = stats.RelativeDelta(ref.Expected, y)
	case "delta_F":
		values, err = stats.RelativeDelta(ref.F, f)
	case "mean_delta_Y":
		return stats.MeanAbsRelative(ref.Expected, y)
	case "mean_delta_F":
		return stats.MeanAbsRelative(ref.F, f)
	default:
		return 0, fmt.Errorf("unsupported history kind: %s", req.Kind)
	}
	if err != nil {
		return 0, err
	}
	if req.Mode < 0 || req.Mode >= len(values) ||
		req.Row < 0 || req.Row >= len(values[req.Mode]) ||
		req.Col < 0 || req.Col >= len(values[req.Mode][req.Row]) {
		return 0, fmt.Errorf("entry (%d,%d,%d) out of range", req.Mode, req.Row, req.Col)
	}
	return values[req.Mode][req.Row][req.Col], nil
}

func (c *Client) persist(ctx context.Context, record model.RunRecord) (string, error) {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	if err := c.store.SaveRun(ctx, record); err != nil {
		return "", err
	}
	runDir, err := stats.WriteRunArtifacts(c.artifactsDir, stats.NewRunArtifacts(record))
	if err != nil {
		return "", err
	}
	if err := stats.AppendRunIndex(c.artifactsDir, stats.NewRunIndexEntry(record)); err != nil {
		return "", err
	}
	return runDir, nil
}

func (c *Client) ensureStore(ctx context.Context) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

func parseEngines(names []string) ([]td.Engine, error) {
	if len(names) == 0 {
		return td.Engines(), nil
	}
	out := make([]td.Engine, 0, len(names))
	seen := make(map[td.Engine]bool, len(names))
	for _, name := range names {
		engine, err := td.ParseEngine(name)
		if err != nil {
			return nil, err
		}
		if seen[engine] {
			continue
		}
		seen[engine] = true
		out = append(out, engine)
	}
	return out, nil
}

func newRiccatiRecord(sys *model.System, res riccati.Result) model.RiccatiRecord {
	return model.RiccatiRecord{
		F:          model.ToModeMatrices(res.Estimate.F),
		X:          model.ToModeMatrices(res.Estimate.X),
		Expected:   model.ToModeMatrices(lqr.Expectation(sys, res.Estimate.X)),
		Converged:  res.Converged,
		Iterations: res.Iterations,
		Residual:   res.Residual,
	}
}

func newRiccatiSummary(name string, rec model.RiccatiRecord) RiccatiSummary {
	return RiccatiSummary{
		Scenario:   name,
		Converged:  rec.Converged,
		Iterations: rec.Iterations,
		Residual:   rec.Residual,
		F:          rec.F,
		X:          rec.X,
		Expected:   rec.Expected,
	}
}

// newStabilityRecord drops an infinite v_max, which JSON cannot carry.
func newStabilityRecord(r stability.Report) model.StabilityRecord {
	rec := model.StabilityRecord{
		Lambda:         r.Lambda,
		SpectralRadius: r.SpectralRadius,
		Stabilizable:   r.Stabilizable,
		Convergent:     r.Convergent,
		Warnings:       append([]string(nil), r.Warnings...),
	}
	if !math.IsInf(r.VMax, 0) && !math.IsNaN(r.VMax) {
		v := r.VMax
		rec.VMax = &v
	}
	return rec
}
