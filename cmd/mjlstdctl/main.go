package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"mjlstd/internal/model"
	"mjlstd/internal/stability"
	"mjlstd/internal/stats"
	"mjlstd/internal/td"
	"mjlstd/pkg/mjlstd"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}
	if err := loadDotEnv(".env"); err != nil {
		return err
	}

	switch args[0] {
	case "scenarios":
		return runScenarios(ctx, args[1:])
	case "riccati":
		return runRiccati(ctx, args[1:])
	case "check":
		return runCheck(ctx, args[1:])
	case "run":
		return runRun(ctx, args[1:])
	case "sweep":
		return runSweep(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "show":
		return runShow(ctx, args[1:])
	case "history":
		return runHistory(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runScenarios(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("scenarios", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "emit scenarios as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := mjlstd.New(mjlstd.Options{StoreKind: "memory"})
	if err != nil {
		return err
	}
	defer client.Close()

	items := client.Scenarios()
	if *jsonOut {
		type scenarioItem struct {
			Name        string           `json:"name"`
			Description string           `json:"description"`
			Modes       int              `json:"modes"`
			StateDim    int              `json:"state_dim"`
			ControlDim  int              `json:"control_dim"`
			Parameters  model.Parameters `json:"parameters"`
		}
		out := make([]scenarioItem, 0, len(items))
		for _, item := range items {
			out = append(out, scenarioItem(item))
		}
		return writeJSON(out)
	}
	for _, item := range items {
		p := item.Parameters
		fmt.Printf("scenario=%s modes=%d n=%d m=%d T=%d L=%d K=%d lambda=%g c=%g eta=%g description=%q\n",
			item.Name, item.Modes, item.StateDim, item.ControlDim, p.T, p.L, p.K, p.Lambda, p.C, p.Eta, item.Description)
	}
	return nil
}

func runRiccati(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("riccati", flag.ContinueOnError)
	scenarioName := fs.String("scenario", defaultScenario, "scenario name")
	factor := fs.Float64("factor", 1, "control cost factor applied to D")
	epsilon := fs.Float64("epsilon", 1e-6, "convergence threshold on max |X' - X|")
	maxIter := fs.Int("max-iter", 0, "iteration cap (0 uses the solver default)")
	logLevel := fs.String("log-level", "warn", "log level: debug|info|warn|error")
	jsonOut := fs.Bool("json", false, "emit result as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	logger, err := newLogger(*logLevel)
	if err != nil {
		return err
	}

	client, err := mjlstd.New(mjlstd.Options{StoreKind: "memory", Logger: logger})
	if err != nil {
		return err
	}
	defer client.Close()

	res, err := client.Riccati(ctx, mjlstd.RiccatiRequest{
		Scenario:          *scenarioName,
		ControlCostFactor: *factor,
		Epsilon:           *epsilon,
		MaxIterations:     *maxIter,
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(model.RiccatiRecord{
			F:          res.F,
			X:          res.X,
			Expected:   res.Expected,
			Converged:  res.Converged,
			Iterations: res.Iterations,
			Residual:   res.Residual,
		})
	}
	fmt.Printf("scenario=%s converged=%t iterations=%d residual=%g\n", res.Scenario, res.Converged, res.Iterations, res.Residual)
	for i := range res.F {
		fmt.Printf("mode=%d F=%v X=%v\n", i, res.F[i], res.X[i])
	}
	return nil
}

func runCheck(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	scenarioName := fs.String("scenario", defaultScenario, "scenario name")
	factor := fs.Float64("factor", 1, "control cost factor applied to D")
	lambda := fs.Float64("lambda", 0, "trace decay to test (defaults to the scenario's)")
	gainPath := fs.String("gain", "", "optional JSON file with F as [mode][row][col] (defaults to the Riccati gain)")
	jsonOut := fs.Bool("json", false, "emit report as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	logger, err := newLogger("warn")
	if err != nil {
		return err
	}
	client, err := mjlstd.New(mjlstd.Options{StoreKind: "memory", Logger: logger})
	if err != nil {
		return err
	}
	defer client.Close()

	req := mjlstd.CheckRequest{Scenario: *scenarioName, ControlCostFactor: *factor, Lambda: *lambda}
	if !setFlags["lambda"] {
		params, err := mjlstd.ScenarioParameters(*scenarioName)
		if err != nil {
			return err
		}
		req.Lambda = params.Lambda
	}
	if *gainPath != "" {
		data, err := os.ReadFile(*gainPath)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &req.Gain); err != nil {
			return fmt.Errorf("decode gain: %w", err)
		}
	}

	report, err := client.Check(ctx, req)
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(reportJSON(report))
	}
	fmt.Printf("stabilizable=%t convergent=%t spectral_radius=%g v_max=%g lambda=%g\n",
		report.Stabilizable, report.Convergent, report.SpectralRadius, report.VMax, report.Lambda)
	for _, w := range report.Warnings {
		fmt.Printf("warning=%q\n", w)
	}
	return nil
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional run config JSON path")
	runID := fs.String("run-id", "", "explicit run id (optional)")
	scenarioName := fs.String("scenario", defaultScenario, "scenario name")
	factor := fs.Float64("factor", 1, "control cost factor applied to D")
	engines := fs.String("engines", "", "comma separated engines: offline|online|eligibility (default all)")
	trajectory := fs.Int("T", 0, "transitions per episode (default from scenario)")
	episodes := fs.Int("L", 0, "episodes per round (default from scenario)")
	rounds := fs.Int("K", 0, "policy improvement rounds (default from scenario)")
	lambda := fs.Float64("lambda", 0, "eligibility trace decay in [0,1)")
	stepC := fs.Float64("c", 0, "step size constant")
	epsilon := fs.Float64("epsilon", 0, "riccati convergence threshold")
	eta := fs.Float64("eta", 0, "step size decay exponent")
	seed := fs.Int64("seed", 0, "rng seed")
	historyStride := fs.Int("history-stride", 0, "keep every n-th history snapshot (0 keeps all)")
	riccatiEpsilon := fs.Float64("riccati-epsilon", 0, "override the riccati threshold (default epsilon)")
	riccatiMaxIter := fs.Int("riccati-max-iter", 0, "riccati iteration cap (0 uses the solver default)")
	storeKind := fs.String("store", defaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPathValue(), "sqlite database path")
	artifactsDir := fs.String("artifacts-dir", defaultArtifactsDirValue(), "directory for run artifacts")
	logLevel := fs.String("log-level", "info", "log level: debug|info|warn|error")
	jsonOut := fs.Bool("json", false, "emit run summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	req, err := loadOrDefaultRunRequest(*configPath, *scenarioName)
	if err != nil {
		return err
	}
	if err := overrideFromFlags(&req, setFlags, map[string]any{
		"run-id":           *runID,
		"scenario":         *scenarioName,
		"factor":           *factor,
		"engines":          *engines,
		"T":                *trajectory,
		"L":                *episodes,
		"K":                *rounds,
		"lambda":           *lambda,
		"c":                *stepC,
		"epsilon":          *epsilon,
		"eta":              *eta,
		"seed":             *seed,
		"history-stride":   *historyStride,
		"riccati-epsilon":  *riccatiEpsilon,
		"riccati-max-iter": *riccatiMaxIter,
	}); err != nil {
		return err
	}

	logger, err := newLogger(*logLevel)
	if err != nil {
		return err
	}
	client, err := mjlstd.New(mjlstd.Options{
		StoreKind:    *storeKind,
		DBPath:       *dbPath,
		ArtifactsDir: *artifactsDir,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	summary, err := client.Run(ctx, req)
	if err != nil {
		return err
	}

	if *jsonOut {
		type engineItem struct {
			Engine    string             `json:"engine"`
			Updates   int                `json:"updates"`
			Snapshots int                `json:"snapshots"`
			DeltaF    *float64           `json:"delta_F,omitempty"`
			DeltaY    *float64           `json:"delta_Y,omitempty"`
			F         model.ModeMatrices `json:"F"`
			Y         model.ModeMatrices `json:"Y"`
		}
		type runItem struct {
			RunID        string              `json:"run_id"`
			ArtifactsDir string              `json:"artifacts_dir"`
			Scenario     string              `json:"scenario"`
			Parameters   model.Parameters    `json:"parameters"`
			Riccati      model.RiccatiRecord `json:"riccati"`
			Stability    stabilityReportJSON `json:"stability"`
			Engines      []engineItem        `json:"engines"`
		}
		out := runItem{
			RunID:        summary.RunID,
			ArtifactsDir: summary.ArtifactsDir,
			Scenario:     summary.Scenario,
			Parameters:   summary.Parameters,
			Riccati: model.RiccatiRecord{
				F:          summary.Riccati.F,
				X:          summary.Riccati.X,
				Expected:   summary.Riccati.Expected,
				Converged:  summary.Riccati.Converged,
				Iterations: summary.Riccati.Iterations,
				Residual:   summary.Riccati.Residual,
			},
			Stability: reportJSON(summary.Stability),
		}
		for _, e := range summary.Engines {
			out.Engines = append(out.Engines, engineItem{
				Engine:    e.Engine,
				Updates:   e.Updates,
				Snapshots: e.Snapshots,
				DeltaF:    finiteOrNil(e.DeltaF),
				DeltaY:    finiteOrNil(e.DeltaY),
				F:         e.F,
				Y:         e.Y,
			})
		}
		return writeJSON(out)
	}

	fmt.Printf("run_id=%s scenario=%s artifacts=%s riccati_converged=%t riccati_iterations=%d stabilizable=%t convergent=%t\n",
		summary.RunID,
		summary.Scenario,
		summary.ArtifactsDir,
		summary.Riccati.Converged,
		summary.Riccati.Iterations,
		summary.Stability.Stabilizable,
		summary.Stability.Convergent,
	)
	for _, e := range summary.Engines {
		fmt.Printf("engine=%s updates=%d snapshots=%d delta_F=%.6f delta_Y=%.6f\n", e.Engine, e.Updates, e.Snapshots, e.DeltaF, e.DeltaY)
	}
	return nil
}

func runRuns(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	artifactsDir := fs.String("artifacts-dir", defaultArtifactsDirValue(), "directory for run artifacts")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	entries, err := stats.ListRunIndex(*artifactsDir)
	if err != nil {
		return err
	}
	if len(entries) > *limit {
		entries = entries[:*limit]
	}
	if *jsonOut {
		return writeJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("run_id=%s created_at=%s scenario=%s engines=%s seed=%d riccati_converged=%t stabilizable=%t convergent=%t\n",
			e.RunID,
			e.CreatedAtUTC,
			e.Scenario,
			strings.Join(e.Engines, ","),
			e.Seed,
			e.RiccatiConverged,
			e.Stabilizable,
			e.Convergent,
		)
	}
	return nil
}

func runShow(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id to show")
	latest := fs.Bool("latest", false, "show the newest run")
	storeKind := fs.String("store", defaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPathValue(), "sqlite database path")
	jsonOut := fs.Bool("json", false, "emit the full run record as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := mjlstd.New(mjlstd.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer client.Close()

	record, err := client.Show(ctx, mjlstd.ShowRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(record)
	}
	p := record.Parameters
	fmt.Printf("run_id=%s created_at=%s scenario=%s factor=%g T=%d L=%d K=%d lambda=%g c=%g eta=%g seed=%d\n",
		record.ID, record.CreatedAtUTC, record.Scenario, record.ControlCostFactor, p.T, p.L, p.K, p.Lambda, p.C, p.Eta, p.Seed)
	fmt.Printf("riccati converged=%t iterations=%d residual=%g\n", record.Riccati.Converged, record.Riccati.Iterations, record.Riccati.Residual)
	fmt.Printf("stability stabilizable=%t convergent=%t spectral_radius=%g\n",
		record.Stability.Stabilizable, record.Stability.Convergent, record.Stability.SpectralRadius)
	for _, e := range record.Engines {
		fmt.Printf("engine=%s snapshots=%d F=%v Y=%v\n", e.Engine, len(e.Steps), e.F, e.Y)
	}
	return nil
}

func runHistory(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the newest run in the artifacts index")
	engine := fs.String("engine", string(td.Offline), "engine: offline|online|eligibility")
	kind := fs.String("kind", "Y", "series kind: Y|F")
	mode := fs.Int("mode", 0, "mode index")
	row := fs.Int("row", 0, "row index")
	col := fs.Int("col", 0, "column index")
	limit := fs.Int("limit", 0, "max points to print (0 prints all)")
	artifactsDir := fs.String("artifacts-dir", defaultArtifactsDirValue(), "directory for run artifacts")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either run id or latest")
	}
	if *kind != "Y" && *kind != "F" {
		return fmt.Errorf("unsupported history kind: %s", *kind)
	}
	name, err := td.ParseEngine(*engine)
	if err != nil {
		return err
	}

	id := *runID
	if *latest {
		entries, err := stats.ListRunIndex(*artifactsDir)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return errors.New("no runs available")
		}
		id = entries[0].RunID
	}
	if id == "" {
		return errors.New("history requires run id or latest")
	}

	points, err := stats.ReadHistoryCSV(filepath.Join(*artifactsDir, id, string(name)+"_history.csv"), *kind, *mode, *row, *col)
	if err != nil {
		return err
	}
	if *limit > 0 && len(points) > *limit {
		points = points[:*limit]
	}
	for _, p := range points {
		fmt.Printf("step=%d round=%d episode=%d transition=%d value=%g\n", p.Step, p.Tag.Round, p.Tag.Episode, p.Tag.Transition, p.Value)
	}
	return nil
}

type stabilityReportJSON struct {
	Lambda         float64  `json:"lambda"`
	SpectralRadius float64  `json:"spectral_radius"`
	VMax           *float64 `json:"v_max,omitempty"`
	Stabilizable   bool     `json:"stabilizable"`
	Convergent     bool     `json:"convergent"`
	Warnings       []string `json:"warnings,omitempty"`
}

func reportJSON(r stability.Report) stabilityReportJSON {
	return stabilityReportJSON{
		Lambda:         r.Lambda,
		SpectralRadius: r.SpectralRadius,
		VMax:           finiteOrNil(r.VMax),
		Stabilizable:   r.Stabilizable,
		Convergent:     r.Convergent,
		Warnings:       r.Warnings,
	}
}

func finiteOrNil(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

func writeJSON(value any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: mjlstdctl <scenarios|riccati|check|run|sweep|runs|show|history> [flags]", msg)
}
