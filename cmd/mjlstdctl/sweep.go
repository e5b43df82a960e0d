package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strconv"

	"mjlstd/pkg/mjlstd"
)

func runSweep(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional run config JSON path")
	runID := fs.String("run-id", "", "run id prefix; each run gets -D<factor> appended (optional)")
	scenarioName := fs.String("scenario", defaultScenario, "scenario name")
	factors := fs.String("factors", "1", "comma separated control cost factors")
	workers := fs.Int("workers", 1, "number of runs executed in parallel")
	engines := fs.String("engines", "", "comma separated engines: offline|online|eligibility (default all)")
	trajectory := fs.Int("T", 0, "transitions per episode (default from scenario)")
	episodes := fs.Int("L", 0, "episodes per round (default from scenario)")
	rounds := fs.Int("K", 0, "policy improvement rounds (default from scenario)")
	seed := fs.Int64("seed", 0, "rng seed")
	historyStride := fs.Int("history-stride", 0, "keep every n-th history snapshot (0 keeps all)")
	storeKind := fs.String("store", defaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPathValue(), "sqlite database path")
	artifactsDir := fs.String("artifacts-dir", defaultArtifactsDirValue(), "directory for run artifacts")
	logLevel := fs.String("log-level", "info", "log level: debug|info|warn|error")
	jsonOut := fs.Bool("json", false, "emit sweep summaries as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *workers <= 0 {
		return errors.New("workers must be > 0")
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	factorValues, err := parseFactors(*factors)
	if err != nil {
		return err
	}
	base, err := loadOrDefaultRunRequest(*configPath, *scenarioName)
	if err != nil {
		return err
	}
	if err := overrideFromFlags(&base, setFlags, map[string]any{
		"run-id":         *runID,
		"scenario":       *scenarioName,
		"engines":        *engines,
		"T":              *trajectory,
		"L":              *episodes,
		"K":              *rounds,
		"seed":           *seed,
		"history-stride": *historyStride,
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

	summaries, err := client.Sweep(ctx, mjlstd.SweepRequest{Base: base, Factors: factorValues, Workers: *workers})
	if err != nil {
		return err
	}

	if *jsonOut {
		type engineItem struct {
			Engine string   `json:"engine"`
			DeltaF *float64 `json:"delta_F,omitempty"`
			DeltaY *float64 `json:"delta_Y,omitempty"`
		}
		type sweepItem struct {
			Factor           float64      `json:"control_cost_factor"`
			RunID            string       `json:"run_id"`
			RiccatiConverged bool         `json:"riccati_converged"`
			Stabilizable     bool         `json:"stabilizable"`
			Convergent       bool         `json:"convergent"`
			Engines          []engineItem `json:"engines"`
		}
		out := make([]sweepItem, 0, len(summaries))
		for i, s := range summaries {
			item := sweepItem{
				Factor:           factorValues[i],
				RunID:            s.RunID,
				RiccatiConverged: s.Riccati.Converged,
				Stabilizable:     s.Stability.Stabilizable,
				Convergent:       s.Stability.Convergent,
			}
			for _, e := range s.Engines {
				item.Engines = append(item.Engines, engineItem{Engine: e.Engine, DeltaF: finiteOrNil(e.DeltaF), DeltaY: finiteOrNil(e.DeltaY)})
			}
			out = append(out, item)
		}
		return writeJSON(out)
	}

	for i, s := range summaries {
		fmt.Printf("factor=%g run_id=%s riccati_converged=%t stabilizable=%t convergent=%t\n",
			factorValues[i],
			s.RunID,
			s.Riccati.Converged,
			s.Stability.Stabilizable,
			s.Stability.Convergent,
		)
		for _, e := range s.Engines {
			fmt.Printf("  engine=%s delta_F=%.6f delta_Y=%.6f\n", e.Engine, e.DeltaF, e.DeltaY)
		}
	}
	return nil
}

func parseFactors(s string) ([]float64, error) {
	parts := splitList(s)
	if len(parts) == 0 {
		return nil, errors.New("at least one factor is required")
	}
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid factor %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}
