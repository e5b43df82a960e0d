package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"mjlstd/internal/storage"
	"mjlstd/pkg/mjlstd"
)

const (
	envStore        = "MJLSTD_STORE"
	envDBPath       = "MJLSTD_DB_PATH"
	envArtifactsDir = "MJLSTD_ARTIFACTS_DIR"

	defaultDBPath       = "mjlstd.db"
	defaultArtifactsDir = "runs"
	defaultScenario     = "samuelson"
)

// loadDotEnv exports the variables of path that are not already set. A
// missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func defaultStoreKind() string {
	return envOr(envStore, storage.DefaultStoreKind())
}

func defaultDBPathValue() string {
	return envOr(envDBPath, defaultDBPath)
}

func defaultArtifactsDirValue() string {
	return envOr(envArtifactsDir, defaultArtifactsDir)
}

// defaultRunRequest starts from the scenario's own parameter set.
func defaultRunRequest(scenarioName string) (mjlstd.RunRequest, error) {
	if scenarioName == "" {
		scenarioName = defaultScenario
	}
	params, err := mjlstd.ScenarioParameters(scenarioName)
	if err != nil {
		return mjlstd.RunRequest{}, err
	}
	return mjlstd.RunRequest{Scenario: scenarioName, Parameters: &params}, nil
}

func loadRunRequestFromConfig(path string) (mjlstd.RunRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return mjlstd.RunRequest{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return mjlstd.RunRequest{}, err
	}

	scenarioName, _ := asString(raw["scenario"])
	req, err := defaultRunRequest(scenarioName)
	if err != nil {
		return mjlstd.RunRequest{}, err
	}
	params := req.Parameters

	if v, ok := asString(raw["run_id"]); ok {
		req.RunID = v
	}
	if v, ok := asFloat64(raw["control_cost_factor"]); ok {
		req.ControlCostFactor = v
	}
	if v, ok := asStrings(raw["engines"]); ok {
		req.Engines = v
	}
	if v, ok := asInt(raw["history_stride"]); ok {
		req.HistoryStride = v
	}
	if v, ok := asFloat64(raw["riccati_epsilon"]); ok {
		req.RiccatiEpsilon = v
	}
	if v, ok := asInt(raw["riccati_max_iterations"]); ok {
		req.RiccatiMaxIter = v
	}
	if v, ok := asInt(raw["T"]); ok {
		params.T = v
	}
	if v, ok := asInt(raw["L"]); ok {
		params.L = v
	}
	if v, ok := asInt(raw["K"]); ok {
		params.K = v
	}
	if v, ok := asFloat64(raw["lambda"]); ok {
		params.Lambda = v
	}
	if v, ok := asFloat64(raw["c"]); ok {
		params.C = v
	}
	if v, ok := asFloat64(raw["epsilon"]); ok {
		params.Epsilon = v
	}
	if v, ok := asFloat64(raw["eta"]); ok {
		params.Eta = v
	}
	if v, ok := asInt64(raw["seed"]); ok {
		params.Seed = v
	}
	return req, nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asStrings(v any) ([]string, bool) {
	switch x := v.(type) {
	case string:
		return splitList(x), true
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func overrideFromFlags(req *mjlstd.RunRequest, set map[string]bool, flagValue map[string]any) error {
	if req.Parameters == nil {
		return errors.New("run request has no parameters")
	}
	params := req.Parameters
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "run-id":
			req.RunID = v.(string)
		case "scenario":
			req.Scenario = v.(string)
		case "factor":
			req.ControlCostFactor = v.(float64)
		case "engines":
			req.Engines = splitList(v.(string))
		case "history-stride":
			req.HistoryStride = v.(int)
		case "riccati-epsilon":
			req.RiccatiEpsilon = v.(float64)
		case "riccati-max-iter":
			req.RiccatiMaxIter = v.(int)
		case "T":
			params.T = v.(int)
		case "L":
			params.L = v.(int)
		case "K":
			params.K = v.(int)
		case "lambda":
			params.Lambda = v.(float64)
		case "c":
			params.C = v.(float64)
		case "epsilon":
			params.Epsilon = v.(float64)
		case "eta":
			params.Eta = v.(float64)
		case "seed":
			params.Seed = v.(int64)
		}
	}
	if req.Scenario == "" {
		req.Scenario = defaultScenario
	}
	return nil
}

func loadOrDefaultRunRequest(configPath, scenarioName string) (mjlstd.RunRequest, error) {
	if configPath == "" {
		return defaultRunRequest(scenarioName)
	}
	req, err := loadRunRequestFromConfig(configPath)
	if err != nil {
		return mjlstd.RunRequest{}, fmt.Errorf("load config: %w", err)
	}
	return req, nil
}
