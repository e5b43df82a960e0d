package storage

import (
	"context"
	"testing"

	"mjlstd/internal/model"
)

func sampleRun(id, createdAt string) model.RunRecord {
	vmax := 4.5
	return model.RunRecord{
		ID:                id,
		Scenario:          "scalar",
		ControlCostFactor: 1,
		Parameters:        model.Parameters{T: 10, L: 2, K: 1, Lambda: 0.3, C: 0.5, Epsilon: 1e-6, Seed: 1},
		CreatedAtUTC:      createdAt,
		Riccati: model.RiccatiRecord{
			F:          model.ModeMatrices{{{-0.618}}},
			X:          model.ModeMatrices{{{1.618}}},
			Converged:  true,
			Iterations: 30,
		},
		Stability: model.StabilityRecord{Lambda: 0.3, SpectralRadius: 0.146, VMax: &vmax, Stabilizable: true, Convergent: true},
		Engines: []model.EngineRecord{{
			Engine:   "online",
			F:        model.ModeMatrices{{{-0.6}}},
			Y:        model.ModeMatrices{{{1.6}}},
			Steps:    []model.StepTag{{Round: 0, Episode: 0, Transition: 0}},
			FHistory: []model.ModeMatrices{{{{-0.3}}}},
			YHistory: []model.ModeMatrices{{{{0.5}}}},
		}},
	}
}

func TestMemoryStoreRunRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	input := sampleRun("run-1", "2026-01-01T00:00:00Z")
	if err := store.SaveRun(ctx, input); err != nil {
		t.Fatalf("save run: %v", err)
	}
	input.Riccati.X[0][0][0] = 99
	input.Engines[0].YHistory[0][0][0][0] = 99

	output, ok, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if !ok {
		t.Fatal("expected persisted run")
	}
	if output.Riccati.X[0][0][0] != 1.618 || output.Engines[0].YHistory[0][0][0][0] != 0.5 {
		t.Fatalf("store shares memory with the caller: %+v", output)
	}
	if output.SchemaVersion != CurrentSchemaVersion || output.CodecVersion != CurrentCodecVersion {
		t.Fatalf("expected stamped versions, got %+v", output.VersionedRecord)
	}

	output.Stability.Warnings = append(output.Stability.Warnings, "mutated")
	again, _, _ := store.GetRun(ctx, "run-1")
	if len(again.Stability.Warnings) != 0 {
		t.Fatalf("get returned shared warnings: %+v", again.Stability.Warnings)
	}
}

func TestMemoryStoreListNewestFirstAndDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	for _, run := range []model.RunRecord{
		sampleRun("old", "2026-01-01T00:00:00Z"),
		sampleRun("new", "2026-01-03T00:00:00Z"),
		sampleRun("mid", "2026-01-02T00:00:00Z"),
		sampleRun("mid-later", "2026-01-02T00:00:00Z"),
	} {
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("save %s: %v", run.ID, err)
		}
	}

	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	got := make([]string, 0, len(runs))
	for _, run := range runs {
		got = append(got, run.ID)
	}
	want := []string{"new", "mid-later", "mid", "old"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected order: %v", got)
		}
	}

	limited, err := store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 || limited[0].ID != "new" {
		t.Fatalf("unexpected limited list: %+v", limited)
	}

	if err := store.DeleteRun(ctx, "new"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.GetRun(ctx, "new"); ok {
		t.Fatal("expected run to be deleted")
	}
}

func TestMemoryStoreRequiresInitAndID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.SaveRun(ctx, sampleRun("run-1", "")); err == nil {
		t.Fatal("expected uninitialized store error")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := store.SaveRun(ctx, sampleRun("", "")); err == nil {
		t.Fatal("expected missing id error")
	}
}
