//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSQLiteStoreRunRoundTrip(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "mjlstd.db")

	store := NewSQLiteStore(dbPath)
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	first := sampleRun("run-1", "2026-01-01T00:00:00Z")
	second := sampleRun("run-2", "2026-01-02T00:00:00Z")
	if err := store.SaveRun(ctx, first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if err := store.SaveRun(ctx, second); err != nil {
		t.Fatalf("save second: %v", err)
	}

	loaded, ok, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if !ok {
		t.Fatal("expected run-1")
	}
	if loaded.Scenario != "scalar" || len(loaded.Engines) != 1 || loaded.Engines[0].Y[0][0][0] != 1.6 {
		t.Fatalf("unexpected run loaded: %+v", loaded)
	}

	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-2" {
		t.Fatalf("expected newest first, got %+v", runs)
	}

	first.Scenario = "two-mode"
	if err := store.SaveRun(ctx, first); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	loaded, _, err = store.GetRun(ctx, "run-1")
	if err != nil || loaded.Scenario != "two-mode" {
		t.Fatalf("expected upserted scenario, got %+v err=%v", loaded, err)
	}

	if err := store.DeleteRun(ctx, "run-2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, err := store.GetRun(ctx, "run-2"); err != nil || ok {
		t.Fatalf("expected run-2 deleted, ok=%v err=%v", ok, err)
	}
}

func TestSQLiteStoreRequiresInit(t *testing.T) {
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "mjlstd.db"))
	if _, _, err := store.GetRun(context.Background(), "run-1"); err == nil {
		t.Fatal("expected not initialized error")
	}
	if err := NewSQLiteStore("").Init(context.Background()); err == nil {
		t.Fatal("expected missing path error")
	}
}
