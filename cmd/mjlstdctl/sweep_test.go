package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"mjlstd/internal/stats"
)

func TestSweepCommandRunsEachFactor(t *testing.T) {
	workdir := chdirTemp(t)
	artifactsDir := filepath.Join(workdir, "artifacts")

	out, err := captureStdout(t, func() error {
		return run(context.Background(), []string{
			"sweep",
			"--store", "memory",
			"--artifacts-dir", artifactsDir,
			"--scenario", "scalar",
			"--engines", "online",
			"--factors", "1, 2",
			"--workers", "2",
			"--T", "20",
			"--run-id", "cli-sweep",
			"--log-level", "error",
		})
	})
	if err != nil {
		t.Fatalf("sweep command: %v", err)
	}
	if !strings.Contains(out, "factor=1 run_id=cli-sweep-D1") || !strings.Contains(out, "factor=2 run_id=cli-sweep-D2") {
		t.Fatalf("unexpected sweep output:\n%s", out)
	}

	entries, err := stats.ListRunIndex(artifactsDir)
	if err != nil {
		t.Fatalf("list run index: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected two indexed runs, got %d", len(entries))
	}
}

func TestSweepCommandRejectsBadFactors(t *testing.T) {
	chdirTemp(t)
	if err := run(context.Background(), []string{"sweep", "--store", "memory", "--factors", "1,x"}); err == nil {
		t.Fatal("expected invalid factor error")
	}
	if err := run(context.Background(), []string{"sweep", "--store", "memory", "--workers", "0"}); err == nil {
		t.Fatal("expected workers validation error")
	}
}
