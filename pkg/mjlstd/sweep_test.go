package mjlstd

import (
	"context"
	"errors"
	"strings"
	"testing"

	"mjlstd/internal/model"
	"mjlstd/internal/scenario"
)

func TestClientSweepRunsEveryFactor(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	params := model.Parameters{T: 30, L: 1, K: 1, C: 0.5, Epsilon: 1e-9, Seed: 2}
	summaries, err := client.Sweep(ctx, SweepRequest{
		Base:    RunRequest{RunID: "sweep", Scenario: "scalar", Engines: []string{"online"}, Parameters: &params},
		Factors: []float64{1, 2, 4},
		Workers: 3,
	})
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("expected three summaries, got %d", len(summaries))
	}
	want := []string{"sweep-D1", "sweep-D2", "sweep-D4"}
	prevX := 0.0
	for i, s := range summaries {
		if s.RunID != want[i] {
			t.Fatalf("summary %d: run id %s want %s", i, s.RunID, want[i])
		}
		// A dearer control makes the optimal cost-to-go larger.
		x := s.Riccati.X[0][0][0]
		if x <= prevX {
			t.Fatalf("expected X to grow with the control cost factor: %v after %v", x, prevX)
		}
		prevX = x
	}

	runs, err := client.Runs(ctx, RunsRequest{})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected three stored runs, got %d", len(runs))
	}

	if _, err := client.Sweep(ctx, SweepRequest{Base: RunRequest{Scenario: "scalar"}}); err == nil {
		t.Fatal("expected missing factors error")
	}
	if _, err := client.Sweep(ctx, SweepRequest{Base: RunRequest{Scenario: "scalar"}, Factors: []float64{-1}}); err == nil {
		t.Fatal("expected invalid factor error")
	}
}

func TestClientSweepReportsLowestFailingFactor(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	_, err := client.Sweep(ctx, SweepRequest{
		Base:    RunRequest{Scenario: "no-such-scenario"},
		Factors: []float64{3, 1, 2},
		Workers: 1,
	})
	if !errors.Is(err, scenario.ErrUnknownScenario) {
		t.Fatalf("expected ErrUnknownScenario, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "factor 3:") {
		t.Fatalf("expected the first factor to be reported, got %v", err)
	}
	runs, err := client.Runs(ctx, RunsRequest{})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected no stored runs, got %d", len(runs))
	}
}

func TestClientSweepHonoursCancellation(t *testing.T) {
	client, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	params := model.Parameters{T: 10, L: 1, K: 1, C: 0.5, Epsilon: 1e-9}
	_, err := client.Sweep(ctx, SweepRequest{
		Base:    RunRequest{Scenario: "scalar", Engines: []string{"online"}, Parameters: &params},
		Factors: []float64{1, 2},
		Workers: 2,
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
