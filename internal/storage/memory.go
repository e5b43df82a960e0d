package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"mjlstd/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunRecord
	order       map[string]int
	seq         int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]model.RunRecord)
	s.order = make(map[string]int)
	s.seq = 0
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.New("store is not initialized")
	}
	if run.ID == "" {
		return errors.New("run id is required")
	}
	run.SchemaVersion = CurrentSchemaVersion
	run.CodecVersion = CurrentCodecVersion
	s.runs[run.ID] = cloneRun(run)
	s.seq++
	s.order[run.ID] = s.seq
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return model.RunRecord{}, false, nil
	}
	return cloneRun(run), true, nil
}

func (s *MemoryStore) ListRuns(_ context.Context, limit int) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAtUTC == runs[j].CreatedAtUTC {
			// Prefer later saves for equal timestamps.
			return s.order[runs[i].ID] > s.order[runs[j].ID]
		}
		return runs[i].CreatedAtUTC > runs[j].CreatedAtUTC
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	for i := range runs {
		runs[i] = cloneRun(runs[i])
	}
	return runs, nil
}

func (s *MemoryStore) DeleteRun(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.runs, id)
	delete(s.order, id)
	return nil
}

func cloneRun(run model.RunRecord) model.RunRecord {
	out := run
	out.Riccati.F = cloneModeMatrices(run.Riccati.F)
	out.Riccati.X = cloneModeMatrices(run.Riccati.X)
	out.Riccati.Expected = cloneModeMatrices(run.Riccati.Expected)
	if run.Stability.VMax != nil {
		v := *run.Stability.VMax
		out.Stability.VMax = &v
	}
	out.Stability.Warnings = append([]string(nil), run.Stability.Warnings...)
	if run.Engines != nil {
		out.Engines = make([]model.EngineRecord, len(run.Engines))
		for i, e := range run.Engines {
			copied := model.EngineRecord{
				Engine: e.Engine,
				F:      cloneModeMatrices(e.F),
				Y:      cloneModeMatrices(e.Y),
				Steps:  append([]model.StepTag(nil), e.Steps...),
			}
			for _, f := range e.FHistory {
				copied.FHistory = append(copied.FHistory, cloneModeMatrices(f))
			}
			for _, y := range e.YHistory {
				copied.YHistory = append(copied.YHistory, cloneModeMatrices(y))
			}
			out.Engines[i] = copied
		}
	}
	return out
}

func cloneModeMatrices(in model.ModeMatrices) model.ModeMatrices {
	if in == nil {
		return nil
	}
	out := make(model.ModeMatrices, len(in))
	for i, rows := range in {
		out[i] = make([][]float64, len(rows))
		for r, row := range rows {
			out[i][r] = append([]float64(nil), row...)
		}
	}
	return out
}
