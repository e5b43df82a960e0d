package model

import "gonum.org/v1/gonum/mat"

// Snapshot is one history entry: a deep copy of the per-mode value and
// gain estimate after an update. Update counts the updates applied so far,
// so it skips values when snapshots are strided.
type Snapshot struct {
	Update     int
	Round      int
	Episode    int
	Transition int
	Y          []*mat.Dense
	F          []*mat.Dense
}

// History is an append-only sequence of snapshots in step order.
type History struct {
	entries []Snapshot
}

func NewHistory(capacity int) *History {
	if capacity < 0 {
		capacity = 0
	}
	return &History{entries: make([]Snapshot, 0, capacity)}
}

// Record copies y and f and appends them as the snapshot taken after
// update updates.
func (h *History) Record(update, round, episode, transition int, y, f []*mat.Dense) {
	h.entries = append(h.entries, Snapshot{
		Update:     update,
		Round:      round,
		Episode:    episode,
		Transition: transition,
		Y:          CloneMatrices(y),
		F:          CloneMatrices(f),
	})
}

func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return len(h.entries)
}

// Snapshots returns the recorded entries. Callers must not modify them.
func (h *History) Snapshots() []Snapshot {
	if h == nil {
		return nil
	}
	return h.entries
}

// Series extracts entry (row, col) of mode's Y (value=true) or F matrix
// across the history.
func (h *History) Series(value bool, mode, row, col int) []float64 {
	out := make([]float64, 0, h.Len())
	for _, s := range h.Snapshots() {
		src := s.F
		if value {
			src = s.Y
		}
		out = append(out, src[mode].At(row, col))
	}
	return out
}
