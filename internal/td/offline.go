package td

import "gonum.org/v1/gonum/mat"

// offlineEpisode simulates one trajectory with Y frozen and accumulates the
// forward-view λ-return increments
//
//	Δ_i = Σ_t [θ_t = i] Σ_{k≥t} λ^{k-t} Φ_{t,k}' d_k Φ_{t,k}
//
// through the trace recursion, then applies Y_i += γ Δ_i / visits_i.
func (l *learner) offlineEpisode(round, episode int) error {
	n := l.sys.StateDim()
	tr := newTraces(l.sys.N(), n)
	delta := make([]*mat.Dense, l.sys.N())
	for i := range delta {
		delta[i] = mat.NewDense(n, n, nil)
	}
	visits := make([]int, l.sys.N())

	mode := l.initialMode()
	for t := 0; t < l.params.T; t++ {
		next := l.nextMode(mode)
		tr.visit(mode)
		visits[mode]++

		d := l.tdError(mode, next)
		for m := range delta {
			if tr.active[m] {
				delta[m].Add(delta[m], tr.propagate(m, d))
			}
		}
		tr.decay(l.params.Lambda, l.transport[next])
		mode = next
	}

	gamma := l.stepSize()
	for i, count := range visits {
		if count == 0 {
			continue
		}
		l.apply(i, gamma/float64(count), delta[i])
	}
	return l.record(round, episode, l.params.T)
}
