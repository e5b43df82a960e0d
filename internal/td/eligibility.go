package td

// eligibilityEpisode is backward-view TD(λ): every transition bumps the
// current mode's trace, spreads the TD error to all modes through their
// traces and then decays the traces through the successor's closed loop.
func (l *learner) eligibilityEpisode(round, episode int) error {
	tr := newTraces(l.sys.N(), l.sys.StateDim())

	mode := l.initialMode()
	for t := 0; t < l.params.T; t++ {
		next := l.nextMode(mode)
		tr.visit(mode)

		d := l.tdError(mode, next)
		gamma := l.stepSize()
		for m := range l.y {
			if tr.active[m] {
				l.apply(m, gamma, tr.propagate(m, d))
			}
		}
		tr.decay(l.params.Lambda, l.transport[next])

		if err := l.record(round, episode, t); err != nil {
			return err
		}
		mode = next
	}
	return nil
}
