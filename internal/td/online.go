package td

// onlineEpisode applies Y_i += γ_k d after every transition i -> j.
func (l *learner) onlineEpisode(round, episode int) error {
	mode := l.initialMode()
	for t := 0; t < l.params.T; t++ {
		next := l.nextMode(mode)
		d := l.tdError(mode, next)
		l.apply(mode, l.stepSize(), d)
		if err := l.record(round, episode, t); err != nil {
			return err
		}
		mode = next
	}
	return nil
}
