package td

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"mjlstd/internal/lqr"
	"mjlstd/internal/model"
)

// learner is the update core shared by the three engines. It owns Y, the
// behaviour gain and the random stream of a single run.
type learner struct {
	engine Engine
	sys    *model.System
	params model.Parameters
	opts   Options
	logger *slog.Logger
	rng    *rand.Rand

	y []*mat.Dense

	behaviour []*mat.Dense
	loops     []*mat.Dense
	transport []*mat.Dense
	stage     []*mat.Dense

	history  *model.History
	updates  int
	recorded int
	lastTag  [3]int
}

func newLearner(engine Engine, sys *model.System, initial *model.Estimate, params model.Parameters, opts Options) (*learner, error) {
	if sys == nil {
		return nil, fmt.Errorf("%s: system is required", engine)
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", engine, err)
	}
	if initial == nil || initial.F == nil {
		return nil, fmt.Errorf("%s: %w", engine, ErrGainRequired)
	}
	if err := initial.CheckShape(sys, true, false); err != nil {
		return nil, fmt.Errorf("%s: %w", engine, err)
	}
	if opts.HistoryStride < 0 {
		return nil, fmt.Errorf("%s: history stride must be >= 0", engine)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	y := model.ZeroEstimate(sys).X
	if initial.X != nil {
		y = model.CloneMatrices(initial.X)
	}

	l := &learner{
		engine: engine,
		sys:    sys,
		params: params,
		opts:   opts,
		logger: logger.With(slog.String("engine", string(engine))),
		rng:    rand.New(rand.NewSource(params.Seed)),
		y:      y,
	}
	l.history = model.NewHistory(l.expectedSnapshots())
	l.setBehaviour(model.CloneMatrices(initial.F))
	return l, nil
}

func (l *learner) expectedSnapshots() int {
	total := l.params.K * l.params.L
	if l.engine != Offline {
		total *= l.params.T
	}
	if l.opts.HistoryStride > 1 {
		total = total/l.opts.HistoryStride + 1
	}
	const maxPrealloc = 1 << 16
	if total > maxPrealloc {
		return maxPrealloc
	}
	return total
}

func (l *learner) setBehaviour(f []*mat.Dense) {
	l.behaviour = f
	l.loops = lqr.ClosedLoops(l.sys, f)
	l.transport = make([]*mat.Dense, l.sys.N())
	l.stage = make([]*mat.Dense, l.sys.N())
	for i := 0; i < l.sys.N(); i++ {
		l.transport[i] = lqr.Transport(l.loops[i])
		l.stage[i] = lqr.StageCost(l.sys.C(i), l.sys.D(i), f[i])
	}
}

// run drives K rounds of L episodes and improves the behaviour gain between
// rounds.
func (l *learner) run(ctx context.Context, episode func(round, episode int) error) error {
	for round := 0; round < l.params.K; round++ {
		for ep := 0; ep < l.params.L; ep++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := episode(round, ep); err != nil {
				return err
			}
		}
		if round == l.params.K-1 {
			break
		}
		f, err := l.greedy()
		if err != nil {
			return fmt.Errorf("%s: round %d improvement: %w", l.engine, round, err)
		}
		l.setBehaviour(f)
		l.logger.Debug("behaviour gain improved", slog.Int("round", round), slog.Int("updates", l.updates))
	}
	return nil
}

// sample draws an index from the distribution with one uniform variate.
func (l *learner) sample(dist []float64) int {
	u := l.rng.Float64()
	acc := 0.0
	last := 0
	for i, p := range dist {
		if p <= 0 {
			continue
		}
		acc += p
		last = i
		if u < acc {
			return i
		}
	}
	return last
}

func (l *learner) initialMode() int {
	return l.sample(l.sys.InitialDistribution())
}

func (l *learner) nextMode(i int) int {
	return l.sample(mat.Row(nil, i, l.sys.P()))
}

// tdError returns C_j + F_j' D_j F_j + G_j' Y_j G_j - Y_i.
func (l *learner) tdError(i, j int) *mat.Dense {
	d := lqr.Congruence(l.loops[j], l.y[j])
	d.Add(d, l.stage[j])
	d.Sub(d, l.y[i])
	return lqr.Symmetrize(d)
}

// stepSize is c / (k+1)^eta for the k-th update of the run.
func (l *learner) stepSize() float64 {
	gamma := l.params.C / math.Pow(float64(l.updates+1), l.params.Eta)
	l.updates++
	return gamma
}

// apply adds scale*delta to Y_i.
func (l *learner) apply(i int, scale float64, delta mat.Matrix) {
	var step mat.Dense
	step.Scale(scale, delta)
	l.y[i].Add(l.y[i], &step)
	lqr.Symmetrize(l.y[i])
}

func (l *learner) greedy() ([]*mat.Dense, error) {
	return lqr.Gains(l.sys, l.y)
}

// record checks the estimate for blow-up and appends a snapshot according
// to the history stride.
func (l *learner) record(round, episode, transition int) error {
	if mode := lqr.FirstNonFinite(l.y); mode >= 0 {
		return fmt.Errorf("%w: %s round %d episode %d transition %d mode %d", ErrDiverged, l.engine, round, episode, transition, mode)
	}
	l.lastTag = [3]int{round, episode, transition}
	stride := l.opts.HistoryStride
	if stride > 1 && l.updates%stride != 0 {
		return nil
	}
	return l.snapshot()
}

func (l *learner) snapshot() error {
	f, err := l.greedy()
	if err != nil {
		return fmt.Errorf("%s: update %d: %w", l.engine, l.updates, err)
	}
	if mode := lqr.FirstNonFinite(f); mode >= 0 {
		return fmt.Errorf("%w: %s gain at update %d mode %d", ErrDiverged, l.engine, l.updates, mode)
	}
	l.history.Record(l.updates, l.lastTag[0], l.lastTag[1], l.lastTag[2], l.y, f)
	l.recorded = l.updates
	return nil
}

func (l *learner) result() (Result, error) {
	if l.recorded != l.updates {
		if err := l.snapshot(); err != nil {
			return Result{}, err
		}
	}
	f, err := l.greedy()
	if err != nil {
		return Result{}, fmt.Errorf("%s: final gain: %w", l.engine, err)
	}
	l.logger.Debug("td run finished", slog.Int("updates", l.updates), slog.Int("snapshots", l.history.Len()))
	return Result{
		Engine:   l.engine,
		Estimate: &model.Estimate{X: model.CloneMatrices(l.y), F: f},
		History:  l.history,
		Updates:  l.updates,
	}, nil
}

// traces holds one lifted n²×n² eligibility operator per mode. Inactive
// modes are skipped until they are first visited in the episode.
type traces struct {
	z      []*mat.Dense
	active []bool
	size   int
}

func newTraces(modes, n int) *traces {
	t := &traces{
		z:      make([]*mat.Dense, modes),
		active: make([]bool, modes),
		size:   n * n,
	}
	for i := range t.z {
		t.z[i] = mat.NewDense(t.size, t.size, nil)
	}
	return t
}

// visit adds the identity to mode i's trace.
func (t *traces) visit(i int) {
	for k := 0; k < t.size; k++ {
		t.z[i].Set(k, k, t.z[i].At(k, k)+1)
	}
	t.active[i] = true
}

// propagate returns unvec(Z_m vec(d)) for an active mode m.
func (t *traces) propagate(m int, d mat.Matrix) *mat.Dense {
	r, c := d.Dims()
	var lifted mat.VecDense
	lifted.MulVec(t.z[m], lqr.Vec(d))
	return lqr.Symmetrize(lqr.Unvec(&lifted, r, c))
}

// decay applies Z_m <- λ Z_m (G_j' ⊗ G_j') for the successor mode j.
func (t *traces) decay(lambda float64, transport *mat.Dense) {
	for m, z := range t.z {
		if !t.active[m] {
			continue
		}
		if lambda == 0 {
			z.Zero()
			t.active[m] = false
			continue
		}
		var next mat.Dense
		next.Mul(z, transport)
		z.Scale(lambda, &next)
	}
}
