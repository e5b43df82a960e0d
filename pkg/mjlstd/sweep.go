package mjlstd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
)

type SweepRequest struct {
	// Base is copied for every factor; its ControlCostFactor is ignored.
	Base    RunRequest
	Factors []float64
	Workers int
}

// Sweep runs Base once per control cost factor. Runs are independent and
// are spread over Workers goroutines; summaries come back in factor order.
// An explicit Base.RunID is suffixed with the factor. The first failure
// cancels the runs still pending or in flight, and the failure with the
// lowest factor index is returned.
func (c *Client) Sweep(ctx context.Context, req SweepRequest) ([]RunSummary, error) {
	if len(req.Factors) == 0 {
		return nil, errors.New("sweep requires at least one factor")
	}
	for _, f := range req.Factors {
		if !(f > 0) {
			return nil, fmt.Errorf("control cost factor must be > 0: %v", f)
		}
	}
	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}

	type job struct {
		idx int
		req RunRequest
	}
	type result struct {
		idx     int
		summary RunSummary
		err     error
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan job)
	results := make(chan result, len(req.Factors))

	workerCount := req.Workers
	if workerCount <= 0 {
		workerCount = 1
	}
	if workerCount > len(req.Factors) {
		workerCount = len(req.Factors)
	}

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				if err := runCtx.Err(); err != nil {
					results <- result{idx: j.idx, err: err}
					continue
				}
				summary, err := c.Run(runCtx, j.req)
				if err != nil {
					cancel()
				}
				results <- result{idx: j.idx, summary: summary, err: err}
			}
		}()
	}

	for i, factor := range req.Factors {
		runReq := req.Base
		runReq.ControlCostFactor = factor
		runReq.Engines = append([]string(nil), req.Base.Engines...)
		if req.Base.Parameters != nil {
			params := *req.Base.Parameters
			runReq.Parameters = &params
		}
		if req.Base.RunID != "" {
			runReq.RunID = req.Base.RunID + "-D" + strconv.FormatFloat(factor, 'g', -1, 64)
		}
		jobs <- job{idx: i, req: runReq}
	}
	close(jobs)

	wg.Wait()
	close(results)

	summaries := make([]RunSummary, len(req.Factors))
	errs := make([]error, len(req.Factors))
	for res := range results {
		summaries[res.idx] = res.summary
		errs[res.idx] = res.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Runs cancelled because another factor failed are not failures of
	// their own.
	for _, skipCancelled := range []bool{true, false} {
		for i, err := range errs {
			if err == nil || (skipCancelled && errors.Is(err, context.Canceled)) {
				continue
			}
			return nil, fmt.Errorf("factor %v: %w", req.Factors[i], err)
		}
	}
	return summaries, nil
}
