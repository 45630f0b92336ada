package harness

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Outcome pairs a scenario with the result of running it. Err is set when
// the scenario could not run at all.
type Outcome struct {
	Scenario *Scenario
	Result   *Result
	Err      error
}

// Passed reports whether the scenario ran and every check held.
func (o Outcome) Passed() bool {
	return o.Err == nil && o.Result != nil && o.Result.Pass
}

// RunAll runs scenarios with at most parallel running at once and returns
// their outcomes in input order. A failing scenario does not stop the
// others. parallel below 1 runs them one at a time.
func RunAll(ctx context.Context, scenarios []*Scenario, parallel int, opts ...Option) []Outcome {
	if parallel < 1 {
		parallel = 1
	}
	outcomes := make([]Outcome, len(scenarios))

	var g errgroup.Group
	g.SetLimit(parallel)
	for i, s := range scenarios {
		g.Go(func() error {
			outcomes[i] = Outcome{Scenario: s}
			if err := ctx.Err(); err != nil {
				outcomes[i].Err = err
				return nil
			}
			outcomes[i].Result, outcomes[i].Err = Run(ctx, s, opts...)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}
