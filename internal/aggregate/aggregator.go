// Package aggregate turns a sparse stream of state polls into one smoothed
// estimate per state per day.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ppiankov/pollcast/internal/model"
	"github.com/ppiankov/pollcast/internal/worker"
)

// Aggregator runs AggregateState for every state, one worker-pool job per state
type Aggregator struct {
	cfg     model.ModelConfig
	workers int
	logger  *slog.Logger
}

// NewAggregator creates a new aggregator
func NewAggregator(cfg *model.Config, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		cfg:     cfg.Model,
		workers: cfg.Concurrency.StateWorkers,
		logger:  logger,
	}
}

// ForecastWindow returns [start, latest poll end date]; polls ending before start
// are ignored, and with no usable polls the window is the start day alone.
func ForecastWindow(start time.Time, polls []model.Poll) model.Window {
	start = model.Day(start)
	end := start
	for _, p := range polls {
		d := model.Day(p.EndDate)
		if d.After(end) {
			end = d
		}
	}
	return model.Window{Start: start, End: end}
}

// stateJob aggregates one state
type stateJob struct {
	stateID  string
	baseline model.BaselineResult
	polls    []model.Poll
	params   Params
}

// Execute runs AggregateState for the job's state
func (j *stateJob) Execute(ctx context.Context) worker.Result {
	estimates, err := AggregateState(j.stateID, j.baseline, j.polls, j.params)
	return &stateResult{stateID: j.stateID, estimates: estimates, err: err}
}

// stateResult is the outcome of a stateJob
type stateResult struct {
	stateID   string
	estimates []model.StateDailyEstimate
	err       error
}

// GetError returns the state's failure, if any
func (r *stateResult) GetError() error { return r.err }

// Run aggregates every state present in the baselines or the polls.
//
// Each state is an independent unit: a state that fails is reported in
// StateTable.Failures and the remaining states still complete. Estimates are
// returned sorted by (state, date) regardless of completion order.
func (a *Aggregator) Run(ctx context.Context, polls []model.Poll, baselines []model.BaselineResult, start time.Time) (*model.StateTable, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	window := ForecastWindow(start, polls)
	params := ParamsFromConfig(a.cfg, window)
	table := &model.StateTable{Window: window}

	byState := make(map[string][]model.Poll)
	for _, p := range polls {
		byState[p.StateID] = append(byState[p.StateID], p)
	}

	baselineByState := make(map[string]model.BaselineResult)
	duplicates := make(map[string]bool)
	for _, b := range baselines {
		if _, ok := baselineByState[b.StateID]; ok {
			duplicates[b.StateID] = true
		}
		baselineByState[b.StateID] = b
	}

	var jobs []*stateJob
	for _, stateID := range stateIDs(byState, baselineByState) {
		baseline, ok := baselineByState[stateID]
		switch {
		case !ok:
			table.Failures = append(table.Failures, model.NewUnitFailure(model.StageAggregate, stateID, time.Time{},
				fmt.Errorf("%w: %d polls", model.ErrMissingBaseline, len(byState[stateID]))))
			continue
		case duplicates[stateID]:
			table.Failures = append(table.Failures, model.NewUnitFailure(model.StageAggregate, stateID, time.Time{},
				fmt.Errorf("duplicate baseline rows")))
			continue
		}
		jobs = append(jobs, &stateJob{
			stateID:  stateID,
			baseline: baseline,
			polls:    byState[stateID],
			params:   params,
		})
	}

	a.logger.Debug("aggregating states",
		"states", len(jobs),
		"window_start", window.Start.Format(model.DateLayout),
		"window_end", window.End.Format(model.DateLayout),
		"workers", a.workers)

	pool := worker.NewPoolContext(ctx, a.workers)
	pool.Start()
	for _, job := range jobs {
		pool.Submit(job)
	}
	results := pool.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("aggregate states: %w", err)
	}

	// Jobs are already in state order and results come back by slot
	for i, r := range results {
		stateID := jobs[i].stateID
		sr, ok := r.(*stateResult)
		if !ok {
			err := fmt.Errorf("no result")
			if r != nil {
				err = r.GetError()
			}
			a.logger.Error("state aggregation aborted", "state", stateID, "error", err)
			table.Failures = append(table.Failures, model.NewUnitFailure(model.StageAggregate, stateID, time.Time{}, err))
			continue
		}
		if sr.err != nil {
			a.logger.Warn("state aggregation failed", "state", stateID, "error", sr.err)
			table.Failures = append(table.Failures, model.NewUnitFailure(model.StageAggregate, stateID, time.Time{}, sr.err))
			continue
		}
		table.Estimates = append(table.Estimates, sr.estimates...)
	}
	sort.SliceStable(table.Failures, func(i, j int) bool { return table.Failures[i].StateID < table.Failures[j].StateID })

	return table, nil
}

func stateIDs(polls map[string][]model.Poll, baselines map[string]model.BaselineResult) []string {
	seen := make(map[string]bool)
	var ids []string
	for id := range polls {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for id := range baselines {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
