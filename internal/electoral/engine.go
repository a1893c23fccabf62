package electoral

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/pollcast/internal/cache"
	"github.com/ppiankov/pollcast/internal/model"
)

// StateInput is one state's contribution on one date
type StateInput struct {
	StateID     string
	Probability float64 // Democratic win probability
	Electors    int
}

// Engine builds per-date electoral vote distributions
type Engine struct {
	cache     cache.Cache
	workers   int
	tolerance float64
	logger    *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// NewEngine creates an engine; c may be nil to disable memoization
func NewEngine(cfg *model.Config, c cache.Cache, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Concurrency.DateWorkers
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		cache:     c,
		workers:   workers,
		tolerance: cfg.Model.DistributionTolerance,
		logger:    logger,
	}
}

// CacheStats returns the memoization hit and miss counts since creation
func (e *Engine) CacheStats() (hits, misses int64) {
	return e.hits.Load(), e.misses.Load()
}

// cachedPair is the memoized payload of one distribution
type cachedPair struct {
	Democratic []float64 `json:"d"`
	Republican []float64 `json:"r"`
}

// Distribution computes both parties' distributions for one date.
//
// Inputs are processed by electors ascending, then state id, so the result does
// not depend on input order. Zero-elector states contribute nothing.
func (e *Engine) Distribution(date time.Time, inputs []StateInput) (*model.DateDistribution, error) {
	sorted := make([]StateInput, len(inputs))
	copy(sorted, inputs)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Electors != sorted[j].Electors {
			return sorted[i].Electors < sorted[j].Electors
		}
		return sorted[i].StateID < sorted[j].StateID
	})

	total := 0
	for _, in := range sorted {
		if err := checkFactor(in.Probability, in.Electors); err != nil {
			return nil, fmt.Errorf("state %s: %w", in.StateID, err)
		}
		total += in.Electors
	}

	key := distributionKey(sorted)
	if dem, rep, ok := e.lookup(key); ok {
		e.hits.Add(1)
		return assemble(date, total, dem, rep), nil
	}
	e.misses.Add(1)

	dem := NewConvolver(total)
	rep := NewConvolver(total)
	for _, in := range sorted {
		if in.Electors == 0 {
			continue
		}
		if err := dem.Add(in.Probability, in.Electors); err != nil {
			return nil, fmt.Errorf("state %s: %w", in.StateID, err)
		}
		if err := rep.Add(1-in.Probability, in.Electors); err != nil {
			return nil, fmt.Errorf("state %s: %w", in.StateID, err)
		}
	}

	demPoly, repPoly := dem.Result(), rep.Result()
	for _, p := range []Polynomial{demPoly, repPoly} {
		if s := p.Sum(); math.Abs(s-1) > e.tolerance {
			return nil, model.NewDomainError("distribution_mass", s, fmt.Sprintf("must sum to 1 within %g", e.tolerance))
		}
	}

	e.store(key, demPoly, repPoly)
	return assemble(date, total, demPoly, repPoly), nil
}

// Run computes the distributions for every date of the table.
//
// Dates are independent and run in parallel. A date whose inputs are invalid is
// reported in ElectoralTable.Failures and the other dates still complete.
// Estimated states without an allocation row for the year are skipped and
// listed in Unallocated.
func (e *Engine) Run(ctx context.Context, table *model.StateTable, allocations []model.Allocation, year int) (*model.ElectoralTable, error) {
	electors := make(map[string]int)
	for _, a := range allocations {
		if a.Year != year {
			continue
		}
		if prev, ok := electors[a.StateID]; ok {
			e.logger.Warn("duplicate allocation row, keeping the first", "state", a.StateID, "year", year, "kept", prev, "ignored", a.Electors)
			continue
		}
		electors[a.StateID] = a.Electors
	}

	out := &model.ElectoralTable{}
	unallocated := make(map[string]bool)
	for _, est := range table.Estimates {
		if _, ok := electors[est.StateID]; !ok {
			unallocated[est.StateID] = true
		}
	}
	for id := range unallocated {
		out.Unallocated = append(out.Unallocated, id)
	}
	sort.Strings(out.Unallocated)
	if len(out.Unallocated) > 0 {
		e.logger.Warn("states without electors skipped", "year", year, "states", out.Unallocated)
	}

	byDate := table.ByDate()
	dates := table.Dates()
	results := make([]*model.DateDistribution, len(dates))
	errs := make([]error, len(dates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, date := range dates {
		if gctx.Err() != nil {
			break
		}
		inputs := make([]StateInput, 0, len(byDate[date]))
		for _, est := range byDate[date] {
			n, ok := electors[est.StateID]
			if !ok {
				continue
			}
			inputs = append(inputs, StateInput{StateID: est.StateID, Probability: est.DemocraticWinProbability, Electors: n})
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i], errs[i] = e.Distribution(date, inputs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("distribute dates: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("distribute dates: %w", err)
	}

	for i, date := range dates {
		if errs[i] != nil {
			e.logger.Warn("date distribution failed", "date", date.Format(model.DateLayout), "error", errs[i])
			out.Failures = append(out.Failures, model.NewUnitFailure(model.StageElectoral, "", date, errs[i]))
			continue
		}
		out.Distributions = append(out.Distributions, results[i].Rows()...)
		out.Modes = append(out.Modes, results[i].Mode)
	}

	hits, misses := e.CacheStats()
	e.logger.Debug("electoral distributions complete",
		"dates", len(dates),
		"failures", len(out.Failures),
		"cache_hits", hits,
		"cache_misses", misses)

	return out, nil
}

func assemble(date time.Time, total int, dem, rep Polynomial) *model.DateDistribution {
	return &model.DateDistribution{
		Date:       date,
		Democratic: dem,
		Republican: rep,
		Mode:       summarize(date, total, dem, rep),
	}
}

// summarize derives the mode row; a majority is strictly more than half the total
func summarize(date time.Time, total int, dem, rep Polynomial) model.ElectoralMode {
	half := float64(total) / 2
	var tie float64
	if total%2 == 0 {
		tie = dem.At(total / 2)
	}
	return model.ElectoralMode{
		Date:               date,
		TotalElectors:      total,
		DemocraticMode:     dem.Mode(),
		RepublicanMode:     rep.Mode(),
		DemocraticExpected: dem.Expected(),
		RepublicanExpected: rep.Expected(),
		DemocraticMajority: dem.Above(half),
		RepublicanMajority: rep.Above(half),
		Tie:                tie,
	}
}

// distributionKey digests the sorted inputs; the date is not part of the key
func distributionKey(sorted []StateInput) string {
	var buf []byte
	for _, in := range sorted {
		buf = append(buf, in.StateID...)
		buf = append(buf, 0)
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(in.Probability))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(in.Electors))
	}
	return cache.Key("distribution", buf)
}

func (e *Engine) lookup(key string) (Polynomial, Polynomial, bool) {
	if e.cache == nil {
		return nil, nil, false
	}
	data, ok := e.cache.Get(key)
	if !ok {
		return nil, nil, false
	}
	var pair cachedPair
	if err := json.Unmarshal(data, &pair); err != nil {
		e.logger.Debug("discarding unreadable cached distribution", "key", key, "error", err)
		return nil, nil, false
	}
	return pair.Democratic, pair.Republican, true
}

func (e *Engine) store(key string, dem, rep Polynomial) {
	if e.cache == nil {
		return
	}
	data, err := json.Marshal(cachedPair{Democratic: dem, Republican: rep})
	if err != nil {
		return
	}
	if err := e.cache.Set(key, data, 0); err != nil {
		e.logger.Debug("cache distribution", "key", key, "error", err)
	}
}
