package aggregate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/pollcast/internal/estimate"
	"github.com/ppiankov/pollcast/internal/model"
)

var campaignStart = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

func day(n int) time.Time { return campaignStart.AddDate(0, 0, n) }

func mkPoll(id, state string, endDay, n int, dem, rep float64) model.Poll {
	return model.Poll{
		PollID:          id,
		QuestionID:      id + "-q",
		StateID:         state,
		StartDate:       day(endDay - 3),
		EndDate:         day(endDay),
		SampleSize:      n,
		DemocraticShare: dem,
		RepublicanShare: rep,
	}
}

func testParams(lastDay int) Params {
	cfg := model.DefaultConfig().Model
	return ParamsFromConfig(cfg, model.Window{Start: campaignStart, End: day(lastDay)})
}

var baselineXX = model.BaselineResult{StateID: "XX", DemocraticShare: 0.48, RepublicanShare: 0.46}

func TestWeightedMedian_LiteralCase(t *testing.T) {
	// (sample_size, margin) = (100, +0.10), (200, +0.04), (50, -0.02)
	window := []model.Poll{
		mkPoll("a", "XX", 3, 100, 0.50, 0.40),
		mkPoll("b", "XX", 3, 200, 0.47, 0.43),
		mkPoll("c", "XX", 3, 50, 0.44, 0.46),
	}

	sel, ok := weightedMedian(window)
	require.True(t, ok)
	assert.InDelta(t, 0.04, sel.Margin, 1e-12)
	assert.Equal(t, 200.0, sel.SampleSize)
	assert.Equal(t, 0.47, sel.DemocraticShare)
	assert.Equal(t, 0.43, sel.RepublicanShare)
	assert.Equal(t, 3, sel.Polls)
}

func TestWeightedMedian_TieAveragesStraddlingPair(t *testing.T) {
	window := []model.Poll{
		mkPoll("a", "XX", 3, 400, 0.52, 0.42),
		mkPoll("b", "XX", 4, 400, 0.46, 0.44),
	}

	sel, ok := weightedMedian(window)
	require.True(t, ok)
	assert.InDelta(t, 0.06, sel.Margin, 1e-12)
	assert.InDelta(t, 0.49, sel.DemocraticShare, 1e-12)
	assert.InDelta(t, 0.43, sel.RepublicanShare, 1e-12)
	assert.Equal(t, 400.0, sel.SampleSize)
}

func TestWeightedMedian_EvenCountEqualSizesIsPlainMedian(t *testing.T) {
	window := []model.Poll{
		mkPoll("a", "XX", 1, 300, 0.40, 0.50), // -0.10
		mkPoll("b", "XX", 1, 300, 0.45, 0.45), // 0
		mkPoll("c", "XX", 1, 300, 0.48, 0.44), // +0.04
		mkPoll("d", "XX", 1, 300, 0.55, 0.40), // +0.15
	}

	sel, ok := weightedMedian(window)
	require.True(t, ok)
	assert.InDelta(t, 0.02, sel.Margin, 1e-12)
	assert.Equal(t, 300.0, sel.SampleSize)
}

func TestWeightedMedian_EvenCountUnequalSizesAveragesPair(t *testing.T) {
	window := []model.Poll{
		mkPoll("large", "XX", 1, 300, 0.44, 0.46), // -0.02
		mkPoll("small", "XX", 2, 100, 0.50, 0.40), // +0.10
	}

	sel, ok := weightedMedian(window)
	require.True(t, ok)
	assert.InDelta(t, 0.04, sel.Margin, 1e-12)
	assert.InDelta(t, 0.47, sel.DemocraticShare, 1e-12)
	assert.InDelta(t, 0.43, sel.RepublicanShare, 1e-12)
	assert.Equal(t, 200.0, sel.SampleSize)
	assert.Equal(t, 2, sel.Polls)
}

func TestWeightedMedian_FourPollsAverageMiddlePair(t *testing.T) {
	window := []model.Poll{
		mkPoll("a", "XX", 1, 1000, 0.40, 0.50), // -0.10
		mkPoll("b", "XX", 1, 100, 0.45, 0.45), // 0
		mkPoll("c", "XX", 1, 300, 0.48, 0.44), // +0.04
		mkPoll("d", "XX", 1, 50, 0.55, 0.40), // +0.15
	}

	sel, ok := weightedMedian(window)
	require.True(t, ok)
	assert.InDelta(t, 0.02, sel.Margin, 1e-12)
	assert.Equal(t, 200.0, sel.SampleSize)
}

func TestWeightedMedian_Empty(t *testing.T) {
	_, ok := weightedMedian(nil)
	assert.False(t, ok)
}

func TestAggregateState_NoPollsHoldsSeed(t *testing.T) {
	out, err := AggregateState("XX", baselineXX, nil, testParams(20))
	require.NoError(t, err)
	require.Len(t, out, 21)

	seedProb, err := estimate.WinProbability(0.02, 100)
	require.NoError(t, err)

	for i, e := range out {
		assert.Equal(t, day(i), e.Date)
		assert.Equal(t, model.SourceSeed, e.Source)
		assert.False(t, e.HasPolls)
		assert.Equal(t, 0.48, e.DemocraticShare)
		assert.Equal(t, 0.46, e.RepublicanShare)
		assert.Equal(t, seedProb, e.DemocraticWinProbability)
		assert.Equal(t, 100.0, e.EffectiveSampleSize)
	}
}

func TestAggregateState_OnlyPollOnLastDay(t *testing.T) {
	polls := []model.Poll{mkPoll("p1", "XX", 30, 800, 0.51, 0.44)}

	out, err := AggregateState("XX", baselineXX, polls, testParams(30))
	require.NoError(t, err)
	require.Len(t, out, 31)

	seed := out[0]
	for i := 0; i < 30; i++ {
		assert.Equal(t, model.SourceSeed, out[i].Source, "day %d", i)
		assert.Equal(t, seed.DemocraticShare, out[i].DemocraticShare, "day %d", i)
		assert.Equal(t, seed.DemocraticWinProbability, out[i].DemocraticWinProbability, "day %d", i)
		assert.Equal(t, seed.EffectiveSampleSize, out[i].EffectiveSampleSize, "day %d", i)
	}

	last := out[30]
	wantProb, err := estimate.WinProbability(0.51-0.44, 800)
	require.NoError(t, err)
	assert.Equal(t, model.SourceAggregate, last.Source)
	assert.Equal(t, 0.51, last.DemocraticShare)
	assert.Equal(t, 800.0, last.EffectiveSampleSize)
	assert.Equal(t, wantProb, last.DemocraticWinProbability)
	assert.Equal(t, 1, last.PollsInWindow)
	assert.True(t, last.HasPolls)
}

// Polls on adjacent days: the forward candidates (end date + window) decide
// which polls share a window, and both window edges are inclusive.
func TestAggregateState_ForwardWindowBoundaries(t *testing.T) {
	polls := []model.Poll{
		mkPoll("early", "XX", 10, 600, 0.50, 0.42), // margin +0.08
		mkPoll("late", "XX", 11, 600, 0.44, 0.48),  // margin -0.04
	}

	out, err := AggregateState("XX", baselineXX, polls, testParams(20))
	require.NoError(t, err)
	require.Len(t, out, 21)

	// Day 10: window [4,10] holds only "early"
	assert.Equal(t, model.SourceAggregate, out[10].Source)
	assert.Equal(t, 1, out[10].PollsInWindow)
	assert.Equal(t, 0.50, out[10].DemocraticShare)

	// Day 11: both polls, equal sizes tie -> averaged
	assert.Equal(t, model.SourceAggregate, out[11].Source)
	assert.Equal(t, 2, out[11].PollsInWindow)
	assert.InDelta(t, 0.47, out[11].DemocraticShare, 1e-12)

	// Day 16: window [10,16] still includes day 10 (inclusive lower edge)
	assert.Equal(t, model.SourceAggregate, out[16].Source)
	assert.Equal(t, 2, out[16].PollsInWindow)
	assert.InDelta(t, 0.47, out[16].DemocraticShare, 1e-12)

	// Day 17: window [11,17] drops "early"
	assert.Equal(t, model.SourceAggregate, out[17].Source)
	assert.Equal(t, 1, out[17].PollsInWindow)
	assert.Equal(t, 0.44, out[17].DemocraticShare)

	// Between 11 and 16 both ends agree, so the fill is flat
	for i := 12; i < 16; i++ {
		assert.Equal(t, model.SourceInterpolated, out[i].Source, "day %d", i)
		assert.InDelta(t, 0.47, out[i].DemocraticShare, 1e-12, "day %d", i)
	}

	// After the last aggregate the value is held, never extrapolated
	for i := 18; i <= 20; i++ {
		assert.Equal(t, model.SourceHeld, out[i].Source, "day %d", i)
		assert.Equal(t, out[17].DemocraticShare, out[i].DemocraticShare, "day %d", i)
		assert.Equal(t, out[17].DemocraticWinProbability, out[i].DemocraticWinProbability, "day %d", i)
	}

	// Before the first aggregate the seed is held
	for i := 0; i < 10; i++ {
		assert.Equal(t, model.SourceSeed, out[i].Source, "day %d", i)
	}
}

func TestAggregateState_LinearInterpolation(t *testing.T) {
	polls := []model.Poll{
		mkPoll("a", "XX", 5, 500, 0.50, 0.40),
		mkPoll("b", "XX", 25, 1000, 0.40, 0.50),
	}

	out, err := AggregateState("XX", baselineXX, polls, testParams(25))
	require.NoError(t, err)

	// Aggregates on days 5, 11 (=5+6) and 25; day 18 sits halfway between 11 and 25
	mid := out[18]
	assert.Equal(t, model.SourceInterpolated, mid.Source)
	assert.InDelta(t, 0.45, mid.DemocraticShare, 1e-12)
	assert.InDelta(t, 0.45, mid.RepublicanShare, 1e-12)
	assert.InDelta(t, 750, mid.EffectiveSampleSize, 1e-9)
	assert.InDelta(t, (out[11].DemocraticWinProbability+out[25].DemocraticWinProbability)/2, mid.DemocraticWinProbability, 1e-12)

	// Standard errors follow that day's share and sample size
	se := estimate.Confidence95 * math.Sqrt(mid.DemocraticShare*(1-mid.DemocraticShare)/mid.EffectiveSampleSize)
	assert.InDelta(t, se, mid.DemocraticStandardError, 1e-12)
}

func TestAggregateState_Complementarity(t *testing.T) {
	polls := []model.Poll{
		mkPoll("a", "XX", 2, 700, 0.49, 0.47),
		mkPoll("b", "XX", 9, 300, 0.45, 0.49),
		mkPoll("c", "XX", 14, 900, 0.52, 0.41),
	}

	out, err := AggregateState("XX", baselineXX, polls, testParams(14))
	require.NoError(t, err)

	for _, e := range out {
		assert.Equal(t, 1-e.DemocraticWinProbability, e.RepublicanWinProbability)
		assert.InDelta(t, 1, e.DemocraticWinProbability+e.RepublicanWinProbability, 1e-15)
		assert.GreaterOrEqual(t, e.DemocraticWinProbability, 0.0)
		assert.LessOrEqual(t, e.DemocraticWinProbability, 1.0)
	}
}

func TestAggregateState_PollOnStartDayKeepsSeed(t *testing.T) {
	polls := []model.Poll{mkPoll("a", "XX", 0, 900, 0.60, 0.35)}

	out, err := AggregateState("XX", baselineXX, polls, testParams(10))
	require.NoError(t, err)

	assert.Equal(t, model.SourceSeed, out[0].Source)
	assert.Equal(t, 0.48, out[0].DemocraticShare)
	// The poll still counts through its forward candidate
	assert.Equal(t, model.SourceAggregate, out[6].Source)
	assert.Equal(t, 0.60, out[6].DemocraticShare)
}

func TestAggregateState_DomainErrors(t *testing.T) {
	tests := []struct {
		name     string
		baseline model.BaselineResult
		polls    []model.Poll
	}{
		{"share above one", baselineXX, []model.Poll{mkPoll("a", "XX", 3, 500, 1.4, 0.3)}},
		{"zero sample", baselineXX, []model.Poll{mkPoll("a", "XX", 3, 0, 0.5, 0.4)}},
		{"negative baseline share", model.BaselineResult{StateID: "XX", DemocraticShare: -0.1, RepublicanShare: 0.5}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := AggregateState("XX", tt.baseline, tt.polls, testParams(10))
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrDomain))
		})
	}
}

func TestAggregateState_SeedSampleSizeMustBePositive(t *testing.T) {
	p := testParams(5)
	p.SeedSampleSize = 0
	_, err := AggregateState("XX", baselineXX, nil, p)
	assert.ErrorIs(t, err, model.ErrDomain)
}

func TestForecastWindow(t *testing.T) {
	polls := []model.Poll{
		mkPoll("old", "XX", -30, 500, 0.5, 0.4),
		mkPoll("a", "XX", 12, 500, 0.5, 0.4),
		mkPoll("b", "YY", 40, 500, 0.5, 0.4),
	}
	w := ForecastWindow(campaignStart.Add(5*time.Hour), polls)
	assert.Equal(t, campaignStart, w.Start)
	assert.Equal(t, day(40), w.End)
	assert.Equal(t, 41, w.Days())

	empty := ForecastWindow(campaignStart, nil)
	assert.Equal(t, 1, empty.Days())
}

func testAggregator() *Aggregator {
	cfg := model.DefaultConfig()
	cfg.Concurrency.StateWorkers = 3
	return NewAggregator(cfg, nil)
}

func TestAggregator_Run_IsolatesFailures(t *testing.T) {
	baselines := []model.BaselineResult{
		{StateID: "AA", DemocraticShare: 0.52, RepublicanShare: 0.45},
		{StateID: "BB", DemocraticShare: 0.41, RepublicanShare: 0.56},
		{StateID: "CC", DemocraticShare: 0.49, RepublicanShare: 0.49},
	}
	polls := []model.Poll{
		mkPoll("a1", "AA", 10, 600, 0.53, 0.44),
		mkPoll("b1", "BB", 12, 600, 1.30, 0.20), // malformed
		mkPoll("d1", "DD", 8, 600, 0.50, 0.45),  // no baseline
	}

	table, err := testAggregator().Run(context.Background(), polls, baselines, campaignStart)
	require.NoError(t, err)

	assert.Equal(t, day(12), table.Window.End)
	require.Len(t, table.Failures, 2)
	assert.Equal(t, "BB", table.Failures[0].StateID)
	assert.ErrorIs(t, table.Failures[0], model.ErrDomain)
	assert.Contains(t, table.Failures[0].Message, "1.3")
	assert.Equal(t, "DD", table.Failures[1].StateID)
	assert.ErrorIs(t, table.Failures[1], model.ErrMissingBaseline)

	// AA and CC complete: 13 days each, sorted by state then date
	require.Len(t, table.Estimates, 26)
	assert.Equal(t, "AA", table.Estimates[0].StateID)
	assert.Equal(t, "CC", table.Estimates[13].StateID)
	assert.Equal(t, []string{"CC"}, table.UnpolledStates())
	for i := 1; i < 13; i++ {
		assert.True(t, table.Estimates[i-1].Date.Before(table.Estimates[i].Date))
	}
}

func TestAggregator_Run_Deterministic(t *testing.T) {
	var baselines []model.BaselineResult
	var polls []model.Poll
	rng := rand.New(rand.NewSource(7))
	for s := 0; s < 20; s++ {
		id := fmt.Sprintf("S%02d", s)
		baselines = append(baselines, model.BaselineResult{StateID: id, DemocraticShare: 0.45, RepublicanShare: 0.5})
		for k := 0; k < 6; k++ {
			dem := 0.4 + rng.Float64()*0.15
			polls = append(polls, mkPoll(fmt.Sprintf("%s-%d", id, k), id, rng.Intn(60)+1, 300+rng.Intn(900), dem, 0.95-dem))
		}
	}

	agg := testAggregator()
	first, err := agg.Run(context.Background(), polls, baselines, campaignStart)
	require.NoError(t, err)

	again, err := agg.Run(context.Background(), polls, baselines, campaignStart)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	shuffled := append([]model.Poll(nil), polls...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	reordered, err := agg.Run(context.Background(), shuffled, baselines, campaignStart)
	require.NoError(t, err)
	assert.Equal(t, first, reordered)
}

func TestAggregator_Run_DuplicateBaseline(t *testing.T) {
	baselines := []model.BaselineResult{
		{StateID: "AA", DemocraticShare: 0.52, RepublicanShare: 0.45},
		{StateID: "AA", DemocraticShare: 0.50, RepublicanShare: 0.47},
	}

	table, err := testAggregator().Run(context.Background(), nil, baselines, campaignStart)
	require.NoError(t, err)
	require.Len(t, table.Failures, 1)
	assert.Empty(t, table.Estimates)
}

func TestAggregator_Run_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testAggregator().Run(ctx, nil, []model.BaselineResult{baselineXX}, campaignStart)
	assert.ErrorIs(t, err, context.Canceled)
}
