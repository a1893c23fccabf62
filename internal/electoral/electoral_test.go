package electoral

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/pollcast/internal/cache"
	"github.com/ppiankov/pollcast/internal/model"
)

var electionDay = time.Date(2020, time.November, 3, 0, 0, 0, 0, time.UTC)

func newEngine(c cache.Cache) *Engine {
	return newEngineWorkers(c, 4)
}

func newEngineWorkers(c cache.Cache, workers int) *Engine {
	cfg := model.DefaultConfig()
	cfg.Concurrency.DateWorkers = workers
	return NewEngine(cfg, c, nil)
}

func TestTwoPoint(t *testing.T) {
	p, err := TwoPoint(0.7, 5)
	require.NoError(t, err)
	require.Len(t, p, 6)
	assert.InDelta(t, 0.3, p[0], 1e-15)
	assert.Equal(t, 0.7, p[5])
	assert.Zero(t, p[1]+p[2]+p[3]+p[4])

	zero, err := TwoPoint(0.7, 0)
	require.NoError(t, err)
	assert.Equal(t, Polynomial{1}, zero)

	_, err = TwoPoint(1.2, 3)
	assert.ErrorIs(t, err, model.ErrDomain)
	_, err = TwoPoint(0.5, -1)
	assert.ErrorIs(t, err, model.ErrDomain)
}

func TestConvolve_TwoStateExample(t *testing.T) {
	a, _ := TwoPoint(0.6, 3)
	b, _ := TwoPoint(0.4, 5)

	got := Convolve(a, b)
	require.Len(t, got, 9)

	want := map[int]float64{0: 0.24, 3: 0.36, 5: 0.16, 8: 0.24}
	for k, v := range got {
		assert.InDelta(t, want[k], v, 1e-12, "k=%d", k)
	}
	assert.Equal(t, 3, got.Mode())
	assert.InDelta(t, 1, got.Sum(), 1e-12)
}

func TestConvolve_CommutativeAndAssociative(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	var polys []Polynomial
	for i := 0; i < 6; i++ {
		p, err := TwoPoint(rng.Float64(), rng.Intn(20)+1)
		require.NoError(t, err)
		polys = append(polys, p)
	}

	forward := Polynomial{1}
	for _, p := range polys {
		forward = Convolve(forward, p)
	}
	backward := Polynomial{1}
	for i := len(polys) - 1; i >= 0; i-- {
		backward = Convolve(polys[i], backward)
	}
	grouped := Convolve(Convolve(polys[0], polys[1]), Convolve(Convolve(polys[2], polys[3]), Convolve(polys[4], polys[5])))

	require.Equal(t, len(forward), len(backward))
	for k := range forward {
		assert.InDelta(t, forward[k], backward[k], 1e-12)
		assert.InDelta(t, forward[k], grouped[k], 1e-12)
	}
}

func TestConvolve_Empty(t *testing.T) {
	assert.Empty(t, Convolve(nil, Polynomial{1}))
}

func TestConvolver_MatchesConvolve(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	conv := NewConvolver(0) // grows on demand
	want := Polynomial{1}

	for i := 0; i < 12; i++ {
		p, n := rng.Float64(), rng.Intn(30)
		require.NoError(t, conv.Add(p, n))
		tp, _ := TwoPoint(p, n)
		want = Convolve(want, tp)
	}

	got := conv.Result()
	require.Len(t, got, len(want))
	for k := range want {
		assert.InDelta(t, want[k], got[k], 1e-12, "k=%d", k)
	}

	conv.Reset()
	assert.Equal(t, Polynomial{1}, conv.Result())
	require.NoError(t, conv.Add(0.25, 2))
	assert.Equal(t, Polynomial{0.75, 0, 0.25}, conv.Result())
}

func TestConvolver_RejectsBadProbability(t *testing.T) {
	conv := NewConvolver(10)
	err := conv.Add(math.NaN(), 3)
	assert.ErrorIs(t, err, model.ErrDomain)
	assert.Equal(t, Polynomial{1}, conv.Result())
}

func TestPolynomial_ModeTieTakesLowestIndex(t *testing.T) {
	p, _ := TwoPoint(0.5, 3)
	assert.Equal(t, 0, p.Mode())

	assert.Equal(t, 1, Polynomial{0.2, 0.4, 0.4}.Mode())
}

func TestDistribution_SingleState(t *testing.T) {
	d, err := newEngine(nil).Distribution(electionDay, []StateInput{{StateID: "AA", Probability: 0.7, Electors: 5}})
	require.NoError(t, err)

	require.Len(t, d.Democratic, 6)
	assert.InDelta(t, 0.3, d.Democratic[0], 1e-12)
	assert.InDelta(t, 0.7, d.Democratic[5], 1e-12)
	assert.InDelta(t, 0.7, d.Republican[0], 1e-12)
	assert.InDelta(t, 0.3, d.Republican[5], 1e-12)

	assert.Equal(t, 5, d.Mode.DemocraticMode)
	assert.Equal(t, 0, d.Mode.RepublicanMode)
	assert.Equal(t, 5, d.Mode.TotalElectors)
	assert.Equal(t, electionDay, d.Mode.Date)
}

func TestDistribution_TwoStateExample(t *testing.T) {
	inputs := []StateInput{
		{StateID: "BB", Probability: 0.4, Electors: 5},
		{StateID: "AA", Probability: 0.6, Electors: 3},
	}
	d, err := newEngine(nil).Distribution(electionDay, inputs)
	require.NoError(t, err)

	dem := map[int]float64{0: 0.24, 3: 0.36, 5: 0.16, 8: 0.24}
	rep := map[int]float64{0: 0.24, 3: 0.16, 5: 0.36, 8: 0.24}
	for k := 0; k <= 8; k++ {
		assert.InDelta(t, dem[k], d.Democratic[k], 1e-12, "democratic k=%d", k)
		assert.InDelta(t, rep[k], d.Republican[k], 1e-12, "republican k=%d", k)
	}

	assert.Equal(t, 3, d.Mode.DemocraticMode)
	assert.Equal(t, 5, d.Mode.RepublicanMode)
	assert.InDelta(t, 0.6*3+0.4*5, d.Mode.DemocraticExpected, 1e-12)
	assert.InDelta(t, 0.16+0.24, d.Mode.DemocraticMajority, 1e-12)
	assert.InDelta(t, 0.36+0.24, d.Mode.RepublicanMajority, 1e-12)
	assert.Zero(t, d.Mode.Tie) // odd total

	rows := d.Rows()
	require.Len(t, rows, 9)
	assert.Equal(t, 8, rows[8].Total)
}

func TestDistribution_TieProbability(t *testing.T) {
	inputs := []StateInput{
		{StateID: "AA", Probability: 0.5, Electors: 3},
		{StateID: "BB", Probability: 0.5, Electors: 3},
	}
	d, err := newEngine(nil).Distribution(electionDay, inputs)
	require.NoError(t, err)

	assert.InDelta(t, 0.5, d.Mode.Tie, 1e-12)
	assert.InDelta(t, 0.25, d.Mode.DemocraticMajority, 1e-12)
	assert.Equal(t, 3, d.Mode.DemocraticMode)
}

func TestDistribution_InputOrderIrrelevant(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	var inputs []StateInput
	for i := 0; i < 51; i++ {
		inputs = append(inputs, StateInput{StateID: fmt.Sprintf("S%02d", i), Probability: rng.Float64(), Electors: rng.Intn(50) + 1})
	}

	eng := newEngine(nil)
	a, err := eng.Distribution(electionDay, inputs)
	require.NoError(t, err)

	rng.Shuffle(len(inputs), func(i, j int) { inputs[i], inputs[j] = inputs[j], inputs[i] })
	b, err := eng.Distribution(electionDay, inputs)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.InDelta(t, 1, Polynomial(a.Democratic).Sum(), 1e-9)
	assert.InDelta(t, 1, Polynomial(a.Republican).Sum(), 1e-9)
}

func TestDistribution_ZeroElectorsAndEmpty(t *testing.T) {
	eng := newEngine(nil)

	d, err := eng.Distribution(electionDay, []StateInput{{StateID: "DC", Probability: 0.9, Electors: 0}})
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, d.Democratic)

	empty, err := eng.Distribution(electionDay, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, empty.Republican)
	assert.Equal(t, 0, empty.Mode.DemocraticMode)
}

func TestDistribution_BadProbability(t *testing.T) {
	_, err := newEngine(nil).Distribution(electionDay, []StateInput{
		{StateID: "AA", Probability: 0.4, Electors: 3},
		{StateID: "BB", Probability: 1.5, Electors: 4},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrDomain)
	assert.Contains(t, err.Error(), "BB")
}

func TestDistribution_CacheHitIsIdentical(t *testing.T) {
	mem := cache.NewMemoryCache(time.Minute, time.Minute)
	eng := newEngine(mem)
	inputs := []StateInput{
		{StateID: "AA", Probability: 0.123456789, Electors: 7},
		{StateID: "BB", Probability: 0.987654321, Electors: 11},
		{StateID: "CC", Probability: 1.0 / 3.0, Electors: 29},
	}

	first, err := eng.Distribution(electionDay, inputs)
	require.NoError(t, err)
	next := electionDay.AddDate(0, 0, 1)
	second, err := eng.Distribution(next, inputs)
	require.NoError(t, err)

	hits, misses := eng.CacheStats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)

	assert.Equal(t, first.Democratic, second.Democratic)
	assert.Equal(t, first.Republican, second.Republican)
	assert.Equal(t, next, second.Date)
	assert.Equal(t, next, second.Mode.Date)

	// A different probability misses
	inputs[0].Probability = 0.5
	_, err = eng.Distribution(electionDay, inputs)
	require.NoError(t, err)
	_, misses = eng.CacheStats()
	assert.Equal(t, int64(2), misses)
}

func estimateFor(state string, date time.Time, p float64) model.StateDailyEstimate {
	return model.StateDailyEstimate{
		StateID:                  state,
		Date:                     date,
		DemocraticWinProbability: p,
		RepublicanWinProbability: 1 - p,
		HasPolls:                 true,
	}
}

func TestRun(t *testing.T) {
	d0 := electionDay.AddDate(0, 0, -2)
	d1 := electionDay.AddDate(0, 0, -1)
	d2 := electionDay

	table := &model.StateTable{
		Window: model.Window{Start: d0, End: d2},
		Estimates: []model.StateDailyEstimate{
			estimateFor("AA", d0, 0.6), estimateFor("AA", d1, 0.6), estimateFor("AA", d2, 0.6),
			estimateFor("BB", d0, 0.4), estimateFor("BB", d1, math.NaN()), estimateFor("BB", d2, 0.4),
			estimateFor("ZZ", d0, 0.9), estimateFor("ZZ", d1, 0.9), estimateFor("ZZ", d2, 0.9),
		},
	}
	allocations := []model.Allocation{
		{StateID: "AA", Year: 2020, Electors: 3},
		{StateID: "BB", Year: 2020, Electors: 5},
		{StateID: "BB", Year: 2016, Electors: 6},
		{StateID: "AA", Year: 2020, Electors: 9}, // duplicate, ignored
	}

	// One worker so d0 is stored before d2 looks it up
	mem := cache.NewMemoryCache(time.Minute, time.Minute)
	eng := newEngineWorkers(mem, 1)
	out, err := eng.Run(context.Background(), table, allocations, 2020)
	require.NoError(t, err)

	assert.Equal(t, []string{"ZZ"}, out.Unallocated)

	require.Len(t, out.Failures, 1)
	assert.Equal(t, d1, out.Failures[0].Date)
	assert.Equal(t, model.StageElectoral, out.Failures[0].Stage)
	assert.ErrorIs(t, out.Failures[0], model.ErrDomain)

	require.Len(t, out.Modes, 2)
	assert.Equal(t, d0, out.Modes[0].Date)
	assert.Equal(t, d2, out.Modes[1].Date)
	assert.Equal(t, 8, out.Modes[1].TotalElectors)
	assert.Equal(t, 3, out.Modes[1].DemocraticMode)

	require.Len(t, out.Distributions, 18)
	assert.Equal(t, d0, out.Distributions[0].Date)
	assert.Equal(t, d2, out.Distributions[17].Date)
	assert.InDelta(t, 0.24, out.Distributions[17].DemocraticMass, 1e-12)

	final, ok := out.FinalMode()
	require.True(t, ok)
	assert.Equal(t, d2, final.Date)

	hits, _ := eng.CacheStats()
	assert.Equal(t, int64(1), hits) // d0 and d2 share inputs
}

func TestRun_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	table := &model.StateTable{}
	var allocations []model.Allocation
	for s := 0; s < 10; s++ {
		id := fmt.Sprintf("S%d", s)
		allocations = append(allocations, model.Allocation{StateID: id, Year: 2024, Electors: rng.Intn(30) + 3})
		for d := 0; d < 30; d++ {
			table.Estimates = append(table.Estimates, estimateFor(id, electionDay.AddDate(0, 0, d), rng.Float64()))
		}
	}

	a, err := newEngine(nil).Run(context.Background(), table, allocations, 2024)
	require.NoError(t, err)
	b, err := newEngine(nil).Run(context.Background(), table, allocations, 2024)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a.Modes, 30)
	for i := 1; i < len(a.Modes); i++ {
		assert.True(t, a.Modes[i-1].Date.Before(a.Modes[i].Date))
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	table := &model.StateTable{Estimates: []model.StateDailyEstimate{estimateFor("AA", electionDay, 0.5)}}
	_, err := newEngine(nil).Run(ctx, table, []model.Allocation{{StateID: "AA", Year: 2020, Electors: 3}}, 2020)
	assert.ErrorIs(t, err, context.Canceled)
}
