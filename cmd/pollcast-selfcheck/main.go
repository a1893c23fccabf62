// Smoke check that runs the two reference calculations end to end and
// exits non-zero when either drifts from the known answer.
package main

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/ppiankov/pollcast/internal/aggregate"
	"github.com/ppiankov/pollcast/internal/cache"
	"github.com/ppiankov/pollcast/internal/electoral"
	"github.com/ppiankov/pollcast/internal/model"
)

const tolerance = 1e-9

func main() {
	fmt.Println("=== Pollcast Self-Check ===")
	fmt.Println()

	failed := 0
	failed += checkWeightedMedian()
	failed += checkTwoStateDistribution()

	if failed > 0 {
		fmt.Printf("✗ %d checks failed\n", failed)
		os.Exit(1)
	}
	fmt.Println("✓ All checks passed")
}

// checkWeightedMedian aggregates three polls that share one window; the
// 200-person poll at +0.04 holds the weighted median
func checkWeightedMedian() int {
	fmt.Println("Weighted median window")
	fmt.Println(strings.Repeat("-", 60))

	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 5)
	polls := []model.Poll{
		{PollID: "a", StateID: "XX", EndDate: end, SampleSize: 100, DemocraticShare: 0.52, RepublicanShare: 0.42},
		{PollID: "b", StateID: "XX", EndDate: end, SampleSize: 200, DemocraticShare: 0.50, RepublicanShare: 0.46},
		{PollID: "c", StateID: "XX", EndDate: end, SampleSize: 50, DemocraticShare: 0.47, RepublicanShare: 0.49},
	}
	baseline := model.BaselineResult{StateID: "XX", DemocraticShare: 0.48, RepublicanShare: 0.48}

	cfg := model.DefaultConfig()
	params := aggregate.ParamsFromConfig(cfg.Model, aggregate.ForecastWindow(start, polls))
	estimates, err := aggregate.AggregateState("XX", baseline, polls, params)
	if err != nil {
		fmt.Printf("  ✗ aggregate: %v\n\n", err)
		return 1
	}

	last := estimates[len(estimates)-1]
	margin := last.DemocraticShare - last.RepublicanShare
	fmt.Printf("  Date:            %s\n", last.Date.Format(model.DateLayout))
	fmt.Printf("  Polls in window: %d\n", last.PollsInWindow)
	fmt.Printf("  Margin:          %+.4f (want +0.0400)\n", margin)
	fmt.Printf("  Sample size:     %.0f (want 200)\n", last.EffectiveSampleSize)

	failed := 0
	if math.Abs(margin-0.04) > tolerance || last.EffectiveSampleSize != 200 || last.PollsInWindow != 3 {
		fmt.Println("  ✗ weighted median mismatch")
		failed = 1
	} else {
		fmt.Println("  ✓ weighted median matches")
	}
	fmt.Println()
	return failed
}

// checkTwoStateDistribution convolves a 3-elector state at 0.6 with a
// 5-elector state at 0.4
func checkTwoStateDistribution() int {
	fmt.Println("Two-state electoral distribution")
	fmt.Println(strings.Repeat("-", 60))

	engine := electoral.NewEngine(model.DefaultConfig(), cache.NewMemoryCache(0, 0), nil)
	dist, err := engine.Distribution(time.Date(2020, 11, 3, 0, 0, 0, 0, time.UTC), []electoral.StateInput{
		{StateID: "A", Probability: 0.6, Electors: 3},
		{StateID: "B", Probability: 0.4, Electors: 5},
	})
	if err != nil {
		fmt.Printf("  ✗ distribution: %v\n\n", err)
		return 1
	}

	want := map[int]float64{0: 0.24, 3: 0.36, 5: 0.16, 8: 0.24}
	failed := 0
	for k, mass := range dist.Democratic {
		if mass == 0 && want[k] == 0 {
			continue
		}
		mark := "✓"
		if math.Abs(mass-want[k]) > tolerance {
			mark = "✗"
			failed = 1
		}
		fmt.Printf("  %s P(democratic = %d) = %.4f (want %.4f)\n", mark, k, mass, want[k])
	}

	fmt.Printf("  Democratic mode: %d (want 3)\n", dist.Mode.DemocraticMode)
	if dist.Mode.DemocraticMode != 3 {
		failed = 1
	}
	if failed == 0 {
		fmt.Println("  ✓ distribution matches")
	} else {
		fmt.Println("  ✗ distribution mismatch")
	}
	fmt.Println()
	return failed
}
