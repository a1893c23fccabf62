package model

import (
	"sort"
	"time"
)

// EstimateSource records how a daily estimate was produced
type EstimateSource string

const (
	SourceSeed         EstimateSource = "seed"         // Baseline seed, no poll evidence yet
	SourceAggregate    EstimateSource = "aggregate"    // Weighted median of a poll window
	SourceInterpolated EstimateSource = "interpolated" // Linear fill between two aggregates
	SourceHeld         EstimateSource = "held"         // Last aggregate carried to the window end
)

// StateDailyEstimate is one state's estimate for one calendar day.
// RepublicanWinProbability is always 1 - DemocraticWinProbability.
type StateDailyEstimate struct {
	StateID                  string         `json:"state"`
	Date                     time.Time      `json:"date"`
	DemocraticShare          float64        `json:"democratic_share"`
	RepublicanShare          float64        `json:"republican_share"`
	DemocraticWinProbability float64        `json:"democratic_win_probability"`
	RepublicanWinProbability float64        `json:"republican_win_probability"`
	DemocraticStandardError  float64        `json:"democratic_standard_error"`
	RepublicanStandardError  float64        `json:"republican_standard_error"`
	EffectiveSampleSize      float64        `json:"effective_sample_size"`
	Source                   EstimateSource `json:"source"`
	PollsInWindow            int            `json:"polls_in_window,omitempty"`
	HasPolls                 bool           `json:"has_polls"` // false: baseline only, low confidence
}

// Window is the inclusive range of days a forecast covers
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Days returns the number of calendar days in the window
func (w Window) Days() int {
	return DaysBetween(w.Start, w.End) + 1
}

// StateTable is the StateAggregator output: estimates sorted by (state, date)
// plus the state units that could not be computed.
type StateTable struct {
	Window    Window               `json:"window"`
	Estimates []StateDailyEstimate `json:"estimates"`
	Failures  []UnitFailure        `json:"failures,omitempty"`
}

// ByDate groups the estimates by day, preserving state order within each day
func (t *StateTable) ByDate() map[time.Time][]StateDailyEstimate {
	out := make(map[time.Time][]StateDailyEstimate)
	for _, e := range t.Estimates {
		d := Day(e.Date)
		out[d] = append(out[d], e)
	}
	return out
}

// Dates returns the distinct dates present in the table in ascending order
func (t *StateTable) Dates() []time.Time {
	seen := make(map[time.Time]bool)
	var dates []time.Time
	for _, e := range t.Estimates {
		d := Day(e.Date)
		if !seen[d] {
			seen[d] = true
			dates = append(dates, d)
		}
	}
	sortDates(dates)
	return dates
}

// UnpolledStates returns the states whose estimates come from the baseline alone
func (t *StateTable) UnpolledStates() []string {
	seen := make(map[string]bool)
	var states []string
	for _, e := range t.Estimates {
		if !e.HasPolls && !seen[e.StateID] {
			seen[e.StateID] = true
			states = append(states, e.StateID)
		}
	}
	return states
}

func sortDates(dates []time.Time) {
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
}
