package model

import "time"

// Report is the run summary written next to the forecast tables
type Report struct {
	RunID       string    `json:"run_id,omitempty"`
	Year        int       `json:"year"`
	GeneratedAt time.Time `json:"generated_at"`
	Window      Window    `json:"window"`
	Inputs      Inputs    `json:"inputs"`

	States      int `json:"states"`
	Dates       int `json:"dates"`
	Estimates   int `json:"estimates"`
	Distributed int `json:"distribution_rows"`

	Final *ElectoralMode `json:"final,omitempty"` // latest date's mode row

	Score    Score         `json:"score"`
	Failures []UnitFailure `json:"failures,omitempty"`
}

// Inputs records what a run consumed
type Inputs struct {
	Polls       int    `json:"polls"`
	Baselines   int    `json:"baselines"`
	Allocations int    `json:"allocations"`
	Digest      string `json:"digest,omitempty"` // sha256 over the input tables
}

// Score is the transparent confidence breakdown of a run
type Score struct {
	Coverage   float64  `json:"coverage"`   // share of states with at least one poll
	Confidence string   `json:"confidence"` // "low", "medium", "high"
	Signals    []Signal `json:"signals"`
}

// Signal is a diagnostic finding with the data behind it
type Signal struct {
	Type        SignalType             `json:"type"`
	Severity    SignalSeverity         `json:"severity"`
	Description string                 `json:"description"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// SignalType classifies a diagnostic signal
type SignalType string

const (
	SignalPollCoverage     SignalType = "poll_coverage"     // States with polls vs all states
	SignalInsufficientData SignalType = "insufficient_data" // States forecast from the baseline alone
	SignalUnitFailures     SignalType = "unit_failures"     // States or dates that failed
	SignalUnallocated      SignalType = "unallocated"       // Estimated states with no electors row
	SignalLeader           SignalType = "leader"            // Final-date most likely outcome
	SignalCloseRace        SignalType = "close_race"        // Majority probability near even
)

// SignalSeverity indicates the importance of the signal
type SignalSeverity string

const (
	SeverityInfo     SignalSeverity = "info"
	SeverityWarning  SignalSeverity = "warning"
	SeverityCritical SignalSeverity = "critical"
)
