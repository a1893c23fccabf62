// Package score summarizes a forecast run into transparent diagnostic signals.
package score

import (
	"fmt"
	"math"
	"sort"

	"github.com/ppiankov/pollcast/internal/model"
)

// closeRaceMargin is the distance from an even majority chance below which a race is flagged
const closeRaceMargin = 0.1

// Scorer derives the run confidence and signals
type Scorer struct{}

// NewScorer creates a new scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// Calculate scores a run from its state table and electoral table; electoral may be nil
func (s *Scorer) Calculate(states *model.StateTable, electoral *model.ElectoralTable) model.Score {
	var signals []model.Signal

	// 1. Poll coverage
	coverage, coverageSignal := s.calculateCoverage(states)
	signals = append(signals, coverageSignal)

	// 2. States forecast from the baseline alone
	if sig, ok := s.detectInsufficientData(states); ok {
		signals = append(signals, sig)
	}

	// 3. Failed units
	failures := len(states.Failures)
	if electoral != nil {
		failures += len(electoral.Failures)
	}
	if sig, ok := s.detectFailures(states, electoral); ok {
		signals = append(signals, sig)
	}

	// 4. States left out of the distribution
	if electoral != nil && len(electoral.Unallocated) > 0 {
		signals = append(signals, model.Signal{
			Type:        model.SignalUnallocated,
			Severity:    model.SeverityWarning,
			Description: fmt.Sprintf("%d estimated states have no electors this year", len(electoral.Unallocated)),
			Data:        map[string]interface{}{"states": electoral.Unallocated},
		})
	}

	// 5. Final-date outcome
	if electoral != nil {
		if final, ok := electoral.FinalMode(); ok {
			signals = append(signals, s.leader(final))
			if sig, ok := s.detectCloseRace(final); ok {
				signals = append(signals, sig)
			}
		}
	}

	return model.Score{
		Coverage:   coverage,
		Confidence: s.determineConfidence(coverage, failures),
		Signals:    signals,
	}
}

// calculateCoverage is the share of estimated states with at least one poll
func (s *Scorer) calculateCoverage(states *model.StateTable) (float64, model.Signal) {
	total, polled := countStates(states)
	if total == 0 {
		return 0, model.Signal{
			Type:        model.SignalPollCoverage,
			Severity:    model.SeverityCritical,
			Description: "No states were estimated",
			Data:        map[string]interface{}{"states": 0, "polled": 0},
		}
	}

	ratio := float64(polled) / float64(total)
	severity := model.SeverityInfo
	if ratio < 0.5 {
		severity = model.SeverityCritical
	} else if ratio < 0.8 {
		severity = model.SeverityWarning
	}

	return ratio, model.Signal{
		Type:        model.SignalPollCoverage,
		Severity:    severity,
		Description: fmt.Sprintf("%d of %d states polled (%.0f%%)", polled, total, ratio*100),
		Data: map[string]interface{}{
			"states":  total,
			"polled":  polled,
			"ratio":   ratio,
			"formula": "polled_states / estimated_states",
		},
	}
}

func (s *Scorer) detectInsufficientData(states *model.StateTable) (model.Signal, bool) {
	unpolled := states.UnpolledStates()
	if len(unpolled) == 0 {
		return model.Signal{}, false
	}
	sort.Strings(unpolled)
	return model.Signal{
		Type:        model.SignalInsufficientData,
		Severity:    model.SeverityWarning,
		Description: fmt.Sprintf("%d states have no polls and carry the previous result", len(unpolled)),
		Data:        map[string]interface{}{"states": unpolled},
	}, true
}

func (s *Scorer) detectFailures(states *model.StateTable, electoral *model.ElectoralTable) (model.Signal, bool) {
	var failedStates, failedDates []string
	for _, f := range states.Failures {
		failedStates = append(failedStates, f.StateID)
	}
	if electoral != nil {
		for _, f := range electoral.Failures {
			failedDates = append(failedDates, f.Date.Format(model.DateLayout))
		}
	}
	if len(failedStates)+len(failedDates) == 0 {
		return model.Signal{}, false
	}

	severity := model.SeverityWarning
	if len(failedDates) > 0 {
		severity = model.SeverityCritical
	}
	return model.Signal{
		Type:        model.SignalUnitFailures,
		Severity:    severity,
		Description: fmt.Sprintf("%d states and %d dates could not be computed", len(failedStates), len(failedDates)),
		Data: map[string]interface{}{
			"states": failedStates,
			"dates":  failedDates,
		},
	}, true
}

func (s *Scorer) leader(final model.ElectoralMode) model.Signal {
	party, prob, mode := model.PartyDemocratic, final.DemocraticMajority, final.DemocraticMode
	if final.RepublicanMajority > final.DemocraticMajority {
		party, prob, mode = model.PartyRepublican, final.RepublicanMajority, final.RepublicanMode
	}
	return model.Signal{
		Type:     model.SignalLeader,
		Severity: model.SeverityInfo,
		Description: fmt.Sprintf("%s leads on %s: %.1f%% majority probability, most likely %d of %d electoral votes",
			party, final.Date.Format(model.DateLayout), prob*100, mode, final.TotalElectors),
		Data: map[string]interface{}{
			"date":                 final.Date.Format(model.DateLayout),
			"party":                string(party),
			"majority_probability": prob,
			"mode":                 mode,
			"tie_probability":      final.Tie,
		},
	}
}

func (s *Scorer) detectCloseRace(final model.ElectoralMode) (model.Signal, bool) {
	gap := math.Abs(final.DemocraticMajority - final.RepublicanMajority)
	if gap >= 2*closeRaceMargin {
		return model.Signal{}, false
	}
	return model.Signal{
		Type:        model.SignalCloseRace,
		Severity:    model.SeverityWarning,
		Description: fmt.Sprintf("Majority probabilities within %.1f points", gap*100),
		Data: map[string]interface{}{
			"democratic_majority": final.DemocraticMajority,
			"republican_majority": final.RepublicanMajority,
			"threshold":           2 * closeRaceMargin,
		},
	}, true
}

// determineConfidence maps coverage to a level and drops one level when units failed
func (s *Scorer) determineConfidence(coverage float64, failures int) string {
	levels := []string{"low", "medium", "high"}
	level := 0
	switch {
	case coverage >= 0.8:
		level = 2
	case coverage >= 0.5:
		level = 1
	}
	if failures > 0 && level > 0 {
		level--
	}
	return levels[level]
}

func countStates(states *model.StateTable) (total, polled int) {
	seen := make(map[string]bool)
	for _, e := range states.Estimates {
		if seen[e.StateID] {
			continue
		}
		seen[e.StateID] = true
		total++
		if e.HasPolls {
			polled++
		}
	}
	return total, polled
}
