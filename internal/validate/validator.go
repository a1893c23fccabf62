// Package validate cross-checks input tables against each other and against
// official election summaries. The forecast never calls it; it backs the
// check command and the pre-run config validation.
package validate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/ppiankov/pollcast/internal/model"
)

// Severity of a Finding
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Check names
const (
	CheckAllocationTotal     = "allocation_total"
	CheckMissingAllocations  = "missing_allocations"
	CheckMissingSummary      = "missing_summary"
	CheckDuplicateAllocation = "duplicate_allocation"
	CheckDuplicateQuestion   = "duplicate_question"
	CheckShareSum            = "share_sum"
	CheckMissingBaseline     = "missing_baseline"
	CheckUnallocatedState    = "unallocated_state"
)

// Finding is one consistency problem
type Finding struct {
	Check    string   `json:"check"`
	Severity Severity `json:"severity"`
	Year     int      `json:"year,omitempty"`
	StateID  string   `json:"state,omitempty"`
	Message  string   `json:"message"`
}

// Report collects the findings of a cross-check
type Report struct {
	Findings []Finding `json:"findings"`
}

// Errors counts findings of error severity
func (r *Report) Errors() int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			n++
		}
	}
	return n
}

// OK reports whether no error-level finding was raised
func (r *Report) OK() bool { return r.Errors() == 0 }

// Input is everything a cross-check can compare. Empty tables skip the checks
// that need them.
type Input struct {
	Summaries   []model.ElectionSummary
	Allocations []model.Allocation
	Polls       []model.Poll
	Baselines   []model.BaselineResult
	Year        int // forecast year for the poll and baseline checks
}

// Checker runs the per-year checks concurrently
type Checker struct {
	maxWorkers int
}

// NewChecker creates a new checker
func NewChecker(maxWorkers int) *Checker {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	return &Checker{maxWorkers: maxWorkers}
}

// CrossCheck compares the tables in input and returns every inconsistency found
func (c *Checker) CrossCheck(ctx context.Context, in Input) (*Report, error) {
	byYear := make(map[int][]model.Allocation)
	for _, a := range in.Allocations {
		byYear[a.Year] = append(byYear[a.Year], a)
	}

	years := make([]int, 0, len(in.Summaries))
	summaries := make(map[int]model.ElectionSummary)
	for _, s := range in.Summaries {
		if _, dup := summaries[s.Year]; !dup {
			years = append(years, s.Year)
		}
		summaries[s.Year] = s
	}
	sort.Ints(years)

	// One slot per summary year, filled concurrently
	perYear := make([][]Finding, len(years))
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, c.maxWorkers)

	for i, year := range years {
		wg.Add(1)
		go func(idx int, s model.ElectionSummary) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				return
			case semaphore <- struct{}{}:
			}
			defer func() { <-semaphore }()

			perYear[idx] = checkYear(s, byYear[s.Year])
		}(i, summaries[year])
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("cross-check: %w", err)
	}

	report := &Report{}
	for _, f := range perYear {
		report.Findings = append(report.Findings, f...)
	}

	if len(in.Summaries) > 0 {
		var orphan []int
		for year := range byYear {
			if _, ok := summaries[year]; !ok {
				orphan = append(orphan, year)
			}
		}
		sort.Ints(orphan)
		for _, year := range orphan {
			report.Findings = append(report.Findings, Finding{
				Check:    CheckMissingSummary,
				Severity: SeverityWarning,
				Year:     year,
				Message:  fmt.Sprintf("allocations for %d have no election summary", year),
			})
		}
	}

	report.Findings = append(report.Findings, checkPolls(in.Polls, in.Year)...)
	report.Findings = append(report.Findings, checkCoverage(in)...)
	return report, nil
}

// checkYear compares one year's allocations with its official total
func checkYear(s model.ElectionSummary, allocations []model.Allocation) []Finding {
	if len(allocations) == 0 {
		return []Finding{{
			Check:    CheckMissingAllocations,
			Severity: SeverityError,
			Year:     s.Year,
			Message:  fmt.Sprintf("no allocations for %d (official total %d)", s.Year, s.ElectoralTotal),
		}}
	}

	var findings []Finding
	seen := make(map[string]bool)
	total := 0
	for _, a := range allocations {
		if seen[a.StateID] {
			findings = append(findings, Finding{
				Check:    CheckDuplicateAllocation,
				Severity: SeverityError,
				Year:     s.Year,
				StateID:  a.StateID,
				Message:  fmt.Sprintf("%s has more than one allocation row for %d", a.StateID, s.Year),
			})
			continue
		}
		seen[a.StateID] = true
		total += a.Electors
	}

	if total != s.ElectoralTotal {
		findings = append(findings, Finding{
			Check:    CheckAllocationTotal,
			Severity: SeverityError,
			Year:     s.Year,
			Message:  fmt.Sprintf("allocations sum to %d, official total is %d", total, s.ElectoralTotal),
		})
	}
	return findings
}

// checkPolls flags repeated poll questions and impossible share pairs
func checkPolls(polls []model.Poll, year int) []Finding {
	var findings []Finding
	type question struct{ poll, question, state string }
	seen := make(map[question]bool)

	for _, p := range polls {
		q := question{p.PollID, p.QuestionID, p.StateID}
		if seen[q] {
			findings = append(findings, Finding{
				Check:    CheckDuplicateQuestion,
				Severity: SeverityWarning,
				Year:     year,
				StateID:  p.StateID,
				Message:  fmt.Sprintf("poll %s question %s appears more than once", p.PollID, p.QuestionID),
			})
		}
		seen[q] = true

		if sum := p.DemocraticShare + p.RepublicanShare; sum > 1+1e-9 {
			findings = append(findings, Finding{
				Check:    CheckShareSum,
				Severity: SeverityError,
				Year:     year,
				StateID:  p.StateID,
				Message:  fmt.Sprintf("poll %s shares sum to %.4f", p.PollID, sum),
			})
		}
	}
	return findings
}

// checkCoverage flags polled states without a baseline and estimated states
// without electors in the forecast year
func checkCoverage(in Input) []Finding {
	baselines := make(map[string]bool)
	for _, b := range in.Baselines {
		baselines[b.StateID] = true
	}
	allocated := make(map[string]bool)
	for _, a := range in.Allocations {
		if a.Year == in.Year {
			allocated[a.StateID] = true
		}
	}

	polled := make(map[string]bool)
	for _, p := range in.Polls {
		polled[p.StateID] = true
	}

	var findings []Finding
	if len(in.Baselines) > 0 {
		for _, id := range sortedKeys(polled) {
			if !baselines[id] {
				findings = append(findings, Finding{
					Check:    CheckMissingBaseline,
					Severity: SeverityWarning,
					Year:     in.Year,
					StateID:  id,
					Message:  fmt.Sprintf("%s has polls but no baseline result; it will not be forecast", id),
				})
			}
		}
	}

	if len(allocated) > 0 {
		for _, id := range sortedKeys(baselines) {
			if !allocated[id] {
				findings = append(findings, Finding{
					Check:    CheckUnallocatedState,
					Severity: SeverityWarning,
					Year:     in.Year,
					StateID:  id,
					Message:  fmt.Sprintf("%s has no electors for %d and is left out of the distribution", id, in.Year),
				})
			}
		}
	}
	return findings
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var configValidator = validator.New()

// Config checks the struct tag constraints of a configuration and reports
// every violation at once, using the yaml key path of each field.
func Config(cfg *model.Config) error {
	err := configValidator.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		msgs = append(msgs, fmt.Sprintf("%s: %v violates %s", configPath(fe.Namespace()), fe.Value(), rule))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// configPath turns "Config.Model.WindowDays" into "model.window_days"
func configPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snake(p)
	}
	return strings.Join(parts, ".")
}

func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && !(s[i-1] >= 'A' && s[i-1] <= 'Z') {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
