package model

import (
	"fmt"
	"time"
)

// DateLayout is the day-precision layout used for every date the forecaster reads or writes
const DateLayout = "2006-01-02"

// Day truncates t to midnight UTC of its calendar day
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD date
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// DaysBetween returns the whole number of days from a to b (negative if b is before a)
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}

// Poll is one published survey result for one state, already cleaned upstream
// (one row per poll/question, single population type selected).
type Poll struct {
	PollID          string    `json:"poll_id" validate:"required"`
	QuestionID      string    `json:"question_id,omitempty"`
	StateID         string    `json:"state" validate:"required"`
	StartDate       time.Time `json:"start_date"`
	EndDate         time.Time `json:"end_date" validate:"required"`
	SampleSize      int       `json:"sample_size" validate:"gt=0"`
	DemocraticShare float64   `json:"democratic_share" validate:"gte=0,lte=1"`
	RepublicanShare float64   `json:"republican_share" validate:"gte=0,lte=1"`
}

// Margin is the Democratic share minus the Republican share
func (p Poll) Margin() float64 {
	return p.DemocraticShare - p.RepublicanShare
}

// BaselineResult is a state's result in the previous election, used to seed the forecast
type BaselineResult struct {
	StateID         string  `json:"state" validate:"required"`
	DemocraticShare float64 `json:"democratic_share" validate:"gte=0,lte=1"`
	RepublicanShare float64 `json:"republican_share" validate:"gte=0,lte=1"`
}

// Margin is the Democratic share minus the Republican share
func (b BaselineResult) Margin() float64 {
	return b.DemocraticShare - b.RepublicanShare
}

// Allocation is the number of electors a state holds in an election year
type Allocation struct {
	StateID  string `json:"state" validate:"required"`
	Year     int    `json:"year" validate:"gt=0"`
	Electors int    `json:"electors" validate:"gte=0"`
}

// ElectionSummary is the official record for one election year.
// Only the cross-check uses it; the forecast never does.
type ElectionSummary struct {
	Year           int       `json:"year"`
	ElectionDate   time.Time `json:"election_date"`
	ElectoralTotal int       `json:"electoral_total"`
}
