package model

import (
	"fmt"
	"time"
)

// ForecastRequest names the inputs of one election year's forecast.
// Table locations are file paths or http(s) URLs.
type ForecastRequest struct {
	Year         int    `yaml:"year" json:"year" validate:"gt=0"`
	Polls        string `yaml:"polls" json:"polls" validate:"required"`
	Baseline     string `yaml:"baseline" json:"baseline" validate:"required"`
	Allocations  string `yaml:"allocations" json:"allocations" validate:"required"`
	Start        string `yaml:"start,omitempty" json:"start,omitempty"`                 // YYYY-MM-DD, default January 1
	BaselineYear int    `yaml:"baseline_year,omitempty" json:"baseline_year,omitempty"` // default Year - offset
}

// StartDate returns the campaign start date: Start when set, else January 1 of Year
func (r ForecastRequest) StartDate() (time.Time, error) {
	if r.Start == "" {
		return time.Date(r.Year, time.January, 1, 0, 0, 0, 0, time.UTC), nil
	}
	t, err := ParseDay(r.Start)
	if err != nil {
		return time.Time{}, fmt.Errorf("campaign start: %w", err)
	}
	return t, nil
}

// Forecast bundles everything one run produced
type Forecast struct {
	Report    *Report
	States    *StateTable
	Electoral *ElectoralTable
}
