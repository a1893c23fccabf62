package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDomain marks a violated probability or sample-size precondition
	ErrDomain = errors.New("domain error")

	// ErrMissingBaseline marks polls for a state with no baseline result
	ErrMissingBaseline = errors.New("missing baseline")
)

// DomainError describes the offending value behind an ErrDomain failure
type DomainError struct {
	Field  string
	Value  float64
	Reason string
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return fmt.Sprintf("domain error: %s=%v: %s", e.Field, e.Value, e.Reason)
}

// Unwrap lets errors.Is(err, ErrDomain) match
func (e *DomainError) Unwrap() error { return ErrDomain }

// NewDomainError creates a DomainError
func NewDomainError(field string, value float64, reason string) *DomainError {
	return &DomainError{Field: field, Value: value, Reason: reason}
}

// Stage names the engine that produced a UnitFailure
type Stage string

const (
	StageAggregate Stage = "aggregate"
	StageElectoral Stage = "electoral"
)

// UnitFailure is an isolated failure of one state or one date.
// The rest of the run completes without it.
type UnitFailure struct {
	Stage   Stage     `json:"stage"`
	StateID string    `json:"state,omitempty"`
	Date    time.Time `json:"date,omitempty"`
	Err     error     `json:"-"`
	Message string    `json:"error"`
}

// NewUnitFailure creates a UnitFailure and captures the error text for serialization
func NewUnitFailure(stage Stage, stateID string, date time.Time, err error) UnitFailure {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return UnitFailure{Stage: stage, StateID: stateID, Date: date, Err: err, Message: msg}
}

// Error implements the error interface
func (f UnitFailure) Error() string {
	switch {
	case f.StateID != "" && !f.Date.IsZero():
		return fmt.Sprintf("%s unit state=%s date=%s: %s", f.Stage, f.StateID, f.Date.Format(DateLayout), f.Message)
	case f.StateID != "":
		return fmt.Sprintf("%s unit state=%s: %s", f.Stage, f.StateID, f.Message)
	default:
		return fmt.Sprintf("%s unit date=%s: %s", f.Stage, f.Date.Format(DateLayout), f.Message)
	}
}

// Unwrap returns the underlying error
func (f UnitFailure) Unwrap() error { return f.Err }
