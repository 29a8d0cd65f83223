package models

import (
	"fmt"
	"strings"
)

// DataValidationError represents malformed or inconsistent input tables.
// Fatal; raised before the model is built.
type DataValidationError struct {
	Source  string
	Row     string
	Field   string
	Value   string
	Message string
}

func (e *DataValidationError) Error() string {
	var b strings.Builder
	b.WriteString("data validation")
	if e.Source != "" {
		b.WriteString(" [" + e.Source)
		if e.Row != "" {
			b.WriteString(" row " + e.Row)
		}
		b.WriteString("]")
	}
	if e.Field != "" {
		b.WriteString(" " + e.Field)
	}
	b.WriteString(": " + e.Message)
	return b.String()
}

// IsTransient returns false as validation errors are permanent
func (e *DataValidationError) IsTransient() bool {
	return false
}

// ConfigurationError represents a parameter-table shape or value mismatch.
type ConfigurationError struct {
	Name    string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Name == "" {
		return "configuration: " + e.Message
	}
	return fmt.Sprintf("configuration %q: %s", e.Name, e.Message)
}

func (e *ConfigurationError) IsTransient() bool {
	return false
}

// SolverError represents a solver process failure unrelated to feasibility.
type SolverError struct {
	Backend string
	Message string
	Err     error
}

func (e *SolverError) Error() string {
	msg := fmt.Sprintf("solver %s: %s", e.Backend, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SolverError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether retrying the solve could succeed.
// Licensing and resource failures may clear up; malformed output will not.
func (e *SolverError) IsTransient() bool {
	return e.Err != nil
}

// DecodingError signals a mismatch between the solver output and the variable registry.
type DecodingError struct {
	Variable string
	Message  string
}

func (e *DecodingError) Error() string {
	if e.Variable == "" {
		return "decoding: " + e.Message
	}
	return fmt.Sprintf("decoding %s: %s", e.Variable, e.Message)
}

func (e *DecodingError) IsTransient() bool {
	return false
}
