package models

import (
	"errors"
	"fmt"
)

var (
	// ErrRFMUnavailable is returned when no event carries a customer id.
	ErrRFMUnavailable = errors.New("rfm unavailable: no events carry a customer id")
	// ErrForecastUnavailable is returned when a stock recommendation is asked for an entity without forecast.
	ErrForecastUnavailable = errors.New("forecast unavailable")
)

// DataQualityError describes a single rejected record.
type DataQualityError struct {
	Index    int    `json:"record"`
	EntityID string `json:"entity_id,omitempty"`
	Field    string `json:"field"`
	Reason   string `json:"reason"`
}

func (e *DataQualityError) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("record %d (%s): %s: %s", e.Index, e.EntityID, e.Field, e.Reason)
	}
	return fmt.Sprintf("record %d: %s: %s", e.Index, e.Field, e.Reason)
}

type InsufficientHistoryError struct {
	EntityID string
	Days     int
	Required int
	Cause    error
}

func (e *InsufficientHistoryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: no usable forecast: %v", e.EntityID, e.Cause)
	}
	return fmt.Sprintf("%s: %d days of history, need %d", e.EntityID, e.Days, e.Required)
}

func (e *InsufficientHistoryError) Unwrap() error { return e.Cause }

type ModelConvergenceError struct {
	Model    string
	EntityID string
	Err      error
}

func (e *ModelConvergenceError) Error() string {
	return fmt.Sprintf("%s did not converge for %s: %v", e.Model, e.EntityID, e.Err)
}

func (e *ModelConvergenceError) Unwrap() error { return e.Err }

type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

// ConfigErr is shorthand for building a *ConfigurationError.
func ConfigErr(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsConfigurationError reports whether err contains a configuration error.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
