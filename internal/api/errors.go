package api

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures so callers can pick a degradation
// path without string matching.
type ErrorKind string

const (
	// KindInvalidParameter means a configuration value is outside its
	// valid domain (non-positive half-life, n_simulations < 1, ...).
	KindInvalidParameter ErrorKind = "invalid_parameter"

	// KindInsufficientData means there are not enough observations to fit
	// a model; the caller should fall back to a simpler estimator.
	KindInsufficientData ErrorKind = "insufficient_data"

	// KindInvalidInput means the data violates a component's domain
	// assumption (zero/negative values into a log-log regression).
	KindInvalidInput ErrorKind = "invalid_input"
)

// Error is a typed engine failure carrying enough structure for the caller
// to log or display: which component, which parameter, what went wrong.
type Error struct {
	Kind      ErrorKind
	Component string
	Param     string
	Detail    string
}

func (e *Error) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s: %s (%s)", e.Component, e.Kind, e.Detail, e.Param)
	}
	return fmt.Sprintf("%s: %s: %s", e.Component, e.Kind, e.Detail)
}

// Is lets errors.Is match on kind sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Component == "" || t.Component == e.Component)
}

// ErrInvalidParameter builds an InvalidParameter error for a component.
func ErrInvalidParameter(component, param, detail string) error {
	return &Error{Kind: KindInvalidParameter, Component: component, Param: param, Detail: detail}
}

// ErrInsufficientData builds an InsufficientData error for a component.
func ErrInsufficientData(component, detail string) error {
	return &Error{Kind: KindInsufficientData, Component: component, Detail: detail}
}

// ErrInvalidInput builds an InvalidInput error for a component.
func ErrInvalidInput(component, detail string) error {
	return &Error{Kind: KindInvalidInput, Component: component, Detail: detail}
}

// IsKind reports whether err is an engine error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
