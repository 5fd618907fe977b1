package random

import (
	"errors"
	"fmt"

	"github.com/23skdu/longbow-ndgate/internal/device"
)

var (
	// ErrUnknownDistribution is returned for names missing from the table.
	ErrUnknownDistribution = errors.New("unknown distribution")
	// ErrMissingParameter is returned when a required parameter is absent or None.
	ErrMissingParameter = errors.New("missing required parameter")
	// ErrUnexpectedParameter is returned for parameters the distribution does not take.
	ErrUnexpectedParameter = errors.New("unexpected parameter")
	// ErrUnsupportedDType is returned when the requested result dtype has the wrong kind.
	ErrUnsupportedDType = errors.New("unsupported result dtype")
)

// DomainError reports a parameter outside its mathematical domain.
type DomainError struct {
	Distribution string
	Param        string
	Constraint   string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: parameter %s must be %s", e.Distribution, e.Param, e.Constraint)
}

// ShapeBroadcastError reports parameter shapes that cannot be reconciled
// with each other or with the requested output shape.
type ShapeBroadcastError struct {
	Distribution string
	Param        string
	Err          error
}

func (e *ShapeBroadcastError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: parameter %s: %v", e.Distribution, e.Param, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Distribution, e.Err)
}

func (e *ShapeBroadcastError) Unwrap() error {
	return e.Err
}

func dtypeError(dist string, want kind, got device.DType) error {
	return fmt.Errorf("%w: %s produces %s values, got dtype %s", ErrUnsupportedDType, dist, want, got)
}
