// Package backend holds the two executors the engine routes to: the
// reference implementation that accepts every call, and the accelerated
// executor that accepts only what the dispatch gate has normalized.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/23skdu/longbow-ndgate/internal/device"
	"github.com/23skdu/longbow-ndgate/internal/dispatch"
	"github.com/23skdu/longbow-ndgate/internal/random"
)

var (
	// ErrUnsupportedOp is returned for operations a backend does not implement.
	ErrUnsupportedOp = errors.New("unsupported operation")
	// ErrInvalidNorm is returned for a normalization mode other than
	// "backward", "ortho" or "forward".
	ErrInvalidNorm = errors.New("invalid norm value")
)

// Accelerated executes calls the dispatch gate routed to the accelerator.
// Args are already normalized: axis resolved and transform length >= 1.
type Accelerated interface {
	Name() string
	Execute(ctx context.Context, args dispatch.Args) (device.Array, error)
	Sample(ctx context.Context, v *random.Validated) (device.Array, error)
}

// Reference executes any call with its original arguments and raises the
// errors the host array library raises for degenerate input.
type Reference interface {
	Execute(ctx context.Context, sig dispatch.Signature) (device.Array, error)
	Sample(ctx context.Context, v *random.Validated) (device.Array, error)
}

// DataPointsError is raised for empty transforms, matching
// "Invalid number of FFT data points (0) specified."
type DataPointsError struct {
	N int
}

func (e *DataPointsError) Error() string {
	return fmt.Sprintf("Invalid number of FFT data points (%d) specified.", e.N)
}

// Norm is an FFT normalization mode.
type Norm string

const (
	NormBackward Norm = "backward"
	NormOrtho    Norm = "ortho"
	NormForward  Norm = "forward"
)

// ParseNorm accepts the empty string as "backward".
func ParseNorm(s string) (Norm, error) {
	switch Norm(s) {
	case "", NormBackward:
		return NormBackward, nil
	case NormOrtho, NormForward:
		return Norm(s), nil
	}
	return "", fmt.Errorf("%w %q: must be one of \"backward\", \"ortho\", or \"forward\"", ErrInvalidNorm, s)
}
