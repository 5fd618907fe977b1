package backend

import (
	"fmt"

	"gonum.org/v1/gonum/dsp/window"

	"github.com/23skdu/longbow-ndgate/internal/dispatch"
)

var windows = map[string]func([]float64) []float64{
	dispatch.OpBartlett: window.Triangular,
	dispatch.OpBlackman: window.Blackman,
	dispatch.OpHamming:  window.Hamming,
	dispatch.OpHanning:  window.Hann,
}

// Window returns the symmetric window of length m. m <= 0 gives an empty
// window and m == 1 gives [1].
func Window(name string, m int) ([]float64, error) {
	fn, ok := windows[name]
	if !ok {
		return nil, fmt.Errorf("%w: window %q", ErrUnsupportedOp, name)
	}
	if m <= 0 {
		return []float64{}, nil
	}
	seq := make([]float64, m)
	for i := range seq {
		seq[i] = 1
	}
	if m == 1 {
		return seq, nil
	}
	return fn(seq), nil
}

// IsWindow reports whether name is a window function.
func IsWindow(name string) bool {
	_, ok := windows[name]
	return ok
}
