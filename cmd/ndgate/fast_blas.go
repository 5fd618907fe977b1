//go:build cgo && netlib

package main

// Registers the netlib BLAS implementation, which calls the system BLAS
// (Accelerate on macOS, OpenBLAS on Linux). gonum/mat uses it for the
// covariance factorizations behind multivariate sampling.

import (
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/netlib/blas/netlib"
)

func init() {
	blas64.Use(netlib.Implementation{})
	log.Debug().Msg("CGO/BLAS acceleration enabled (netlib)")
}
