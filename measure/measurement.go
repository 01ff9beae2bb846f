// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package measure defines what a benchmark harness measures about each batch
// of iterations, and provides measurements that count hardware performance
// events instead of wall-clock time.
//
// A harness calls [Measurement.Start] immediately before running the
// benchmarked code and [Measurement.End] immediately after, and treats the
// resulting value as the "elapsed" amount for that batch. [Perf] implements
// this with a Linux perf counter:
//
//	m, err := measure.NewPerf(measure.Branches)
//	if err != nil {
//		log.Fatal(err)
//	}
//	h, err := bench.New(m, bench.DefaultConfig())
//	...
package measure

// A Measurement is a strategy for measuring a span of code.
//
// I is the intermediate value returned by Start and consumed by End; V is the
// measured value. Start and End must be called on the same goroutine, and
// every I returned by Start must be passed to End exactly once.
type Measurement[I, V any] interface {
	// Start begins measuring.
	Start() (I, error)

	// End stops measuring and returns the amount measured since the
	// matching Start.
	End(I) (V, error)

	// Add returns the sum of two values.
	Add(a, b V) V

	// Zero returns the additive identity of values.
	Zero() V

	// ToFloat64 converts a value to a float64 for statistical analysis.
	ToFloat64(V) float64

	// Formatter returns the formatter for values of this measurement after
	// they have been converted with ToFloat64.
	Formatter() ValueFormatter
}

// A ValueFormatter chooses display units for measured values.
type ValueFormatter interface {
	// ScaleValues scales values in place to a unit appropriate for a value
	// of typical, and returns the name of that unit.
	ScaleValues(typical float64, values []float64) string

	// ScaleThroughputs converts values in place into throughputs given that
	// each measured iteration processed t, and returns the unit.
	ScaleThroughputs(typical float64, t Throughput, values []float64) string

	// ScaleForMachines scales values in place to a fixed unit suitable for
	// machine-readable output, and returns that unit.
	ScaleForMachines(values []float64) string
}

// ThroughputKind is the kind of quantity a benchmark iteration processes.
type ThroughputKind int

const (
	// Bytes reports throughput in binary multiples of bytes (KiB, MiB, ...).
	Bytes ThroughputKind = iota + 1
	// BytesDecimal reports throughput in decimal multiples of bytes (KB,
	// MB, ...).
	BytesDecimal
	// Elements reports throughput in elements.
	Elements
)

func (k ThroughputKind) String() string {
	switch k {
	case Bytes:
		return "bytes"
	case BytesDecimal:
		return "bytes-decimal"
	case Elements:
		return "elements"
	}
	return "invalid"
}

// Throughput is the amount of work done by one benchmark iteration.
type Throughput struct {
	Kind ThroughputKind
	N    uint64
}
