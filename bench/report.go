// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bench

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/aclements/go-moremath/stats"

	"github.com/aclements/go-perfmeasure/measure"
)

// A Report summarizes the per-iteration values of a benchmark run.
//
// Mean, StdDev, Median, Min, and Max are in Unit, as chosen by the
// measurement's formatter for the mean.
type Report struct {
	Name       string  `yaml:"name" cbor:"name"`
	Unit       string  `yaml:"unit" cbor:"unit"`
	Samples    int     `yaml:"samples" cbor:"samples"`
	Iterations uint64  `yaml:"iterations" cbor:"iterations"`
	Mean       float64 `yaml:"mean" cbor:"mean"`
	StdDev     float64 `yaml:"stddev" cbor:"stddev"`
	Median     float64 `yaml:"median" cbor:"median"`
	Min        float64 `yaml:"min" cbor:"min"`
	Max        float64 `yaml:"max" cbor:"max"`

	// Throughput is the mean throughput, if the run was configured with one.
	Throughput *ThroughputSummary `yaml:"throughput,omitempty" cbor:"throughput,omitempty"`

	// Total is the sum of every sample's measured value, in the
	// measurement's float64 representation (e.g., nanoseconds or raw
	// counts), across all iterations.
	Total float64 `yaml:"total" cbor:"total"`

	// PerIteration holds each sample's value divided by its iteration
	// count, unscaled.
	PerIteration []float64 `yaml:"-" cbor:"-"`
}

// ThroughputSummary is the mean throughput of a run.
type ThroughputSummary struct {
	Unit string  `yaml:"unit" cbor:"unit"`
	Mean float64 `yaml:"mean" cbor:"mean"`
}

func newReport(name string, iters, values []float64, f measure.ValueFormatter, tp *measure.Throughput) *Report {
	r := &Report{Name: name, Samples: len(values)}
	perIter := make([]float64, len(values))
	for i := range values {
		perIter[i] = values[i] / iters[i]
		r.Iterations += uint64(iters[i])
	}
	r.PerIteration = perIter

	// Sort a copy so PerIteration stays in sample order.
	s := stats.Sample{Xs: slices.Clone(perIter)}
	s.Sort()
	mean := s.Mean()
	lo, hi := s.Bounds()
	summary := []float64{mean, s.StdDev(), s.Quantile(0.5), lo, hi}
	r.Unit = f.ScaleValues(mean, summary)
	r.Mean, r.StdDev, r.Median, r.Min, r.Max = summary[0], summary[1], summary[2], summary[3], summary[4]

	if tp != nil {
		t := []float64{mean}
		unit := f.ScaleThroughputs(mean, *tp, t)
		r.Throughput = &ThroughputSummary{Unit: unit, Mean: t[0]}
	}
	return r
}

// Write writes a human-readable summary of r to w.
func (r *Report) Write(w io.Writer) error {
	var buf strings.Builder
	fmt.Fprintf(&buf, "%s\n", r.Name)
	fmt.Fprintf(&buf, "  %-12s [%.4g %.4g %.4g] %s\n", "min/med/max:", r.Min, r.Median, r.Max, r.Unit)
	fmt.Fprintf(&buf, "  %-12s %.4g %s ± %.4g\n", "mean:", r.Mean, r.Unit, r.StdDev)
	if r.Throughput != nil {
		fmt.Fprintf(&buf, "  %-12s %.4g %s\n", "thrpt:", r.Throughput.Mean, r.Throughput.Unit)
	}
	fmt.Fprintf(&buf, "  %d samples, %d iterations\n", r.Samples, r.Iterations)
	_, err := io.WriteString(w, buf.String())
	return err
}
