// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bench runs benchmark functions under a pluggable
// [measure.Measurement] and summarizes the results.
//
// A run has two phases. Warm-up runs the benchmark with a doubling number of
// iterations until the configured warm-up time has passed, which also
// estimates how long one iteration takes. Measurement then collects
// SampleSize samples with linearly increasing iteration counts (sample k runs
// k*d iterations), choosing d so the whole phase takes about
// MeasurementTime. Each sample's measured value divided by its iteration
// count is one data point of the report.
package bench

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aclements/go-perfmeasure/measure"
)

// Config controls how long a benchmark runs and how many samples it takes.
type Config struct {
	// SampleSize is the number of samples to collect. It must be at least 2.
	SampleSize int

	// WarmUpTime is how long to run the benchmark before measuring.
	WarmUpTime time.Duration

	// MeasurementTime is the approximate total time to spend collecting
	// samples.
	MeasurementTime time.Duration

	// Throughput, if non-nil, is the amount of work done by each iteration
	// and adds a throughput line to the report.
	Throughput *measure.Throughput
}

// DefaultConfig returns 100 samples over 5 seconds after a 3 second warm-up.
func DefaultConfig() Config {
	return Config{
		SampleSize:      100,
		WarmUpTime:      3 * time.Second,
		MeasurementTime: 5 * time.Second,
	}
}

func (c Config) validate() error {
	if c.SampleSize < 2 {
		return fmt.Errorf("sample size %d is less than 2", c.SampleSize)
	}
	if c.WarmUpTime <= 0 {
		return fmt.Errorf("warm-up time %v is not positive", c.WarmUpTime)
	}
	if c.MeasurementTime <= 0 {
		return fmt.Errorf("measurement time %v is not positive", c.MeasurementTime)
	}
	if tp := c.Throughput; tp != nil {
		switch tp.Kind {
		case measure.Bytes, measure.BytesDecimal, measure.Elements:
		default:
			return fmt.Errorf("invalid throughput kind %d", int(tp.Kind))
		}
		if tp.N == 0 {
			return errors.New("throughput must be positive")
		}
	}
	return nil
}

// A Harness runs benchmarks with measurement m. I and V are the
// measurement's intermediate and value types.
type Harness[I, V any] struct {
	m   measure.Measurement[I, V]
	cfg Config
}

// New returns a Harness that measures benchmarks with m.
func New[I, V any](m measure.Measurement[I, V], cfg Config) (*Harness[I, V], error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("bench: %w", err)
	}
	return &Harness[I, V]{m: m, cfg: cfg}, nil
}

// Run benchmarks f, which must call exactly one of [Bencher.Iter] or
// [IterBatched] each time it is invoked. Any measurement error aborts the
// run: Run returns either a report built from every sample, or an error.
func (h *Harness[I, V]) Run(name string, f func(b *Bencher[I, V])) (*Report, error) {
	b := &Bencher[I, V]{m: h.m}

	log.Info().Str("benchmark", name).Dur("warm_up", h.cfg.WarmUpTime).Msg("Warming up")
	var warmIters uint64
	var warmTime time.Duration
	for b.iters = 1; warmTime < h.cfg.WarmUpTime; b.iters *= 2 {
		start := time.Now()
		if err := b.run(f); err != nil {
			return nil, fmt.Errorf("%s: warm-up: %w", name, err)
		}
		warmTime += time.Since(start)
		warmIters += b.iters
	}
	nsPerIter := max(float64(warmTime.Nanoseconds())/float64(warmIters), 1)

	// Linear sampling: sample k runs k*d iterations, so the phase runs
	// d*n*(n+1)/2 iterations in total.
	n := h.cfg.SampleSize
	totalUnits := float64(n) * float64(n+1) / 2
	d := uint64(max(math.Ceil(float64(h.cfg.MeasurementTime.Nanoseconds())/(nsPerIter*totalUnits)), 1))

	log.Info().
		Str("benchmark", name).
		Int("samples", n).
		Uint64("iters_per_step", d).
		Float64("est_ns_per_iter", nsPerIter).
		Msg("Collecting samples")

	iters := make([]float64, n)
	values := make([]float64, n)
	total := h.m.Zero()
	for k := 1; k <= n; k++ {
		b.iters = uint64(k) * d
		if err := b.run(f); err != nil {
			return nil, fmt.Errorf("%s: sample %d of %d: %w", name, k, n, err)
		}
		total = h.m.Add(total, b.value)
		iters[k-1] = float64(b.iters)
		values[k-1] = h.m.ToFloat64(b.value)
		log.Debug().Str("benchmark", name).Int("sample", k).Uint64("iters", b.iters).Float64("value", values[k-1]).Msg("Sample")
	}

	r := newReport(name, iters, values, h.m.Formatter(), h.cfg.Throughput)
	r.Total = h.m.ToFloat64(total)
	log.Info().Str("benchmark", name).Float64("mean", r.Mean).Str("unit", r.Unit).Msg("Benchmark complete")
	return r, nil
}
