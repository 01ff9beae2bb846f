// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bench

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aclements/go-perfmeasure/measure"
)

// callCounter is a deterministic Measurement that counts calls to its
// routine instead of reading hardware.
type callCounter struct {
	calls uint64

	starts, ends int
	failStart    int // Fail the Nth Start (1-based), if non-zero
	failEnd      int // Fail the Nth End (1-based), if non-zero
}

var errInjected = errors.New("injected failure")

func (c *callCounter) Start() (uint64, error) {
	c.starts++
	if c.starts == c.failStart {
		return 0, errInjected
	}
	return c.calls, nil
}

func (c *callCounter) End(start uint64) (uint64, error) {
	c.ends++
	if c.ends == c.failEnd {
		return 0, errInjected
	}
	return c.calls - start, nil
}

func (c *callCounter) Add(a, b uint64) uint64            { return a + b }
func (c *callCounter) Zero() uint64                      { return 0 }
func (c *callCounter) ToFloat64(v uint64) float64        { return float64(v) }
func (c *callCounter) Formatter() measure.ValueFormatter { return unitFormatter("calls") }

type unitFormatter string

func (u unitFormatter) ScaleValues(float64, []float64) string { return string(u) }
func (u unitFormatter) ScaleThroughputs(_ float64, t measure.Throughput, vals []float64) string {
	for i := range vals {
		vals[i] /= float64(t.N)
	}
	return string(u) + "/" + t.Kind.String()
}
func (u unitFormatter) ScaleForMachines([]float64) string { return string(u) }

func quickConfig() Config {
	return Config{
		SampleSize:      10,
		WarmUpTime:      time.Millisecond,
		MeasurementTime: 5 * time.Millisecond,
	}
}

func TestRunCountsIterations(t *testing.T) {
	m := &callCounter{}
	h, err := New[uint64, uint64](m, quickConfig())
	if err != nil {
		t.Fatal(err)
	}

	var seen []uint64
	r, err := h.Run("count", func(b *Bencher[uint64, uint64]) {
		seen = append(seen, b.Iters())
		b.Iter(func() { m.calls++ })
	})
	if err != nil {
		t.Fatal(err)
	}

	// Every iteration is one call, so every statistic is exactly 1.
	if r.Mean != 1 || r.Median != 1 || r.Min != 1 || r.Max != 1 || r.StdDev != 0 {
		t.Errorf("got mean %g median %g min %g max %g stddev %g, want all 1 and stddev 0", r.Mean, r.Median, r.Min, r.Max, r.StdDev)
	}
	if r.Unit != "calls" {
		t.Errorf("unit = %q, want calls", r.Unit)
	}
	if r.Samples != 10 || len(r.PerIteration) != 10 {
		t.Errorf("got %d samples (%d values), want 10", r.Samples, len(r.PerIteration))
	}
	if r.Total != float64(r.Iterations) {
		t.Errorf("total %g != iterations %d", r.Total, r.Iterations)
	}

	// The last 10 invocations are the samples, with linearly increasing
	// iteration counts.
	if len(seen) < 10 {
		t.Fatalf("benchmark ran %d times, want at least 10", len(seen))
	}
	samples := seen[len(seen)-10:]
	d := samples[0]
	var sum uint64
	for k, n := range samples {
		if n != uint64(k+1)*d {
			t.Errorf("sample %d ran %d iterations, want %d", k+1, n, uint64(k+1)*d)
		}
		sum += n
	}
	if sum != r.Iterations {
		t.Errorf("report has %d iterations, samples ran %d", r.Iterations, sum)
	}
	// Warm-up doubles.
	for i, n := range seen[:len(seen)-10] {
		if n != 1<<i {
			t.Errorf("warm-up run %d had %d iterations, want %d", i, n, 1<<i)
		}
	}
	if m.starts != m.ends {
		t.Errorf("%d starts but %d ends", m.starts, m.ends)
	}
}

func TestRunAbortsOnError(t *testing.T) {
	for _, tc := range []struct {
		name string
		m    *callCounter
	}{
		{"start-warmup", &callCounter{failStart: 1}},
		{"end-warmup", &callCounter{failEnd: 1}},
		{"end-sample", &callCounter{failEnd: 5}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			// A nanosecond warm-up is a single run, so the fifth run is
			// the fourth sample.
			cfg := quickConfig()
			cfg.WarmUpTime = time.Nanosecond
			h, err := New[uint64, uint64](tc.m, cfg)
			if err != nil {
				t.Fatal(err)
			}
			runs := 0
			r, err := h.Run("fail", func(b *Bencher[uint64, uint64]) {
				runs++
				b.Iter(func() { tc.m.calls++ })
			})
			if !errors.Is(err, errInjected) {
				t.Fatalf("got error %v, want injected failure", err)
			}
			if r != nil {
				t.Errorf("got a report despite the failure")
			}
			if !strings.HasPrefix(err.Error(), "fail: ") {
				t.Errorf("error %q does not name the benchmark", err)
			}
			// The failing invocation is the last one.
			if want := max(tc.m.failStart, tc.m.failEnd); runs != want {
				t.Errorf("benchmark ran %d times, want %d", runs, want)
			}
		})
	}
}

func TestRunMisuse(t *testing.T) {
	m := &callCounter{}
	h, err := New[uint64, uint64](m, quickConfig())
	if err != nil {
		t.Fatal(err)
	}

	_, err = h.Run("none", func(b *Bencher[uint64, uint64]) {})
	if !errors.Is(err, errNoIter) {
		t.Errorf("not calling Iter: got %v, want %v", err, errNoIter)
	}

	_, err = h.Run("twice", func(b *Bencher[uint64, uint64]) {
		b.Iter(func() {})
		b.Iter(func() {})
	})
	if !errors.Is(err, errMultiIter) {
		t.Errorf("calling Iter twice: got %v, want %v", err, errMultiIter)
	}
}

func TestIterBatched(t *testing.T) {
	m := &callCounter{}
	h, err := New[uint64, uint64](m, quickConfig())
	if err != nil {
		t.Fatal(err)
	}

	setups := 0
	r, err := h.Run("batched", func(b *Bencher[uint64, uint64]) {
		IterBatched(b, func() int {
			// Setup happens outside the measurement.
			m.calls += 100
			setups++
			return 2
		}, func(n int) {
			m.calls += uint64(n)
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.Mean != 2 || r.Max != 2 {
		t.Errorf("mean %g, max %g; want 2 (setup was measured?)", r.Mean, r.Max)
	}
	if setups == 0 {
		t.Errorf("setup never ran")
	}
}

func TestThroughput(t *testing.T) {
	m := &callCounter{}
	cfg := quickConfig()
	cfg.Throughput = &measure.Throughput{Kind: measure.Elements, N: 4}
	h, err := New[uint64, uint64](m, cfg)
	if err != nil {
		t.Fatal(err)
	}
	r, err := h.Run("tp", func(b *Bencher[uint64, uint64]) {
		b.Iter(func() { m.calls += 2 })
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.Throughput == nil {
		t.Fatal("no throughput in report")
	}
	if r.Throughput.Mean != 0.5 || r.Throughput.Unit != "calls/elements" {
		t.Errorf("throughput = %g %s, want 0.5 calls/elements", r.Throughput.Mean, r.Throughput.Unit)
	}

	var buf strings.Builder
	if err := r.Write(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"tp\n", "2 calls", "thrpt:", "0.5 calls/elements", "10 samples"} {
		if !strings.Contains(out, want) {
			t.Errorf("report output missing %q:\n%s", want, out)
		}
	}
}

func TestConfigValidation(t *testing.T) {
	m := &callCounter{}
	for _, mod := range []func(*Config){
		func(c *Config) { c.SampleSize = 1 },
		func(c *Config) { c.WarmUpTime = 0 },
		func(c *Config) { c.MeasurementTime = -time.Second },
		func(c *Config) { c.Throughput = &measure.Throughput{Kind: measure.Bytes} },
		func(c *Config) { c.Throughput = &measure.Throughput{N: 1} },
	} {
		cfg := quickConfig()
		mod(&cfg)
		if _, err := New[uint64, uint64](m, cfg); err == nil {
			t.Errorf("New accepted invalid config %+v", cfg)
		}
	}
	if _, err := New[uint64, uint64](m, DefaultConfig()); err != nil {
		t.Errorf("DefaultConfig is invalid: %v", err)
	}
}

func TestWallTime(t *testing.T) {
	h, err := New[time.Time, time.Duration](measure.WallTime{}, quickConfig())
	if err != nil {
		t.Fatal(err)
	}
	r, err := h.Run("sleep", func(b *Bencher[time.Time, time.Duration]) {
		b.Iter(func() { time.Sleep(10 * time.Microsecond) })
	})
	if err != nil {
		t.Fatal(err)
	}
	switch r.Unit {
	case "µs", "ms":
	default:
		t.Errorf("10µs sleep reported in %q, want a time unit around µs", r.Unit)
	}
}
