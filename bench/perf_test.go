// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package bench

import (
	"strings"
	"testing"
	"time"

	"github.com/aclements/go-perfmeasure/internal/perftest"
	"github.com/aclements/go-perfmeasure/measure"
	"github.com/aclements/go-perfmeasure/perf"
)

var sink int

func TestPerfCyclesReport(t *testing.T) {
	m, err := measure.NewPerf(measure.Cycles)
	if err != nil {
		if perftest.Unavailable(err) {
			t.Skip(err)
		}
		t.Fatal(err)
	}
	h, err := New[*perf.Counter, uint64](m, quickConfig())
	if err != nil {
		t.Fatal(err)
	}
	r, err := h.Run("loop", func(b *Bencher[*perf.Counter, uint64]) {
		b.Iter(func() {
			for i := 0; i < 100; i++ {
				sink += i
			}
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.Unit != "cycles" {
		t.Errorf("unit = %q, want cycles", r.Unit)
	}
	if r.Mean <= 0 {
		t.Errorf("mean = %g cycles, want > 0", r.Mean)
	}

	var buf strings.Builder
	if err := r.Write(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, " cycles") {
		t.Errorf("report is not in cycles:\n%s", out)
	}
	for _, unit := range []string{" ns", " µs", " ms"} {
		if strings.Contains(out, unit) {
			t.Errorf("report has time unit %q:\n%s", unit, out)
		}
	}
}

// TestPerfMatchesWorkload checks that the per-iteration instruction count
// doesn't depend on how many iterations a sample runs.
func TestPerfMatchesWorkload(t *testing.T) {
	m, err := measure.NewPerf(measure.Instructions)
	if err != nil {
		if perftest.Unavailable(err) {
			t.Skip(err)
		}
		t.Fatal(err)
	}
	cfg := quickConfig()
	cfg.MeasurementTime = 20 * time.Millisecond
	h, err := New[*perf.Counter, uint64](m, cfg)
	if err != nil {
		t.Fatal(err)
	}
	r, err := h.Run("loop", func(b *Bencher[*perf.Counter, uint64]) {
		b.Iter(func() {
			for i := 0; i < 1000; i++ {
				sink += i
			}
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.Median < 1000 {
		t.Errorf("median %g instructions for a 1000 iteration loop", r.Median)
	}
	if r.Max > r.Min*perftest.Slack() {
		t.Errorf("per-iteration instructions vary from %g to %g", r.Min, r.Max)
	}
}
