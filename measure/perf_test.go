// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package measure

import (
	"errors"
	"strings"
	"syscall"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/aclements/go-perfmeasure/events"
	"github.com/aclements/go-perfmeasure/internal/perftest"
	"github.com/aclements/go-perfmeasure/perf"
)

var sink uint64

// spin runs a loop with one data-dependent branch per iteration.
func spin(n int) {
	x := sink
	for i := 0; i < n; i++ {
		if x&1 == 0 {
			x = x/2 + uint64(i)
		} else {
			x = 3*x + 1
		}
	}
	sink = x
}

// measureOnce counts one run of spin(n) with m.
func measureOnce(t *testing.T, m *Perf, n int) uint64 {
	t.Helper()
	c, err := m.Start()
	if err != nil {
		t.Fatal(err)
	}
	spin(n)
	v, err := m.End(c)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func newPerfOrSkip(t *testing.T, k Kind) *Perf {
	t.Helper()
	m, err := NewPerf(k)
	if err != nil {
		if perftest.Unavailable(err) {
			t.Skipf("%s unavailable: %v", k, err)
		}
		t.Fatal(err)
	}
	return m
}

func TestNewPerfInvalid(t *testing.T) {
	for _, k := range []Kind{-1, numKinds, 99} {
		if m, err := NewPerf(k); !errors.Is(err, ErrUnknownKind) || m != nil {
			t.Errorf("NewPerf(%d) = %v, %v; want ErrUnknownKind", int(k), m, err)
		}
	}
	if _, err := NewPerfEvent(nil, ""); err == nil {
		t.Errorf("NewPerfEvent(nil) succeeded")
	}
}

func TestPerfKinds(t *testing.T) {
	perftest.Require(t, events.EventInstructions)

	for _, k := range Kinds() {
		t.Run(k.String(), func(t *testing.T) {
			m := newPerfOrSkip(t, k)
			if m.Event() != k.Event() {
				t.Errorf("Event() = %v, want %v", m.Event(), k.Event())
			}
			v := measureOnce(t, m, 100000)
			t.Logf("%d %s", v, k.Unit())
			switch k {
			case Instructions, Branches:
				// Each loop iteration retires at least one branch and a few
				// instructions.
				if v < 100000 {
					t.Errorf("counted %d %s, want at least 100000", v, k.Unit())
				}
			case Cycles, RefCycles:
				if v == 0 {
					t.Errorf("counted no %s", k.Unit())
				}
			}
			if got := m.Formatter().ScaleValues(float64(v), nil); got != k.Unit() {
				t.Errorf("formatter unit = %q, want %q", got, k.Unit())
			}
		})
	}
}

func TestPerfLargerWorkload(t *testing.T) {
	m := newPerfOrSkip(t, Branches)

	const n = 10000
	small := perftest.P95Of(20, func() float64 { return float64(measureOnce(t, m, n)) })
	large := perftest.P95Of(20, func() float64 { return float64(measureOnce(t, m, 10*n)) })
	t.Logf("%d iterations: %g branches; %d iterations: %g branches", n, small, 10*n, large)
	if large < small {
		t.Errorf("10x workload counted fewer branches: %g < %g", large, small)
	}
	if large < 5*small {
		t.Errorf("10x workload counted only %gx the branches", large/small)
	}
}

func TestPerfDeterministic(t *testing.T) {
	m := newPerfOrSkip(t, Instructions)

	a := perftest.P95Of(20, func() float64 { return float64(measureOnce(t, m, 50000)) })
	b := perftest.P95Of(20, func() float64 { return float64(measureOnce(t, m, 50000)) })
	lo, hi := min(a, b), max(a, b)
	if hi > lo*perftest.Slack() {
		t.Errorf("repeated measurements differ too much: %g vs %g instructions", a, b)
	}
}

func TestPerfEndClosesCounter(t *testing.T) {
	m := newPerfOrSkip(t, Instructions)

	c, err := m.Start()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.End(c); err != nil {
		t.Fatal(err)
	}
	if _, err := c.ReadOne(); !errors.Is(err, perf.ErrClosed) {
		t.Errorf("counter still readable after End: %v", err)
	}
}

func TestPerfEventCustom(t *testing.T) {
	perftest.Require(t, events.EventTaskClock)

	ev, err := events.ParseEvent("task-clock")
	if err != nil {
		t.Fatal(err)
	}
	m, err := NewPerfEvent(ev, "")
	if err != nil {
		t.Fatal(err)
	}
	if unit := m.Formatter().ScaleForMachines(nil); unit != "task-clock" {
		t.Errorf("unit = %q, want task-clock", unit)
	}
	if v := measureOnce(t, m, 100000); v == 0 {
		t.Errorf("task-clock counted 0 ns")
	}
}

func TestDefault(t *testing.T) {
	perftest.Require(t, events.EventInstructions)

	m, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	if m.Event() != events.EventInstructions {
		t.Errorf("Default counts %v, want instructions", m.Event())
	}
	if got := m.Formatter().ScaleValues(1, nil); got != "instructions" {
		t.Errorf("Default unit = %q, want instructions", got)
	}
}

// badTypeEvent names a PMU type no kernel has.
type badTypeEvent struct{}

func (badTypeEvent) String() string { return "bad-type" }

func (badTypeEvent) SetAttrs(attr *unix.PerfEventAttr) error {
	attr.Type = 0xffff
	attr.Config = 0
	return nil
}

func TestNewPerfEventUncountable(t *testing.T) {
	m, err := NewPerfEvent(badTypeEvent{}, "")
	if err == nil {
		t.Fatal("NewPerfEvent succeeded for an event the host cannot count")
	}
	if m != nil {
		t.Errorf("NewPerfEvent returned %v with error %v", m, err)
	}
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		t.Errorf("error %v does not wrap the system error", err)
	}
	if !strings.Contains(err.Error(), "bad-type") {
		t.Errorf("error %q does not name the event", err)
	}
}

func TestPerfEndNil(t *testing.T) {
	m := &Perf{event: events.EventInstructions, formatter: newCountFormatter("instructions")}
	if v, err := m.End(nil); err == nil || v != 0 {
		t.Errorf("End(nil) = %d, %v; want an error", v, err)
	}
}
