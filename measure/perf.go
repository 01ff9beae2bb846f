// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package measure

import (
	"errors"
	"fmt"

	"github.com/aclements/go-perfmeasure/events"
	"github.com/aclements/go-perfmeasure/perf"
)

var kindEvents = [numKinds]events.Event{
	Instructions: events.EventInstructions,
	Cycles:       events.EventCPUCycles,
	Branches:     events.EventBranches,
	BranchMisses: events.EventBranchMisses,
	CacheRefs:    events.EventCacheReferences,
	CacheMisses:  events.EventCacheMisses,
	BusCycles:    events.EventBusCycles,
	RefCycles:    events.EventRefCPUCycles,
}

// Event returns the perf event counted for k, or nil if k is not valid.
func (k Kind) Event() events.Event {
	if !k.Valid() {
		return nil
	}
	return kindEvents[k]
}

// Perf measures the number of times a hardware event occurs while the
// benchmarked code runs on the calling goroutine.
//
// Each Start opens a fresh counter, so a Perf holds no state between
// measurements and may be reused across benchmarks.
type Perf struct {
	event     events.Event
	formatter countFormatter
}

var _ Measurement[*perf.Counter, uint64] = (*Perf)(nil)

var errNoCounter = errors.New("End called without a counter from Start")

// NewPerf returns a measurement that counts the event selected by kind. It
// returns an error if kind is not valid or the host cannot count that event,
// for example because perf_event_paranoid forbids it or the CPU has no such
// event.
func NewPerf(kind Kind) (*Perf, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(kind))
	}
	return newPerf(kindEvents[kind], kind.Unit())
}

// NewPerfEvent is like [NewPerf], but counts an arbitrary event, such as one
// returned by [events.ParseEvent]. Values are reported in unit, or in the
// event's name if unit is "".
func NewPerfEvent(ev events.Event, unit string) (*Perf, error) {
	if ev == nil {
		return nil, fmt.Errorf("nil event")
	}
	if unit == "" {
		unit = ev.String()
	}
	return newPerf(ev, unit)
}

// Default returns a measurement of [Instructions].
func Default() (*Perf, error) {
	return NewPerf(Instructions)
}

func newPerf(ev events.Event, unit string) (*Perf, error) {
	// Open one counter up front so an unusable event fails here, before any
	// benchmark code runs.
	c, err := perf.OpenCounter(perf.TargetThisGoroutine, ev)
	if err != nil {
		return nil, fmt.Errorf("opening %s counter: %w", ev, err)
	}
	c.Close()
	return &Perf{event: ev, formatter: newCountFormatter(unit)}, nil
}

// Event returns the event p counts.
func (p *Perf) Event() events.Event {
	return p.event
}

// Start opens, resets, and enables a counter on the calling goroutine. The
// goroutine stays locked to its OS thread until the counter is passed to End.
func (p *Perf) Start() (*perf.Counter, error) {
	c, err := perf.OpenCounter(perf.TargetThisGoroutine, p.event)
	if err != nil {
		return nil, fmt.Errorf("opening %s counter: %w", p.event, err)
	}
	if err := c.Reset(); err != nil {
		c.Close()
		return nil, fmt.Errorf("%s: %w", p.event, err)
	}
	if err := c.Start(); err != nil {
		c.Close()
		return nil, fmt.Errorf("%s: %w", p.event, err)
	}
	return c, nil
}

// End disables c, reads its count, and closes it. c is closed even if End
// fails.
func (p *Perf) End(c *perf.Counter) (uint64, error) {
	if c == nil {
		return 0, fmt.Errorf("%s: %w", p.event, errNoCounter)
	}
	defer c.Close()
	if err := c.Stop(); err != nil {
		return 0, fmt.Errorf("%s: %w", p.event, err)
	}
	count, err := c.ReadOne()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", p.event, err)
	}
	n, err := count.Exact()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", p.event, err)
	}
	return n, nil
}

func (p *Perf) Add(a, b uint64) uint64 { return a + b }

func (p *Perf) Zero() uint64 { return 0 }

func (p *Perf) ToFloat64(v uint64) float64 { return float64(v) }

func (p *Perf) Formatter() ValueFormatter { return p.formatter }
