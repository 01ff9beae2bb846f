// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perfbench

import (
	"fmt"
	"sync"
	"testing"

	"github.com/aclements/go-perfmeasure/events"
	"github.com/aclements/go-perfmeasure/measure"
	"github.com/aclements/go-perfmeasure/perf"
)

// TODO: Support derived events that use event groups.

var defaultKinds = []measure.Kind{
	measure.Cycles,
	measure.Instructions,
	measure.CacheMisses,
	measure.CacheRefs,
}

type countersOS struct {
	b  testingB
	bN int

	events   []events.Event
	counters []*perf.Counter
	baseline []perf.Count
}

var printedUnits sync.Map

// printUnits prints benchfmt unit metadata the first time each event is
// counted.
func printUnits(kinds []measure.Kind) {
	printed := false
	for _, k := range kinds {
		ev := k.Event()
		if ev == nil {
			continue
		}
		if _, dup := printedUnits.LoadOrStore(ev.String(), true); !dup {
			// Currently all events are better=lower.
			fmt.Printf("Unit %s better=lower\n", ev.String())
			printed = true
		}
	}
	if printed {
		fmt.Printf("\n")
	}
}

// testingB is the *testing.B interface needed by Counters. Used for testing.
type testingB interface {
	ReportMetric(n float64, unit string)
	Logf(format string, args ...any)
	Fatalf(format string, args ...any)
	Cleanup(func())
}

var openErrors sync.Map

func openOS(b *testing.B, kinds []measure.Kind, strict bool) *Counters {
	printUnits(kinds)
	return open(b, b.N, kinds, strict)
}

func open(b testingB, bN int, kinds []measure.Kind, strict bool) *Counters {
	cs := &Counters{countersOS{
		b:        b,
		bN:       bN,
		events:   make([]events.Event, len(kinds)),
		counters: make([]*perf.Counter, len(kinds)),
		baseline: make([]perf.Count, len(kinds)),
	}}

	closeAll := func() {
		for _, c := range cs.counters {
			c.Close()
		}
	}
	for i, k := range kinds {
		event := k.Event()
		if event == nil {
			closeAll()
			b.Fatalf("perfbench: %v: %d", measure.ErrUnknownKind, int(k))
			return nil
		}
		cs.events[i] = event

		var err error
		cs.counters[i], err = perf.OpenCounter(perf.TargetThisGoroutine, event)
		if err != nil {
			msg := fmt.Sprintf("error opening counter %s: %v", event, err)
			if strict {
				closeAll()
				b.Fatalf("%s", msg)
				return nil
			}
			// Only report each error once, to avoid flooding benchmark log.
			if _, prev := openErrors.Swap(msg, true); !prev {
				b.Logf("%s", msg)
			}
		}
	}

	b.Cleanup(cs.close)

	// Start all of the counters.
	cs.Start()

	return cs
}

func (cs *Counters) logErr(err error) {
	if err != nil && cs.b != nil {
		cs.b.Logf("%v", err)
	}
}

func (cs *Counters) startOS() {
	for _, c := range cs.counters {
		cs.logErr(c.Start())
	}
}

func (cs *Counters) stopOS() {
	for _, c := range cs.counters {
		cs.logErr(c.Stop())
	}
}

func (cs *Counters) resetOS() {
	// perf has a concept of resetting a counter, but it doesn't reset the
	// counter's timers, so instead we track our own baseline.
	for i, c := range cs.counters {
		cs.baseline[i], _ = c.ReadOne()
	}
}

// read returns the count of counter i since the last reset.
func (cs *Counters) read(i int) (perf.Count, error) {
	val, err := cs.counters[i].ReadOne()
	if err != nil {
		return perf.Count{}, err
	}
	return val.Sub(cs.baseline[i]), nil
}

func (cs *Counters) totalOS(name string) (float64, bool) {
	for i, ev := range cs.events {
		if ev.String() != name || cs.counters[i] == nil {
			continue
		}
		val, err := cs.read(i)
		if err != nil {
			return 0, false
		}
		v, _ := val.Value()
		return v, true
	}
	return 0, false
}

func (cs *Counters) close() {
	if cs.b == nil {
		return
	}

	cs.Stop()
	for i, c := range cs.counters {
		if c == nil {
			continue
		}
		val, err := cs.read(i)
		if err != nil {
			cs.b.Logf("error reading %s: %v", cs.events[i], err)
		} else if val.TimeRunning > 0 {
			v, _ := val.Value()
			cs.b.ReportMetric(v/float64(cs.bN), cs.events[i].String()+"/op")
		}
		c.Close()
	}
	cs.b = nil
}
