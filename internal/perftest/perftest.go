// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

// Package perftest contains helpers for tests that need hardware performance
// counters.
package perftest

import (
	"errors"
	"flag"
	"slices"
	"syscall"
	"testing"

	"github.com/aclements/go-perfmeasure/events"
	"github.com/aclements/go-perfmeasure/perf"
)

var slack = flag.Float64("perfmeasure.slack", 1.5, "allowed `ratio` between noisy counter readings that should be equal")

// Slack returns the tolerated ratio between two readings of a counter that
// should ideally agree. Hosts differ in how noisy their counters are, so this
// is set on the test command line.
func Slack() float64 {
	return *slack
}

// Unavailable reports whether err means the host does not let us count the
// event at all, as opposed to some other failure.
func Unavailable(err error) bool {
	for _, errno := range []syscall.Errno{syscall.EACCES, syscall.EPERM, syscall.ENOENT, syscall.ENODEV, syscall.EOPNOTSUPP, syscall.ENOSYS} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

// Require skips the test unless the host can count ev on the calling
// goroutine.
func Require(t testing.TB, ev events.Event) {
	t.Helper()
	c, err := perf.OpenCounter(perf.TargetThisGoroutine, ev)
	if err != nil {
		if Unavailable(err) {
			t.Skipf("cannot count %s: %v", ev, err)
		}
		t.Fatal(err)
	}
	c.Close()
}

// P95Of returns the 95th percentile of iters results of f. Counter tests use
// this to ignore the occasional unlucky run (e.g., kernel preemption).
func P95Of(iters int, f func() float64) float64 {
	dist := make([]float64, iters)
	for i := range dist {
		dist[i] = f()
	}
	slices.Sort(dist)
	return dist[min(int(float64(iters)*95/100+0.5), iters-1)]
}
