// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bench

import (
	"errors"

	"github.com/aclements/go-perfmeasure/measure"
)

var (
	errNoIter    = errors.New("benchmark function did not call Iter")
	errMultiIter = errors.New("benchmark function called Iter more than once")
)

// An Iterer runs a benchmark routine for the number of iterations chosen by
// the harness. [Bencher] is the only implementation; the interface lets
// workloads be written without naming a measurement's types.
type Iterer interface {
	// Iter measures routine run Iters times back to back.
	Iter(routine func())

	// Iters returns the number of iterations the next Iter call will run.
	Iters() uint64

	iterBatched(setup func(n uint64), routine func(i uint64))
}

// A Bencher is passed to benchmark functions to run the measured routine.
type Bencher[I, V any] struct {
	m     measure.Measurement[I, V]
	iters uint64

	called bool
	value  V
	err    error
}

var _ Iterer = (*Bencher[int, int])(nil)

func (b *Bencher[I, V]) Iters() uint64 {
	return b.iters
}

// Iter measures routine run b.Iters() times back to back. The measurement
// starts before the first call and ends after the last.
func (b *Bencher[I, V]) Iter(routine func()) {
	b.measure(func() {
		for i := uint64(0); i < b.iters; i++ {
			routine()
		}
	})
}

func (b *Bencher[I, V]) iterBatched(setup func(n uint64), routine func(i uint64)) {
	if b.called {
		b.err = errMultiIter
		return
	}
	setup(b.iters)
	b.measure(func() {
		for i := uint64(0); i < b.iters; i++ {
			routine(i)
		}
	})
}

// IterBatched measures routine over inputs produced by setup. All inputs for a
// sample are created before the measurement starts, so setup is not counted.
// Since every input of a sample is held in memory at once, setup should
// produce inputs that are small relative to the routine's cost.
func IterBatched[T any](b Iterer, setup func() T, routine func(T)) {
	var inputs []T
	b.iterBatched(func(n uint64) {
		inputs = make([]T, n)
		for i := range inputs {
			inputs[i] = setup()
		}
	}, func(i uint64) {
		routine(inputs[i])
	})
}

func (b *Bencher[I, V]) measure(body func()) {
	if b.called {
		b.err = errMultiIter
		return
	}
	b.called = true
	start, err := b.m.Start()
	if err != nil {
		b.err = err
		return
	}
	body()
	b.value, b.err = b.m.End(start)
}

// run calls f once with b.iters iterations and returns the measurement error,
// if any.
func (b *Bencher[I, V]) run(f func(*Bencher[I, V])) error {
	b.called, b.err = false, nil
	b.value = b.m.Zero()
	f(b)
	if b.err != nil {
		return b.err
	}
	if !b.called {
		return errNoIter
	}
	return nil
}
