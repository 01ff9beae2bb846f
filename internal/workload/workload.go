// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package workload provides small benchmark routines that exercise different
// hardware events, for trying out measurements from the command line.
package workload

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sort"

	"github.com/aclements/go-perfmeasure/bench"
)

// A Workload is a named benchmark routine parameterized by a size.
type Workload struct {
	Name        string
	Description string

	// New returns a benchmark function for the given size.
	New func(size int) func(b bench.Iterer)
}

var registry = map[string]Workload{}

func register(w Workload) {
	registry[w.Name] = w
}

// Lookup returns the named workload.
func Lookup(name string) (Workload, error) {
	w, ok := registry[name]
	if !ok {
		return Workload{}, fmt.Errorf("unknown workload %q (have %v)", name, Names())
	}
	return w, nil
}

// Names returns the names of all workloads, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every workload, sorted by name.
func All() []Workload {
	var ws []Workload
	for _, name := range Names() {
		ws = append(ws, registry[name])
	}
	return ws
}

// Sink keeps results alive so the compiler can't discard the work.
var Sink uint64

func init() {
	register(Workload{
		Name:        "loop",
		Description: "sum of 0..size; about one branch per iteration, perfectly predicted",
		New: func(size int) func(bench.Iterer) {
			return func(b bench.Iterer) {
				b.Iter(func() { Sink += Loop(size) })
			}
		},
	})
	register(Workload{
		Name:        "branchy",
		Description: "count bytes above a threshold in size random bytes; about half the branches mispredict",
		New: func(size int) func(bench.Iterer) {
			data := randomBytes(size)
			return func(b bench.Iterer) {
				b.Iter(func() { Sink += CountAbove(data, 128) })
			}
		},
	})
	register(Workload{
		Name:        "memscan",
		Description: "read one word per cache line of a size KiB buffer in a shuffled order",
		New: func(size int) func(bench.Iterer) {
			buf, order := newScanBuffer(size)
			return func(b bench.Iterer) {
				b.Iter(func() { Sink += Scan(buf, order) })
			}
		},
	})
	register(Workload{
		Name:        "sort",
		Description: "sort size random integers; the shuffled input is prepared outside the measurement",
		New: func(size int) func(bench.Iterer) {
			r := rand.New(rand.NewPCG(1, 2))
			return func(b bench.Iterer) {
				bench.IterBatched(b, func() []uint32 {
					xs := make([]uint32, size)
					for i := range xs {
						xs[i] = r.Uint32()
					}
					return xs
				}, func(xs []uint32) {
					slices.Sort(xs)
					Sink += uint64(xs[0])
				})
			}
		},
	})
}

// Loop returns the sum of 0 through n-1.
func Loop(n int) uint64 {
	var sum uint64
	for i := 0; i < n; i++ {
		sum += uint64(i)
	}
	return sum
}

// CountAbove returns the number of bytes in data greater than or equal to
// threshold, using a branch per byte.
func CountAbove(data []byte, threshold byte) uint64 {
	var n uint64
	for _, b := range data {
		if b >= threshold {
			n++
		}
	}
	return n
}

func randomBytes(n int) []byte {
	r := rand.New(rand.NewPCG(3, 4))
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(r.Uint32())
	}
	return data
}

const wordsPerLine = 64 / 8

// newScanBuffer returns a buffer of kib KiB and a random order in which to
// visit one word of each cache line.
func newScanBuffer(kib int) ([]uint64, []int32) {
	buf := make([]uint64, kib*1024/8)
	lines := len(buf) / wordsPerLine
	order := make([]int32, lines)
	for i := range order {
		order[i] = int32(i * wordsPerLine)
		buf[i*wordsPerLine] = uint64(i)
	}
	r := rand.New(rand.NewPCG(5, 6))
	r.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	return buf, order
}

// Scan sums buf at each index in order.
func Scan(buf []uint64, order []int32) uint64 {
	var sum uint64
	for _, i := range order {
		sum += buf[i]
	}
	return sum
}
