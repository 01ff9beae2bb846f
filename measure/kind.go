// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package measure

import (
	"errors"
	"fmt"
	"strings"
)

// Kind selects the hardware event a [Perf] measurement counts.
type Kind int

const (
	// Instructions counts instructions retired. This can be affected by
	// hardware interrupt counts.
	Instructions Kind = iota
	// Cycles counts CPU cycles. This is affected by CPU frequency scaling.
	Cycles
	// Branches counts branch instructions retired.
	Branches
	// BranchMisses counts mispredicted branches.
	BranchMisses
	// CacheRefs counts cache accesses, usually to the last level cache.
	CacheRefs
	// CacheMisses counts cache misses, usually in the last level cache.
	CacheMisses
	// BusCycles counts bus cycles.
	BusCycles
	// RefCycles counts CPU cycles at a constant reference frequency, so it
	// is not affected by frequency scaling.
	RefCycles

	numKinds
)

// ErrUnknownKind is returned for a Kind outside the defined set.
var ErrUnknownKind = errors.New("unknown event kind")

var kindInfo = [numKinds]struct {
	name string // Flag and config spelling
	unit string // Display unit
}{
	Instructions: {"instructions", "instructions"},
	Cycles:       {"cycles", "cycles"},
	Branches:     {"branches", "branches"},
	BranchMisses: {"branch-misses", "branch misses"},
	CacheRefs:    {"cache-refs", "cache refs"},
	CacheMisses:  {"cache-misses", "cache misses"},
	BusCycles:    {"bus-cycles", "bus cycles"},
	RefCycles:    {"ref-cycles", "cycles"},
}

// Kinds returns all defined kinds in order.
func Kinds() []Kind {
	ks := make([]Kind, numKinds)
	for i := range ks {
		ks[i] = Kind(i)
	}
	return ks
}

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool {
	return k >= 0 && k < numKinds
}

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindInfo[k].name
}

// Unit returns the unit values of this kind are reported in.
func (k Kind) Unit() string {
	if !k.Valid() {
		return ""
	}
	return kindInfo[k].unit
}

// ParseKind returns the Kind named s. Matching ignores case, and dashes and
// underscores are optional, so "BranchMisses", "branch_misses", and
// "branch-misses" all name [BranchMisses].
func ParseKind(s string) (Kind, error) {
	norm := func(s string) string {
		return strings.ToLower(strings.NewReplacer("-", "", "_", "").Replace(s))
	}
	want := norm(s)
	for k := range numKinds {
		if norm(kindInfo[k].name) == want {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w %q", ErrUnknownKind, s)
}

// Set implements the flag.Value interface.
func (k *Kind) Set(s string) error {
	k2, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = k2
	return nil
}

// Type returns the value type name shown in flag usage.
func (k *Kind) Type() string {
	return "kind"
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	return k.Set(string(text))
}
