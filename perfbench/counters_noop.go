// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package perfbench

import (
	"testing"

	"github.com/aclements/go-perfmeasure/measure"
)

var defaultKinds []measure.Kind

type countersOS struct{}

func openOS(*testing.B, []measure.Kind, bool) *Counters {
	return nil
}

func (cs *Counters) startOS() {}

func (cs *Counters) stopOS() {}

func (cs *Counters) resetOS() {}

func (cs *Counters) totalOS(_ string) (float64, bool) { return 0, false }
