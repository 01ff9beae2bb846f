// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

// Command perfmeasure benchmarks built-in workloads by counting hardware
// performance events instead of measuring wall-clock time.
//
// For example, to count branch mispredictions of the branchy and sort
// workloads:
//
//	perfmeasure run --kind branch-misses branchy sort
//
// Settings can also come from a YAML file given with --config; flags override
// the file. Run "perfmeasure kinds" to see which event kinds the host can
// count.
package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("perfmeasure failed")
	}
}
