// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aclements/go-perfmeasure/bench"
	"github.com/aclements/go-perfmeasure/events"
	"github.com/aclements/go-perfmeasure/internal/config"
	"github.com/aclements/go-perfmeasure/internal/workload"
	"github.com/aclements/go-perfmeasure/measure"
	"github.com/aclements/go-perfmeasure/perf"
)

var runCmd = &cobra.Command{
	Use:   "run [workload...]",
	Short: "Benchmark built-in workloads under a hardware counter",
	Long: `Run benchmarks each named workload (default: the configured workloads)
and prints a report in units of the counted event.

Workloads: ` + fmt.Sprint(workload.Names()),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			cfg.Workloads = args
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		reports, err := run(cfg)
		if err != nil {
			return err
		}
		return writeReports(cmd.OutOrStdout(), cfg.Output, reports)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.Var(&cfg.Kind, "kind", "Event kind to count: "+fmt.Sprint(measure.Kinds()))
	f.StringVar(&cfg.Event, "event", cfg.Event, "perf event to count instead of --kind, e.g. L1-dcache-load-misses")
	f.StringSliceVar(&cfg.Workloads, "workloads", cfg.Workloads, "Workloads to run if none are given as arguments")
	f.IntVar(&cfg.Size, "size", cfg.Size, "Workload size parameter")
	f.IntVar(&cfg.SampleSize, "sample-size", cfg.SampleSize, "Number of samples per workload")
	f.DurationVar(&cfg.WarmUp, "warm-up", cfg.WarmUp, "Warm-up time per workload")
	f.DurationVar(&cfg.MeasurementTime, "measurement-time", cfg.MeasurementTime, "Measurement time per workload")
	f.BoolVar(&cfg.Throughput, "throughput", cfg.Throughput, "Also report counts per element of --size")
	f.BoolVar(&cfg.WallTime, "wall-time", cfg.WallTime, "Measure wall-clock time instead of counting events")
	f.StringVar(&cfg.Output, "output", cfg.Output, "Report format: 'text', 'yaml', or 'cbor'")
}

func run(cfg config.Config) ([]*bench.Report, error) {
	log.Info().
		Strs("workloads", cfg.Workloads).
		Int("size", cfg.Size).
		Int("sample_size", cfg.SampleSize).
		Msg("Starting run")

	if cfg.WallTime {
		return runWorkloads[time.Time, time.Duration](measure.WallTime{}, cfg)
	}
	m, err := newPerf(cfg)
	if err != nil {
		return nil, err
	}
	log.Info().Str("event", m.Event().String()).Msg("Counting")
	return runWorkloads[*perf.Counter, uint64](m, cfg)
}

func newPerf(cfg config.Config) (*measure.Perf, error) {
	if cfg.Event == "" {
		return measure.NewPerf(cfg.Kind)
	}
	ev, err := events.ParseEvent(cfg.Event)
	if err != nil {
		return nil, err
	}
	return measure.NewPerfEvent(ev, "")
}

func runWorkloads[I, V any](m measure.Measurement[I, V], cfg config.Config) ([]*bench.Report, error) {
	h, err := bench.New(m, cfg.Bench())
	if err != nil {
		return nil, err
	}
	var reports []*bench.Report
	for _, name := range cfg.Workloads {
		w, err := workload.Lookup(name)
		if err != nil {
			return nil, err
		}
		f := w.New(cfg.Size)
		r, err := h.Run(name, func(b *bench.Bencher[I, V]) { f(b) })
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}

func writeReports(w io.Writer, format string, reports []*bench.Report) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		if err := enc.Encode(reports); err != nil {
			return err
		}
		return enc.Close()
	case "cbor":
		// Deterministic encoding, so identical reports are identical bytes.
		em, err := cbor.CoreDetEncOptions().EncMode()
		if err != nil {
			return err
		}
		return em.NewEncoder(w).Encode(reports)
	case "text":
		for i, r := range reports {
			if i > 0 {
				if _, err := io.WriteString(w, "\n"); err != nil {
					return err
				}
			}
			if err := r.Write(w); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unknown output format %q", format)
}
