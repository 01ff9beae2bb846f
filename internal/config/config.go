// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads perfmeasure run settings from a YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/aclements/go-perfmeasure/bench"
	"github.com/aclements/go-perfmeasure/measure"
)

// Config is the set of options for a perfmeasure run. Every field can also
// be set by a command-line flag of the same name with dashes.
//
// An example file:
//
//	kind: branch-misses
//	workloads: [branchy, sort]
//	size: 4096
//	sample_size: 50
//	warm_up: 500ms
//	measurement_time: 2s
type Config struct {
	// Kind is the hardware event to count.
	Kind measure.Kind `yaml:"kind"`
	// Event, if set, is a perf event name that overrides Kind, such as
	// "L1-dcache-load-misses" or "cpu/event=0xd0,umask=0x82/".
	Event string `yaml:"event"`

	Workloads []string `yaml:"workloads"`
	// Size is the workload size parameter; its meaning depends on the
	// workload.
	Size int `yaml:"size"`

	SampleSize      int           `yaml:"sample_size"`
	WarmUp          time.Duration `yaml:"warm_up"`
	MeasurementTime time.Duration `yaml:"measurement_time"`
	// Throughput, if set, reports counts per element of Size.
	Throughput bool `yaml:"throughput"`
	// WallTime measures elapsed time instead of counting events, for
	// comparison.
	WallTime bool `yaml:"wall_time"`

	// Output is "text", "yaml", or "cbor".
	Output    string `yaml:"output"`
	LogFormat string `yaml:"log_format"`
	LogLevel  string `yaml:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Kind:            measure.Instructions,
		Workloads:       []string{"loop"},
		Size:            1000,
		SampleSize:      20,
		WarmUp:          200 * time.Millisecond,
		MeasurementTime: time.Second,
		Output:          "text",
		LogFormat:       "console",
		LogLevel:        "info",
	}
}

// Load reads the file at path on top of [Default]. Unknown keys are an
// error. Files ending in .json or .jsonc may contain comments and trailing
// commas.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	switch filepath.Ext(path) {
	case ".json", ".jsonc":
		// JSON is valid YAML once the comments are gone.
		data = jsonc.ToJSON(data)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML configuration on top of [Default].
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings that don't depend on the host.
func (c Config) Validate() error {
	if !c.Kind.Valid() {
		return fmt.Errorf("%w: %d", measure.ErrUnknownKind, int(c.Kind))
	}
	if len(c.Workloads) == 0 {
		return errors.New("no workloads")
	}
	if c.Size <= 0 {
		return fmt.Errorf("size %d is not positive", c.Size)
	}
	switch c.Output {
	case "text", "yaml", "cbor":
	default:
		return fmt.Errorf("unknown output format %q", c.Output)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// Bench returns the harness configuration.
func (c Config) Bench() bench.Config {
	bc := bench.Config{
		SampleSize:      c.SampleSize,
		WarmUpTime:      c.WarmUp,
		MeasurementTime: c.MeasurementTime,
	}
	if c.Throughput {
		bc.Throughput = &measure.Throughput{Kind: measure.Elements, N: uint64(c.Size)}
	}
	return bc
}
