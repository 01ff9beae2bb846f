// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/aclements/go-perfmeasure/measure"
)

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
kind: branch-misses
workloads: [branchy, sort]
size: 4096
sample_size: 50
warm_up: 500ms
measurement_time: 2s
throughput: true
output: yaml
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Kind != measure.BranchMisses {
		t.Errorf("Kind = %v, want branch-misses", cfg.Kind)
	}
	if !slices.Equal(cfg.Workloads, []string{"branchy", "sort"}) {
		t.Errorf("Workloads = %v", cfg.Workloads)
	}
	if cfg.Size != 4096 || cfg.SampleSize != 50 {
		t.Errorf("Size, SampleSize = %d, %d", cfg.Size, cfg.SampleSize)
	}
	if cfg.WarmUp != 500*time.Millisecond || cfg.MeasurementTime != 2*time.Second {
		t.Errorf("WarmUp, MeasurementTime = %v, %v", cfg.WarmUp, cfg.MeasurementTime)
	}
	// Unset fields keep their defaults.
	if cfg.LogFormat != "console" {
		t.Errorf("LogFormat = %q, want default console", cfg.LogFormat)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	bc := cfg.Bench()
	if bc.SampleSize != 50 || bc.Throughput == nil || bc.Throughput.N != 4096 || bc.Throughput.Kind != measure.Elements {
		t.Errorf("Bench() = %+v", bc)
	}
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	want := Default()
	if cfg.Kind != want.Kind || cfg.Size != want.Size || !slices.Equal(cfg.Workloads, want.Workloads) {
		t.Errorf("empty file gave %+v, want defaults %+v", cfg, want)
	}
	if cfg.Bench().Throughput != nil {
		t.Errorf("default config has a throughput")
	}
}

func TestParseErrors(t *testing.T) {
	for _, tc := range []struct {
		yaml string
		want string
	}{
		{"kind: cycle\n", "unknown event kind"},
		{"sizee: 10\n", "not found"},
		{"warm_up: soon\n", "time.Duration"},
	} {
		_, err := Parse([]byte(tc.yaml))
		if err == nil {
			t.Errorf("%q: no error", tc.yaml)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%q: got error %q, want it to mention %q", tc.yaml, err, tc.want)
		}
	}
}

func TestValidate(t *testing.T) {
	for _, mod := range []func(*Config){
		func(c *Config) { c.Kind = measure.Kind(-1) },
		func(c *Config) { c.Workloads = nil },
		func(c *Config) { c.Size = 0 },
		func(c *Config) { c.Output = "json" },
		func(c *Config) { c.LogFormat = "xml" },
	} {
		cfg := Default()
		mod(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("Validate accepted %+v", cfg)
		}
	}
	if err := Default().Validate(); err != nil {
		t.Errorf("Default is invalid: %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perfmeasure.yaml")
	if err := os.WriteFile(path, []byte("kind: cycles\n"), 0o666); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Kind != measure.Cycles {
		t.Errorf("Kind = %v, want cycles", cfg.Kind)
	}

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("loading a missing file: got %v, want ErrNotExist", err)
	}
}

func TestLoadJSONC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perfmeasure.jsonc")
	src := `{
  // Count mispredictions.
  "kind": "branch-misses",
  "workloads": ["branchy", "sort",],
  /* Longer runs on noisy hosts. */
  "measurement_time": "2s",
}
`
	if err := os.WriteFile(path, []byte(src), 0o666); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Kind != measure.BranchMisses {
		t.Errorf("Kind = %v, want branch-misses", cfg.Kind)
	}
	if len(cfg.Workloads) != 2 || cfg.Workloads[1] != "sort" {
		t.Errorf("Workloads = %v, want [branchy sort]", cfg.Workloads)
	}
	if cfg.MeasurementTime != 2*time.Second {
		t.Errorf("MeasurementTime = %v, want 2s", cfg.MeasurementTime)
	}
	if cfg.SampleSize != Default().SampleSize {
		t.Errorf("SampleSize = %d, want default", cfg.SampleSize)
	}
}
