// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/aclements/go-perfmeasure/internal/config"
)

var (
	configPath string
	cfg        = config.Default()
)

var rootCmd = &cobra.Command{
	Use:           "perfmeasure",
	Short:         "Benchmark code by counting hardware performance events",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			if err := loadConfig(cmd.Flags(), configPath); err != nil {
				return err
			}
		}
		return setupLog()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "YAML `file` with settings; flags override it")
	pf.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: 'json' or 'console'")
	pf.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, or error")
}

// loadConfig replaces cfg with the file at path, then re-applies the flags
// given on the command line.
func loadConfig(fs *pflag.FlagSet, path string) error {
	type setFlag struct {
		name  string
		value string
		slice []string
	}
	var set []setFlag
	fs.Visit(func(f *pflag.Flag) {
		sf := setFlag{name: f.Name, value: f.Value.String()}
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sf.slice = sv.GetSlice()
		}
		set = append(set, sf)
	})

	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	// The flags point into cfg's fields, which this overwrites in place.
	cfg = loaded

	for _, sf := range set {
		f := fs.Lookup(sf.name)
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			if err := sv.Replace(sf.slice); err != nil {
				return err
			}
			continue
		}
		if err := f.Value.Set(sf.value); err != nil {
			return fmt.Errorf("flag --%s: %w", sf.name, err)
		}
	}
	log.Debug().Str("path", path).Msg("Loaded config")
	return nil
}

func setupLog() error {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("bad log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)

	switch cfg.LogFormat {
	case "json":
		zerolog.TimeFieldFormat = time.RFC3339Nano
		log.Logger = log.Output(os.Stderr)
	case "console":
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	default:
		return fmt.Errorf("unknown log format %q", cfg.LogFormat)
	}
	return nil
}
