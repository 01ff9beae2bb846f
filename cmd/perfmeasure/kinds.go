// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/aclements/go-perfmeasure/events"
	"github.com/aclements/go-perfmeasure/measure"
)

var listEvents bool

var kindsCmd = &cobra.Command{
	Use:   "kinds",
	Short: "List event kinds and whether this host can count them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if listEvents {
			return writeEventNames(cmd.OutOrStdout())
		}
		return writeKinds(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(kindsCmd)
	kindsCmd.Flags().BoolVar(&listEvents, "events", false, "List the perf event names run --event accepts instead")
}

func writeKinds(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "KIND\tUNIT\tPERF EVENT\tSTATUS\n")
	for _, k := range measure.Kinds() {
		status := "ok"
		if _, err := measure.NewPerf(k); err != nil {
			status = err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", k, k.Unit(), k.Event(), status)
	}
	return tw.Flush()
}

func writeEventNames(w io.Writer) error {
	names := events.Names()
	pmuNames, err := events.PMUEventNames()
	if err != nil {
		// Hosts without sysfs PMUs still have the builtin events.
		log.Warn().Err(err).Msg("Cannot list PMU events")
	}
	names = append(names, pmuNames...)
	for _, name := range names {
		if _, err := fmt.Fprintln(w, name); err != nil {
			return err
		}
	}
	return nil
}
