// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/relabs-tech/hyperbaric_controller/internal/config"
	"github.com/relabs-tech/hyperbaric_controller/internal/profile"
	"github.com/relabs-tech/hyperbaric_controller/internal/sensors"
)

var (
	chamberFile  string
	planDepth    float64
	planDuration float64
	planSpeed    int
	o2Raw21      float64
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the treatment plan for a depth, duration and speed",
	RunE: func(cmd *cobra.Command, args []string) error {
		ch, err := chamberOrDefault(chamberFile)
		if err != nil {
			return err
		}
		planner, err := profile.NewPlanner(ch.Planner)
		if err != nil {
			return err
		}
		plan, expanded, err := planner.Expand(planDepth, planDuration, planSpeed)
		if err != nil {
			return err
		}
		return printPlan(cmd.OutOrStdout(), plan, expanded)
	},
}

var o2calCmd = &cobra.Command{
	Use:   "o2cal",
	Short: "Derive the O2 calibration from the raw count read in ambient air",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := sensors.NewO2ModelFromAirPoint(o2Raw21)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	},
}

var chamberCmd = &cobra.Command{
	Use:   "chamber <path>",
	Short: "Write the built-in chamber description as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.WriteChamber(args[0], config.DefaultChamber()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "chamber written to %s\n", args[0])
		return nil
	},
}

func init() {
	planCmd.Flags().StringVar(&chamberFile, "chamber", "", "chamber YAML file (built-in chamber when empty)")
	planCmd.Flags().Float64Var(&planDepth, "depth", 1.4, "treatment depth in bar")
	planCmd.Flags().Float64Var(&planDuration, "duration", 90, "total session duration in minutes")
	planCmd.Flags().IntVar(&planSpeed, "speed", 2, "speed class (1 slow, 2 normal, 3 fast)")

	o2calCmd.Flags().Float64Var(&o2Raw21, "raw21", 0, "raw O2 count in ambient air (21%)")
	_ = o2calCmd.MarkFlagRequired("raw21")
}

func chamberOrDefault(path string) (*config.Chamber, error) {
	if path == "" {
		return config.DefaultChamber(), nil
	}
	return config.ReadChamber(path)
}

func printPlan(w io.Writer, plan profile.Plan, expanded *profile.Profile) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "depth\t%.2f bar\n", plan.Depth)
	fmt.Fprintf(tw, "speed\t%d\n", plan.Speed)
	fmt.Fprintf(tw, "total\t%.1f min\n", plan.TotalMinutes)
	fmt.Fprintf(tw, "descent / ascent\t%.1f / %.1f min\n", plan.DescentMinutes, plan.AscentMinutes)
	fmt.Fprintf(tw, "treatment\t%.1f min\n", plan.TreatmentMinutes)
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "#\tminutes\tdepth\tgas")
	for i, s := range plan.Segments {
		fmt.Fprintf(tw, "%d\t%.1f\t%.2f\t%s\n", i+1, s.Minutes, s.Depth, s.Gas)
	}
	fmt.Fprintln(tw)
	fmt.Fprintf(tw, "expanded\t%d s\n", expanded.Len())
	return tw.Flush()
}
