// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	devLogs    bool
	version    = "dev" // set via ldflags at build time
)

var rootCmd = &cobra.Command{
	Use:   "chamberd",
	Short: "Hyperbaric chamber pressure controller",
	Long: `chamberd runs the hyperbaric chamber session engine: it plans the
treatment profile, drives the compressor and decompressor valves through the
PLC gateway and publishes telemetry to the operator panels.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./chamberd.conf", "path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&devLogs, "dev", false, "human readable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(o2calCmd)
	rootCmd.AddCommand(consoleCmd)
	rootCmd.AddCommand(chamberCmd)
}

func newLogger() (logr.Logger, func(), error) {
	var (
		zl  *zap.Logger
		err error
	)
	if devLogs {
		zl, err = zap.NewDevelopment()
	} else {
		zl, err = zap.NewProduction()
	}
	if err != nil {
		return logr.Discard(), func() {}, fmt.Errorf("creating logger: %w", err)
	}
	return zapr.NewLogger(zl), func() { _ = zl.Sync() }, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
