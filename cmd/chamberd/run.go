package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/relabs-tech/hyperbaric_controller/internal/app"
	"github.com/relabs-tech/hyperbaric_controller/internal/config"
)

var staticDir string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the chamber controller",
	Long: `Start the session engine, the PLC gateway, MQTT telemetry, the operator
HTTP/websocket API and the gRPC health service.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, sync, err := newLogger()
		if err != nil {
			return err
		}
		defer sync()

		if err := config.InitGlobal(configPath); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		dir := staticDir
		if _, err := os.Stat(dir); err != nil {
			dir = ""
		}
		return app.RunController(ctx, logger.WithName("chamberd"), app.RunOptions{StaticDir: dir})
	},
}

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Print the controller telemetry from MQTT",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, sync, err := newLogger()
		if err != nil {
			return err
		}
		defer sync()

		if err := config.InitGlobal(configPath); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return app.RunConsoleMQTT(ctx, logger.WithName("console"), cmd.OutOrStdout())
	},
}

func init() {
	runCmd.Flags().StringVar(&staticDir, "web", "web", "directory served as the operator panel")
}
