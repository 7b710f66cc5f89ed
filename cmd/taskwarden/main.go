// taskwarden is the daemon binary: the Environment Registry, the TCP
// command server, the HTTP/WebSocket listener, and one workflow loop
// per selected environment, all wired and shut down together by
// internal/bootstrap.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cklxx/taskwarden/internal/bootstrap"
	"github.com/cklxx/taskwarden/internal/shared/config"
	"github.com/cklxx/taskwarden/internal/shared/logging"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "taskwarden: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	var configPath string

	cmd := &cobra.Command{
		Use:   "taskwarden",
		Short: "Task-management daemon: TCP commands, HTTP API, and the workflow engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(v, configPath)
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a taskwarden config file (YAML)")
	cmd.PersistentFlags().String("data-dir", "", "base directory for per-environment task stores")
	cmd.PersistentFlags().String("tcp-addr", "", "TCP command server listen address")
	cmd.PersistentFlags().String("http-addr", "", "HTTP/WebSocket listen address")
	cmd.PersistentFlags().Bool("skip-tcp", false, "disable the TCP command server (headless HTTP-only run)")
	cmd.PersistentFlags().Bool("test-mode", false, "disable the workflow loop (commands and HTTP still serve)")
	cmd.PersistentFlags().StringSlice("environments", nil, "configured environment names")
	cmd.PersistentFlags().String("default-environment", "", "default environment name")
	cmd.PersistentFlags().StringSlice("process-environments", nil, "explicit subset of environments to run the workflow loop for")
	cmd.PersistentFlags().Bool("process-all-environments", false, "run the workflow loop for every configured environment")
	cmd.PersistentFlags().StringSlice("allowed-origins", nil, "allowed CORS/WebSocket origins")
	cmd.PersistentFlags().String("telemetry-exporter", "", "trace exporter: none, jaeger, zipkin, or otlp")
	cmd.PersistentFlags().String("telemetry-endpoint", "", "collector endpoint for the configured trace exporter")

	if err := v.BindPFlags(cmd.PersistentFlags()); err != nil {
		panic(err)
	}

	cmd.AddCommand(newVersionCommand())
	return cmd
}

func runServe(v *viper.Viper, configPath string) error {
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewComponentLogger("taskwarden")
	d := bootstrap.New(cfg, logger)

	exitCode, runErr := d.Run(context.Background())
	if runErr != nil {
		return runErr
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the taskwarden version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("taskwarden dev")
		},
	}
}
