// Package main implements chorusctl, the command-line tool for the Greek
// Chorus specialist mesh: inspecting the registry, allocating ports, sending
// messages, routing, and running the health monitor daemon.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ckoons/Tekton-sub006/config"
	"github.com/ckoons/Tekton-sub006/metric"
	"github.com/ckoons/Tekton-sub006/registry"
)

const appName = "chorusctl"

// Version is set at build time.
var Version = "0.1.0"

type app struct {
	configPath string
	logLevel   string
	jsonOut    bool

	cfg     *config.Config
	logger  *slog.Logger
	metrics *metric.MetricsRegistry
	core    *metric.Metrics
}

func main() {
	a := &app{}
	root := a.rootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Manage the Greek Chorus AI specialist mesh",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file path")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "emit JSON instead of text")

	root.AddCommand(
		a.listCommand(),
		a.discoverCommand(),
		a.registerCommand(),
		a.deregisterCommand(),
		a.allocatePortCommand(),
		a.statusCommand(),
		a.sendCommand(),
		a.pingCommand(),
		a.broadcastCommand(),
		a.routeCommand(),
		a.teamCommand(),
		a.serveCommand(),
	)
	return root
}

// setup loads configuration and installs the default logger. It runs before
// every subcommand.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	a.cfg = cfg

	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(a.logger)

	a.metrics = metric.NewMetricsRegistry()
	a.core = a.metrics.CoreMetrics()
	return nil
}

// openRegistry opens the shared file-backed registry from the config.
func (a *app) openRegistry() (*registry.Registry, error) {
	return registry.Open(a.cfg.RegistryDir,
		registry.WithLogger(a.logger),
		registry.WithPortRange(a.cfg.Ports.Start, a.cfg.Ports.End),
	)
}

// emit prints v as JSON when --json is set, otherwise calls text.
func (a *app) emit(cmd *cobra.Command, v any, text func()) error {
	if a.jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text()
	return nil
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
