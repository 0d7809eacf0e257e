package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ckoons/Tekton-sub006/health"
	"github.com/ckoons/Tekton-sub006/metric"
	"github.com/ckoons/Tekton-sub006/registry"
)

// serveCommand runs the mesh daemon: the health monitor sweeping every
// registered specialist, with the Prometheus endpoint when enabled. It blocks
// until interrupted.
func (a *app) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the health monitor daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			reg, err := a.openRegistry()
			if err != nil {
				return err
			}

			metrics, core := a.metrics, a.core

			monitor := health.New(reg,
				health.WithLogger(a.logger),
				health.WithInterval(a.cfg.Health.Interval.Duration),
				health.WithPingTimeout(a.cfg.Health.PingTimeout.Duration),
				health.WithCheckDelay(a.cfg.Health.CheckDelay.Duration),
				health.WithCheckCallback(func(c health.Check) {
					core.RecordHealthCheck(c.SpecialistID, c.Status)
					core.RecordSpecialistStatus(c.SpecialistID, c.Status)
				}),
			)

			var metricsServer *metric.Server
			if a.cfg.Metrics.Enabled {
				metricsServer = metric.NewServer(a.cfg.Metrics.Port, a.cfg.Metrics.Path, metrics)
				go func() {
					if err := metricsServer.Start(); err != nil {
						a.logger.Error("metrics server failed", "error", err)
					}
				}()
				defer func() { _ = metricsServer.Stop() }()
				a.logger.Info("metrics server listening", "address", metricsServer.Address())
			}

			go a.trackRegistrySize(ctx, reg, core)

			a.logger.Info("health monitor running",
				"registry_dir", a.cfg.RegistryDir,
				"interval", a.cfg.Health.Interval.Duration)

			err = monitor.Run(ctx)
			if err == context.Canceled {
				return nil
			}
			return err
		},
	}
}

// trackRegistrySize keeps the registry-size gauge current by re-reading the
// store on each health interval.
func (a *app) trackRegistrySize(ctx context.Context, reg *registry.Registry, core *metric.Metrics) {
	ticker := time.NewTicker(a.cfg.Health.Interval.Duration)
	defer ticker.Stop()

	for {
		specialists, err := reg.All(ctx)
		if err == nil {
			core.RecordRegistrySize(len(specialists))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
