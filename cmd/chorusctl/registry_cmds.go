package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/ckoons/Tekton-sub006/registry"
)

func (a *app) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every registered specialist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := a.openRegistry()
			if err != nil {
				return err
			}
			specialists, err := reg.All(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(cmd, specialists, func() {
				printf(cmd, "%-20s %-7s %-13s %-9s %s\n", "ID", "PORT", "STATUS", "SUCCESS", "CAPABILITIES")
				for _, s := range specialists {
					printf(cmd, "%-20s %-7d %-13s %-9.2f %v\n",
						s.ID, s.Port, s.Status, s.SuccessRate, s.Capabilities)
				}
			})
		},
	}
}

func (a *app) discoverCommand() *cobra.Command {
	var (
		role           string
		capabilities   []string
		status         string
		component      string
		minSuccessRate float64
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find specialists matching a filter, best first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := a.openRegistry()
			if err != nil {
				return err
			}
			results, err := reg.Discover(cmd.Context(), registry.Filter{
				Role:           role,
				Capabilities:   capabilities,
				Status:         registry.Status(status),
				Component:      component,
				MinSuccessRate: minSuccessRate,
			})
			if err != nil {
				return err
			}
			return a.emit(cmd, results, func() {
				for _, s := range results {
					printf(cmd, "%s (port %d, %s, success %.2f, avg %v)\n",
						s.ID, s.Port, s.Status, s.SuccessRate, s.AvgResponseTime())
				}
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "required role")
	cmd.Flags().StringSliceVar(&capabilities, "capability", nil, "required capability (repeatable)")
	cmd.Flags().StringVar(&status, "status", "", "required status")
	cmd.Flags().StringVar(&component, "component", "", "required component")
	cmd.Flags().Float64Var(&minSuccessRate, "min-success-rate", 0, "minimum success rate")
	return cmd
}

func (a *app) registerCommand() *cobra.Command {
	var (
		port         int
		host         string
		model        string
		component    string
		capabilities []string
		roles        []string
	)
	cmd := &cobra.Command{
		Use:   "register <id>",
		Short: "Register a specialist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.openRegistry()
			if err != nil {
				return err
			}
			spec := &registry.Specialist{
				ID:           args[0],
				Host:         host,
				Port:         port,
				Model:        model,
				Component:    component,
				Capabilities: capabilities,
				Roles:        roles,
			}
			if err := reg.Register(cmd.Context(), spec); err != nil {
				return err
			}
			printf(cmd, "registered %s on port %d\n", spec.ID, spec.Port)
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "specialist port (required)")
	cmd.Flags().StringVar(&host, "host", "localhost", "specialist host")
	cmd.Flags().StringVar(&model, "model", "", "model identifier")
	cmd.Flags().StringVar(&component, "component", "", "owning component")
	cmd.Flags().StringSliceVar(&capabilities, "capability", nil, "capability (repeatable)")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role (repeatable)")
	_ = cmd.MarkFlagRequired("port")
	return cmd
}

func (a *app) deregisterCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "deregister <id>",
		Short: "Remove a specialist from the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.openRegistry()
			if err != nil {
				return err
			}
			removed, err := reg.Deregister(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !removed {
				printf(cmd, "%s was not registered\n", args[0])
				return nil
			}
			printf(cmd, "deregistered %s\n", args[0])
			return nil
		},
	}
}

func (a *app) allocatePortCommand() *cobra.Command {
	var preferred int
	cmd := &cobra.Command{
		Use:   "allocate-port",
		Short: "Allocate a free port from the mesh range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := a.openRegistry()
			if err != nil {
				return err
			}
			port, err := reg.AllocatePort(cmd.Context(), preferred)
			if err != nil {
				return err
			}
			printf(cmd, "%d\n", port)
			return nil
		},
	}
	cmd.Flags().IntVar(&preferred, "preferred", 0, "preferred port, granted when free")
	return cmd
}

func (a *app) statusCommand() *cobra.Command {
	var wait string
	cmd := &cobra.Command{
		Use:   "status [id]",
		Short: "Show mesh statistics, or one specialist's record",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.openRegistry()
			if err != nil {
				return err
			}

			if len(args) == 1 {
				if wait != "" {
					timeout, err := time.ParseDuration(wait)
					if err != nil {
						return err
					}
					if err := reg.WaitFor(cmd.Context(), args[0], timeout); err != nil {
						return err
					}
				}
				spec, err := reg.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.emit(cmd, spec, func() {
					printf(cmd, "%s: %s on %s:%d (success %.2f over %d requests, avg %v)\n",
						spec.ID, spec.Status, spec.Host, spec.Port,
						spec.SuccessRate, spec.TotalRequests, spec.AvgResponseTime())
				})
			}

			stats, err := reg.Statistics(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(cmd, stats, func() {
				printf(cmd, "specialists: %d\n", stats.TotalSpecialists)
				for status, n := range stats.StatusBreakdown {
					printf(cmd, "  %s: %d\n", status, n)
				}
				printf(cmd, "requests: %d (failures %d, success rate %.2f)\n",
					stats.TotalRequests, stats.TotalFailures, stats.OverallSuccessRate)
			})
		},
	}
	cmd.Flags().StringVar(&wait, "wait", "", "wait up to this long for the specialist to accept connections")
	return cmd
}
