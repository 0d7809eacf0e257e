package main

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ckoons/Tekton-sub006/pool"
	"github.com/ckoons/Tekton-sub006/routing"
)

// newPool builds a connection pool over the shared registry using the
// configured timeouts.
func (a *app) newPool() (*pool.Pool, error) {
	reg, err := a.openRegistry()
	if err != nil {
		return nil, err
	}
	return a.poolFor(reg), nil
}

func (a *app) sendCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "send <id> <message>",
		Short: "Send a chat message to one specialist",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.newPool()
			if err != nil {
				return err
			}
			defer p.CloseAll()

			res := p.Send(cmd.Context(), args[0], args[1], nil)
			return a.emit(cmd, res, func() {
				if res.Success {
					printf(cmd, "%s\n", res.Content)
				} else {
					printf(cmd, "FAILED: %s\n", res.Error)
				}
				printf(cmd, "(%s, %v)\n", res.SpecialistID, res.Elapsed)
			})
		},
	}
}

func (a *app) pingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ping <id>",
		Short: "Probe one specialist's liveness",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.newPool()
			if err != nil {
				return err
			}
			defer p.CloseAll()

			res := p.Ping(cmd.Context(), args[0])
			return a.emit(cmd, res, func() {
				if res.Success {
					printf(cmd, "%s responded in %v\n", res.SpecialistID, res.Elapsed)
				} else {
					printf(cmd, "%s unreachable: %s\n", res.SpecialistID, res.Error)
				}
			})
		},
	}
}

func (a *app) broadcastCommand() *cobra.Command {
	var targets []string
	cmd := &cobra.Command{
		Use:   "broadcast <message>",
		Short: "Send a chat message to every available specialist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.newPool()
			if err != nil {
				return err
			}
			defer p.CloseAll()

			results, err := p.SendToAll(cmd.Context(), args[0], nil, targets...)
			if err != nil {
				return err
			}
			return a.emit(cmd, results, func() {
				for _, res := range results {
					if res.Success {
						printf(cmd, "%s: %s\n", res.SpecialistID, res.Content)
					} else {
						printf(cmd, "%s: FAILED (%s)\n", res.SpecialistID, res.Error)
					}
				}
			})
		},
	}
	cmd.Flags().StringSliceVar(&targets, "target", nil, "specific specialist ID (repeatable; default all available)")
	return cmd
}

func (a *app) routeCommand() *cobra.Command {
	var (
		preferred    string
		capabilities []string
		deliver      bool
	)
	cmd := &cobra.Command{
		Use:   "route <message>",
		Short: "Pick the best specialist for a message, optionally delivering it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.openRegistry()
			if err != nil {
				return err
			}

			opts := []routing.Option{routing.WithLogger(a.logger)}
			if len(a.cfg.Routing.DefaultChain) > 0 {
				opts = append(opts, routing.WithDefaultChain(a.cfg.Routing.DefaultChain...))
			}
			engine := routing.New(reg, opts...)

			msg := routing.Message{
				Content:      args[0],
				Preferred:    preferred,
				Capabilities: capabilities,
			}
			decision, err := engine.RouteMessage(cmd.Context(), msg)
			if err != nil {
				return err
			}
			a.core.RecordRoutingDecision(strconv.Itoa(decision.FallbackLevel))

			if !deliver {
				return a.emit(cmd, decision, func() {
					printf(cmd, "%s (level %d: %s)\n",
						decision.Specialist.ID, decision.FallbackLevel, decision.Reason)
				})
			}

			p := a.poolFor(reg)
			defer p.CloseAll()
			res := p.Send(cmd.Context(), decision.Specialist.ID, args[0], nil)
			return a.emit(cmd, res, func() {
				printf(cmd, "routed to %s (%s)\n", decision.Specialist.ID, decision.Reason)
				if res.Success {
					printf(cmd, "%s\n", res.Content)
				} else {
					printf(cmd, "FAILED: %s\n", res.Error)
				}
			})
		},
	}
	cmd.Flags().StringVar(&preferred, "preferred", "", "preferred specialist ID")
	cmd.Flags().StringSliceVar(&capabilities, "capability", nil, "required capability (repeatable)")
	cmd.Flags().BoolVar(&deliver, "deliver", false, "deliver the message to the chosen specialist")
	return cmd
}

func (a *app) teamCommand() *cobra.Command {
	var (
		capabilities []string
		diverse      bool
	)
	cmd := &cobra.Command{
		Use:   "team <size>",
		Short: "Assemble a team covering the requested capabilities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			reg, err := a.openRegistry()
			if err != nil {
				return err
			}
			engine := routing.New(reg, routing.WithLogger(a.logger))

			team, err := engine.RouteToTeam(cmd.Context(), routing.Message{Capabilities: capabilities}, size, diverse)
			if err != nil {
				return err
			}
			return a.emit(cmd, team, func() {
				for _, member := range team {
					printf(cmd, "%s %v (%s)\n",
						member.Specialist.ID, member.Specialist.Capabilities, member.Reason)
				}
			})
		},
	}
	cmd.Flags().StringSliceVar(&capabilities, "capability", nil, "capability to cover (repeatable)")
	cmd.Flags().BoolVar(&diverse, "diverse", true, "favor capability coverage over raw performance")
	return cmd
}

func (a *app) poolFor(directory pool.Directory) *pool.Pool {
	var p *pool.Pool
	p = pool.New(directory,
		pool.WithLogger(a.logger),
		pool.WithConnectTimeout(a.cfg.Pool.ConnectTimeout.Duration),
		pool.WithRequestTimeout(a.cfg.Pool.RequestTimeout.Duration),
		pool.WithObserver(func(id string, elapsed time.Duration, success bool) {
			a.core.RecordRequest(id, elapsed, success)
			a.core.RecordConnectionsOpen(len(p.States()))
		}),
	)
	return p
}
