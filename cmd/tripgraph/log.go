package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	streampulse "github.com/tripgraph/tripgraph/features/stream/pulse"
	"github.com/tripgraph/tripgraph/runtime/hooks"
	"github.com/tripgraph/tripgraph/runtime/runlog"
)

func newLogCmd(c *cli) *cobra.Command {
	var (
		pageSize int
		asJSON   bool
		turnID   string
		types    []string
		turns    bool
	)
	cmd := &cobra.Command{
		Use:   "log <thread>",
		Short: "Print the audit log of a thread",
		Long: `Print the progress events recorded for a thread, oldest first. --turn
and --type narrow the log to one turn or to some event types; --turns prints
one summary line per turn instead.

The log is durable with the mongo store; other stores keep it for the
duration of the process only.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				if turns {
					ts, err := runlog.Turns(ctx, a.runlog, args[0])
					if err != nil {
						return err
					}
					if asJSON {
						return writeJSON(c.out, ts)
					}
					return renderTurns(c.out, ts)
				}
				q := runlog.Query{ThreadID: args[0], TurnID: turnID, Limit: pageSize}
				for _, t := range types {
					q.Types = append(q.Types, hooks.Type(t))
				}
				events, err := runlog.All(ctx, a.runlog, q)
				if err != nil {
					return err
				}
				p := newProgress(c.out)
				for _, e := range events {
					if asJSON {
						if err := writeJSON(c.out, e); err != nil {
							return err
						}
						continue
					}
					ev, err := e.Decode()
					if err != nil {
						return err
					}
					p.print(ev)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&pageSize, "page-size", runlog.DefaultPageSize, "events fetched per page")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw events as JSON lines")
	cmd.Flags().StringVar(&turnID, "turn", "", "only print the events of this turn")
	cmd.Flags().StringSliceVar(&types, "type", nil, "only print events of these types (turn, node, tool)")
	cmd.Flags().BoolVar(&turns, "turns", false, "print one summary line per turn")
	cmd.MarkFlagsMutuallyExclusive("turns", "turn")
	cmd.MarkFlagsMutuallyExclusive("turns", "type")
	return cmd
}

func newWatchCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <thread>",
		Short: "Follow the progress events of a thread published by another process",
		Long: `Follow the Pulse stream of a thread until interrupted. The planning
process must run with --pulse (or stream.pulse: true).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c.cfg.Stream.Pulse = true
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				sub, err := streampulse.NewSubscriber(streampulse.SubscriberOptions{Client: a.pulse})
				if err != nil {
					return err
				}
				events, errs, cancel, err := sub.Subscribe(ctx, args[0])
				if err != nil {
					return err
				}
				defer cancel()
				p := newProgress(c.out)
				for {
					select {
					case ev, ok := <-events:
						if !ok {
							return nil
						}
						p.print(ev)
					case err, ok := <-errs:
						if ok && err != nil && !errors.Is(err, context.Canceled) {
							return err
						}
						if !ok {
							errs = nil
						}
					case <-ctx.Done():
						return nil
					}
				}
			})
		},
	}
}
