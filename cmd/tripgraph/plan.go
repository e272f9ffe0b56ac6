package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tripgraph/tripgraph/runtime/orchestrator"
)

type turnFlags struct {
	json  bool
	quiet bool
}

func (f *turnFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.json, "json", false, "print the result as JSON")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "do not print progress")
}

func newPlanCmd(c *cli) *cobra.Command {
	var (
		threadID string
		flags    turnFlags
	)
	cmd := &cobra.Command{
		Use:   "plan <request>",
		Short: "Plan a trip, or refine the itinerary of an existing thread",
		Example: `  tripgraph plan "5 days in Tokyo from SFO, Oct 15-20, under $3000, kid friendly"
  tripgraph plan --thread 6f1c... "swap the museum day for something outdoors"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				return c.runTurn(ctx, a, flags, func(o *orchestrator.Orchestrator) (*orchestrator.Result, error) {
					return o.Run(ctx, orchestrator.Request{Query: strings.Join(args, " "), ThreadID: threadID})
				})
			})
		},
	}
	cmd.Flags().StringVarP(&threadID, "thread", "t", "", "thread to continue (a new thread is started when empty)")
	flags.register(cmd)
	return cmd
}

func newResumeCmd(c *cli) *cobra.Command {
	var flags turnFlags
	cmd := &cobra.Command{
		Use:   "resume <thread>",
		Short: "Continue an interrupted turn from its last checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				return c.runTurn(ctx, a, flags, func(o *orchestrator.Orchestrator) (*orchestrator.Result, error) {
					return o.Resume(ctx, args[0])
				})
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func (c *cli) runTurn(ctx context.Context, a *app, flags turnFlags, turn func(*orchestrator.Orchestrator) (*orchestrator.Result, error)) error {
	o, err := a.orchestrator(ctx)
	if err != nil {
		return err
	}
	if !flags.quiet {
		sub, err := a.bus.Register(newProgress(c.errOut))
		if err != nil {
			return err
		}
		defer sub.Close()
	}
	res, err := turn(o)
	if err != nil {
		var te *orchestrator.TurnError
		if errors.As(err, &te) && te.Node != orchestrator.NodeStart {
			return fmt.Errorf("%w\ncontinue with: tripgraph resume %s", err, te.ThreadID)
		}
		return err
	}
	if flags.json {
		return writeJSON(c.out, res)
	}
	renderResult(c.out, res)
	return nil
}
