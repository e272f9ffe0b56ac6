package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tripgraph/tripgraph/features/session/sqlite"
)

func newShowCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <thread>",
		Short: "Show the checkpoint of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				st, err := a.store.Load(ctx, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(c.out, st)
				}
				renderState(c.out, st)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full checkpoint as JSON")
	return cmd
}

func newThreadsCmd(c *cli) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "List recent threads (sqlite store)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				s, ok := a.store.(*sqlite.Store)
				if !ok {
					return errors.New("threads requires the sqlite store")
				}
				threads, err := s.Threads(ctx, limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "THREAD\tSTATE\tUPDATED")
				for _, t := range threads {
					state := "done"
					if !t.Done {
						state = "at " + t.Next
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\n", t.ThreadID, state, t.UpdatedAt.Local().Format(time.DateTime))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of threads")
	return cmd
}
