package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"goa.design/clue/health"
)

func newDoctorCmd(c *cli) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check connectivity to the configured backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				ctx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()

				fmt.Fprintf(c.out, "store     %s\n", c.cfg.Store.Kind)
				fmt.Fprintf(c.out, "provider  %s\n", c.cfg.Model.Provider)
				if len(a.pingers) == 0 {
					fmt.Fprintln(c.out, "no remote dependencies to check")
					return nil
				}
				h, ok := health.NewChecker(a.pingers...).Check(ctx)
				names := make([]string, 0, len(h.Status))
				for name := range h.Status {
					names = append(names, name)
				}
				slices.Sort(names)
				for _, name := range names {
					status := h.Status[name]
					mark := color.GreenString("ok")
					if status != "OK" {
						mark = color.RedString("%s", status)
					}
					fmt.Fprintf(c.out, "  %-16s %s\n", name, mark)
				}
				if !ok {
					return errors.New("some dependencies are unavailable")
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "overall check timeout")
	return cmd
}
