package main

import (
	"context"
	"errors"
	"io"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"goa.design/clue/log"
)

// cli carries the state shared by the commands of one invocation.
type cli struct {
	v       *viper.Viper
	cfgFile string
	cfg     *Config
	out     io.Writer
	errOut  io.Writer
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	c := &cli{v: viper.New(), out: out, errOut: errOut}
	root := &cobra.Command{
		Use:   "tripgraph",
		Short: "Plan multi-day trips with an LLM and travel tools",
		Long: `tripgraph turns a travel request into a verified day-by-day itinerary.

Each request runs one turn of a planning thread: constraints are extracted,
a tool plan is generated and executed, results are checked against the
constraints and the plan is repaired when they do not hold. Follow-up
requests on the same thread refine the previous itinerary.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (default ./tripgraph.yaml, then $XDG_CONFIG_HOME/tripgraph/tripgraph.yaml)")
	flags.String("store", "", "session store: memory, sqlite, redis or mongo")
	flags.String("provider", "", "model provider: anthropic, openai or bedrock")
	flags.String("model", "", "model identifier")
	flags.Bool("pulse", false, "publish progress events to Redis streams")
	flags.Bool("debug", false, "enable debug logs")
	flags.String("log-format", "", "log format: terminal or json")
	for key, flag := range map[string]string{
		"store.kind":     "store",
		"model.provider": "provider",
		"model.name":     "model",
		"stream.pulse":   "pulse",
		"log.debug":      "debug",
		"log.format":     "log-format",
	} {
		_ = c.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		newPlanCmd(c),
		newResumeCmd(c),
		newShowCmd(c),
		newThreadsCmd(c),
		newLogCmd(c),
		newWatchCmd(c),
		newDoctorCmd(c),
	)
	return root
}

// setup loads .env and the configuration and installs the logger in the
// command context.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	cfg, err := loadConfig(c.v, c.cfgFile)
	if err != nil {
		return err
	}
	c.cfg = cfg

	format := log.FormatJSON
	switch cfg.Log.Format {
	case "terminal":
		format = log.FormatTerminal
	case "":
		if log.IsTerminal() {
			format = log.FormatTerminal
		}
	}
	ctx := log.Context(cmd.Context(),
		log.WithFormat(format),
		log.WithOutput(c.errOut),
		log.WithDisableBuffering(unbuffered))
	if cfg.Log.Debug {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}
	log.Info(ctx, log.KV{K: "msg", V: "configuration loaded"},
		log.KV{K: "store", V: cfg.Store.Kind},
		log.KV{K: "provider", V: cfg.Model.Provider})
	cmd.SetContext(ctx)
	return nil
}

// withApp runs fn with a connected app and closes it afterwards.
func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.WithoutCancel(ctx)); err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "close connections"})
		}
	}()
	return fn(ctx, a)
}

// unbuffered makes clue write info logs as they happen instead of holding
// them until an error is logged.
func unbuffered(context.Context) bool { return true }
