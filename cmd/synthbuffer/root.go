package main

import (
	"context"
	"os"

	"github.com/getpup/synthbuffer/config"
	"github.com/getpup/synthbuffer/internal/app"
	"github.com/spf13/cobra"
)

// cli carries state shared between the root command and its subcommands.
type cli struct {
	cfgFile string
	debug   bool
	loader  *config.Loader
	cfg     config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "synthbuffer",
		Short:         "Keep a shared buffer of generated artifacts topped up",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.cfgFile, "config", "c", "", "config file (YAML)")
	flags.String("env_name", "dev", "deployment mode: dev or prod")
	flags.String("store", "redis", "store backend: redis, postgres or memory")
	flags.String("namespace", "synthetic", "key prefix shared by every process of one buffer")
	flags.Bool("trace", false, "enable tracing")
	flags.BoolVar(&c.debug, "debug", false, "log at debug level")

	root.AddCommand(
		newRunCmd(c),
		newPeekCmd(c),
		newTakeCmd(c),
		newDeleteCmd(c),
		newHistoryCmd(c),
		newInitConfigCmd(),
	)

	return root
}

func (c *cli) load(cmd *cobra.Command) error {
	c.loader = config.NewLoader(c.cfgFile)
	v := c.loader.Viper()

	flags := cmd.Flags()
	_ = v.BindPFlag("env_name", flags.Lookup("env_name"))
	_ = v.BindPFlag("store.backend", flags.Lookup("store"))
	_ = v.BindPFlag("namespace", flags.Lookup("namespace"))
	_ = v.BindPFlag("tracing.enabled", flags.Lookup("trace"))
	if c.debug {
		v.Set("log.level", "debug")
	}

	cfg, err := c.loader.Load()
	if err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

// open builds the app for a subcommand. Logs go to stderr so command output stays parseable.
func (c *cli) open(ctx context.Context) (*app.App, error) {
	return app.Open(ctx, c.cfg, os.Stderr)
}
