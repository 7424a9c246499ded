package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getpup/synthbuffer/config"
	"github.com/getpup/synthbuffer/internal/demo"
	"github.com/getpup/synthbuffer/metrics"
	"github.com/spf13/cobra"
)

func newRunCmd(c *cli) *cobra.Command {
	var latency time.Duration
	var noVariants bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the worker pool until interrupted",
		Long: `Run starts the worker pool with the built-in demo generator and keeps the
buffer filled to pool.target_buffer_size. When a config file is given, edits to
pool.target_buffer_size are applied without a restart.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Pool.ShutdownTimeout)
				defer cancel()
				if err := a.Close(closeCtx); err != nil {
					a.Logger.Error(closeCtx, "failed to close", "error", err)
				}
			}()

			gen := demo.New(demo.Config{Latency: latency})
			generate := gen.Generate
			if noVariants {
				generate = nil
			}

			svc, err := a.NewService(gen.Produce, generate)
			if err != nil {
				return err
			}

			if c.cfg.Metrics.Enabled {
				server := metrics.NewServer(c.cfg.Metrics.Addr, func(ctx context.Context) error {
					_, err := svc.Queue().Len(ctx)
					return err
				})
				server.Start()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
					defer cancel()
					_ = server.Shutdown(shutdownCtx)
				}()
				a.Logger.Info(ctx, "metrics server listening", "addr", c.cfg.Metrics.Addr)
			}

			if c.cfgFile != "" {
				err := c.loader.Watch(func(cfg config.Config, err error) {
					if err != nil {
						a.Logger.Error(ctx, "ignoring invalid config change", "error", err)
						return
					}
					if cfg.Pool.TargetBufferSize != svc.TargetBufferSize() {
						svc.SetTargetBufferSize(cfg.Pool.TargetBufferSize)
					}
				})
				if err != nil {
					return err
				}
			}

			err = svc.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().DurationVar(&latency, "latency", 500*time.Millisecond, "simulated generation latency of the demo generator")
	cmd.Flags().BoolVar(&noVariants, "no-variants", false, "produce base artifacts only")
	return cmd
}
