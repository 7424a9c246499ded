package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/getpup/synthbuffer"
	"github.com/getpup/synthbuffer/config"
	"github.com/getpup/synthbuffer/consumer"
	"github.com/getpup/synthbuffer/queue"
	"github.com/spf13/cobra"
)

// withReader opens the store and runs fn against a consumer reader.
func (c *cli) withReader(cmd *cobra.Command, fn func(ctx context.Context, q *queue.Queue, r *consumer.Reader) error) error {
	ctx := cmd.Context()
	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()

	q := queue.New(queue.Config{
		Store:      a.Store,
		Namespace:  c.cfg.Namespace,
		Mode:       c.cfg.Mode,
		HistoryTTL: c.cfg.Queue.HistoryTTL,
		Logger:     a.Logger,
	})
	r := consumer.New(consumer.Config{Queue: q, Logger: a.Logger})
	return fn(ctx, q, r)
}

func newPeekCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "peek",
		Short: "Print the artifact at the head of the buffer without removing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withReader(cmd, func(ctx context.Context, _ *queue.Queue, r *consumer.Reader) error {
				head := r.Next(ctx)
				if head == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "null")
					return nil
				}
				return printJSON(cmd.OutOrStdout(), head)
			})
		},
	}
}

func newTakeCmd(c *cli) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "take",
		Short: "Remove and print the head of the buffer, waiting for one to arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withReader(cmd, func(ctx context.Context, _ *queue.Queue, r *consumer.Reader) error {
				ctx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()

				artifact, err := r.Take(ctx)
				if err != nil {
					return fmt.Errorf("no artifact within %s: %w", timeout, err)
				}
				return printJSON(cmd.OutOrStdout(), artifact)
			})
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for an artifact")
	return cmd
}

func newDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove an artifact and its linked records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withReader(cmd, func(ctx context.Context, _ *queue.Queue, r *consumer.Reader) error {
				fmt.Fprintln(cmd.OutOrStdout(), r.Delete(ctx, args[0]))
				return nil
			})
		},
	}
}

func newHistoryCmd(c *cli) *cobra.Command {
	var limit int
	var show bool

	cmd := &cobra.Command{
		Use:   "history [id]",
		Short: "List recent artifact ids, or print one history record",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withReader(cmd, func(ctx context.Context, q *queue.Queue, r *consumer.Reader) error {
				if len(args) == 1 {
					artifact, err := r.Lookup(ctx, args[0])
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), artifact)
				}

				ids, err := q.History(ctx, limit)
				if err != nil {
					return err
				}
				if !show {
					for _, id := range ids {
						fmt.Fprintln(cmd.OutOrStdout(), id)
					}
					return nil
				}

				records := make([]synthbuffer.Artifact, 0, len(ids))
				for _, id := range ids {
					artifact, err := r.Lookup(ctx, id)
					if err != nil {
						// Expired between listing and lookup.
						continue
					}
					records = append(records, artifact)
				}
				return printJSON(cmd.OutOrStdout(), records)
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of most recent ids, 0 for all")
	cmd.Flags().BoolVar(&show, "show", false, "print full records instead of ids")
	return cmd
}

func newInitConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config <path>",
		Short: "Write the default configuration to a file",
		Args:  cobra.ExactArgs(1),
		// Skip loading: the file usually does not exist yet.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteDefault(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", args[0])
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
