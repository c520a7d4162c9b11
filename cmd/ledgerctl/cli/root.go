// Package cli implements the ledgerctl operator commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardpos/stockledger/internal/platform/db"
	"github.com/cardpos/stockledger/migrations"
)

// Env carries the connection settings shared by every command.
type Env struct {
	PGDSN     string
	RedisAddr string
	Stdout    io.Writer
	// NewJobs overrides how the jobs helper is built; tests inject fakes here.
	NewJobs func(redisAddr string) (*JobsCLI, error)
}

// NewRootCommand assembles the ledgerctl command tree.
func NewRootCommand(env Env) *cobra.Command {
	if env.Stdout == nil {
		env.Stdout = os.Stdout
	}
	if env.NewJobs == nil {
		env.NewJobs = NewJobsCLI
	}
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate the stock ledger: schema migrations and background jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&env.PGDSN, "dsn", env.PGDSN, "PostgreSQL connection string")
	root.PersistentFlags().StringVar(&env.RedisAddr, "redis", env.RedisAddr, "Redis address used by asynq")
	root.AddCommand(newMigrateCommand(&env), newJobsCommand(&env))
	return root
}

func newMigrateCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{Use: "migrate", Short: "Apply or roll back schema migrations"}
	withMigrator := func(fn func(*db.Migrator) error) error {
		m, err := db.NewMigrator(migrations.Files, env.PGDSN)
		if err != nil {
			return err
		}
		defer func() { _ = m.Close() }()
		if err := fn(m); err != nil {
			return err
		}
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		fmt.Fprintf(env.Stdout, "schema version %d (dirty=%t)\n", version, dirty)
		return nil
	}
	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *db.Migrator) error { return m.Up() })
		},
	}
	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *db.Migrator) error { return m.Down(steps) })
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.AddCommand(up, down)
	return cmd
}

func newJobsCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{Use: "jobs", Short: "Inspect and trigger background jobs"}
	withJobs := func(ctx context.Context, fn func(context.Context, *JobsCLI) error) error {
		jobsCLI, err := env.NewJobs(env.RedisAddr)
		if err != nil {
			return err
		}
		defer func() { _ = jobsCLI.Close() }()
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		return fn(ctx, jobsCLI)
	}

	var storeID int64
	trigger := &cobra.Command{
		Use:   "trigger <reconcile|idempotency-cleanup>",
		Short: "Enqueue a job immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobs(cmd.Context(), func(ctx context.Context, j *JobsCLI) error {
				info, err := j.Trigger(ctx, args[0], TriggerOptions{StoreID: storeID})
				if err != nil {
					return err
				}
				fmt.Fprintf(env.Stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
				return nil
			})
		},
	}
	trigger.Flags().Int64Var(&storeID, "store", 0, "store to reconcile (0 reconciles every store)")

	queue := &cobra.Command{
		Use:   "queue",
		Short: "Show queue depth",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobs(cmd.Context(), func(ctx context.Context, j *JobsCLI) error {
				stats, err := j.InspectQueues(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(env.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY")
				for _, s := range stats {
					fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry)
				}
				return tw.Flush()
			})
		},
	}

	var size int
	scheduled := &cobra.Command{
		Use:   "scheduled",
		Short: "List scheduled reservation expiries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobs(cmd.Context(), func(ctx context.Context, j *JobsCLI) error {
				tasks, err := j.ListScheduled(ctx, size)
				if err != nil {
					return err
				}
				for _, t := range tasks {
					fmt.Fprintf(env.Stdout, "%s\t%s\t%s\n", t.ID, t.NextProcessAt.UTC().Format(time.RFC3339), strconv.Quote(string(t.Payload)))
				}
				return nil
			})
		},
	}
	scheduled.Flags().IntVar(&size, "size", 10, "maximum tasks to list")

	cmd.AddCommand(trigger, queue, scheduled)
	return cmd
}
