package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nimasrn/campaign-dispatcher/internal/config"
	"github.com/nimasrn/campaign-dispatcher/internal/dispatch"
	"github.com/nimasrn/campaign-dispatcher/internal/model"
	"github.com/nimasrn/campaign-dispatcher/internal/queue"
	"github.com/nimasrn/campaign-dispatcher/internal/repository"
	"github.com/nimasrn/campaign-dispatcher/internal/services"
	"github.com/nimasrn/campaign-dispatcher/migrations"
	"github.com/nimasrn/campaign-dispatcher/pkg/pg"
	"github.com/nimasrn/campaign-dispatcher/pkg/redis"
)

func main() {
	var envPath string

	root := &cobra.Command{
		Use:           "campaign-cli",
		Short:         "Operator tooling for the campaign dispatcher",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.Load(resolveEnvPath(envPath))
		},
	}
	root.PersistentFlags().StringVar(&envPath, "env", "", "dotenv file to load (defaults to ./.env when present)")

	root.AddCommand(migrateCmd(), campaignCmd(), queueCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func migrateCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations against the write database",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "read migrations from this directory instead of the embedded set")

	for _, c := range []struct {
		command pg.MigrateCommand
		short   string
	}{
		{pg.MigrateUp, "Apply all pending migrations"},
		{pg.MigrateDown, "Roll back the latest migration"},
		{pg.MigrateStatus, "Print the migration status"},
	} {
		command := c.command
		cmd.AddCommand(&cobra.Command{
			Use:   string(command),
			Short: c.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if dir != "" {
					return pg.Migrate(config.Get().PostgresWrite(), nil, dir, command)
				}
				return pg.Migrate(config.Get().PostgresWrite(), migrations.FS, migrations.Dir, command)
			},
		})
	}
	return cmd
}

func campaignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "campaign",
		Short: "Inspect and repair campaigns",
	}

	statusCmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Print a campaign with its delivery and tracking counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			svc, err := newCampaignService()
			if err != nil {
				return err
			}
			c, err := svc.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	}

	resetCmd := &cobra.Command{
		Use:   "reset <id>",
		Short: "Move failed recipients back to pending so the next run retries them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			svc, err := newCampaignService()
			if err != nil {
				return err
			}
			n, err := svc.ResetFailed(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Printf("reset %d recipient(s) of campaign %d\n", n, id)
			return nil
		},
	}

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Mark campaigns stuck in sending without a live run as failed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			lease, err := openLease()
			if err != nil {
				return err
			}
			cfg := config.Get()
			sw := dispatch.NewSweeper(repository.NewCampaignRepository(db), lease, nil, cfg.RunSweepInterval, cfg.RunLeaseTTL)
			fmt.Printf("swept %d campaign(s)\n", sw.Sweep(cmd.Context()))
			return nil
		},
	}

	var status string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List campaigns in one status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := model.CampaignStatus(status)
			if !st.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}
			db, err := openDB()
			if err != nil {
				return err
			}
			items, err := repository.NewCampaignRepository(db).ListByStatus(cmd.Context(), st)
			if err != nil {
				return err
			}
			return printJSON(items)
		},
	}
	listCmd.Flags().StringVar(&status, "status", string(model.CampaignStatusSending), "draft, sending, completed or failed")

	eventsCmd := &cobra.Command{
		Use:   "events <recipient-id>",
		Short: "Print the tracking events recorded for a recipient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			db, err := openDB()
			if err != nil {
				return err
			}
			events, err := repository.NewTrackingEventRepository(db).ListByRecipient(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(events)
		},
	}

	cmd.AddCommand(statusCmd, resetCmd, sweepCmd, listCmd, eventsCmd)
	return cmd
}

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the start event stream",
	}

	var count int64
	deadCmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "Print start events that exhausted their retries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := openQueue()
			if err != nil {
				return err
			}
			defer q.Stop(time.Second)

			dead, err := q.DeadLetters(cmd.Context(), count)
			if err != nil {
				return err
			}
			for _, d := range dead {
				fmt.Printf("%s\t%s\tattempts=%d\terror=%q\t%s\n",
					d.FailedAt.Format(time.RFC3339), d.OriginalID, d.Attempts, d.Error, d.Data)
			}
			return nil
		},
	}
	deadCmd.Flags().Int64Var(&count, "count", 20, "maximum entries to print")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print stream length, pending and dead-lettered counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := openQueue()
			if err != nil {
				return err
			}
			defer q.Stop(time.Second)

			stats, err := q.GetStats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	}

	cmd.AddCommand(deadCmd, statsCmd)
	return cmd
}

func openQueue() (*queue.Queue, error) {
	cfg := config.Get()
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required to inspect the queue")
	}
	adapter, err := redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, cfg.RedisOptions())
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return queue.NewQueue(adapter, cfg.QueueSettings())
}

func newCampaignService() (*services.CampaignService, error) {
	db, err := openDB()
	if err != nil {
		return nil, err
	}
	// no launcher: the cli never starts runs
	return services.NewCampaignService(
		repository.NewCampaignRepository(db),
		repository.NewRecipientRepository(db),
		nil,
		services.CampaignServiceConfig{},
	), nil
}

func openDB() (*pg.DB, error) {
	cfg := config.Get()
	db, err := pg.CreateReadWrite(cfg.PostgresRead(), cfg.PostgresWrite(), cfg.AppDebug)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return db, nil
}

func openLease() (dispatch.Lease, error) {
	cfg := config.Get()
	// queued and running runs are only visible through the shared lease
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required: without the shared run lease every live run looks orphaned")
	}
	adapter, err := redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, cfg.RedisOptions())
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return dispatch.NewRedisLease(adapter, dispatch.LeaseConfig{TTL: cfg.RunLeaseTTL, ReserveTTL: cfg.RunReserveTTL}), nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func resolveEnvPath(flag string) string {
	if flag != "" {
		return flag
	}
	if _, err := os.Stat(".env"); err == nil {
		return ".env"
	}
	return ""
}

