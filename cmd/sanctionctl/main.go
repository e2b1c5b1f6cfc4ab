// Package main implements sanctionctl, the operator CLI for the violation
// ledger and user sanctions.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/AnshRaj112/persona-guard/internal/config"
	"github.com/AnshRaj112/persona-guard/internal/database"
	"github.com/AnshRaj112/persona-guard/internal/logger"
	"github.com/AnshRaj112/persona-guard/internal/services"
	"github.com/AnshRaj112/persona-guard/pkg/utils"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "sanctionctl",
		Short:         "Inspect violations and manage user sanctions",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newLiftCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newResolveCmd())
	rootCmd.AddCommand(newHashKeyCmd())
	return rootCmd
}

// app holds the services a command works against.
type app struct {
	ledger *services.Ledger
	engine *services.SanctionEngine
	close  func()
}

func connect() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Logging.Level, false)
	if err != nil {
		return nil, err
	}

	pg, err := database.ConnectPostgres(cfg.Postgres.URI, log)
	if err != nil {
		return nil, err
	}
	rdb, err := database.ConnectRedis(cfg.Redis.URI, log)
	if err != nil {
		_ = pg.Close()
		return nil, err
	}
	mongoClient, mongoDB, err := database.ConnectMongo(cfg.Mongo.URI, cfg.Mongo.Database, log)
	if err != nil {
		_ = pg.Close()
		_ = rdb.Close()
		return nil, err
	}

	alerter := services.NewAdminNotifier(cfg.Notifications, services.NewRedisDeduper(rdb), log,
		services.NewRedisNotifier(rdb, cfg.Notifications.Channel))
	ledger := services.NewLedger(database.NewViolationStore(mongoDB), cfg.Ledger, log)
	engine := services.NewSanctionEngine(cfg.Sanctions, database.NewSanctionStore(pg), ledger,
		services.NewRedisLocker(rdb, cfg.Sanctions.LockTTL, log), alerter, log)

	return &app{
		ledger: ledger,
		engine: engine,
		close: func() {
			alerter.Wait()
			_ = database.DisconnectMongo(mongoClient)
			_ = rdb.Close()
			_ = pg.Close()
			_ = log.Sync()
		},
	}, nil
}

func withApp(run func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := connect()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		return run(ctx, a, args)
	}
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func parseUserID(raw string) (string, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid user id %q: %w", raw, err)
	}
	return id.String(), nil
}

func newLiftCmd() *cobra.Command {
	var adminID string
	cmd := &cobra.Command{
		Use:   "lift <user-id>",
		Short: "Restore a user to active",
		Long: `Lift clears any warning, suspension or ban and restores the user to active.
The violation count is kept; whether it still drives escalation depends on
sanctions.reset_count_on_lift.`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			result, err := a.engine.Lift(ctx, userID, adminID)
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, result)
		}),
	}
	cmd.Flags().StringVar(&adminID, "admin", "", "admin id recorded on the lift (required)")
	_ = cmd.MarkFlagRequired("admin")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <user-id>",
		Short: "Show a user's sanction state",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			state, err := a.engine.State(ctx, userID)
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, state)
		}),
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <user-id>",
		Short: "List a user's most recent violations",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			records, err := a.ledger.RecentHistory(ctx, userID, limit)
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, records)
		}),
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of records")
	return cmd
}

func newStatsCmd() *cobra.Command {
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarise recent violations",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, _ []string) error {
			stats, err := a.ledger.AggregateStats(ctx, window)
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, stats)
		}),
	}
	cmd.Flags().DurationVarP(&window, "window", "w", 24*time.Hour, "time window to aggregate")
	return cmd
}

func newResolveCmd() *cobra.Command {
	var adminID string
	cmd := &cobra.Command{
		Use:   "resolve <violation-id>",
		Short: "Mark a violation as reviewed",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			if err := a.ledger.MarkResolved(ctx, args[0], adminID); err != nil {
				return err
			}
			fmt.Printf("Violation %s resolved by %s\n", args[0], adminID)
			return nil
		}),
	}
	cmd.Flags().StringVar(&adminID, "admin", "", "admin id recorded on the resolution (required)")
	_ = cmd.MarkFlagRequired("admin")
	return cmd
}

func newHashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key [key]",
		Short: "Print the Argon2id hash for an admin key",
		Long: `hash-key prints the value for ADMIN_KEY_HASH. The key is read from the
argument, or from stdin when no argument is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := readKey(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			hash, err := utils.HashAdminKey(key)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
}

func readKey(in io.Reader, args []string) (string, error) {
	if len(args) == 1 {
		return strings.TrimSpace(args[0]), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	key := strings.TrimSpace(line)
	if key == "" {
		return "", fmt.Errorf("admin key is empty")
	}
	return key, nil
}
