package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/homevisit/visitgrid/internal/domain/routing"
	"github.com/homevisit/visitgrid/internal/platform/auth"
	"github.com/homevisit/visitgrid/internal/platform/db"
	"github.com/homevisit/visitgrid/internal/platform/syncq"
	"github.com/homevisit/visitgrid/migrations"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(contextOf(cmd), func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s).\n", count)
				return nil
			})
		},
	})

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("output")
			return withMigrator(contextOf(cmd), func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				return render(cmd.OutOrStdout(), format, statuses, migrationTable(statuses))
			})
		},
	}
	addOutputFlag(statusCmd)
	cmd.AddCommand(statusCmd)

	return cmd
}

func withMigrator(ctx context.Context, fn func(context.Context, *db.Migrator) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for migrations")
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: 2})
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, db.NewMigrator(pool, migrations.FS))
}

// withApp wires the application for a one-shot command. Commands that read
// appointments need DATABASE_URL; the in-memory store would always be empty.
func withApp(ctx context.Context, fn func(context.Context, *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	a, err := newApp(ctx, cfg, newLogger(cfg.Env).Level(zerolog.WarnLevel))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func requireDayFlags(cmd *cobra.Command) (clinician, date string, err error) {
	clinician, _ = cmd.Flags().GetString("clinician")
	date, _ = cmd.Flags().GetString("date")
	if clinician == "" || date == "" {
		return "", "", fmt.Errorf("--clinician and --date are required")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return "", "", fmt.Errorf("--date must be YYYY-MM-DD")
	}
	return clinician, date, nil
}

func arrangeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "arrange",
		Short: "Reorder one clinician day by travel distance",
		RunE: func(cmd *cobra.Command, args []string) error {
			clinician, date, err := requireDayFlags(cmd)
			if err != nil {
				return err
			}
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			format, _ := cmd.Flags().GetString("output")
			return withApp(contextOf(cmd), func(ctx context.Context, a *app) error {
				var res *routing.ArrangeResult
				if dryRun {
					res, err = a.arranger.Plan(ctx, clinician, date)
				} else {
					res, err = a.arranger.ArrangeDay(ctx, clinician, date)
				}
				if err != nil {
					return err
				}
				if err := render(cmd.OutOrStdout(), format, res, arrangeTable(res)); err != nil {
					return err
				}
				if format != "yaml" {
					fmt.Fprintln(cmd.OutOrStdout(), res.Summary)
				}
				return nil
			})
		},
	}
	cmd.Flags().String("clinician", "", "Clinician id")
	cmd.Flags().String("date", "", "Day to arrange (YYYY-MM-DD)")
	cmd.Flags().Bool("dry-run", false, "Show the plan without saving it")
	addOutputFlag(cmd)
	return cmd
}

func legsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "legs",
		Short: "Show travel legs for one clinician day",
		RunE: func(cmd *cobra.Command, args []string) error {
			clinician, date, err := requireDayFlags(cmd)
			if err != nil {
				return err
			}
			format, _ := cmd.Flags().GetString("output")
			fetch, _ := cmd.Flags().GetBool("fetch")
			return withApp(contextOf(cmd), func(ctx context.Context, a *app) error {
				if fetch {
					if _, err := a.tracker.Refresh(ctx, clinician, date); err != nil {
						return err
					}
				}
				day, err := a.tracker.Legs(ctx, clinician, date)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), format, day, legsTable(day))
			})
		},
	}
	cmd.Flags().String("clinician", "", "Clinician id")
	cmd.Flags().String("date", "", "Day (YYYY-MM-DD)")
	cmd.Flags().Bool("fetch", false, "Fetch road distances from DISTANCE_MATRIX_URL first")
	addOutputFlag(cmd)
	return cmd
}

// openOutbox opens the on-disk outbox directly, without the rest of the app.
func openOutbox() (*syncq.Syncer, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.SyncOutboxDir == "" {
		return nil, fmt.Errorf("SYNC_OUTBOX_DIR is not set; the in-memory outbox is not shared with the CLI")
	}
	ob, err := syncq.NewDiskOutbox(cfg.SyncOutboxDir)
	if err != nil {
		return nil, err
	}
	return syncq.NewSyncer(ob, unconfiguredRemote{}), nil
}

func outboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect the sync outbox",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List outbox entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			format, _ := cmd.Flags().GetString("output")
			s, err := openOutbox()
			if err != nil {
				return err
			}
			entries, err := s.Entries(contextOf(cmd), status)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), format, outboxRows(entries), outboxTable(entries))
		},
	}
	listCmd.Flags().String("status", "", "Filter by status (pending|failed)")
	addOutputFlag(listCmd)
	cmd.AddCommand(listCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "retry <entry-id>...",
		Short: "Requeue failed entries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openOutbox()
			if err != nil {
				return err
			}
			var failed []string
			for _, id := range args {
				if _, err := s.Retry(contextOf(cmd), id); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", id, err)
					failed = append(failed, id)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s requeued\n", id)
			}
			if len(failed) > 0 {
				return fmt.Errorf("could not requeue %s", strings.Join(failed, ", "))
			}
			return nil
		},
	})
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			roles, _ := cmd.Flags().GetStringSlice("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if subject == "" {
				return fmt.Errorf("--subject is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tok, err := auth.IssueToken(auth.JWTConfig{Issuer: cfg.JWTIssuer, SigningKey: []byte(cfg.JWTSecret)}, subject, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().String("subject", "", "Clinician id")
	cmd.Flags().StringSlice("role", []string{auth.RoleClinician}, "Roles to grant")
	cmd.Flags().Duration("ttl", 12*time.Hour, "Token lifetime")
	return cmd
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
