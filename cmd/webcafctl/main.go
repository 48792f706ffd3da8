package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"webcaf.uk/internal/assessment"
	"webcaf.uk/internal/migrate"
	"webcaf.uk/internal/store/pg"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "webcafctl",
		Short:         "Operational tooling for the WebCAF service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var dsn string
	root.PersistentFlags().StringVar(&dsn, "dsn", "", "PostgreSQL DSN (defaults to DATABASE_URL)")

	root.AddCommand(
		migrateCmd(&dsn),
		seedCmd(&dsn),
		importOrgsCmd(&dsn),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func openDB(dsn string) (*sql.DB, error) {
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, errors.New("no DSN: pass --dsn or set DATABASE_URL")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

func newManager(db *sql.DB) *migrate.Manager {
	return migrate.NewManager(db, pg.SchemaFS, pg.MigrationsDir, pg.SeedsDir)
}

func migrateCmd(dsn *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDB(*dsn, func(ctx context.Context, db *sql.DB) error {
					return newManager(db).Up(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDB(*dsn, func(ctx context.Context, db *sql.DB) error {
					return newManager(db).Down(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDB(*dsn, func(ctx context.Context, db *sql.DB) error {
					applied, err := newManager(db).Status(ctx)
					if err != nil {
						return err
					}
					if len(applied) == 0 {
						fmt.Println("no migrations applied")
						return nil
					}
					for _, name := range applied {
						fmt.Println(name)
					}
					return nil
				})
			},
		},
	)
	return cmd
}

func seedCmd(dsn *string) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Apply seed data (default configuration)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(*dsn, func(ctx context.Context, db *sql.DB) error {
				return newManager(db).Seed(ctx)
			})
		},
	}
}

func importOrgsCmd(dsn *string) *cobra.Command {
	var parentID string
	cmd := &cobra.Command{
		Use:   "import-orgs <csv-file>",
		Short: "Import organisations and advisor emails from a CSV export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return withDB(*dsn, func(ctx context.Context, db *sql.DB) error {
				summary, err := assessment.ImportOrganisationsCSV(ctx, pg.NewStore(db), f, parentID)
				if err != nil {
					return err
				}
				fmt.Printf("created=%d updated=%d advisors=%d skipped=%d\n",
					summary.Created, summary.Updated, summary.Advisors, summary.Skipped)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&parentID, "parent", "", "Parent organisation id for imported rows")
	return cmd
}

func withDB(dsn string, fn func(context.Context, *sql.DB) error) error {
	db, err := openDB(dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(context.Background(), db)
}
