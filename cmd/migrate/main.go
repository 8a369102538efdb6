package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"library-manager/internal/auth"
	"library-manager/internal/storage/sqlstore"
)

type options struct {
	driver string
	dsn    string
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the library database schema",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.driver, "driver", getEnv("DB_DRIVER", sqlstore.DriverSQLite), "database driver (sqlite3, postgres, pgx)")
	root.PersistentFlags().StringVar(&opts.dsn, "dsn", os.Getenv("DB_DSN"), "database connection string")

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(cmd.Context(), opts, func(m *sqlstore.Migrator) error {
					if err := m.Up(cmd.Context()); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "Migrations completed successfully")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(cmd.Context(), opts, func(m *sqlstore.Migrator) error {
					if err := m.Down(cmd.Context()); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "Rollback completed successfully")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(cmd.Context(), opts, func(m *sqlstore.Migrator) error {
					statuses, err := m.Status(cmd.Context())
					if err != nil {
						return err
					}
					for _, s := range statuses {
						state := "pending"
						if s.Applied {
							state = "applied"
						}
						fmt.Fprintf(cmd.OutOrStdout(), "%5d  %-8s %s\n", s.Version, state, s.Path)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(cmd.Context(), opts, func(m *sqlstore.Migrator) error {
					version, err := m.Version(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Current migration version: %d\n", version)
					return nil
				})
			},
		},
		newCreateAdminCmd(opts),
	)

	return root
}

func newCreateAdminCmd(opts *options) *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create the first administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			password := os.Getenv("ADMIN_PASSWORD")
			if password == "" {
				var err error
				if password, err = readPassword("Administrator password: "); err != nil {
					return err
				}
			}

			store, err := open(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Initialize(cmd.Context()); err != nil {
				return err
			}

			created, err := auth.NewService(store, nil, nil).EnsureAdmin(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			if !created {
				fmt.Fprintln(cmd.OutOrStdout(), "An administrator already exists, nothing to do")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Administrator %q created\n", username)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", getEnv("ADMIN_USERNAME", "admin"), "administrator username")

	return cmd
}

// readPassword securely reads a password with masking
func readPassword(prompt string) (string, error) {
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", fmt.Errorf("ADMIN_PASSWORD is required when stdin is not a terminal")
	}
	fmt.Print(prompt)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(string(bytePassword)), nil
}

func open(ctx context.Context, opts *options) (*sqlstore.SQLStore, error) {
	if opts.dsn == "" {
		return nil, fmt.Errorf("--dsn or DB_DSN is required")
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return sqlstore.Open(ctx, opts.driver, opts.dsn, sqlstore.WithLogger(logger))
}

func withMigrator(ctx context.Context, opts *options, fn func(m *sqlstore.Migrator) error) error {
	store, err := open(ctx, opts)
	if err != nil {
		return err
	}
	defer store.Close()

	m, err := sqlstore.NewMigrator(store)
	if err != nil {
		return err
	}
	return fn(m)
}

// getEnv retrieves environment variable or returns default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
