// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/passport/internal/store"
)

// SchemaMigrator is the subset of store.Migrator used by the migrate commands.
type SchemaMigrator interface {
	AutoMigrator
	Down() error
	Force(version int) error
	Status() (store.Status, error)
}

type migratorFactory func(databaseURL string) (SchemaMigrator, error)

func newSchemaMigrator(databaseURL string) (SchemaMigrator, error) {
	m, err := store.NewMigrator(databaseURL)
	if err != nil {
		return nil, err //nolint:wrapcheck // wrapped by withMigrator
	}
	return m, nil
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return newMigrateCmd(newSchemaMigrator)
}

func newMigrateCmd(factory migratorFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
		Long: `Manage the PostgreSQL schema. Without a subcommand, applies all
pending migrations. The database URL comes from --database-url,
PASSPORT_DATABASE_URL or DATABASE_URL.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, factory, migrateUp)
		},
	}
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL connection URL")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, factory, migrateUp)
		},
	})

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back every migration (drops all accounts)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			confirmed, err := cmd.Flags().GetBool("yes")
			if err != nil {
				return oops.Code("FLAG_READ_FAILED").Wrap(err)
			}
			if !confirmed {
				return oops.Code("CONFIRMATION_REQUIRED").Errorf("migrate down drops the users table; pass --yes to confirm")
			}
			return withMigrator(cmd, factory, func(cmd *cobra.Command, m SchemaMigrator) error {
				cmd.Println("Rolling back all migrations...")
				if err := m.Down(); err != nil {
					return oops.With("operation", "roll back migrations").Wrap(err)
				}
				cmd.Println("Rollback completed")
				return nil
			})
		},
	}
	down.Flags().Bool("yes", false, "confirm the rollback")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, factory, printVersion)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations",
		Long: `Set the recorded schema version and clear the dirty flag. Use after
repairing a failed migration by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return oops.Code("INVALID_VERSION").With("version", args[0]).Wrap(err)
			}
			return withMigrator(cmd, factory, func(cmd *cobra.Command, m SchemaMigrator) error {
				if err := m.Force(version); err != nil {
					return oops.With("operation", "force version").Wrap(err)
				}
				cmd.Printf("Schema version forced to %d\n", version)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, factory, printStatus)
		},
	})

	return cmd
}

// withMigrator resolves the database URL, opens a migrator, runs fn and
// closes the migrator.
func withMigrator(cmd *cobra.Command, factory migratorFactory, fn func(*cobra.Command, SchemaMigrator) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").
			With("key", "database.url").
			Errorf("database URL is required (--database-url, PASSPORT_DATABASE_URL or DATABASE_URL)")
	}

	m, err := factory(cfg.Database.URL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			cmd.PrintErrf("warning: closing migrator: %v\n", closeErr)
		}
	}()

	return fn(cmd, m)
}

func migrateUp(cmd *cobra.Command, m SchemaMigrator) error {
	st, err := m.Status()
	if err != nil {
		return oops.With("operation", "read schema status").Wrap(err)
	}
	if len(st.Pending) == 0 {
		cmd.Println("Schema is up to date")
		return nil
	}

	cmd.Printf("Applying %d migration(s)...\n", len(st.Pending))
	if err := m.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}
	cmd.Println("Migrations completed successfully")
	return nil
}

func printVersion(cmd *cobra.Command, m SchemaMigrator) error {
	st, err := m.Status()
	if err != nil {
		return oops.With("operation", "read schema status").Wrap(err)
	}
	cmd.Printf("Current version: %s\n", describeVersion(st))
	return nil
}

func printStatus(cmd *cobra.Command, m SchemaMigrator) error {
	st, err := m.Status()
	if err != nil {
		return oops.With("operation", "read schema status").Wrap(err)
	}

	cmd.Printf("Current version: %s\n", describeVersion(st))
	cmd.Printf("Applied: %d\n", len(st.Applied))
	if len(st.Pending) == 0 {
		cmd.Println("Pending: none")
		return nil
	}
	cmd.Printf("Pending: %d\n", len(st.Pending))
	for _, mig := range st.Pending {
		cmd.Printf("  %s\n", mig.Name)
	}
	return nil
}

func describeVersion(st store.Status) string {
	if st.Version == 0 {
		return "none"
	}
	desc := strconv.FormatUint(uint64(st.Version), 10)
	if current, ok := st.Current(); ok {
		desc += " (" + current.Name + ")"
	}
	if st.Dirty {
		desc += " [dirty]"
	}
	return desc
}
