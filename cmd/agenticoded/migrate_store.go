//go:build linux

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agenticode/agenticoded/internal/config"
	"github.com/agenticode/agenticoded/internal/store"
)

// migrateStoreCmd applies the session store's schema (CREATE TABLE/INDEX
// IF NOT EXISTS statements in internal/store.New) without starting the
// daemon, so operators can pre-provision or upgrade the sqlite file ahead
// of a rollout.
var migrateStoreCmd = &cobra.Command{
	Use:   "migrate-store",
	Short: "Apply the session store's schema to the configured database file",
	RunE:  runMigrateStore,
}

func runMigrateStore(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := store.New(cfg.DBPath, 0)
	if err != nil {
		return fmt.Errorf("migrating store at %s: %w", cfg.DBPath, err)
	}
	defer st.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "store schema applied: %s\n", cfg.DBPath)
	return nil
}
