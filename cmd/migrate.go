package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/san-techie21/gulama-gateway/internal/config"
	"github.com/san-techie21/gulama-gateway/internal/memstore"
	"github.com/san-techie21/gulama-gateway/internal/upgrade"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply Memory Store schema migrations and data hooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
}

func runMigrate() error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Open applies the schema and all pending SQL migrations, failing
	// loudly on a partial migration rather than proceeding.
	mem, err := memstore.Open(config.ExpandHome(cfg.Database.SQLitePath))
	if err != nil {
		return err
	}
	defer mem.Close()

	status, err := upgrade.CheckSchema(mem.DB())
	if err != nil {
		return fmt.Errorf("schema check: %w", err)
	}
	if !status.Compatible {
		return fmt.Errorf("schema still incompatible after migration: %s", upgrade.FormatError(status))
	}
	fmt.Printf("Schema at v%d (required v%d).\n", status.CurrentVersion, status.RequiredVersion)

	ctx := context.Background()
	ran, err := upgrade.RunPendingHooks(ctx, mem.DB())
	if err != nil {
		return fmt.Errorf("data hooks: %w", err)
	}
	if ran > 0 {
		fmt.Printf("Ran %d data migration hook(s).\n", ran)
	} else {
		fmt.Println("No pending data migration hooks.")
	}

	version, err := mem.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Memory store ready (schema v%d).\n", version)
	return nil
}
