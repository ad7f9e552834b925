package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vhalberd/tracegraph/internal/graph"
	"github.com/vhalberd/tracegraph/internal/observability"
	"github.com/vhalberd/tracegraph/internal/service"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the graph schema in the configured database.",
	Long: `Applies the graph schema (nodes, edges, version snapshots) to the
configured PostgreSQL database. The operation is idempotent; running it
against an up-to-date database is a no-op.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Database.Driver != "postgres" {
			return fmt.Errorf("migrate requires database.driver=postgres, got %q", cfg.Database.Driver)
		}

		store, _, cleanup, err := service.InitializeStores(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		pg, ok := store.(*graph.Postgres)
		if !ok {
			return fmt.Errorf("unexpected store type %T", store)
		}
		if err := pg.EnsureSchema(cmd.Context()); err != nil {
			return err
		}
		logger.Info("Graph schema is up to date.", zap.String("database", cfg.Database.DBName))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
