package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/de101/dataportal/internal/piistore"
)

var seedCount int

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Fill the user database with synthetic users",
	Long: `Generates a deterministic synthetic user population for development
and load testing. The generator is seeded, so repeated runs against a fresh
database produce identical data.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()

		store, err := piistore.Open(cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("open user database: %w", err)
		}

		ctx := context.Background()
		logger.Info("Seeding synthetic users.", "count", seedCount)
		if err := store.SeedSampleData(ctx, seedCount); err != nil {
			return fmt.Errorf("seed users: %w", err)
		}
		total, err := store.Count(ctx)
		if err != nil {
			return err
		}
		logger.Info("Seeding complete.", "users_total", total)
		return nil
	},
}

func init() {
	seedCmd.Flags().IntVar(&seedCount, "count", 1000000, "number of synthetic users to insert")
}
