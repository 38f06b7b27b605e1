package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bugtracker/history-stack/cli/internal/seeder"
	"github.com/bugtracker/history-stack/cli/pkg/output"
	"github.com/bugtracker/history-stack/common/audit"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Publish fake item changes and log entries",
	Long: `Generate item change events and log entries and publish them to the broker.

Configuration cascade (priority order):
  1. Command-line flags
  2. ./seeder.yaml (project directory)
  3. ~/.bthist/seeder.yaml (user directory)
  4. Built-in defaults

Examples:
  # Ten items with five versions each and fifty log entries
  bthist seed

  # Reproducible run with signed log entries
  bthist seed --seed 42 --signing-secret "$LOGGER_AUDIT_SIGNING_SECRET"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		seederFile, _ := cmd.Flags().GetString("seeder-config")
		sc, err := seeder.LoadConfig(seederFile)
		if err != nil {
			return err
		}
		applySeedFlags(cmd, sc)

		secret, _ := cmd.Flags().GetString("signing-secret")
		if secret == "" {
			secret = activeProfile(cmd).SigningSecret
		}

		js, err := connectBroker(cmd)
		if err != nil {
			return err
		}
		defer js.Close()

		runner, err := seeder.NewRunner(sc, js, audit.NewSigner(secret))
		if err != nil {
			return err
		}
		res, err := runner.Run(cmd.Context())
		if err != nil {
			return fmt.Errorf("seeding interrupted: %w", err)
		}

		output.Success("Published %d version events and %d log entries", res.Versions, res.Logs)
		if res.Failed > 0 {
			output.Warn("%d publish(es) failed", res.Failed)
		}
		return nil
	},
}

func applySeedFlags(cmd *cobra.Command, sc *seeder.Config) {
	flags := cmd.Flags()
	if flags.Changed("items") {
		sc.Items, _ = flags.GetInt("items")
	}
	if flags.Changed("versions") {
		sc.VersionsPerItem, _ = flags.GetInt("versions")
	}
	if flags.Changed("logs") {
		sc.Logs, _ = flags.GetInt("logs")
	}
	if flags.Changed("seed") {
		sc.Seed, _ = flags.GetInt64("seed")
	}
	if flags.Changed("time-spread") {
		sc.TimeSpread, _ = flags.GetDuration("time-spread")
	}
	if flags.Changed("item-types") {
		sc.ItemTypes, _ = flags.GetStringSlice("item-types")
	}
}

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().String("seeder-config", "", "seeder config file (default: ./seeder.yaml or ~/.bthist/seeder.yaml)")
	seedCmd.Flags().String("nats-url", "", "NATS server URL (default: profile nats_url)")
	seedCmd.Flags().String("signing-secret", "", "audit signing secret (default: profile signing_secret)")
	seedCmd.Flags().Int("items", 0, "number of items")
	seedCmd.Flags().Int("versions", 0, "versions per item")
	seedCmd.Flags().Int("logs", 0, "number of log entries")
	seedCmd.Flags().Int64("seed", 0, "random seed for reproducible data")
	seedCmd.Flags().Duration("time-spread", 0, "spread timestamps over this window ending now")
	seedCmd.Flags().StringSlice("item-types", nil, "item types to generate")
}
