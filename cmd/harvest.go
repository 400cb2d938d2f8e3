package main

import (
	"context"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clinicsync/harvest-cli/internal/checkpoint"
	"github.com/clinicsync/harvest-cli/internal/config"
	"github.com/clinicsync/harvest-cli/internal/harvest"
	"github.com/clinicsync/harvest-cli/internal/model"
	"github.com/clinicsync/harvest-cli/internal/resilience"
	"github.com/clinicsync/harvest-cli/internal/source"
	"github.com/clinicsync/harvest-cli/internal/store"
)

var harvestCmd = &cobra.Command{
	Use:   "harvest [start_id] [end_id]",
	Short: "Harvest patient records over an identifier range",
	Long: `Walks the closed identifier range [start_id, end_id] against the
clinic system, one identifier at a time, and accumulates patient
records plus their visit histories.

Progress is checkpointed periodically and once more on every exit
path, so an interrupted run never loses completed work. A long streak
of consecutive not-found identifiers stops the scan early.

Examples:
  # Harvest the default range
  harvest

  # Harvest a specific batch
  harvest 795 2469`,
	Args: cobra.MaximumNArgs(2),
	RunE: runHarvest,
}

func init() {
	rootCmd.AddCommand(harvestCmd)
}

func runHarvest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.ValidateSource(); err != nil {
		return err
	}

	start, end, err := harvestRange(args, cfg.Harvest)
	if err != nil {
		return err
	}

	log := zap.L().With(zap.String("command", "harvest"))

	ledger, err := store.NewSQLite(cfg.Ledger.Path)
	if err != nil {
		return err
	}
	defer ledger.Close()
	if err := ledger.Migrate(ctx); err != nil {
		return err
	}

	src, err := source.NewWebSource(ctx, source.WebConfig{
		BaseURL:  cfg.Source.BaseURL,
		Username: cfg.Source.Username,
		Password: cfg.Source.Password,
		Timeout:  cfg.Source.Timeout(),
	})
	if err != nil {
		return eris.Wrap(err, "harvest: open source session")
	}

	run, err := ledger.CreateRun(ctx, start, end)
	if err != nil {
		return err
	}

	loop := harvest.New(src, checkpoint.NewWriter(cfg.Export.Dir), nil, harvest.Config{
		CheckpointEvery:  cfg.Harvest.CheckpointEvery,
		FailureThreshold: cfg.Harvest.MaxConsecutiveFailures,
		Retry: resilience.RetryConfig{
			MaxAttempts: cfg.Harvest.RetryAttempts,
			Delay:       cfg.Harvest.RetryDelay(),
		},
		RequestsPerSecond: cfg.Harvest.RequestsPerSecond,
	})

	res, runErr := loop.Run(ctx, start, end)

	update := store.RunUpdate{
		Status:     model.RunStatusCompleted,
		StopReason: string(res.StopReason),
		Patients:   len(res.Patients),
		Evolutions: len(res.Evolutions),
	}
	if res.Final != nil {
		update.CheckpointLabel = res.Final.Label
	}
	if runErr != nil {
		update.Status = model.RunStatusFailed
	}
	if err := ledger.FinishRun(context.WithoutCancel(ctx), run.ID, update); err != nil {
		log.Warn("failed to record run outcome", zap.Error(err))
	}

	if runErr != nil {
		return eris.Wrap(runErr, "harvest: run aborted")
	}

	cmd.Printf("Harvested %d patients and %d evolutions (%s, last id %d)\n",
		len(res.Patients), len(res.Evolutions), res.StopReason, res.LastID)
	return nil
}

// harvestRange resolves the scanned range from positional args with
// config defaults.
func harvestRange(args []string, defaults config.HarvestConfig) (start, end int, err error) {
	start, end = defaults.StartID, defaults.EndID
	if len(args) >= 1 {
		start, err = strconv.Atoi(args[0])
		if err != nil {
			return 0, 0, eris.Errorf("harvest: invalid start_id %q", args[0])
		}
	}
	if len(args) >= 2 {
		end, err = strconv.Atoi(args[1])
		if err != nil {
			return 0, 0, eris.Errorf("harvest: invalid end_id %q", args[1])
		}
	}
	if start < 1 || end < start {
		return 0, 0, eris.Errorf("harvest: invalid range [%d, %d]", start, end)
	}
	return start, end, nil
}
