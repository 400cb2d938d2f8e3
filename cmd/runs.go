package main

import (
	"github.com/spf13/cobra"

	"github.com/clinicsync/harvest-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded harvest runs",
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().Int("limit", 20, "maximum number of runs to show")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, _ []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	ledger, err := store.NewSQLite(cfg.Ledger.Path)
	if err != nil {
		return err
	}
	defer ledger.Close()
	if err := ledger.Migrate(cmd.Context()); err != nil {
		return err
	}

	runs, err := ledger.ListRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		cmd.Println("No harvest runs recorded yet.")
		return nil
	}

	cmd.Printf("%-36s  %-7s  %-7s  %-10s  %-15s  %8s  %10s\n",
		"ID", "START", "END", "STATUS", "STOP REASON", "PATIENTS", "EVOLUTIONS")
	for _, r := range runs {
		cmd.Printf("%-36s  %-7d  %-7d  %-10s  %-15s  %8d  %10d\n",
			r.ID, r.StartID, r.EndID, r.Status, r.StopReason, r.Patients, r.Evolutions)
	}
	return nil
}
