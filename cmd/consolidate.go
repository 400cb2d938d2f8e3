package main

import (
	"github.com/spf13/cobra"

	"github.com/clinicsync/harvest-cli/internal/checkpoint"
	"github.com/clinicsync/harvest-cli/internal/consolidate"
)

var consolidateCmd = &cobra.Command{
	Use:   "consolidate <backup.json>...",
	Short: "Merge checkpoint backups into one deduplicated dataset",
	Long: `Loads the given structured backups in order, concatenates their
record sets, and drops duplicate patients keeping the first batch's
copy. Evolutions are never deduplicated. The merged dataset is written
through the regular checkpoint writer under the consolidated label.

Batch order matters: for identifiers present in more than one backup,
the earliest listed file wins.

Example:
  consolidate excels/backup_FINAL_a.json excels/backup_FINAL_b.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runConsolidate,
}

func init() {
	rootCmd.AddCommand(consolidateCmd)
}

func runConsolidate(cmd *cobra.Command, args []string) error {
	m, err := consolidate.Consolidate(args, checkpoint.NewWriter(cfg.Export.Dir))
	if err != nil {
		return err
	}

	cmd.Printf("Batches:          %d\n", len(args))
	cmd.Printf("Records loaded:   %d\n", m.Loaded)
	cmd.Printf("Unique patients:  %d (%d duplicates dropped)\n", len(m.Patients), m.Duplicates)
	cmd.Printf("Evolutions:       %d\n", len(m.Evolutions))
	cmd.Printf("Patients in debt: %d\n", m.Stats.Debtors)
	cmd.Printf("Total debt:       $%.2f\n", m.Stats.TotalPesos)
	cmd.Printf("Written:          %s\n", m.Snapshot.BackupPath)
	return nil
}
