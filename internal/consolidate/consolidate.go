// Package consolidate merges independently harvested checkpoint
// backups into one canonical dataset.
package consolidate

import (
	"go.uber.org/zap"

	"github.com/clinicsync/harvest-cli/internal/checkpoint"
	"github.com/clinicsync/harvest-cli/internal/model"
)

// Label is the tag of the consolidated output files.
const Label = "TODOS"

// Merged is the result of consolidating a batch list.
type Merged struct {
	Patients   []model.Patient
	Evolutions []model.Evolution
	Stats      model.DebtStats

	// Loaded and Duplicates describe the raw input before dedup.
	Loaded     int
	Duplicates int

	Snapshot *checkpoint.Snapshot
}

// Consolidate loads each backup in the given order, concatenates the
// record sets, deduplicates patients by external id (first batch seen
// wins, later copies are dropped entirely), keeps every evolution, and
// writes the merged dataset through the checkpoint writer. Input files
// are never modified.
func Consolidate(paths []string, writer *checkpoint.Writer) (*Merged, error) {
	var all []model.Patient
	var evolutions []model.Evolution

	for _, path := range paths {
		b, err := checkpoint.Load(path)
		if err != nil {
			return nil, err
		}
		zap.L().Info("batch loaded",
			zap.String("path", path),
			zap.Int("patients", len(b.Patients)),
			zap.Int("evolutions", len(b.Evolutions)),
		)
		all = append(all, b.Patients...)
		evolutions = append(evolutions, b.Evolutions...)
	}

	unique := dedupe(all)

	m := &Merged{
		Patients:   unique,
		Evolutions: evolutions,
		Stats:      model.ComputeDebtStats(unique),
		Loaded:     len(all),
		Duplicates: len(all) - len(unique),
	}

	snap, err := writer.FlushLabeled(m.Patients, m.Evolutions, Label)
	if err != nil {
		return nil, err
	}
	m.Snapshot = snap

	zap.L().Info("consolidation complete",
		zap.Int("batches", len(paths)),
		zap.Int("patients", len(unique)),
		zap.Int("duplicates_dropped", m.Duplicates),
		zap.Int("evolutions", len(evolutions)),
		zap.Int("debtors", m.Stats.Debtors),
		zap.Float64("total_debt_pesos", m.Stats.TotalPesos),
	)
	return m, nil
}

// dedupe keeps the first occurrence of every external id, preserving
// input order.
func dedupe(patients []model.Patient) []model.Patient {
	seen := make(map[string]struct{}, len(patients))
	unique := make([]model.Patient, 0, len(patients))
	for _, p := range patients {
		if _, dup := seen[p.ExternalID]; dup {
			continue
		}
		seen[p.ExternalID] = struct{}{}
		unique = append(unique, p)
	}
	return unique
}
