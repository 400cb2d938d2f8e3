// Package store keeps a local ledger of harvest runs so overlapping
// batches can be traced back to the run that produced them.
package store

import (
	"context"

	"github.com/clinicsync/harvest-cli/internal/model"
)

// RunUpdate carries the terminal state of a run.
type RunUpdate struct {
	Status          model.RunStatus
	StopReason      string
	Patients        int
	Evolutions      int
	CheckpointLabel string
}

// Store is the run-ledger persistence interface.
type Store interface {
	CreateRun(ctx context.Context, startID, endID int) (*model.Run, error)
	FinishRun(ctx context.Context, runID string, update RunUpdate) error
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)

	Migrate(ctx context.Context) error
	Close() error
}
