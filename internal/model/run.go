package model

import "time"

// RunStatus is the lifecycle state of a recorded harvest run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one harvest run as recorded in the local ledger.
type Run struct {
	ID              string     `json:"id"`
	StartID         int        `json:"start_id"`
	EndID           int        `json:"end_id"`
	Status          RunStatus  `json:"status"`
	StopReason      string     `json:"stop_reason,omitempty"`
	Patients        int        `json:"patients"`
	Evolutions      int        `json:"evolutions"`
	CheckpointLabel string     `json:"checkpoint_label,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}
