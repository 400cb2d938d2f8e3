package harvest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicsync/harvest-cli/internal/checkpoint"
	"github.com/clinicsync/harvest-cli/internal/resilience"
	"github.com/clinicsync/harvest-cli/internal/source"
)

// scriptedSource serves records per identifier: present ids resolve to
// a patient, absent ids are not-found. failures injects transient
// errors that clear after the configured number of attempts. deadAfter
// kills the session once that many records were served.
type scriptedSource struct {
	present   map[int]bool
	failures  map[int]int // id -> remaining transient failures
	deadAfter int         // kill session after N successful searches, 0 = never

	searched  []int
	served    int
	currentID int
	closed    int
}

func (s *scriptedSource) Reset(context.Context) error { return nil }

func (s *scriptedSource) Search(_ context.Context, id int) (bool, error) {
	s.searched = append(s.searched, id)
	if s.deadAfter > 0 && s.served >= s.deadAfter {
		return false, source.ErrSessionDead
	}
	if s.failures[id] > 0 {
		s.failures[id]--
		return false, resilience.NewTransientError(errors.New("navigation timeout"), 0)
	}
	if !s.present[id] {
		return false, nil
	}
	s.currentID = id
	return true, nil
}

func (s *scriptedSource) FocusFirstResult(context.Context) error { return nil }

func (s *scriptedSource) ReadRecordFields(context.Context) (*source.Fields, error) {
	s.served++
	return &source.Fields{
		Values: map[string]string{
			"clinical_history_number": strconv.Itoa(s.currentID),
			"full_name":               fmt.Sprintf("PACIENTE Numero%d", s.currentID),
		},
	}, nil
}

func (s *scriptedSource) GoTo(context.Context, string) error { return nil }

func (s *scriptedSource) ReadEvolutionRows(context.Context) ([]source.EvolutionRow, error) {
	return []source.EvolutionRow{
		{Date: "01/02/2026", Content: "visita", Doctor: "Dr. X"},
	}, nil
}

func (s *scriptedSource) Close() error {
	s.closed++
	return nil
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, Delay: time.Millisecond}
}

func newLoop(src source.Source, dir string, cfg Config) *Loop {
	cfg.Retry = fastRetry()
	return New(src, checkpoint.NewWriter(dir), nil, cfg)
}

func TestRun_EndToEnd(t *testing.T) {
	src := &scriptedSource{present: map[int]bool{1: true, 3: true, 5: true}}
	dir := t.TempDir()

	res, err := newLoop(src, dir, Config{}).Run(context.Background(), 1, 5)
	require.NoError(t, err)

	assert.Equal(t, StopCompleted, res.StopReason)
	require.Len(t, res.Patients, 3)
	assert.Equal(t, "1", res.Patients[0].ExternalID)
	assert.Equal(t, "3", res.Patients[1].ExternalID)
	assert.Equal(t, "5", res.Patients[2].ExternalID)
	assert.Len(t, res.Evolutions, 3)

	// Final flush holds everything that was accumulated.
	require.NotNil(t, res.Final)
	b, err := checkpoint.Load(res.Final.BackupPath)
	require.NoError(t, err)
	assert.Len(t, b.Patients, 3)
	assert.Contains(t, res.Final.Label, "FINAL")
}

func TestRun_SourceClosedOnExit(t *testing.T) {
	src := &scriptedSource{present: map[int]bool{1: true}}
	_, err := newLoop(src, t.TempDir(), Config{}).Run(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, src.closed)
}

func TestRun_CircuitBreakerStopsScan(t *testing.T) {
	src := &scriptedSource{present: map[int]bool{}} // everything not-found
	cfg := Config{FailureThreshold: 5}

	res, err := newLoop(src, t.TempDir(), cfg).Run(context.Background(), 10, 1000)
	require.NoError(t, err)

	assert.Equal(t, StopBreaker, res.StopReason)
	// Trips at the fifth consecutive non-result, so the scan never goes
	// past id 14.
	assert.Equal(t, 14, res.LastID)
	assert.Len(t, src.searched, 5)
}

func TestRun_SuccessResetsStreak(t *testing.T) {
	// Two misses, one hit, two misses: never trips a threshold of 3.
	src := &scriptedSource{present: map[int]bool{3: true}}
	cfg := Config{FailureThreshold: 3}

	res, err := newLoop(src, t.TempDir(), cfg).Run(context.Background(), 1, 5)
	require.NoError(t, err)
	assert.Equal(t, StopCompleted, res.StopReason)
	require.Len(t, res.Patients, 1)
}

func TestRun_TransientFailureRetriedThenSucceeds(t *testing.T) {
	src := &scriptedSource{
		present:  map[int]bool{1: true},
		failures: map[int]int{1: 2}, // first two attempts time out
	}

	res, err := newLoop(src, t.TempDir(), Config{}).Run(context.Background(), 1, 1)
	require.NoError(t, err)

	require.Len(t, res.Patients, 1)
	assert.Len(t, src.searched, 3)
}

func TestRun_RetryExhaustionCountsTowardBreaker(t *testing.T) {
	src := &scriptedSource{
		present:  map[int]bool{1: true},
		failures: map[int]int{1: 10}, // never recovers within 3 attempts
	}
	cfg := Config{FailureThreshold: 1}

	res, err := newLoop(src, t.TempDir(), cfg).Run(context.Background(), 1, 5)
	require.NoError(t, err)
	assert.Equal(t, StopBreaker, res.StopReason)
	assert.Empty(t, res.Patients)
}

func TestRun_FatalSessionErrorFlushesAccumulated(t *testing.T) {
	src := &scriptedSource{
		present:   map[int]bool{1: true, 2: true, 3: true, 4: true},
		deadAfter: 2,
	}
	dir := t.TempDir()

	res, err := newLoop(src, dir, Config{}).Run(context.Background(), 1, 4)
	require.Error(t, err)

	assert.Equal(t, StopFatal, res.StopReason)
	require.Len(t, res.Patients, 2)

	// The abort path still wrote a final checkpoint with exactly the
	// two harvested records.
	require.NotNil(t, res.Final)
	b, loadErr := checkpoint.Load(res.Final.BackupPath)
	require.NoError(t, loadErr)
	assert.Len(t, b.Patients, 2)
	assert.Equal(t, 1, src.closed)
}

func TestRun_ProgressCheckpointEveryN(t *testing.T) {
	present := make(map[int]bool)
	for id := 1; id <= 6; id++ {
		present[id] = true
	}
	src := &scriptedSource{present: present}
	dir := t.TempDir()

	res, err := newLoop(src, dir, Config{CheckpointEvery: 2}).Run(context.Background(), 1, 6)
	require.NoError(t, err)
	require.Len(t, res.Patients, 6)

	// 6 successes with a flush every 2 records. Progress labels are
	// minute-grained so the flushes collapse onto one file; the last
	// one must hold the cumulative accumulator.
	progress, err := filepath.Glob(filepath.Join(dir, "backup_progress_*.json"))
	require.NoError(t, err)
	require.NotEmpty(t, progress)

	b, err := checkpoint.Load(progress[len(progress)-1])
	require.NoError(t, err)
	assert.Len(t, b.Patients, 6)
}

func TestRun_CancelledContextFlushesAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &scriptedSource{present: map[int]bool{1: true}}
	res, err := newLoop(src, t.TempDir(), Config{}).Run(ctx, 1, 10)
	require.NoError(t, err)

	assert.Equal(t, StopCancelled, res.StopReason)
	assert.NotNil(t, res.Final)
	assert.Equal(t, 1, src.closed)
}
