// Package harvest walks an identifier range against the record source,
// accumulating patients and their visit histories with periodic
// checkpoints.
package harvest

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/clinicsync/harvest-cli/internal/checkpoint"
	"github.com/clinicsync/harvest-cli/internal/extract"
	"github.com/clinicsync/harvest-cli/internal/model"
	"github.com/clinicsync/harvest-cli/internal/resilience"
	"github.com/clinicsync/harvest-cli/internal/source"
)

// StopReason explains why a run ended.
type StopReason string

const (
	StopCompleted StopReason = "completed"       // reached the end of the range
	StopBreaker   StopReason = "circuit-breaker" // too many consecutive non-results
	StopCancelled StopReason = "cancelled"       // context cancelled (signal)
	StopFatal     StopReason = "fatal"           // session became unusable
)

// Config tunes one harvest run.
type Config struct {
	// CheckpointEvery flushes a progress checkpoint each time this many
	// records have been accumulated. Default: 50.
	CheckpointEvery int

	// FailureThreshold is the consecutive non-result streak that stops
	// the run. Default: 100.
	FailureThreshold int

	// Retry wraps each identifier's search-and-extract step.
	Retry resilience.RetryConfig

	// RequestsPerSecond paces identifier lookups. Zero disables pacing.
	RequestsPerSecond float64
}

// Result is the outcome of a run. Patients are in ascending identifier
// order; evolutions keep the order they were read in.
type Result struct {
	Patients   []model.Patient
	Evolutions []model.Evolution
	LastID     int
	StopReason StopReason
	Final      *checkpoint.Snapshot
}

// Loop drives the sequential harvest. It takes ownership of the source
// session and closes it when Run returns, on every exit path.
type Loop struct {
	src     source.Source
	ex      *extract.Extractor
	writer  *checkpoint.Writer
	breaker *resilience.StreakBreaker
	limiter *rate.Limiter
	cfg     Config
}

// stepOutcome is the per-identifier state machine result.
type stepOutcome struct {
	patient    *model.Patient
	evolutions []model.Evolution
	notFound   bool
	empty      bool
}

// New creates a Loop over src. The extractor is built with the given
// debt predicate (nil for the source's own debt flag).
func New(src source.Source, writer *checkpoint.Writer, isDebt extract.DebtPredicate, cfg Config) *Loop {
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = 50
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 100
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Loop{
		src:     src,
		ex:      extract.New(src, isDebt),
		writer:  writer,
		breaker: resilience.NewStreakBreaker(cfg.FailureThreshold),
		limiter: limiter,
		cfg:     cfg,
	}
}

// Run harvests the closed range [start, end] in strictly ascending
// order. Whatever was accumulated is flushed as a final checkpoint
// before Run returns, whether the run completed, tripped the breaker,
// was cancelled, or hit a fatal session error.
func (l *Loop) Run(ctx context.Context, start, end int) (*Result, error) {
	defer l.src.Close()

	log := zap.L().With(zap.Int("start", start), zap.Int("end", end))
	log.Info("harvest started")

	res := &Result{StopReason: StopCompleted}
	var runErr error

scan:
	for id := start; id <= end; id++ {
		res.LastID = id

		if err := l.pace(ctx); err != nil {
			res.StopReason = StopCancelled
			break scan
		}

		outcome, err := l.step(ctx, id)
		switch {
		case err == nil && outcome.patient != nil:
			res.Patients = append(res.Patients, *outcome.patient)
			res.Evolutions = append(res.Evolutions, outcome.evolutions...)
			l.breaker.Success()

			log.Info("record harvested",
				zap.Int("id", id),
				zap.String("lastname", outcome.patient.Lastname),
				zap.String("debt_pesos", outcome.patient.DebtPesos),
				zap.Int("evolutions", len(outcome.evolutions)),
			)

			if len(res.Patients)%l.cfg.CheckpointEvery == 0 {
				if _, err := l.writer.Flush(res.Patients, res.Evolutions, false); err != nil {
					log.Warn("progress checkpoint failed", zap.Error(err))
				}
			}

		case err == nil:
			// Not found or empty: a definitive non-result.
			log.Debug("no record", zap.Int("id", id), zap.Bool("empty", outcome.empty))
			if l.breaker.Fail() {
				log.Warn("stopping: consecutive-failure threshold reached",
					zap.Int("id", id),
					zap.Int("threshold", l.cfg.FailureThreshold),
				)
				res.StopReason = StopBreaker
				break scan
			}

		case eris.Is(err, source.ErrSessionDead):
			log.Error("session lost, aborting run", zap.Int("id", id), zap.Error(err))
			res.StopReason = StopFatal
			runErr = err
			break scan

		case ctx.Err() != nil:
			res.StopReason = StopCancelled
			break scan

		default:
			// Retries exhausted on this identifier; move on.
			log.Warn("step failed after retries", zap.Int("id", id), zap.Error(err))
			if l.breaker.Fail() {
				res.StopReason = StopBreaker
				break scan
			}
		}
	}

	// Flush-on-exit: completed work is never lost, also on the fatal
	// and cancelled paths.
	snap, err := l.writer.Flush(res.Patients, res.Evolutions, true)
	if err != nil {
		log.Error("final checkpoint failed", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}
	res.Final = snap

	log.Info("harvest finished",
		zap.String("reason", string(res.StopReason)),
		zap.Int("last_id", res.LastID),
		zap.Int("patients", len(res.Patients)),
		zap.Int("evolutions", len(res.Evolutions)),
	)
	return res, runErr
}

// step runs the search-and-extract cycle for one identifier, retrying
// transient faults. The search context is re-established before every
// attempt because the source does not keep filter state across
// navigations.
func (l *Loop) step(ctx context.Context, id int) (stepOutcome, error) {
	cfg := l.cfg.Retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("search-extract")
	}

	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (stepOutcome, error) {
		if err := l.src.Reset(ctx); err != nil {
			return stepOutcome{}, err
		}

		found, err := l.src.Search(ctx, id)
		if err != nil {
			return stepOutcome{}, err
		}
		if !found {
			return stepOutcome{notFound: true}, nil
		}

		if err := l.src.FocusFirstResult(ctx); err != nil {
			return stepOutcome{}, err
		}

		patient, err := l.ex.Record(ctx)
		if eris.Is(err, extract.ErrEmptyResult) {
			return stepOutcome{empty: true}, nil
		}
		if err != nil {
			return stepOutcome{}, err
		}

		evolutions, err := l.ex.Evolutions(ctx, patient.ExternalID)
		if err != nil {
			return stepOutcome{}, err
		}

		return stepOutcome{patient: patient, evolutions: evolutions}, nil
	})
}

func (l *Loop) pace(ctx context.Context) error {
	if l.limiter == nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		return nil
	}
	return l.limiter.Wait(ctx)
}
