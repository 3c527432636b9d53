package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/fuelops/stationledger/internal/jobs"
	"github.com/fuelops/stationledger/internal/safe"
)

// ChainVerifier describes the ledger behaviour the audit needs.
type ChainVerifier interface {
	Stations(ctx context.Context) ([]int64, error)
	VerifyChain(ctx context.Context, stationID int64) (safe.ChainReport, error)
}

// ErrChainViolations is returned when at least one audited safe failed verification.
var ErrChainViolations = errors.New("chain audit: violations detected")

// ChainAuditJob verifies safe hash chains on a schedule or on demand after closures.
type ChainAuditJob struct {
	Ledger      ChainVerifier
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	Concurrency int
	clock       func() time.Time
}

// NewChainAuditJob constructs the job handler.
func NewChainAuditJob(ledger ChainVerifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *ChainAuditJob {
	return &ChainAuditJob{
		Ledger:      ledger,
		Logger:      logger,
		Metrics:     metrics,
		Concurrency: 4,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the chain audit task.
func (j *ChainAuditJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Ledger == nil {
		return errors.New("chain audit: dependencies not configured")
	}
	var payload ChainAuditPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("chain audit payload: %v: %w", err, asynq.SkipRetry)
	}
	_, err := j.Run(ctx, payload.StationID)
	if errors.Is(err, ErrChainViolations) {
		// A halted safe needs an operator; retrying cannot repair it.
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

// Run audits one station or, when stationID is zero, every station with a safe.
func (j *ChainAuditJob) Run(ctx context.Context, stationID int64) (reports []safe.ChainReport, err error) {
	tracker := j.metrics().Track(TaskSafeChainAudit)
	defer func() {
		err = tracker.End(err)
	}()

	stations := []int64{stationID}
	if stationID == 0 {
		ids, lerr := j.Ledger.Stations(ctx)
		if lerr != nil {
			j.log().Error("list stations", slog.Any("error", lerr))
			return nil, lerr
		}
		stations = ids
	}
	if len(stations) == 0 {
		j.log().Info("no safes to audit")
		return nil, nil
	}

	start := j.now()
	reports = make([]safe.ChainReport, len(stations))
	var (
		mu       sync.Mutex
		violated []int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.concurrency())
	for i, id := range stations {
		g.Go(func() error {
			report, verr := j.Ledger.VerifyChain(gctx, id)
			if verr != nil {
				return fmt.Errorf("verify station %d: %w", id, verr)
			}
			reports[i] = report
			result := "valid"
			if !report.Valid {
				result = "violation"
				mu.Lock()
				violated = append(violated, id)
				mu.Unlock()
				j.log().Error("safe chain violation", slog.Int64("station_id", id), slog.String("violation", report.Violation))
			}
			j.metrics().ObserveAudit(result)
			return nil
		})
	}
	if werr := g.Wait(); werr != nil {
		j.log().Error("chain audit", slog.Any("error", werr))
		return reports, werr
	}

	j.log().Info("chain audit finished",
		slog.Int("stations", len(stations)),
		slog.Int("violations", len(violated)),
		slog.Duration("duration", j.now().Sub(start)))
	if len(violated) > 0 {
		return reports, fmt.Errorf("%w: stations %v", ErrChainViolations, violated)
	}
	return reports, nil
}

func (j *ChainAuditJob) concurrency() int {
	if j.Concurrency > 0 {
		return j.Concurrency
	}
	return 1
}

func (j *ChainAuditJob) metrics() *jobmetrics.Metrics {
	if j == nil {
		return nil
	}
	return j.Metrics
}

func (j *ChainAuditJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSafeChainAudit))
	}
	return slog.Default().With(slog.String("job", TaskSafeChainAudit))
}

func (j *ChainAuditJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *ChainAuditJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
