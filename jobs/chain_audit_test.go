package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/fuelops/stationledger/internal/jobs"
	"github.com/fuelops/stationledger/internal/safe"
	"github.com/fuelops/stationledger/internal/safe/safetest"
)

func seededLedger(t *testing.T, stations ...int64) (*safetest.Store, *safe.Service) {
	t.Helper()
	store := safetest.NewStore()
	ledger := safe.NewService(store, safe.ServiceConfig{})
	clock := time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC)
	ledger.WithNow(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})
	for _, id := range stations {
		_, err := ledger.SetOpeningBalance(context.Background(), id, decimal.NewFromInt(1000), "manager", time.Time{})
		require.NoError(t, err)
		_, err = ledger.BankDeposit(context.Background(), id, decimal.NewFromInt(200), "cashier", "")
		require.NoError(t, err)
	}
	return store, ledger
}

func TestChainAuditAllStationsValid(t *testing.T) {
	_, ledger := seededLedger(t, 1, 2, 3)
	job := NewChainAuditJob(ledger, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	reports, err := job.Run(context.Background(), 0)

	require.NoError(t, err)
	require.Len(t, reports, 3)
	for _, r := range reports {
		require.True(t, r.Valid)
		require.Equal(t, 2, r.Entries)
		require.True(t, r.Balance.Equal(decimal.NewFromInt(800)))
	}
}

func TestChainAuditHaltsTamperedSafe(t *testing.T) {
	store, ledger := seededLedger(t, 1, 2)
	store.Tamper(2, 2, func(e *safe.SafeTransaction) { e.Amount = decimal.NewFromInt(20) })
	job := NewChainAuditJob(ledger, nil, nil)

	reports, err := job.Run(context.Background(), 0)

	require.ErrorIs(t, err, ErrChainViolations)
	require.True(t, reports[0].Valid)
	require.False(t, reports[1].Valid)

	head, err := ledger.GetSafe(context.Background(), 2)
	require.NoError(t, err)
	require.True(t, head.Halted)
	head, err = ledger.GetSafe(context.Background(), 1)
	require.NoError(t, err)
	require.False(t, head.Halted)
}

func TestChainAuditTracksRunOutcome(t *testing.T) {
	store, ledger := seededLedger(t, 1, 2)
	registry := prometheus.NewRegistry()
	job := NewChainAuditJob(ledger, nil, jobmetrics.NewMetrics(registry))

	_, err := job.Run(context.Background(), 0)
	require.NoError(t, err)

	store.Tamper(2, 1, func(e *safe.SafeTransaction) { e.Performer = "intruder" })
	_, err = job.Run(context.Background(), 2)
	require.ErrorIs(t, err, ErrChainViolations)

	require.Equal(t, 2, testutil.CollectAndCount(registry, "stationledger_jobs_total"))
	require.Equal(t, 1, testutil.CollectAndCount(registry, "stationledger_jobs_failures_total"))
	require.Equal(t, 2, testutil.CollectAndCount(registry, "stationledger_safe_chain_audits_total"))
}

func TestChainAuditHandleSkipsRetryOnViolation(t *testing.T) {
	store, ledger := seededLedger(t, 7)
	store.Tamper(7, 1, func(e *safe.SafeTransaction) { e.Performer = "someone else" })
	job := NewChainAuditJob(ledger, nil, nil)

	task, err := NewChainAuditTask(7)
	require.NoError(t, err)
	err = job.Handle(context.Background(), task)

	require.ErrorIs(t, err, ErrChainViolations)
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestChainAuditHandleRejectsBadPayload(t *testing.T) {
	_, ledger := seededLedger(t)
	job := NewChainAuditJob(ledger, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskSafeChainAudit, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type failingVerifier struct{}

func (failingVerifier) Stations(context.Context) ([]int64, error) {
	return nil, errors.New("db down")
}

func (failingVerifier) VerifyChain(context.Context, int64) (safe.ChainReport, error) {
	return safe.ChainReport{}, errors.New("db down")
}

func TestChainAuditPropagatesStorageErrors(t *testing.T) {
	job := NewChainAuditJob(failingVerifier{}, nil, nil)

	_, err := job.Run(context.Background(), 0)
	require.EqualError(t, err, "db down")

	_, err = job.Run(context.Background(), 4)
	require.ErrorContains(t, err, "verify station 4")
	require.NotErrorIs(t, err, ErrChainViolations)
}

func TestChainAuditTaskPayload(t *testing.T) {
	task, err := NewChainAuditTask(0)
	require.NoError(t, err)
	require.Equal(t, TaskSafeChainAudit, task.Type())
	var payload ChainAuditPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Zero(t, payload.StationID)
}

type purgerFunc func(context.Context, time.Duration) (int64, error)

func (f purgerFunc) Cleanup(ctx context.Context, d time.Duration) (int64, error) { return f(ctx, d) }

func TestIdempotencyCleanupUsesRetention(t *testing.T) {
	var got time.Duration
	job := &IdempotencyCleanupJob{Store: purgerFunc(func(_ context.Context, d time.Duration) (int64, error) {
		got = d
		return 3, nil
	})}

	task, err := NewIdempotencyCleanupTask(24 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 24*time.Hour, got)

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	require.Equal(t, DefaultIdempotencyRetention, got)

	err = job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, []byte(`{"retention":"soon"}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
