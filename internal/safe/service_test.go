package safe_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/fuelops/stationledger/internal/safe"
	"github.com/fuelops/stationledger/internal/safe/safetest"
	"github.com/fuelops/stationledger/internal/shared"
)

const station int64 = 7

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

type failingAudit struct{}

func (failingAudit) Record(context.Context, shared.AuditLog) error {
	return errors.New("audit store unavailable")
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newService(t *testing.T) (*safe.Service, *safetest.Store, *recordingAudit) {
	t.Helper()
	store := safetest.NewStore()
	audit := &recordingAudit{}
	svc := safe.NewService(store, safe.ServiceConfig{Audit: audit})
	clock := &fixedClock{now: time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)}
	svc.WithNow(clock.Now)
	return svc, store, audit
}

func requireBalance(t *testing.T, svc *safe.Service, want string) {
	t.Helper()
	got, err := svc.Balance(context.Background(), station)
	require.NoError(t, err)
	require.Truef(t, dec(want).Equal(got), "expected balance %s, got %s", want, got)
}

func TestPostIncomeAndExpenseKeepsChain(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Post(ctx, safe.PostInput{StationID: station, Type: safe.TypeCashIn, Amount: dec("1000"), Performer: "manager"})
	require.NoError(t, err)
	_, err = svc.BankDeposit(ctx, station, dec("400"), "manager", "morning deposit")
	require.NoError(t, err)
	_, err = svc.IssueLoan(ctx, station, "LN-1", dec("100"), "manager")
	require.NoError(t, err)
	_, err = svc.ReceiveLoanRepayment(ctx, station, "LN-1", dec("50"), "manager")
	require.NoError(t, err)

	requireBalance(t, svc, "550")

	entries := store.Entries(station)
	require.Len(t, entries, 4)
	for i := 1; i < len(entries); i++ {
		require.True(t, entries[i].BalanceBefore.Equal(entries[i-1].BalanceAfter))
		require.Equal(t, entries[i-1].Hash, entries[i].PrevHash)
		require.True(t, entries[i].Timestamp.After(entries[i-1].Timestamp))
	}
	_, _, err = safe.VerifyEntries(station, entries)
	require.NoError(t, err)
}

func TestExpenseRejectedWhenBalanceInsufficient(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	_, err := svc.SetOpeningBalance(ctx, station, dec("3000"), "manager", time.Time{})
	require.NoError(t, err)

	_, err = svc.BankDeposit(ctx, station, dec("5000"), "manager", "")
	var insufficient *safe.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	require.True(t, insufficient.Balance.Equal(dec("3000")))

	requireBalance(t, svc, "3000")
	require.Len(t, store.Entries(station), 1)
}

func TestSetOpeningBalanceThenCountAdjustment(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	first, err := svc.SetOpeningBalance(ctx, station, dec("5000"), "manager", time.Time{})
	require.NoError(t, err)
	require.Equal(t, safe.TypeOpeningBalance, first.Type)
	require.True(t, first.Amount.Equal(dec("5000")))

	second, err := svc.SetOpeningBalance(ctx, station, dec("4800"), "manager", time.Time{})
	require.NoError(t, err)
	require.Equal(t, safe.TypeCountAdjustment, second.Type)
	require.True(t, second.Amount.Equal(dec("-200")))
	requireBalance(t, svc, "4800")
}

func TestOpeningBalanceInNewPeriod(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	march := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	april := time.Date(2024, 4, 1, 6, 0, 0, 0, time.UTC)

	_, err := svc.SetOpeningBalance(ctx, station, dec("5000"), "manager", march)
	require.NoError(t, err)
	entry, err := svc.SetOpeningBalance(ctx, station, dec("5100"), "manager", april)
	require.NoError(t, err)
	require.Equal(t, safe.TypeOpeningBalance, entry.Type)
	require.True(t, entry.Amount.Equal(dec("100")))
	requireBalance(t, svc, "5100")
}

func TestPostValidatesLinks(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Post(ctx, safe.PostInput{StationID: station, Type: safe.TypeShiftCash, Amount: dec("10"), Performer: "x"})
	require.ErrorIs(t, err, safe.ErrInvalidPosting)

	_, err = svc.SettlePOSBatch(ctx, station, "", dec("10"), "x")
	require.ErrorIs(t, err, safe.ErrInvalidPosting)

	_, err = svc.Post(ctx, safe.PostInput{StationID: station, Type: safe.TypeCashIn, Amount: dec("-1"), Performer: "x"})
	require.ErrorIs(t, err, safe.ErrInvalidPosting)
}

func TestReverseAppendsOffsettingCorrection(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	_, err := svc.SetOpeningBalance(ctx, station, dec("1000"), "manager", time.Time{})
	require.NoError(t, err)
	deposit, err := svc.BankDeposit(ctx, station, dec("300"), "manager", "")
	require.NoError(t, err)

	correction, err := svc.Reverse(ctx, station, deposit.ID, "auditor", "wrong amount")
	require.NoError(t, err)
	require.Equal(t, safe.TypeCorrection, correction.Type)
	require.True(t, correction.Amount.Equal(dec("300")))
	require.Equal(t, deposit.ID, *correction.Links.CorrectsID)
	requireBalance(t, svc, "1000")

	entries := store.Entries(station)
	require.Len(t, entries, 3)
	require.True(t, entries[1].Amount.Equal(dec("300")))
	require.Equal(t, deposit.Hash, entries[1].Hash)

	_, err = svc.Reverse(ctx, station, correction.ID, "auditor", "")
	require.ErrorIs(t, err, safe.ErrNotReversible)
	_, err = svc.Reverse(ctx, station, deposit.ID, "auditor", "again")
	require.ErrorIs(t, err, safe.ErrNotReversible)
	require.Len(t, store.Entries(station), 3)
	_, err = svc.Reverse(ctx, station, uuid.New(), "auditor", "")
	require.ErrorIs(t, err, safe.ErrTransactionNotFound)
}

func TestReverseKeepsCorrectionOutOfClosureGroup(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	shiftID := uuid.New()

	cheque, err := svc.Post(ctx, safe.PostInput{
		StationID: station,
		Type:      safe.TypeShiftCheque,
		Amount:    dec("9000"),
		Performer: "supervisor",
		Links:     safe.Links{ShiftID: &shiftID, ChequeID: "BOC/100234"},
	})
	require.NoError(t, err)

	correction, err := svc.Reverse(ctx, station, cheque.ID, "auditor", "bounced")
	require.NoError(t, err)
	require.Nil(t, correction.Links.ShiftID)
	require.Equal(t, "BOC/100234", correction.Links.ChequeID)
	require.Equal(t, cheque.ID, *correction.Links.CorrectsID)
	requireBalance(t, svc, "0")

	page, err := svc.ListGroupedTransactions(ctx, station, safe.ListFilter{})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.Equal(t, safe.ItemTransaction, page.Items[0].Kind)
	require.Equal(t, safe.TypeCorrection, page.Items[0].Transaction.Type)
	require.Equal(t, safe.ItemShiftClosure, page.Items[1].Kind)
	require.Len(t, page.Items[1].Group.Transactions, 1)
}

func TestVerifyChainHaltsOnTamper(t *testing.T) {
	svc, store, audit := newService(t)
	ctx := context.Background()

	_, err := svc.SetOpeningBalance(ctx, station, dec("1000"), "manager", time.Time{})
	require.NoError(t, err)
	_, err = svc.BankDeposit(ctx, station, dec("100"), "manager", "")
	require.NoError(t, err)

	report, err := svc.VerifyChain(ctx, station)
	require.NoError(t, err)
	require.True(t, report.Valid)
	require.Equal(t, 2, report.Entries)

	store.Tamper(station, 2, func(txn *safe.SafeTransaction) {
		txn.Amount = dec("10")
	})

	report, err = svc.VerifyChain(ctx, station)
	require.NoError(t, err)
	require.False(t, report.Valid)
	require.True(t, report.Halted)
	require.Contains(t, audit.actions(), "safe.halt")

	_, err = svc.BankDeposit(ctx, station, dec("1"), "manager", "")
	require.ErrorIs(t, err, safe.ErrSafeHalted)
	var violation *safe.LedgerChainViolationError
	require.ErrorAs(t, err, &violation)

	// The tampered entry is left in place for review.
	require.True(t, store.Entries(station)[1].Amount.Equal(dec("10")))
}

func TestPostDetectsBrokenHead(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	_, err := svc.SetOpeningBalance(ctx, station, dec("1000"), "manager", time.Time{})
	require.NoError(t, err)
	store.Tamper(station, 1, func(txn *safe.SafeTransaction) {
		txn.BalanceAfter = dec("900")
	})

	_, err = svc.Post(ctx, safe.PostInput{StationID: station, Type: safe.TypeCashIn, Amount: dec("5"), Performer: "manager"})
	var violation *safe.LedgerChainViolationError
	require.ErrorAs(t, err, &violation)

	head, err := svc.GetSafe(ctx, station)
	require.NoError(t, err)
	require.True(t, head.Halted)
	require.Len(t, store.Entries(station), 1)
}

func TestConcurrentPostsSerialise(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	stations := []int64{station, station + 1}

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for _, id := range stations {
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.Post(ctx, safe.PostInput{StationID: id, Type: safe.TypeCashIn, Amount: dec("10"), Performer: "p"})
				errs <- err
			}()
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for _, id := range stations {
		entries := store.Entries(id)
		require.Len(t, entries, 20)
		balance, _, err := safe.VerifyEntries(id, entries)
		require.NoError(t, err)
		require.True(t, balance.Equal(dec("200")))

		report, err := svc.VerifyChain(ctx, id)
		require.NoError(t, err)
		require.True(t, report.Valid)
	}
}

func TestStoreRejectsUnserialisedWriters(t *testing.T) {
	store := safetest.NewStore()
	ctx := context.Background()

	err := store.WithTx(ctx, func(ctx context.Context, outer safe.TxRepository) error {
		head, err := outer.LockSafe(ctx, station)
		require.NoError(t, err)
		require.NoError(t, store.WithTx(ctx, func(ctx context.Context, inner safe.TxRepository) error {
			h, err := inner.LockSafe(ctx, station)
			require.NoError(t, err)
			h.HeadSeq = 1
			return inner.UpdateHead(ctx, h)
		}))
		head.HeadSeq = 1
		return outer.UpdateHead(ctx, head)
	})
	require.ErrorIs(t, err, safetest.ErrSerialization)
}

func TestFailedInsertLeavesLedgerUntouched(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	_, err := svc.SetOpeningBalance(ctx, station, dec("100"), "manager", time.Time{})
	require.NoError(t, err)

	store.FailInsert = errors.New("disk full")
	_, err = svc.Post(ctx, safe.PostInput{StationID: station, Type: safe.TypeCashIn, Amount: dec("5"), Performer: "manager"})
	require.Error(t, err)

	requireBalance(t, svc, "100")
	require.Len(t, store.Entries(station), 1)
}

func TestAuditFailureIsLoggedAndPostingKept(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store := safetest.NewStore()
	svc := safe.NewService(store, safe.ServiceConfig{Audit: failingAudit{}, Logger: logger})

	_, err := svc.Post(context.Background(), safe.PostInput{StationID: station, Type: safe.TypeCashIn, Amount: dec("25"), Performer: "manager"})
	require.NoError(t, err)

	requireBalance(t, svc, "25")
	require.Contains(t, buf.String(), "audit record")
	require.Contains(t, buf.String(), "action=safe.post")
	require.Contains(t, buf.String(), "audit store unavailable")
}
