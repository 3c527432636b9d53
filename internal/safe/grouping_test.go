package safe_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fuelops/stationledger/internal/safe"
)

func TestGroupTransactionsCollapsesShiftEntries(t *testing.T) {
	shiftID := uuid.MustParse("5b1d6f1e-0000-4000-8000-000000000001")
	base := time.Date(2024, 3, 10, 18, 0, 0, 0, time.UTC)
	txns := []safe.SafeTransaction{
		{ID: uuid.New(), Seq: 1, Type: safe.TypeShiftCash, Amount: dec("90000"), Timestamp: base, Links: safe.Links{ShiftID: &shiftID}},
		{ID: uuid.New(), Seq: 2, Type: safe.TypeShiftCard, Amount: dec("4000"), Timestamp: base.Add(time.Microsecond), Links: safe.Links{ShiftID: &shiftID}},
		{ID: uuid.New(), Seq: 3, Type: safe.TypeBankDeposit, Amount: dec("5000"), Timestamp: base.Add(time.Hour)},
	}

	items := safe.GroupTransactions(txns, nil)
	require.Len(t, items, 2)

	require.Equal(t, safe.ItemTransaction, items[0].Kind)
	require.Equal(t, safe.TypeBankDeposit, items[0].Transaction.Type)

	group := items[1].Group
	require.Equal(t, safe.ItemShiftClosure, items[1].Kind)
	require.NotNil(t, group)
	require.Equal(t, shiftID, group.ShiftID)
	require.Len(t, group.Transactions, 2)
	require.False(t, group.Authoritative)
	require.True(t, group.Breakdown.Cash.Equal(dec("90000")))
	require.True(t, group.Breakdown.Card.Equal(dec("4000")))
	require.True(t, group.Breakdown.Total.Equal(dec("94000")))
	require.Equal(t, base.Add(time.Microsecond), group.Timestamp)
	require.Contains(t, group.Label, "94,000.00")
}

func TestGroupTransactionsPrefersClosureSummary(t *testing.T) {
	shiftID := uuid.New()
	at := time.Date(2024, 3, 10, 18, 0, 0, 0, time.UTC)
	txns := []safe.SafeTransaction{
		{ID: uuid.New(), Seq: 1, Type: safe.TypeShiftCash, Amount: dec("100"), Timestamp: at, Links: safe.Links{ShiftID: &shiftID}},
	}
	closures := map[uuid.UUID]safe.ClosureSummary{
		shiftID: {
			ShiftID:    shiftID,
			Attendants: []string{"Nimal", "Amal", "Nimal"},
			Breakdown: safe.TenderBreakdown{
				Cash: dec("100"), Credit: dec("900"), Total: dec("1000"),
			},
		},
	}

	items := safe.GroupTransactions(txns, closures)
	require.Len(t, items, 1)
	group := items[0].Group
	require.True(t, group.Authoritative)
	require.Equal(t, []string{"Amal", "Nimal"}, group.Attendants)
	require.True(t, group.Breakdown.Credit.Equal(dec("900")))
	require.True(t, group.Breakdown.Total.Equal(dec("1000")))
}

func TestGroupTransactionsStableUnderReordering(t *testing.T) {
	shiftA, shiftB := uuid.New(), uuid.New()
	at := time.Date(2024, 3, 10, 18, 0, 0, 0, time.UTC)
	txns := []safe.SafeTransaction{
		{ID: uuid.New(), Seq: 1, Type: safe.TypeOpeningBalance, Amount: dec("10"), Timestamp: at},
		{ID: uuid.New(), Seq: 2, Type: safe.TypeShiftCash, Amount: dec("1"), Timestamp: at.Add(time.Minute), Links: safe.Links{ShiftID: &shiftA}},
		{ID: uuid.New(), Seq: 3, Type: safe.TypeShiftCard, Amount: dec("2"), Timestamp: at.Add(2 * time.Minute), Links: safe.Links{ShiftID: &shiftA}},
		{ID: uuid.New(), Seq: 4, Type: safe.TypeShiftCash, Amount: dec("3"), Timestamp: at.Add(2 * time.Minute), Links: safe.Links{ShiftID: &shiftB}},
		{ID: uuid.New(), Seq: 5, Type: safe.TypeCashIn, Amount: dec("4"), Timestamp: at.Add(2 * time.Minute)},
		{ID: uuid.New(), Seq: 6, Type: safe.TypeExpensePayment, Amount: dec("5"), Timestamp: at.Add(3 * time.Minute)},
	}

	want := safe.GroupTransactions(txns, nil)
	require.Len(t, want, 5)
	for i := 1; i < len(want); i++ {
		require.False(t, want[i].Timestamp.After(want[i-1].Timestamp))
	}

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 25; i++ {
		shuffled := append([]safe.SafeTransaction(nil), txns...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		require.Equal(t, want, safe.GroupTransactions(shuffled, nil))
	}
}

func TestGroupTransactionsPassesThroughUnlinked(t *testing.T) {
	at := time.Date(2024, 3, 10, 18, 0, 0, 0, time.UTC)
	txns := []safe.SafeTransaction{
		{ID: uuid.New(), Seq: 1, Type: safe.TypeCashIn, Amount: dec("1"), Timestamp: at},
		{ID: uuid.New(), Seq: 2, Type: safe.TypeCashIn, Amount: dec("2"), Timestamp: at.Add(time.Second)},
	}
	items := safe.GroupTransactions(txns, nil)
	require.Len(t, items, 2)
	require.Equal(t, int64(2), items[0].Transaction.Seq)
	require.Equal(t, int64(1), items[1].Transaction.Seq)
	require.Empty(t, safe.GroupTransactions(nil, nil))
}
