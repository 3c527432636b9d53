package safehttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/fuelops/stationledger/internal/safe"
	"github.com/fuelops/stationledger/internal/safe/safetest"
	"github.com/fuelops/stationledger/internal/shared"
)

type memoryIdempotency struct {
	keys map[string]bool
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{keys: make(map[string]bool)}
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	if m.keys[module+"/"+key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[module+"/"+key] = true
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key, module string) error {
	delete(m.keys, module+"/"+key)
	return nil
}

type fixture struct {
	store  *safetest.Store
	ledger *safe.Service
	idem   *memoryIdempotency
	router http.Handler
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := safetest.NewStore()
	ledger := safe.NewService(store, safe.ServiceConfig{})
	clock := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	ledger.WithNow(func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	})
	idem := newMemoryIdempotency()
	r := chi.NewRouter()
	NewHandler(nil, ledger, idem).MountRoutes(r)
	return fixture{store: store, ledger: ledger, idem: idem, router: r}
}

func (f fixture) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req = req.WithContext(shared.ContextWithActor(req.Context(), "cashier"))
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func (f fixture) seed(t *testing.T, amount string) {
	t.Helper()
	_, err := f.ledger.SetOpeningBalance(context.Background(), 5, decimal.RequireFromString(amount), "manager", time.Time{})
	require.NoError(t, err)
}

func TestPostTransactionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "3000")
	headers := map[string]string{"Idempotency-Key": "dep-1"}
	body := `{"type":"BANK_DEPOSIT","amount":"1000","note":"morning deposit"}`

	rr := f.do(t, http.MethodPost, "/stations/5/safe/transactions", body, headers)
	require.Equal(t, http.StatusCreated, rr.Code)
	var txn safe.SafeTransaction
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &txn))
	require.Equal(t, "cashier", txn.Performer)
	require.True(t, txn.BalanceAfter.Equal(decimal.NewFromInt(2000)))

	rr = f.do(t, http.MethodPost, "/stations/5/safe/transactions", body, headers)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Len(t, f.store.Entries(5), 2)
}

func TestPostTransactionInsufficientBalanceReleasesKey(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "3000")
	headers := map[string]string{"Idempotency-Key": "dep-2"}

	rr := f.do(t, http.MethodPost, "/stations/5/safe/transactions", `{"type":"BANK_DEPOSIT","amount":"5000"}`, headers)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.False(t, f.idem.keys["safe/dep-2"])

	balance, err := f.ledger.Balance(context.Background(), 5)
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.NewFromInt(3000)))
}

func TestPostTransactionRejectsClosureTypes(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodPost, "/stations/5/safe/transactions", `{"type":"SHIFT_CASH","amount":"10"}`, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Empty(t, f.store.Entries(5))
}

func TestPostTransactionMissingLinkIsUnprocessable(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "3000")
	rr := f.do(t, http.MethodPost, "/stations/5/safe/transactions", `{"type":"POS_BATCH_SETTLEMENT","amount":"10"}`, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestReverseAndLedgerListing(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "3000")
	deposit, err := f.ledger.BankDeposit(context.Background(), 5, decimal.NewFromInt(500), "cashier", "")
	require.NoError(t, err)

	rr := f.do(t, http.MethodPost, "/stations/5/safe/transactions/"+deposit.ID.String()+"/reverse", `{"reason":"wrong bag"}`, nil)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = f.do(t, http.MethodGet, "/stations/5/safe/ledger?type=CORRECTION,BANK_DEPOSIT", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var page safe.LedgerPage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Items, 2)
	require.Equal(t, safe.TypeCorrection, page.Items[0].Transaction.Type)

	rr = f.do(t, http.MethodGet, "/stations/5/safe/balance", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var head safe.Safe
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &head))
	require.True(t, head.Balance.Equal(decimal.NewFromInt(3000)))
}

func TestReverseUnknownTransactionIsNotFound(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "100")
	rr := f.do(t, http.MethodPost, "/stations/5/safe/transactions/"+uuid.NewString()+"/reverse", `{"reason":"typo"}`, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHaltedSafeReturnsLocked(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "3000")
	f.store.Tamper(5, 1, func(e *safe.SafeTransaction) { e.Amount = decimal.NewFromInt(9000) })

	rr := f.do(t, http.MethodPost, "/stations/5/safe/verify", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var report safe.ChainReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	require.False(t, report.Valid)

	rr = f.do(t, http.MethodPost, "/stations/5/safe/transactions", `{"type":"CASH_IN","amount":"10"}`, nil)
	require.Equal(t, http.StatusLocked, rr.Code)
}

func TestLedgerRejectsBadFilter(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/stations/5/safe/ledger?from=yesterday", "", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodGet, "/stations/x/safe/ledger", "", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	h := NewHandler(nil, nil, nil)
	rr := httptest.NewRecorder()
	h.writeError(rr, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("pq: password authentication failed"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "password")
}
