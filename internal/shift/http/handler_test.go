package shifthttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/fuelops/stationledger/internal/platform/httpx"
	"github.com/fuelops/stationledger/internal/reconcile"
	"github.com/fuelops/stationledger/internal/safe"
	"github.com/fuelops/stationledger/internal/shared"
	"github.com/fuelops/stationledger/internal/shift"
)

type stubShiftService struct {
	openFn    func(ctx context.Context, in shift.OpenInput) (shift.Shift, error)
	getFn     func(ctx context.Context, id uuid.UUID) (shift.Shift, error)
	stockFn   func(ctx context.Context, id uuid.UUID, productID string, qty decimal.Decimal, actor string) (shift.Shift, error)
	declareFn func(ctx context.Context, id uuid.UUID, decl reconcile.TenderDeclaration, actor string) (shift.Shift, error)
	readyFn   func(ctx context.Context, id uuid.UUID, counts shift.Counts) (shift.Readiness, error)
	previewFn func(ctx context.Context, id uuid.UUID, in shift.PreviewInput) ([]reconcile.PumperBreakdown, error)
	closeFn   func(ctx context.Context, id uuid.UUID, in shift.CloseInput) (shift.CloseResult, error)
}

func (s *stubShiftService) OpenShift(ctx context.Context, in shift.OpenInput) (shift.Shift, error) {
	return s.openFn(ctx, in)
}

func (s *stubShiftService) GetShift(ctx context.Context, id uuid.UUID) (shift.Shift, error) {
	return s.getFn(ctx, id)
}

func (s *stubShiftService) AddShopStock(ctx context.Context, id uuid.UUID, productID string, qty decimal.Decimal, actor string) (shift.Shift, error) {
	return s.stockFn(ctx, id, productID, qty, actor)
}

func (s *stubShiftService) SaveDeclaration(ctx context.Context, id uuid.UUID, decl reconcile.TenderDeclaration, actor string) (shift.Shift, error) {
	return s.declareFn(ctx, id, decl, actor)
}

func (s *stubShiftService) Readiness(ctx context.Context, id uuid.UUID, counts shift.Counts) (shift.Readiness, error) {
	return s.readyFn(ctx, id, counts)
}

func (s *stubShiftService) Preview(ctx context.Context, id uuid.UUID, in shift.PreviewInput) ([]reconcile.PumperBreakdown, error) {
	return s.previewFn(ctx, id, in)
}

func (s *stubShiftService) CloseShift(ctx context.Context, id uuid.UUID, in shift.CloseInput) (shift.CloseResult, error) {
	return s.closeFn(ctx, id, in)
}

func newTestRouter(svc shiftService) http.Handler {
	r := chi.NewRouter()
	NewHandler(nil, svc).MountRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body, actor string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req = req.WithContext(shared.ContextWithActor(req.Context(), actor))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeProblem(t *testing.T, rr *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	var p httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	return p
}

func TestOpenShiftSetsActorAndReturnsCreated(t *testing.T) {
	var captured shift.OpenInput
	svc := &stubShiftService{openFn: func(_ context.Context, in shift.OpenInput) (shift.Shift, error) {
		captured = in
		return shift.Shift{ID: uuid.New(), StationID: in.StationID, Status: shift.StatusOpen}, nil
	}}
	body := `{"station_id":3,"assignments":[{"nozzle_id":"N1","attendant":"Kamal","start_reading":"1000"}]}`

	rr := do(t, newTestRouter(svc), http.MethodPost, "/shifts", body, "supervisor")

	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, "supervisor", captured.OpenedBy)
	require.Equal(t, int64(3), captured.StationID)
	require.True(t, captured.Assignments[0].StartReading.Equal(decimal.NewFromInt(1000)))
}

func TestOpenShiftRequiresActor(t *testing.T) {
	svc := &stubShiftService{}
	rr := do(t, newTestRouter(svc), http.MethodPost, "/shifts", `{}`, "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestOpenShiftValidatesBody(t *testing.T) {
	svc := &stubShiftService{}
	rr := do(t, newTestRouter(svc), http.MethodPost, "/shifts", `{"station_id":3,"assignments":[]}`, "supervisor")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, decodeProblem(t, rr).Fields, "OpenInput.Assignments")

	rr = do(t, newTestRouter(svc), http.MethodPost, "/shifts", `{"station_id":3,"bogus":1}`, "supervisor")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCloseShiftMapsDomainErrors(t *testing.T) {
	id := uuid.New()
	cases := []struct {
		name   string
		err    error
		status int
		fields []string
	}{
		{"incomplete", &shift.IncompleteClosureError{ShiftID: id, MissingNozzles: []string{"N1"}}, http.StatusUnprocessableEntity, []string{"end_readings.N1"}},
		{"missing price", &reconcile.MissingPriceError{Nozzles: []string{"N2"}, FuelTypes: []string{"DIESEL"}}, http.StatusUnprocessableEntity, []string{"nozzle:N2"}},
		{"already closed", &shift.AlreadyClosedError{ShiftID: id}, http.StatusConflict, nil},
		{"not found", shift.ErrShiftNotFound, http.StatusNotFound, nil},
		{"halted", &safe.LedgerChainViolationError{StationID: 3, Seq: 4, Reason: "hash mismatch"}, http.StatusLocked, nil},
		{"unknown terminal", shift.ErrUnknownTerminal, http.StatusUnprocessableEntity, nil},
		{"storage", errors.New("connection refused"), http.StatusInternalServerError, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubShiftService{closeFn: func(context.Context, uuid.UUID, shift.CloseInput) (shift.CloseResult, error) {
				return shift.CloseResult{}, tc.err
			}}
			rr := do(t, newTestRouter(svc), http.MethodPost, "/shifts/"+id.String()+"/close", `{}`, "supervisor")
			require.Equal(t, tc.status, rr.Code)
			require.Equal(t, tc.fields, decodeProblem(t, rr).Fields)
		})
	}
}

func TestCloseShiftPassesCountsAndActor(t *testing.T) {
	id := uuid.New()
	var captured shift.CloseInput
	svc := &stubShiftService{closeFn: func(_ context.Context, got uuid.UUID, in shift.CloseInput) (shift.CloseResult, error) {
		require.Equal(t, id, got)
		captured = in
		return shift.CloseResult{Shift: shift.Shift{ID: id, Status: shift.StatusClosed}}, nil
	}}
	body := `{"end_readings":{"N1":"1200"},"closing_stocks":{"OIL1L":"10"},
		"declarations":[{"attendant":"Kamal","cash":"94000","pos_slips":[{"terminal_id":"T1","amount":"100"}]}]}`

	rr := do(t, newTestRouter(svc), http.MethodPost, "/shifts/"+id.String()+"/close", body, "supervisor")

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "supervisor", captured.ClosedBy)
	require.True(t, captured.EndReadings["N1"].Equal(decimal.NewFromInt(1200)))
	require.Len(t, captured.Declarations, 1)
	require.Len(t, captured.Declarations[0].POSSlips, 1)
}

func TestPreviewWrapsBreakdowns(t *testing.T) {
	svc := &stubShiftService{previewFn: func(context.Context, uuid.UUID, shift.PreviewInput) ([]reconcile.PumperBreakdown, error) {
		return []reconcile.PumperBreakdown{{Attendant: "Kamal", Classification: reconcile.ClassificationNormal}}, nil
	}}
	rr := do(t, newTestRouter(svc), http.MethodPost, "/shifts/"+uuid.NewString()+"/preview", `{}`, "")

	require.Equal(t, http.StatusOK, rr.Code)
	var resp previewResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Breakdowns, 1)
	require.Equal(t, "Kamal", resp.Breakdowns[0].Attendant)
}

func TestGetShiftRejectsMalformedID(t *testing.T) {
	rr := do(t, newTestRouter(&stubShiftService{}), http.MethodGet, "/shifts/not-a-uuid", "", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAddStockForwardsQuantity(t *testing.T) {
	var qty decimal.Decimal
	svc := &stubShiftService{stockFn: func(_ context.Context, _ uuid.UUID, productID string, q decimal.Decimal, actor string) (shift.Shift, error) {
		require.Equal(t, "OIL1L", productID)
		require.Equal(t, "supervisor", actor)
		qty = q
		return shift.Shift{}, nil
	}}
	rr := do(t, newTestRouter(svc), http.MethodPost, "/shifts/"+uuid.NewString()+"/stock", `{"product_id":"OIL1L","quantity":"20"}`, "supervisor")
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, qty.Equal(decimal.NewFromInt(20)))
}
