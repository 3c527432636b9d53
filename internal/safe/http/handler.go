package safehttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fuelops/stationledger/internal/platform/httpx"
	"github.com/fuelops/stationledger/internal/safe"
	"github.com/fuelops/stationledger/internal/shared"
)

const idempotencyModule = "safe"

type ledgerService interface {
	Post(ctx context.Context, in safe.PostInput) (safe.SafeTransaction, error)
	GetSafe(ctx context.Context, stationID int64) (safe.Safe, error)
	SetOpeningBalance(ctx context.Context, stationID int64, target decimal.Decimal, performer string, at time.Time) (safe.SafeTransaction, error)
	ListGroupedTransactions(ctx context.Context, stationID int64, filter safe.ListFilter) (safe.LedgerPage, error)
	Reverse(ctx context.Context, stationID int64, txID uuid.UUID, performer, reason string) (safe.SafeTransaction, error)
	VerifyChain(ctx context.Context, stationID int64) (safe.ChainReport, error)
}

type idempotencyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// manualTypes are the entries an operator may post directly. Shift tenders come from
// closure, corrections from reversal and opening balances from their own endpoint.
var manualTypes = map[safe.TransactionType]bool{
	safe.TypeCashIn:             true,
	safe.TypeLoanRepayment:      true,
	safe.TypeBankDeposit:        true,
	safe.TypePOSBatchSettlement: true,
	safe.TypeChequeDeposit:      true,
	safe.TypeLoanIssued:         true,
	safe.TypeExpensePayment:     true,
}

// Handler wires the safe ledger JSON API.
type Handler struct {
	logger      *slog.Logger
	service     ledgerService
	idempotency idempotencyStore
	validator   *validator.Validate
}

// NewHandler constructs a Handler instance. idem may be nil to disable idempotency keys.
func NewHandler(logger *slog.Logger, service ledgerService, idem idempotencyStore) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, idempotency: idem, validator: validator.New()}
}

// MountRoutes registers safe routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/stations/{stationID}/safe", func(r chi.Router) {
		r.Get("/", h.getSafe)
		r.Get("/balance", h.getSafe)
		r.Get("/ledger", h.listLedger)
		r.Post("/transactions", h.postTransaction)
		r.Post("/transactions/{txID}/reverse", h.reverse)
		r.Post("/opening-balance", h.setOpeningBalance)
		r.Post("/verify", h.verify)
	})
}

type postRequest struct {
	Type   safe.TransactionType `json:"type" validate:"required"`
	Amount decimal.Decimal      `json:"amount"`
	Links  safe.Links           `json:"links"`
	Note   string               `json:"note" validate:"max=500"`
}

type openingBalanceRequest struct {
	Amount decimal.Decimal `json:"amount"`
	At     time.Time       `json:"at"`
}

type reverseRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (h *Handler) getSafe(w http.ResponseWriter, r *http.Request) {
	stationID, ok := stationParam(w, r)
	if !ok {
		return
	}
	head, err := h.service.GetSafe(r.Context(), stationID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, head)
}

func (h *Handler) listLedger(w http.ResponseWriter, r *http.Request) {
	stationID, ok := stationParam(w, r)
	if !ok {
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, err := h.service.ListGroupedTransactions(r.Context(), stationID, filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) postTransaction(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	stationID, ok := stationParam(w, r)
	if !ok {
		return
	}
	var req postRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !manualTypes[req.Type] {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity",
			fmt.Sprintf("type %s cannot be posted directly", req.Type), "type")
		return
	}
	h.idempotent(w, r, func() (any, error) {
		return h.service.Post(r.Context(), safe.PostInput{
			StationID: stationID,
			Type:      req.Type,
			Amount:    req.Amount,
			Performer: actor,
			Links:     req.Links,
			Note:      strings.TrimSpace(req.Note),
		})
	})
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	stationID, ok := stationParam(w, r)
	if !ok {
		return
	}
	txID, err := uuid.Parse(chi.URLParam(r, "txID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid transaction id", "txID")
		return
	}
	var req reverseRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.idempotent(w, r, func() (any, error) {
		return h.service.Reverse(r.Context(), stationID, txID, actor, req.Reason)
	})
}

func (h *Handler) setOpeningBalance(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	stationID, ok := stationParam(w, r)
	if !ok {
		return
	}
	var req openingBalanceRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.idempotent(w, r, func() (any, error) {
		return h.service.SetOpeningBalance(r.Context(), stationID, req.Amount, actor, req.At)
	})
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	stationID, ok := stationParam(w, r)
	if !ok {
		return
	}
	report, err := h.service.VerifyChain(r.Context(), stationID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

// idempotent runs post once per Idempotency-Key header. A failed post releases the key.
func (h *Handler) idempotent(w http.ResponseWriter, r *http.Request, post func() (any, error)) {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), key, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
				return
			}
			h.writeError(w, r, err)
			return
		}
	}
	out, err := post()
	if err != nil {
		if key != "" && h.idempotency != nil {
			if derr := h.idempotency.Delete(r.Context(), key, idempotencyModule); derr != nil {
				h.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", derr))
			}
		}
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, out)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := shared.ActorFromContext(r.Context())
	if actor == "" {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", shared.ErrActorRequired.Error())
		return "", false
	}
	return actor, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func stationParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "stationID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid station id", "stationID")
		return 0, false
	}
	return id, true
}

func parseFilter(r *http.Request) (safe.ListFilter, error) {
	q := r.URL.Query()
	var filter safe.ListFilter
	var err error
	if v := q.Get("from"); v != "" {
		if filter.From, err = time.Parse(time.RFC3339, v); err != nil {
			return filter, fmt.Errorf("%w: from must be RFC3339", httpx.ErrValidation)
		}
	}
	if v := q.Get("to"); v != "" {
		if filter.To, err = time.Parse(time.RFC3339, v); err != nil {
			return filter, fmt.Errorf("%w: to must be RFC3339", httpx.ErrValidation)
		}
	}
	for _, raw := range q["type"] {
		for _, part := range strings.Split(raw, ",") {
			t := safe.TransactionType(strings.ToUpper(strings.TrimSpace(part)))
			if t == "" {
				continue
			}
			if !t.Valid() {
				return filter, fmt.Errorf("%w: unknown type %s", httpx.ErrValidation, t)
			}
			filter.Types = append(filter.Types, t)
		}
	}
	if v := q.Get("page"); v != "" {
		if filter.Page, err = strconv.Atoi(v); err != nil {
			return filter, fmt.Errorf("%w: page must be a number", httpx.ErrValidation)
		}
	}
	if v := q.Get("per_page"); v != "" {
		if filter.PerPage, err = strconv.Atoi(v); err != nil {
			return filter, fmt.Errorf("%w: per_page must be a number", httpx.ErrValidation)
		}
	}
	return filter, nil
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		insufficient *safe.InsufficientBalanceError
		violation    *safe.LedgerChainViolationError
	)
	switch {
	case errors.Is(err, safe.ErrTransactionNotFound), errors.Is(err, safe.ErrSafeNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &violation), errors.Is(err, safe.ErrSafeHalted):
		httpx.Problem(w, http.StatusLocked, "Safe Halted", err.Error())
	case errors.Is(err, safe.ErrLockTimeout):
		httpx.Problem(w, http.StatusServiceUnavailable, "Safe Busy", err.Error())
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Balance", err.Error(), "amount")
	case errors.Is(err, safe.ErrNotReversible):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, safe.ErrInvalidPosting):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", err.Error())
	default:
		h.logger.Error("safe request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
