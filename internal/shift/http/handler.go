package shifthttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fuelops/stationledger/internal/masterdata"
	"github.com/fuelops/stationledger/internal/platform/httpx"
	"github.com/fuelops/stationledger/internal/reconcile"
	"github.com/fuelops/stationledger/internal/safe"
	"github.com/fuelops/stationledger/internal/shared"
	"github.com/fuelops/stationledger/internal/shift"
)

type shiftService interface {
	OpenShift(ctx context.Context, in shift.OpenInput) (shift.Shift, error)
	GetShift(ctx context.Context, id uuid.UUID) (shift.Shift, error)
	AddShopStock(ctx context.Context, shiftID uuid.UUID, productID string, qty decimal.Decimal, actor string) (shift.Shift, error)
	SaveDeclaration(ctx context.Context, shiftID uuid.UUID, decl reconcile.TenderDeclaration, actor string) (shift.Shift, error)
	Readiness(ctx context.Context, shiftID uuid.UUID, counts shift.Counts) (shift.Readiness, error)
	Preview(ctx context.Context, shiftID uuid.UUID, in shift.PreviewInput) ([]reconcile.PumperBreakdown, error)
	CloseShift(ctx context.Context, shiftID uuid.UUID, in shift.CloseInput) (shift.CloseResult, error)
}

// Handler wires the shift JSON API.
type Handler struct {
	logger    *slog.Logger
	service   shiftService
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service shiftService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers shift routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/shifts", func(r chi.Router) {
		r.Post("/", h.openShift)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getShift)
			r.Post("/stock", h.addStock)
			r.Put("/declarations", h.saveDeclaration)
			r.Post("/readiness", h.readiness)
			r.Post("/preview", h.preview)
			r.Post("/close", h.closeShift)
		})
	})
}

type stockRequest struct {
	ProductID string          `json:"product_id" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type previewResponse struct {
	Breakdowns []reconcile.PumperBreakdown `json:"breakdowns"`
}

func (h *Handler) openShift(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var in shift.OpenInput
	if !h.decode(w, r, &in) {
		return
	}
	in.OpenedBy = actor
	sh, err := h.service.OpenShift(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sh)
}

func (h *Handler) getShift(w http.ResponseWriter, r *http.Request) {
	id, ok := shiftID(w, r)
	if !ok {
		return
	}
	sh, err := h.service.GetShift(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sh)
}

func (h *Handler) addStock(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := shiftID(w, r)
	if !ok {
		return
	}
	var req stockRequest
	if !h.decode(w, r, &req) {
		return
	}
	sh, err := h.service.AddShopStock(r.Context(), id, req.ProductID, req.Quantity, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sh)
}

func (h *Handler) saveDeclaration(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := shiftID(w, r)
	if !ok {
		return
	}
	var decl reconcile.TenderDeclaration
	if !h.decode(w, r, &decl) {
		return
	}
	sh, err := h.service.SaveDeclaration(r.Context(), id, decl, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sh)
}

func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	id, ok := shiftID(w, r)
	if !ok {
		return
	}
	var counts shift.Counts
	if !h.decode(w, r, &counts) {
		return
	}
	res, err := h.service.Readiness(r.Context(), id, counts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	id, ok := shiftID(w, r)
	if !ok {
		return
	}
	var in shift.PreviewInput
	if !h.decode(w, r, &in) {
		return
	}
	rows, err := h.service.Preview(r.Context(), id, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, previewResponse{Breakdowns: rows})
}

func (h *Handler) closeShift(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := shiftID(w, r)
	if !ok {
		return
	}
	var in shift.CloseInput
	if !h.decode(w, r, &in) {
		return
	}
	in.ClosedBy = actor
	res, err := h.service.CloseShift(r.Context(), id, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
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

func shiftID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid shift id", "id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		closed     *shift.AlreadyClosedError
		incomplete *shift.IncompleteClosureError
		missing    *reconcile.MissingPriceError
		invalid    *reconcile.InvalidDeclarationError
	)
	switch {
	case errors.Is(err, shift.ErrShiftNotFound), errors.Is(err, masterdata.ErrStationNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &closed), errors.Is(err, shift.ErrShiftAlreadyOpen):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, safe.ErrSafeHalted):
		httpx.Problem(w, http.StatusLocked, "Safe Halted", err.Error())
	case errors.Is(err, safe.ErrLockTimeout):
		httpx.Problem(w, http.StatusServiceUnavailable, "Safe Busy", err.Error())
	case errors.As(err, &incomplete):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Incomplete Closure", err.Error(), incomplete.Fields()...)
	case errors.As(err, &missing):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Missing Price", err.Error(), missing.Fields()...)
	case errors.As(err, &invalid):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Declaration", err.Error(), invalid.Fields()...)
	case errors.Is(err, shift.ErrInvalidInput),
		errors.Is(err, shift.ErrUnknownNozzle),
		errors.Is(err, shift.ErrUnknownProduct),
		errors.Is(err, shift.ErrUnknownAttendant),
		errors.Is(err, shift.ErrUnknownTerminal),
		errors.Is(err, shift.ErrUnknownBank),
		errors.Is(err, safe.ErrInvalidPosting):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", err.Error())
	default:
		h.logger.Error("shift request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
