package shift

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fuelops/stationledger/internal/reconcile"
	"github.com/fuelops/stationledger/internal/safe"
)

// Status enumerates shift lifecycle stages.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// Shift is one working period of a station.
type Shift struct {
	ID           uuid.UUID                     `json:"id"`
	StationID    int64                         `json:"station_id"`
	Status       Status                        `json:"status"`
	StartedAt    time.Time                     `json:"started_at"`
	EndedAt      *time.Time                    `json:"ended_at,omitempty"`
	OpenedBy     string                        `json:"opened_by"`
	ClosedBy     string                        `json:"closed_by,omitempty"`
	Assignments  []reconcile.Assignment        `json:"assignments"`
	ShopLines    []reconcile.ShopStockLine     `json:"shop_lines"`
	Declarations []reconcile.TenderDeclaration `json:"declarations"`
	Breakdowns   []reconcile.PumperBreakdown   `json:"breakdowns,omitempty"`
	Closure      *safe.ClosureSummary          `json:"closure,omitempty"`
	CreatedAt    time.Time                     `json:"created_at"`
	UpdatedAt    time.Time                     `json:"updated_at"`
}

// AssignmentInput assigns a nozzle to an attendant when a shift opens.
type AssignmentInput struct {
	NozzleID     string          `json:"nozzle_id" validate:"required"`
	Attendant    string          `json:"attendant" validate:"required"`
	StartReading decimal.Decimal `json:"start_reading"`
}

// ShopLineInput records opening stock of a product for an attendant.
type ShopLineInput struct {
	ProductID string          `json:"product_id" validate:"required"`
	Attendant string          `json:"attendant" validate:"required"`
	Opening   decimal.Decimal `json:"opening"`
}

// OpenInput opens a shift.
type OpenInput struct {
	StationID   int64             `json:"station_id" validate:"required,gt=0"`
	StartedAt   time.Time         `json:"started_at"`
	OpenedBy    string            `json:"-"`
	Assignments []AssignmentInput `json:"assignments" validate:"required,min=1,dive"`
	ShopLines   []ShopLineInput   `json:"shop_lines" validate:"dive"`
}

// Validate checks the input for structural problems.
func (in OpenInput) Validate() error {
	if in.StationID <= 0 {
		return fmt.Errorf("%w: station id required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.OpenedBy) == "" {
		return fmt.Errorf("%w: opened by required", ErrInvalidInput)
	}
	if len(in.Assignments) == 0 {
		return fmt.Errorf("%w: at least one nozzle assignment required", ErrInvalidInput)
	}
	seen := make(map[string]bool, len(in.Assignments))
	for i, a := range in.Assignments {
		if seen[a.NozzleID] {
			return fmt.Errorf("%w: assignments[%d].nozzle_id %s assigned twice", ErrInvalidInput, i, a.NozzleID)
		}
		seen[a.NozzleID] = true
		if reconcile.NormalizeAttendant(a.Attendant) == "" {
			return fmt.Errorf("%w: assignments[%d].attendant required", ErrInvalidInput, i)
		}
		if a.StartReading.IsNegative() {
			return fmt.Errorf("%w: assignments[%d].start_reading must not be negative", ErrInvalidInput, i)
		}
	}
	products := make(map[string]bool, len(in.ShopLines))
	for i, l := range in.ShopLines {
		if products[l.ProductID] {
			return fmt.Errorf("%w: shop_lines[%d].product_id %s listed twice", ErrInvalidInput, i, l.ProductID)
		}
		products[l.ProductID] = true
		if reconcile.NormalizeAttendant(l.Attendant) == "" {
			return fmt.Errorf("%w: shop_lines[%d].attendant required", ErrInvalidInput, i)
		}
		if l.Opening.IsNegative() {
			return fmt.Errorf("%w: shop_lines[%d].opening must not be negative", ErrInvalidInput, i)
		}
	}
	return nil
}

// Counts carries end-of-shift meter readings and shop stock counts.
type Counts struct {
	EndReadings   map[string]decimal.Decimal `json:"end_readings"`
	ClosingStocks map[string]decimal.Decimal `json:"closing_stocks"`
}

// PreviewInput asks for breakdowns before the shift is closed.
type PreviewInput struct {
	Counts
	Declarations []reconcile.TenderDeclaration `json:"declarations"`
}

// CloseInput closes a shift.
type CloseInput struct {
	Counts
	EndTime      time.Time                     `json:"end_time"`
	Declarations []reconcile.TenderDeclaration `json:"declarations"`
	ClosedBy     string                        `json:"-"`
}

// Readiness reports which counts are still missing before closure.
type Readiness struct {
	Ready           bool     `json:"ready"`
	MissingNozzles  []string `json:"missing_nozzles"`
	MissingProducts []string `json:"missing_products"`
}

// CloseResult is the outcome of a successful closure.
type CloseResult struct {
	Shift         Shift                  `json:"shift"`
	LedgerEntries []safe.SafeTransaction `json:"ledger_entries"`
}

var (
	// ErrShiftNotFound indicates an unknown shift.
	ErrShiftNotFound = errors.New("shift: not found")
	// ErrShiftAlreadyOpen indicates the station already has an open shift.
	ErrShiftAlreadyOpen = errors.New("shift: station already has an open shift")
	// ErrUnknownNozzle indicates a nozzle not configured for the station.
	ErrUnknownNozzle = errors.New("shift: unknown nozzle")
	// ErrUnknownProduct indicates a product not sold at the station or not on the shift.
	ErrUnknownProduct = errors.New("shift: unknown product")
	// ErrUnknownAttendant indicates a name outside the station roster.
	ErrUnknownAttendant = errors.New("shift: unknown attendant")
	// ErrUnknownTerminal indicates a POS terminal not registered at the station.
	ErrUnknownTerminal = errors.New("shift: unknown POS terminal")
	// ErrUnknownBank indicates a cheque drawn on an unknown bank.
	ErrUnknownBank = errors.New("shift: unknown bank")
	// ErrInvalidInput indicates malformed request data.
	ErrInvalidInput = errors.New("shift: invalid input")
)

// AlreadyClosedError reports an attempt to mutate or re-close a closed shift.
type AlreadyClosedError struct {
	ShiftID  uuid.UUID
	ClosedAt *time.Time
}

func (e *AlreadyClosedError) Error() string {
	if e.ClosedAt != nil {
		return fmt.Sprintf("shift: %s already closed at %s", e.ShiftID, e.ClosedAt.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf("shift: %s already closed", e.ShiftID)
}

// IncompleteClosureError lists the readings and counts still missing.
type IncompleteClosureError struct {
	ShiftID         uuid.UUID
	MissingNozzles  []string
	MissingProducts []string
}

func (e *IncompleteClosureError) Error() string {
	var parts []string
	if len(e.MissingNozzles) > 0 {
		parts = append(parts, "end readings for nozzles "+strings.Join(e.MissingNozzles, ", "))
	}
	if len(e.MissingProducts) > 0 {
		parts = append(parts, "closing stock for products "+strings.Join(e.MissingProducts, ", "))
	}
	return fmt.Sprintf("shift: %s cannot close, missing %s", e.ShiftID, strings.Join(parts, " and "))
}

// Fields lists the missing inputs.
func (e *IncompleteClosureError) Fields() []string {
	out := make([]string, 0, len(e.MissingNozzles)+len(e.MissingProducts))
	for _, n := range e.MissingNozzles {
		out = append(out, "end_readings."+n)
	}
	for _, p := range e.MissingProducts {
		out = append(out, "closing_stocks."+p)
	}
	return out
}
