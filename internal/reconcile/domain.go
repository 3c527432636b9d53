package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Classification labels the payroll consequence of a variance.
type Classification string

const (
	// ClassificationNormal means the variance is within tolerance.
	ClassificationNormal Classification = "NORMAL"
	// ClassificationDeductFromSalary means calculated sales exceed the declared amount.
	ClassificationDeductFromSalary Classification = "DEDUCT_FROM_SALARY"
	// ClassificationAddToSalary means the attendant declared more than was calculated.
	ClassificationAddToSalary Classification = "ADD_TO_SALARY"
)

// DefaultTolerance is the reference variance tolerance in currency units.
var DefaultTolerance = decimal.NewFromInt(50)

// Assignment is one attendant's responsibility for one nozzle during a shift.
type Assignment struct {
	NozzleID     string           `json:"nozzle_id"`
	Attendant    string           `json:"attendant"`
	FuelTypeID   string           `json:"fuel_type_id"`
	StartReading decimal.Decimal  `json:"start_reading"`
	EndReading   *decimal.Decimal `json:"end_reading,omitempty"`
}

// ShopStockLine is one product's stock accountability for a shift.
type ShopStockLine struct {
	ProductID string           `json:"product_id"`
	Attendant string           `json:"attendant"`
	Opening   decimal.Decimal  `json:"opening"`
	Added     decimal.Decimal  `json:"added"`
	Closing   *decimal.Decimal `json:"closing,omitempty"`
	UnitPrice decimal.Decimal  `json:"unit_price"`
}

// POSSlip is a card payment slip printed by a POS terminal.
type POSSlip struct {
	TerminalID string          `json:"terminal_id"`
	Amount     decimal.Decimal `json:"amount"`
}

// Cheque is a cheque accepted by an attendant.
type Cheque struct {
	Number string          `json:"number"`
	Bank   string          `json:"bank"`
	Amount decimal.Decimal `json:"amount"`
}

// TenderDeclaration is the attendant's self-reported collections for a shift.
type TenderDeclaration struct {
	Attendant string                     `json:"attendant"`
	Cash      decimal.Decimal            `json:"cash"`
	POSSlips  []POSSlip                  `json:"pos_slips,omitempty"`
	Credit    map[string]decimal.Decimal `json:"credit,omitempty"`
	Cheques   []Cheque                   `json:"cheques,omitempty"`
}

// PriceBook maps a fuel type to its active unit price.
type PriceBook map[string]decimal.Decimal

// Policy tunes classification and price resolution.
type Policy struct {
	Tolerance decimal.Decimal
	// FallbackPrice is an opt-in estimate for fuels without an active price.
	// Breakdowns computed with it are flagged Estimated.
	FallbackPrice *decimal.Decimal
}

// DefaultPolicy returns the strict reference policy.
func DefaultPolicy() Policy {
	return Policy{Tolerance: DefaultTolerance}
}

// Strict returns a copy of the policy without the fallback price.
func (p Policy) Strict() Policy {
	p.FallbackPrice = nil
	return p
}

func (p Policy) tolerance() decimal.Decimal {
	if p.Tolerance.IsNegative() {
		return p.Tolerance.Neg()
	}
	return p.Tolerance
}

// MissingPriceError reports nozzles whose fuel has no active price.
type MissingPriceError struct {
	Nozzles   []string
	FuelTypes []string
}

func (e *MissingPriceError) Error() string {
	return fmt.Sprintf("reconcile: no active price for fuel %s (nozzles %s)",
		strings.Join(e.FuelTypes, ", "), strings.Join(e.Nozzles, ", "))
}

// Fields lists the offending nozzle identifiers.
func (e *MissingPriceError) Fields() []string {
	out := make([]string, 0, len(e.Nozzles))
	for _, n := range e.Nozzles {
		out = append(out, "nozzle:"+n)
	}
	return out
}

func (e *MissingPriceError) add(nozzleID, fuelTypeID string) {
	e.Nozzles = appendUnique(e.Nozzles, nozzleID)
	e.FuelTypes = appendUnique(e.FuelTypes, fuelTypeID)
}

// InvalidDeclarationError reports negative or malformed tender input.
type InvalidDeclarationError struct {
	Attendant string
	Problems  []string
}

func (e *InvalidDeclarationError) Error() string {
	who := e.Attendant
	if who == "" {
		who = "<unnamed>"
	}
	return fmt.Sprintf("reconcile: invalid declaration for %s: %s", who, strings.Join(e.Problems, "; "))
}

// Fields lists the invalid field paths.
func (e *InvalidDeclarationError) Fields() []string {
	out := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		field, _, _ := strings.Cut(p, " ")
		out = append(out, field)
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	list = append(list, v)
	sort.Strings(list)
	return list
}

func clampZero(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

func round2(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

// NormalizeAttendant trims the attendant name used as grouping key.
func NormalizeAttendant(name string) string {
	return strings.TrimSpace(name)
}
