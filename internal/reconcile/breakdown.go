package reconcile

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// PumperBreakdown is the per-attendant reconciliation result.
type PumperBreakdown struct {
	Attendant       string          `json:"attendant"`
	Nozzles         []NozzleSales   `json:"nozzles"`
	Products        []ProductSales  `json:"products"`
	MeterSales      decimal.Decimal `json:"meter_sales"`
	ShopSales       decimal.Decimal `json:"shop_sales"`
	CalculatedSales decimal.Decimal `json:"calculated_sales"`
	Tender          TenderSummary   `json:"tender"`
	DeclaredAmount  decimal.Decimal `json:"declared_amount"`
	Variance        decimal.Decimal `json:"variance"`
	Classification  Classification  `json:"classification"`
	Estimated       bool            `json:"estimated,omitempty"`
}

// Classify maps a variance (calculated minus declared) onto a payroll classification.
// The tolerance boundary is inclusive.
func Classify(variance, tolerance decimal.Decimal) Classification {
	if tolerance.IsNegative() {
		tolerance = tolerance.Neg()
	}
	switch {
	case variance.Abs().LessThanOrEqual(tolerance):
		return ClassificationNormal
	case variance.IsPositive():
		return ClassificationDeductFromSalary
	default:
		return ClassificationAddToSalary
	}
}

// ComputeBreakdowns groups meter, shop and tender data by attendant and returns one
// breakdown per attendant sorted by name. The result depends only on its inputs.
func ComputeBreakdowns(assignments []Assignment, shopLines []ShopStockLine, declarations []TenderDeclaration, prices PriceBook, policy Policy) ([]PumperBreakdown, error) {
	type bucket struct {
		assignments []Assignment
		shopLines   []ShopStockLine
		declaration *TenderDeclaration
	}
	buckets := make(map[string]*bucket)
	get := func(name string) *bucket {
		key := NormalizeAttendant(name)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{}
			buckets[key] = b
		}
		return b
	}

	for _, a := range assignments {
		b := get(a.Attendant)
		b.assignments = append(b.assignments, a)
	}
	for _, line := range shopLines {
		b := get(line.Attendant)
		b.shopLines = append(b.shopLines, line)
	}
	for i := range declarations {
		decl := declarations[i]
		b := get(decl.Attendant)
		if b.declaration != nil {
			return nil, &InvalidDeclarationError{
				Attendant: decl.Attendant,
				Problems:  []string{fmt.Sprintf("attendant duplicated declaration for %s", NormalizeAttendant(decl.Attendant))},
			}
		}
		b.declaration = &decl
	}

	names := make([]string, 0, len(buckets))
	for name := range buckets {
		names = append(names, name)
	}
	sort.Strings(names)

	// Collect every missing price across attendants before failing.
	var missing *MissingPriceError
	out := make([]PumperBreakdown, 0, len(names))
	for _, name := range names {
		b := buckets[name]
		nozzles, meterTotal, err := MeterSales(b.assignments, prices, policy)
		if err != nil {
			mp, ok := err.(*MissingPriceError)
			if !ok {
				return nil, err
			}
			if missing == nil {
				missing = &MissingPriceError{}
			}
			for i := range mp.Nozzles {
				missing.Nozzles = appendUnique(missing.Nozzles, mp.Nozzles[i])
			}
			for i := range mp.FuelTypes {
				missing.FuelTypes = appendUnique(missing.FuelTypes, mp.FuelTypes[i])
			}
			continue
		}
		products, shopTotal := ShopSales(b.shopLines)

		tender := emptySummary()
		if b.declaration != nil {
			tender, err = Aggregate(*b.declaration)
			if err != nil {
				return nil, err
			}
		}

		calculated := round2(meterTotal.Add(shopTotal))
		declared := round2(tender.Total)
		variance := calculated.Sub(declared)
		estimated := false
		for _, n := range nozzles {
			if n.Estimated {
				estimated = true
				break
			}
		}
		out = append(out, PumperBreakdown{
			Attendant:       name,
			Nozzles:         nozzles,
			Products:        products,
			MeterSales:      round2(meterTotal),
			ShopSales:       round2(shopTotal),
			CalculatedSales: calculated,
			Tender:          tender,
			DeclaredAmount:  declared,
			Variance:        variance,
			Classification:  Classify(variance, policy.tolerance()),
			Estimated:       estimated,
		})
	}
	if missing != nil {
		return nil, missing
	}
	return out, nil
}
