package reconcile

import (
	"sort"

	"github.com/shopspring/decimal"
)

// NozzleSales is the meter-derived revenue of one nozzle.
type NozzleSales struct {
	NozzleID   string          `json:"nozzle_id"`
	FuelTypeID string          `json:"fuel_type_id"`
	Liters     decimal.Decimal `json:"liters"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Revenue    decimal.Decimal `json:"revenue"`
	Estimated  bool            `json:"estimated,omitempty"`
}

// LitersSold returns the clamped meter delta. Regressed or rolled-over readings count as zero,
// and an assignment without an end reading has sold nothing yet.
func LitersSold(a Assignment) decimal.Decimal {
	if a.EndReading == nil {
		return decimal.Zero
	}
	return clampZero(a.EndReading.Sub(a.StartReading))
}

// MeterSales prices every assignment and returns the per-nozzle lines with their total.
// All nozzles with unresolved prices are reported together.
func MeterSales(assignments []Assignment, prices PriceBook, policy Policy) ([]NozzleSales, decimal.Decimal, error) {
	lines := make([]NozzleSales, 0, len(assignments))
	total := decimal.Zero
	var missing *MissingPriceError
	for _, a := range assignments {
		price, ok := prices[a.FuelTypeID]
		estimated := false
		if !ok {
			if policy.FallbackPrice == nil {
				if missing == nil {
					missing = &MissingPriceError{}
				}
				missing.add(a.NozzleID, a.FuelTypeID)
				continue
			}
			price = *policy.FallbackPrice
			estimated = true
		}
		liters := LitersSold(a)
		revenue := round2(liters.Mul(price))
		lines = append(lines, NozzleSales{
			NozzleID:   a.NozzleID,
			FuelTypeID: a.FuelTypeID,
			Liters:     liters,
			UnitPrice:  price,
			Revenue:    revenue,
			Estimated:  estimated,
		})
		total = total.Add(revenue)
	}
	if missing != nil {
		return nil, decimal.Zero, missing
	}
	sort.Slice(lines, func(i, j int) bool {
		return lines[i].NozzleID < lines[j].NozzleID
	})
	return lines, total, nil
}
