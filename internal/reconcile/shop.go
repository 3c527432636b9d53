package reconcile

import (
	"sort"

	"github.com/shopspring/decimal"
)

// ProductSales is the stock-derived revenue of one shop product.
type ProductSales struct {
	ProductID string          `json:"product_id"`
	Sold      decimal.Decimal `json:"sold"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Revenue   decimal.Decimal `json:"revenue"`
}

// QuantitySold returns max(0, opening+added-closing). A line without a closing count has sold nothing yet.
func QuantitySold(line ShopStockLine) decimal.Decimal {
	if line.Closing == nil {
		return decimal.Zero
	}
	return clampZero(line.Opening.Add(line.Added).Sub(*line.Closing))
}

// ShopSales prices each stock line. Attendants without shop lines contribute zero.
func ShopSales(lines []ShopStockLine) ([]ProductSales, decimal.Decimal) {
	out := make([]ProductSales, 0, len(lines))
	total := decimal.Zero
	for _, line := range lines {
		sold := QuantitySold(line)
		revenue := round2(sold.Mul(line.UnitPrice))
		out = append(out, ProductSales{
			ProductID: line.ProductID,
			Sold:      sold,
			UnitPrice: line.UnitPrice,
			Revenue:   revenue,
		})
		total = total.Add(revenue)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ProductID < out[j].ProductID
	})
	return out, total
}
