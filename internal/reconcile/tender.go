package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// TenderSummary aggregates one declaration by tender type.
type TenderSummary struct {
	Cash             decimal.Decimal            `json:"cash"`
	Card             decimal.Decimal            `json:"card"`
	Credit           decimal.Decimal            `json:"credit"`
	Cheque           decimal.Decimal            `json:"cheque"`
	Total            decimal.Decimal            `json:"total"`
	CardByTerminal   map[string]decimal.Decimal `json:"card_by_terminal"`
	CreditByCustomer map[string]decimal.Decimal `json:"credit_by_customer"`
}

// Validate rejects negative amounts and unidentified slips, allocations or cheques.
func (d TenderDeclaration) Validate() error {
	var problems []string
	if NormalizeAttendant(d.Attendant) == "" {
		problems = append(problems, "attendant required")
	}
	if d.Cash.IsNegative() {
		problems = append(problems, "cash must not be negative")
	}
	for i, slip := range d.POSSlips {
		if strings.TrimSpace(slip.TerminalID) == "" {
			problems = append(problems, fmt.Sprintf("pos_slips[%d].terminal_id required", i))
		}
		if slip.Amount.IsNegative() {
			problems = append(problems, fmt.Sprintf("pos_slips[%d].amount must not be negative", i))
		}
	}
	customers := make([]string, 0, len(d.Credit))
	for customer := range d.Credit {
		customers = append(customers, customer)
	}
	sort.Strings(customers)
	for _, customer := range customers {
		if strings.TrimSpace(customer) == "" {
			problems = append(problems, "credit.customer_id required")
			continue
		}
		if d.Credit[customer].IsNegative() {
			problems = append(problems, fmt.Sprintf("credit[%s] must not be negative", customer))
		}
	}
	for i, cheque := range d.Cheques {
		if strings.TrimSpace(cheque.Number) == "" {
			problems = append(problems, fmt.Sprintf("cheques[%d].number required", i))
		}
		if strings.TrimSpace(cheque.Bank) == "" {
			problems = append(problems, fmt.Sprintf("cheques[%d].bank required", i))
		}
		if cheque.Amount.IsNegative() {
			problems = append(problems, fmt.Sprintf("cheques[%d].amount must not be negative", i))
		}
	}
	if len(problems) > 0 {
		return &InvalidDeclarationError{Attendant: d.Attendant, Problems: problems}
	}
	return nil
}

// Aggregate sums the declared tenders.
func Aggregate(d TenderDeclaration) (TenderSummary, error) {
	if err := d.Validate(); err != nil {
		return TenderSummary{}, err
	}
	summary := TenderSummary{
		Cash:             round2(d.Cash),
		CardByTerminal:   make(map[string]decimal.Decimal),
		CreditByCustomer: make(map[string]decimal.Decimal),
	}
	for _, slip := range d.POSSlips {
		amount := round2(slip.Amount)
		summary.Card = summary.Card.Add(amount)
		summary.CardByTerminal[slip.TerminalID] = summary.CardByTerminal[slip.TerminalID].Add(amount)
	}
	for customer, amount := range d.Credit {
		amount = round2(amount)
		summary.Credit = summary.Credit.Add(amount)
		summary.CreditByCustomer[customer] = summary.CreditByCustomer[customer].Add(amount)
	}
	for _, cheque := range d.Cheques {
		summary.Cheque = summary.Cheque.Add(round2(cheque.Amount))
	}
	summary.Total = summary.Cash.Add(summary.Card).Add(summary.Credit).Add(summary.Cheque)
	return summary, nil
}

func emptySummary() TenderSummary {
	return TenderSummary{
		CardByTerminal:   map[string]decimal.Decimal{},
		CreditByCustomer: map[string]decimal.Decimal{},
	}
}
