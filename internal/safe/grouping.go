package safe

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ClosureSummary is the authoritative tender breakdown recorded when a shift closed.
type ClosureSummary struct {
	ShiftID    uuid.UUID       `json:"shift_id"`
	StationID  int64           `json:"station_id"`
	ClosedAt   time.Time       `json:"closed_at"`
	Attendants []string        `json:"attendants"`
	Breakdown  TenderBreakdown `json:"breakdown"`
}

// TenderBreakdown totals a shift's collections by tender.
type TenderBreakdown struct {
	Cash   decimal.Decimal `json:"cash"`
	Card   decimal.Decimal `json:"card"`
	Credit decimal.Decimal `json:"credit"`
	Cheque decimal.Decimal `json:"cheque"`
	Total  decimal.Decimal `json:"total"`
}

// ItemKind distinguishes plain entries from grouped closures.
type ItemKind string

const (
	ItemTransaction  ItemKind = "transaction"
	ItemShiftClosure ItemKind = "shift_closure"
)

// ShiftClosureGroup collapses the ledger entries a shift closure produced.
type ShiftClosureGroup struct {
	ShiftID       uuid.UUID         `json:"shift_id"`
	Timestamp     time.Time         `json:"timestamp"`
	Attendants    []string          `json:"attendants"`
	Breakdown     TenderBreakdown   `json:"breakdown"`
	Authoritative bool              `json:"authoritative"`
	Label         string            `json:"label"`
	Transactions  []SafeTransaction `json:"transactions"`
}

// LedgerItem is one row of the presented ledger.
type LedgerItem struct {
	Kind        ItemKind           `json:"kind"`
	Timestamp   time.Time          `json:"timestamp"`
	Transaction *SafeTransaction   `json:"transaction,omitempty"`
	Group       *ShiftClosureGroup `json:"group,omitempty"`
}

func (i LedgerItem) sortKey() string {
	if i.Group != nil {
		return "g:" + i.Group.ShiftID.String()
	}
	return "t:" + i.Transaction.ID.String()
}

var labelPrinter = message.NewPrinter(language.English)

// GroupTransactions groups shift-linked entries into one item per shift and passes
// everything else through. Items are ordered newest first; the order does not depend on input order.
func GroupTransactions(txns []SafeTransaction, closures map[uuid.UUID]ClosureSummary) []LedgerItem {
	groups := make(map[uuid.UUID]*ShiftClosureGroup)
	items := make([]LedgerItem, 0, len(txns))
	for i := range txns {
		txn := txns[i]
		if txn.Links.ShiftID == nil {
			items = append(items, LedgerItem{Kind: ItemTransaction, Timestamp: txn.Timestamp, Transaction: &txn})
			continue
		}
		g, ok := groups[*txn.Links.ShiftID]
		if !ok {
			g = &ShiftClosureGroup{ShiftID: *txn.Links.ShiftID}
			groups[g.ShiftID] = g
		}
		g.Transactions = append(g.Transactions, txn)
		if txn.Timestamp.After(g.Timestamp) {
			g.Timestamp = txn.Timestamp
		}
	}

	for id, g := range groups {
		sort.Slice(g.Transactions, func(i, j int) bool {
			a, b := g.Transactions[i], g.Transactions[j]
			if a.Seq != b.Seq {
				return a.Seq < b.Seq
			}
			return a.ID.String() < b.ID.String()
		})
		if summary, ok := closures[id]; ok {
			g.Breakdown = summary.Breakdown
			g.Attendants = normalizeAttendants(summary.Attendants)
			g.Authoritative = true
		} else {
			g.Breakdown = deriveBreakdown(g.Transactions)
		}
		g.Label = closureLabel(g)
		items = append(items, LedgerItem{Kind: ItemShiftClosure, Timestamp: g.Timestamp, Group: g})
	}

	sort.Slice(items, func(i, j int) bool {
		if !items[i].Timestamp.Equal(items[j].Timestamp) {
			return items[i].Timestamp.After(items[j].Timestamp)
		}
		return items[i].sortKey() < items[j].sortKey()
	})
	return items
}

func deriveBreakdown(txns []SafeTransaction) TenderBreakdown {
	var b TenderBreakdown
	for _, txn := range txns {
		switch txn.Type {
		case TypeShiftCash:
			b.Cash = b.Cash.Add(txn.Amount)
		case TypeShiftCard:
			b.Card = b.Card.Add(txn.Amount)
		case TypeShiftCheque:
			b.Cheque = b.Cheque.Add(txn.Amount)
		}
	}
	b.Total = b.Cash.Add(b.Card).Add(b.Credit).Add(b.Cheque)
	return b
}

func normalizeAttendants(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func closureLabel(g *ShiftClosureGroup) string {
	short := g.ShiftID.String()[:8]
	total, _ := g.Breakdown.Total.Float64()
	if len(g.Attendants) == 0 {
		return labelPrinter.Sprintf("Shift %s closure: %.2f", short, total)
	}
	return labelPrinter.Sprintf("Shift %s closure (%s): %.2f", short, strings.Join(g.Attendants, ", "), total)
}
