package safe

import (
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"
)

// normalizeTimestamp truncates to the precision the store keeps so hashes survive a round trip.
func normalizeTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// ChainHash links an entry to its predecessor.
func ChainHash(prev string, txn SafeTransaction) string {
	h, _ := blake2b.New256(nil)
	writeField(h, prev)
	writeField(h, txn.ID.String())
	writeField(h, fmt.Sprint(txn.StationID))
	writeField(h, fmt.Sprint(txn.Seq))
	writeField(h, string(txn.Type))
	writeField(h, txn.Amount.StringFixed(2))
	writeField(h, txn.BalanceBefore.StringFixed(2))
	writeField(h, txn.BalanceAfter.StringFixed(2))
	writeField(h, fmt.Sprint(normalizeTimestamp(txn.Timestamp).UnixMicro()))
	writeField(h, txn.Performer)
	if txn.Links.ShiftID != nil {
		writeField(h, "shift="+txn.Links.ShiftID.String())
	}
	writeField(h, "batch="+txn.Links.BatchID)
	writeField(h, "cheque="+txn.Links.ChequeID)
	writeField(h, "loan="+txn.Links.LoanID)
	if txn.Links.CorrectsID != nil {
		writeField(h, "corrects="+txn.Links.CorrectsID.String())
	}
	writeField(h, txn.Note)
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(w io.Writer, v string) {
	fmt.Fprintf(w, "%d:%s|", len(v), v)
}

// VerifyEntries checks that entries ordered by seq form an unbroken chain from an empty safe.
// It returns the final balance and head hash.
func VerifyEntries(stationID int64, entries []SafeTransaction) (decimal.Decimal, string, error) {
	balance := decimal.Zero
	prev := ""
	var prevAt time.Time
	for i, txn := range entries {
		expectedSeq := int64(i + 1)
		violation := func(format string, args ...any) error {
			return &LedgerChainViolationError{StationID: stationID, Seq: txn.Seq, Reason: fmt.Sprintf(format, args...)}
		}
		if txn.StationID != stationID {
			return balance, prev, violation("entry belongs to station %d", txn.StationID)
		}
		if txn.Seq != expectedSeq {
			return balance, prev, violation("expected seq %d", expectedSeq)
		}
		if !txn.BalanceBefore.Equal(balance) {
			return balance, prev, violation("balance before %s does not continue %s", txn.BalanceBefore.StringFixed(2), balance.StringFixed(2))
		}
		after := txn.BalanceBefore.Add(txn.Type.Effect(txn.Amount))
		if !txn.BalanceAfter.Equal(after) {
			return balance, prev, violation("balance after %s does not match %s", txn.BalanceAfter.StringFixed(2), after.StringFixed(2))
		}
		if i > 0 && !txn.Timestamp.After(prevAt) {
			return balance, prev, violation("timestamp not after previous entry")
		}
		if txn.PrevHash != prev {
			return balance, prev, violation("previous hash mismatch")
		}
		if ChainHash(prev, txn) != txn.Hash {
			return balance, prev, violation("hash mismatch")
		}
		balance = txn.BalanceAfter
		prev = txn.Hash
		prevAt = txn.Timestamp
	}
	return balance, prev, nil
}
