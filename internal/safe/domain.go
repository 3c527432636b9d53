package safe

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType enumerates safe ledger entry kinds.
type TransactionType string

const (
	TypeOpeningBalance     TransactionType = "OPENING_BALANCE"
	TypeCountAdjustment    TransactionType = "COUNT_ADJUSTMENT"
	TypeCorrection         TransactionType = "CORRECTION"
	TypeShiftCash          TransactionType = "SHIFT_CASH"
	TypeShiftCard          TransactionType = "SHIFT_CARD"
	TypeShiftCheque        TransactionType = "SHIFT_CHEQUE"
	TypeLoanRepayment      TransactionType = "LOAN_REPAYMENT"
	TypeCashIn             TransactionType = "CASH_IN"
	TypeBankDeposit        TransactionType = "BANK_DEPOSIT"
	TypePOSBatchSettlement TransactionType = "POS_BATCH_SETTLEMENT"
	TypeChequeDeposit      TransactionType = "CHEQUE_DEPOSIT"
	TypeLoanIssued         TransactionType = "LOAN_ISSUED"
	TypeExpensePayment     TransactionType = "EXPENSE_PAYMENT"
)

// Direction classifies how an entry moves the balance.
type Direction string

const (
	DirectionIncome  Direction = "INCOME"
	DirectionExpense Direction = "EXPENSE"
	// DirectionSigned entries carry their own sign in the amount.
	DirectionSigned Direction = "SIGNED"
)

var directions = map[TransactionType]Direction{
	TypeOpeningBalance:     DirectionSigned,
	TypeCountAdjustment:    DirectionSigned,
	TypeCorrection:         DirectionSigned,
	TypeShiftCash:          DirectionIncome,
	TypeShiftCard:          DirectionIncome,
	TypeShiftCheque:        DirectionIncome,
	TypeLoanRepayment:      DirectionIncome,
	TypeCashIn:             DirectionIncome,
	TypeBankDeposit:        DirectionExpense,
	TypePOSBatchSettlement: DirectionExpense,
	TypeChequeDeposit:      DirectionExpense,
	TypeLoanIssued:         DirectionExpense,
	TypeExpensePayment:     DirectionExpense,
}

// Direction returns the balance direction of the type.
func (t TransactionType) Direction() Direction {
	return directions[t]
}

// Valid reports whether the type is known.
func (t TransactionType) Valid() bool {
	_, ok := directions[t]
	return ok
}

// Effect returns the signed balance change for an amount of this type.
func (t TransactionType) Effect(amount decimal.Decimal) decimal.Decimal {
	if t.Direction() == DirectionExpense {
		return amount.Neg()
	}
	return amount
}

// Links ties an entry to the business object that caused it.
type Links struct {
	ShiftID    *uuid.UUID `json:"shift_id,omitempty"`
	BatchID    string     `json:"batch_id,omitempty"`
	ChequeID   string     `json:"cheque_id,omitempty"`
	LoanID     string     `json:"loan_id,omitempty"`
	CorrectsID *uuid.UUID `json:"corrects_id,omitempty"`
}

// SafeTransaction is one immutable ledger entry.
type SafeTransaction struct {
	ID            uuid.UUID       `json:"id"`
	StationID     int64           `json:"station_id"`
	Seq           int64           `json:"seq"`
	Type          TransactionType `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Timestamp     time.Time       `json:"timestamp"`
	Performer     string          `json:"performer"`
	Links         Links           `json:"links"`
	Note          string          `json:"note,omitempty"`
	PrevHash      string          `json:"prev_hash"`
	Hash          string          `json:"hash"`
}

// Safe is the per-station head of the ledger.
type Safe struct {
	StationID  int64           `json:"station_id"`
	Balance    decimal.Decimal `json:"balance"`
	HeadSeq    int64           `json:"head_seq"`
	HeadHash   string          `json:"head_hash"`
	HeadAt     time.Time       `json:"head_at"`
	Halted     bool            `json:"halted"`
	HaltReason string          `json:"halt_reason,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// PostInput describes a new ledger entry.
type PostInput struct {
	StationID int64
	Type      TransactionType
	Amount    decimal.Decimal
	Performer string
	Timestamp time.Time
	Links     Links
	Note      string
}

// Validate checks type-specific requirements.
func (in PostInput) Validate() error {
	if in.StationID <= 0 {
		return fmt.Errorf("%w: station id required", ErrInvalidPosting)
	}
	if !in.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidPosting, in.Type)
	}
	if strings.TrimSpace(in.Performer) == "" {
		return fmt.Errorf("%w: performer required", ErrInvalidPosting)
	}
	switch in.Type.Direction() {
	case DirectionSigned:
		if in.Amount.IsZero() && in.Type != TypeOpeningBalance {
			return fmt.Errorf("%w: amount must not be zero", ErrInvalidPosting)
		}
	default:
		if !in.Amount.IsPositive() {
			return fmt.Errorf("%w: amount must be positive", ErrInvalidPosting)
		}
	}
	switch in.Type {
	case TypeShiftCash, TypeShiftCard:
		if in.Links.ShiftID == nil {
			return fmt.Errorf("%w: %s requires shift id", ErrInvalidPosting, in.Type)
		}
	case TypeShiftCheque:
		if in.Links.ShiftID == nil || in.Links.ChequeID == "" {
			return fmt.Errorf("%w: %s requires shift and cheque id", ErrInvalidPosting, in.Type)
		}
	case TypePOSBatchSettlement:
		if in.Links.BatchID == "" {
			return fmt.Errorf("%w: %s requires batch id", ErrInvalidPosting, in.Type)
		}
	case TypeChequeDeposit:
		if in.Links.ChequeID == "" {
			return fmt.Errorf("%w: %s requires cheque id", ErrInvalidPosting, in.Type)
		}
	case TypeLoanIssued, TypeLoanRepayment:
		if in.Links.LoanID == "" {
			return fmt.Errorf("%w: %s requires loan id", ErrInvalidPosting, in.Type)
		}
	case TypeCorrection:
		if in.Links.CorrectsID == nil {
			return fmt.Errorf("%w: %s requires the corrected transaction id", ErrInvalidPosting, in.Type)
		}
	}
	return nil
}

// ListFilter narrows ledger listings.
type ListFilter struct {
	From    time.Time
	To      time.Time
	Types   []TransactionType
	Page    int
	PerPage int
}

// ChainReport summarises a verification run.
type ChainReport struct {
	StationID  int64           `json:"station_id"`
	Entries    int             `json:"entries"`
	Balance    decimal.Decimal `json:"balance"`
	HeadHash   string          `json:"head_hash"`
	Valid      bool            `json:"valid"`
	Violation  string          `json:"violation,omitempty"`
	Halted     bool            `json:"halted"`
	VerifiedAt time.Time       `json:"verified_at"`
}

var (
	// ErrInvalidPosting indicates malformed posting input.
	ErrInvalidPosting = errors.New("safe: invalid posting")
	// ErrSafeHalted indicates the safe refuses postings until reviewed.
	ErrSafeHalted = errors.New("safe: halted pending review")
	// ErrTransactionNotFound indicates a missing ledger entry.
	ErrTransactionNotFound = errors.New("safe: transaction not found")
	// ErrSafeNotFound indicates no ledger exists for the station.
	ErrSafeNotFound = errors.New("safe: not found")
	// ErrNotReversible indicates an entry type that cannot be corrected by reversal.
	ErrNotReversible = errors.New("safe: transaction cannot be reversed")
)

// InsufficientBalanceError reports an expense larger than the safe balance.
type InsufficientBalanceError struct {
	StationID int64
	Type      TransactionType
	Balance   decimal.Decimal
	Amount    decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("safe: insufficient balance for %s of %s at station %d (balance %s)",
		e.Type, e.Amount.StringFixed(2), e.StationID, e.Balance.StringFixed(2))
}

// LedgerChainViolationError reports a broken balance or hash chain.
type LedgerChainViolationError struct {
	StationID int64
	Seq       int64
	Reason    string
}

func (e *LedgerChainViolationError) Error() string {
	return fmt.Sprintf("safe: ledger chain violation at station %d seq %d: %s", e.StationID, e.Seq, e.Reason)
}

// Unwrap lets callers match a violation with ErrSafeHalted since every violation halts the safe.
func (e *LedgerChainViolationError) Unwrap() error {
	return ErrSafeHalted
}
