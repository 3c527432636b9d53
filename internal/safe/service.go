package safe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fuelops/stationledger/internal/shared"
)

// Repository abstracts safe persistence.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSafe(ctx context.Context, stationID int64) (Safe, error)
	ListTransactions(ctx context.Context, stationID int64, filter ListFilter) ([]SafeTransaction, error)
	ChainEntries(ctx context.Context, stationID int64) ([]SafeTransaction, error)
	Halt(ctx context.Context, stationID int64, reason string) error
	Stations(ctx context.Context) ([]int64, error)
}

// TxRepository exposes the operations available inside a posting transaction.
type TxRepository interface {
	// LockSafe returns the safe head locked for update, creating an empty safe when missing.
	LockSafe(ctx context.Context, stationID int64) (Safe, error)
	LastTransaction(ctx context.Context, stationID int64) (SafeTransaction, error)
	GetTransaction(ctx context.Context, stationID int64, id uuid.UUID) (SafeTransaction, error)
	IsCorrected(ctx context.Context, stationID int64, id uuid.UUID) (bool, error)
	CountBetween(ctx context.Context, stationID int64, from, to time.Time) (int, error)
	InsertTransaction(ctx context.Context, txn SafeTransaction) error
	UpdateHead(ctx context.Context, safe Safe) error
}

// ClosureSource supplies authoritative closure summaries for grouping.
type ClosureSource interface {
	ClosureSummaries(ctx context.Context, shiftIDs []uuid.UUID) (map[uuid.UUID]ClosureSummary, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Recorder receives ledger metrics.
type Recorder interface {
	ObservePosting(txType string)
	ObserveChainViolation(stationID int64)
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Locker         Locker
	Audit          AuditPort
	Closures       ClosureSource
	Metrics        Recorder
	PeriodLocation *time.Location
	Logger         *slog.Logger
}

// Service records and audits safe ledger entries.
type Service struct {
	repo     Repository
	locker   Locker
	local    *keyedMutex
	audit    AuditPort
	closures ClosureSource
	metrics  Recorder
	loc      *time.Location
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds a Service.
func NewService(repo Repository, cfg ServiceConfig) *Service {
	loc := cfg.PeriodLocation
	if loc == nil {
		loc = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		locker:   cfg.Locker,
		local:    newKeyedMutex(),
		audit:    cfg.Audit,
		closures: cfg.Closures,
		metrics:  cfg.Metrics,
		loc:      loc,
		logger:   logger,
		now:      time.Now,
	}
}

// WithNow overrides the clock, used in tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithSafeLock runs fn while holding the station's posting lock.
func (s *Service) WithSafeLock(ctx context.Context, stationID int64, fn func(context.Context) error) error {
	unlockLocal := s.local.lock(stationID)
	defer unlockLocal()
	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, stationID)
		if err != nil {
			return err
		}
		defer unlock()
	}
	return fn(ctx)
}

// Post records a single entry in its own transaction.
func (s *Service) Post(ctx context.Context, in PostInput) (SafeTransaction, error) {
	entries, err := s.post(ctx, in.StationID, []PostInput{in})
	if err != nil {
		return SafeTransaction{}, err
	}
	return entries[0], nil
}

func (s *Service) post(ctx context.Context, stationID int64, inputs []PostInput) ([]SafeTransaction, error) {
	var entries []SafeTransaction
	err := s.WithSafeLock(ctx, stationID, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			entries, err = s.Append(ctx, tx, stationID, inputs)
			return err
		})
	})
	if err != nil {
		s.HandleFailure(ctx, stationID, err)
		return nil, err
	}
	s.recordPosted(ctx, entries)
	return entries, nil
}

// Append chains inputs onto the station's ledger inside the caller's transaction.
// Callers must hold WithSafeLock for the station.
func (s *Service) Append(ctx context.Context, tx TxRepository, stationID int64, inputs []PostInput) ([]SafeTransaction, error) {
	for _, in := range inputs {
		if in.StationID != stationID {
			return nil, fmt.Errorf("%w: posting for station %d in station %d ledger", ErrInvalidPosting, in.StationID, stationID)
		}
		if err := in.Validate(); err != nil {
			return nil, err
		}
	}
	head, err := s.lockHead(ctx, tx, stationID)
	if err != nil {
		return nil, err
	}
	entries := make([]SafeTransaction, 0, len(inputs))
	for _, in := range inputs {
		txn, err := s.chain(head, in)
		if err != nil {
			return nil, err
		}
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return nil, err
		}
		head.Balance = txn.BalanceAfter
		head.HeadSeq = txn.Seq
		head.HeadHash = txn.Hash
		head.HeadAt = txn.Timestamp
		entries = append(entries, txn)
	}
	if len(entries) > 0 {
		head.UpdatedAt = s.now().UTC()
		if err := tx.UpdateHead(ctx, head); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// lockHead loads the safe head and checks it against the last stored entry.
func (s *Service) lockHead(ctx context.Context, tx TxRepository, stationID int64) (Safe, error) {
	head, err := tx.LockSafe(ctx, stationID)
	if err != nil {
		return Safe{}, err
	}
	if head.Halted {
		return Safe{}, &LedgerChainViolationError{StationID: stationID, Seq: head.HeadSeq, Reason: head.HaltReason}
	}
	last, err := tx.LastTransaction(ctx, stationID)
	switch {
	case errors.Is(err, ErrTransactionNotFound):
		if head.HeadSeq != 0 || !head.Balance.IsZero() || head.HeadHash != "" {
			return Safe{}, &LedgerChainViolationError{StationID: stationID, Seq: head.HeadSeq, Reason: "safe head set without ledger entries"}
		}
	case err != nil:
		return Safe{}, err
	default:
		if last.Seq != head.HeadSeq || last.Hash != head.HeadHash || !last.BalanceAfter.Equal(head.Balance) {
			return Safe{}, &LedgerChainViolationError{StationID: stationID, Seq: last.Seq, Reason: "safe head does not match last entry"}
		}
	}
	return head, nil
}

func (s *Service) chain(head Safe, in PostInput) (SafeTransaction, error) {
	amount := in.Amount.Round(2)
	after := head.Balance.Add(in.Type.Effect(amount))
	if after.IsNegative() {
		return SafeTransaction{}, &InsufficientBalanceError{
			StationID: head.StationID,
			Type:      in.Type,
			Balance:   head.Balance,
			Amount:    amount,
		}
	}
	at := in.Timestamp
	if at.IsZero() {
		at = s.now()
	}
	at = normalizeTimestamp(at)
	// Entries are strictly ordered by time in posting order.
	if head.HeadSeq > 0 && !at.After(head.HeadAt) {
		at = normalizeTimestamp(head.HeadAt).Add(time.Microsecond)
	}
	txn := SafeTransaction{
		ID:            uuid.New(),
		StationID:     head.StationID,
		Seq:           head.HeadSeq + 1,
		Type:          in.Type,
		Amount:        amount,
		BalanceBefore: head.Balance,
		BalanceAfter:  after,
		Timestamp:     at,
		Performer:     in.Performer,
		Links:         in.Links,
		Note:          in.Note,
		PrevHash:      head.HeadHash,
	}
	txn.Hash = ChainHash(txn.PrevHash, txn)
	return txn, nil
}

// SetOpeningBalance sets the safe's counted balance. The first set in an accounting period
// records OPENING_BALANCE; later sets record the difference as COUNT_ADJUSTMENT.
func (s *Service) SetOpeningBalance(ctx context.Context, stationID int64, target decimal.Decimal, performer string, at time.Time) (SafeTransaction, error) {
	if target.IsNegative() {
		return SafeTransaction{}, fmt.Errorf("%w: opening balance must not be negative", ErrInvalidPosting)
	}
	if at.IsZero() {
		at = s.now()
	}
	var entry SafeTransaction
	err := s.WithSafeLock(ctx, stationID, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			head, err := tx.LockSafe(ctx, stationID)
			if err != nil {
				return err
			}
			from, to := s.periodBounds(at)
			count, err := tx.CountBetween(ctx, stationID, from, to)
			if err != nil {
				return err
			}
			delta := target.Round(2).Sub(head.Balance)
			in := PostInput{
				StationID: stationID,
				Type:      TypeOpeningBalance,
				Amount:    delta,
				Performer: performer,
				Timestamp: at,
				Note:      "opening balance " + target.StringFixed(2),
			}
			if count > 0 {
				if delta.IsZero() {
					return fmt.Errorf("%w: counted balance already matches", ErrInvalidPosting)
				}
				in.Type = TypeCountAdjustment
				in.Note = "count adjustment to " + target.StringFixed(2)
			}
			entries, err := s.Append(ctx, tx, stationID, []PostInput{in})
			if err != nil {
				return err
			}
			entry = entries[0]
			return nil
		})
	})
	if err != nil {
		s.HandleFailure(ctx, stationID, err)
		return SafeTransaction{}, err
	}
	s.recordPosted(ctx, []SafeTransaction{entry})
	return entry, nil
}

func (s *Service) periodBounds(at time.Time) (time.Time, time.Time) {
	local := at.In(s.loc)
	from := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, s.loc)
	return from, from.AddDate(0, 1, 0)
}

// Balance returns the current safe balance.
func (s *Service) Balance(ctx context.Context, stationID int64) (decimal.Decimal, error) {
	safe, err := s.GetSafe(ctx, stationID)
	if err != nil {
		return decimal.Zero, err
	}
	return safe.Balance, nil
}

// GetSafe returns the safe head, or an empty safe when nothing was posted yet.
func (s *Service) GetSafe(ctx context.Context, stationID int64) (Safe, error) {
	safe, err := s.repo.GetSafe(ctx, stationID)
	if errors.Is(err, ErrSafeNotFound) {
		return Safe{StationID: stationID}, nil
	}
	return safe, err
}

// BankDeposit moves cash from the safe to the bank.
func (s *Service) BankDeposit(ctx context.Context, stationID int64, amount decimal.Decimal, performer, note string) (SafeTransaction, error) {
	return s.Post(ctx, PostInput{StationID: stationID, Type: TypeBankDeposit, Amount: amount, Performer: performer, Note: note})
}

// SettlePOSBatch records a card batch settlement.
func (s *Service) SettlePOSBatch(ctx context.Context, stationID int64, batchID string, amount decimal.Decimal, performer string) (SafeTransaction, error) {
	return s.Post(ctx, PostInput{StationID: stationID, Type: TypePOSBatchSettlement, Amount: amount, Performer: performer, Links: Links{BatchID: batchID}})
}

// DepositCheque records a cheque leaving the safe for the bank.
func (s *Service) DepositCheque(ctx context.Context, stationID int64, chequeID string, amount decimal.Decimal, performer string) (SafeTransaction, error) {
	return s.Post(ctx, PostInput{StationID: stationID, Type: TypeChequeDeposit, Amount: amount, Performer: performer, Links: Links{ChequeID: chequeID}})
}

// IssueLoan pays a loan out of the safe.
func (s *Service) IssueLoan(ctx context.Context, stationID int64, loanID string, amount decimal.Decimal, performer string) (SafeTransaction, error) {
	return s.Post(ctx, PostInput{StationID: stationID, Type: TypeLoanIssued, Amount: amount, Performer: performer, Links: Links{LoanID: loanID}})
}

// ReceiveLoanRepayment records a loan repayment into the safe.
func (s *Service) ReceiveLoanRepayment(ctx context.Context, stationID int64, loanID string, amount decimal.Decimal, performer string) (SafeTransaction, error) {
	return s.Post(ctx, PostInput{StationID: stationID, Type: TypeLoanRepayment, Amount: amount, Performer: performer, Links: Links{LoanID: loanID}})
}

// Reverse offsets an existing entry with a CORRECTION. The original entry is never modified.
func (s *Service) Reverse(ctx context.Context, stationID int64, txID uuid.UUID, performer, reason string) (SafeTransaction, error) {
	var entry SafeTransaction
	err := s.WithSafeLock(ctx, stationID, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			original, err := tx.GetTransaction(ctx, stationID, txID)
			if err != nil {
				return err
			}
			if original.Type == TypeCorrection || original.Type == TypeOpeningBalance {
				return ErrNotReversible
			}
			corrected, err := tx.IsCorrected(ctx, stationID, txID)
			if err != nil {
				return err
			}
			if corrected {
				return fmt.Errorf("%w: already reversed", ErrNotReversible)
			}
			id := original.ID
			note := fmt.Sprintf("reversal of %s #%d", original.Type, original.Seq)
			if reason != "" {
				note += ": " + reason
			}
			// The shift link is not copied so the correction is listed on its own
			// instead of folding into the closure group.
			entries, err := s.Append(ctx, tx, stationID, []PostInput{{
				StationID: stationID,
				Type:      TypeCorrection,
				Amount:    original.Type.Effect(original.Amount).Neg(),
				Performer: performer,
				Links:     Links{BatchID: original.Links.BatchID, ChequeID: original.Links.ChequeID, LoanID: original.Links.LoanID, CorrectsID: &id},
				Note:      note,
			}})
			if err != nil {
				return err
			}
			entry = entries[0]
			return nil
		})
	})
	if err != nil {
		s.HandleFailure(ctx, stationID, err)
		return SafeTransaction{}, err
	}
	s.recordPosted(ctx, []SafeTransaction{entry})
	return entry, nil
}

// VerifyChain replays the station's ledger and halts the safe on any violation.
func (s *Service) VerifyChain(ctx context.Context, stationID int64) (ChainReport, error) {
	report := ChainReport{StationID: stationID, VerifiedAt: s.now().UTC()}
	head, err := s.GetSafe(ctx, stationID)
	if err != nil {
		return report, err
	}
	entries, err := s.repo.ChainEntries(ctx, stationID)
	if err != nil {
		return report, err
	}
	report.Entries = len(entries)
	balance, hash, verr := VerifyEntries(stationID, entries)
	report.Balance = balance
	report.HeadHash = hash
	if verr == nil && (!balance.Equal(head.Balance) || hash != head.HeadHash || int64(len(entries)) != head.HeadSeq) {
		verr = &LedgerChainViolationError{StationID: stationID, Seq: head.HeadSeq, Reason: "safe head does not match replayed ledger"}
	}
	if verr != nil {
		report.Violation = verr.Error()
		report.Halted = true
		s.HandleFailure(ctx, stationID, verr)
		return report, nil
	}
	report.Valid = true
	report.Halted = head.Halted
	return report, nil
}

// Stations lists stations that have a safe.
func (s *Service) Stations(ctx context.Context) ([]int64, error) {
	return s.repo.Stations(ctx)
}

// Halt freezes the safe until an operator reviews it.
func (s *Service) Halt(ctx context.Context, stationID int64, reason string) error {
	if err := s.repo.Halt(ctx, stationID, reason); err != nil {
		return err
	}
	s.logger.Error("safe halted", slog.Int64("station_id", stationID), slog.String("reason", reason))
	if s.metrics != nil {
		s.metrics.ObserveChainViolation(stationID)
	}
	s.record(ctx, shared.AuditLog{
		Actor:    "system",
		Action:   "safe.halt",
		Entity:   "safe",
		EntityID: fmt.Sprint(stationID),
		Meta:     map[string]any{"reason": reason},
		At:       s.now().UTC(),
	})
	return nil
}

// HandleFailure halts the safe when a failed posting turned out to be a chain violation.
// It must run after the failed transaction has rolled back.
func (s *Service) HandleFailure(ctx context.Context, stationID int64, err error) {
	var violation *LedgerChainViolationError
	if !errors.As(err, &violation) {
		return
	}
	head, gerr := s.repo.GetSafe(ctx, stationID)
	if gerr == nil && head.Halted {
		return
	}
	if herr := s.Halt(ctx, stationID, violation.Reason); herr != nil {
		s.logger.Error("halt safe", slog.Int64("station_id", stationID), slog.Any("error", herr))
	}
}

// RecordPosted emits audit and metrics for entries committed by another service's transaction.
func (s *Service) RecordPosted(ctx context.Context, entries []SafeTransaction) {
	s.recordPosted(ctx, entries)
}

func (s *Service) recordPosted(ctx context.Context, entries []SafeTransaction) {
	for _, e := range entries {
		if s.metrics != nil {
			s.metrics.ObservePosting(string(e.Type))
		}
		s.record(ctx, shared.AuditLog{
			Actor:    e.Performer,
			Action:   "safe.post",
			Entity:   "safe_transaction",
			EntityID: e.ID.String(),
			Meta: map[string]any{
				"station_id": e.StationID,
				"seq":        e.Seq,
				"type":       e.Type,
				"amount":     e.Amount.StringFixed(2),
			},
			At: e.Timestamp,
		})
	}
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("audit record", slog.String("action", log.Action), slog.String("entity_id", log.EntityID), slog.Any("error", err))
	}
}

// LedgerPage is a page of grouped ledger items.
type LedgerPage struct {
	Items      []LedgerItem      `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

// ListGroupedTransactions returns the station ledger with shift closures collapsed.
func (s *Service) ListGroupedTransactions(ctx context.Context, stationID int64, filter ListFilter) (LedgerPage, error) {
	txns, err := s.repo.ListTransactions(ctx, stationID, filter)
	if err != nil {
		return LedgerPage{}, err
	}
	var closures map[uuid.UUID]ClosureSummary
	if s.closures != nil {
		ids := shiftIDs(txns)
		if len(ids) > 0 {
			closures, err = s.closures.ClosureSummaries(ctx, ids)
			if err != nil {
				return LedgerPage{}, err
			}
		}
	}
	items := GroupTransactions(txns, closures)
	p := shared.NewPagination(filter.Page, filter.PerPage, len(items))
	start, end := p.Bounds()
	return LedgerPage{Items: items[start:end], Pagination: p}, nil
}

func shiftIDs(txns []SafeTransaction) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for _, t := range txns {
		if t.Links.ShiftID == nil {
			continue
		}
		if _, ok := seen[*t.Links.ShiftID]; ok {
			continue
		}
		seen[*t.Links.ShiftID] = struct{}{}
		out = append(out, *t.Links.ShiftID)
	}
	return out
}
