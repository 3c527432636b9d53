package safe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fuelops/stationledger/internal/platform/db"
)

// PgRepository persists safes in PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PgRepository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// WithTx executes fn inside a repeatable-read transaction.
func (r *PgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("safe: repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// NewTxRepository wraps an open transaction so other services can post within it.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &pgTxRepository{tx: tx}
}

const safeColumns = `station_id, balance::text, head_seq, head_hash, head_at, halted, halt_reason, updated_at`

const txnColumns = `id, station_id, seq, type, amount::text, balance_before::text, balance_after::text,
occurred_at, performer, shift_id, batch_id, cheque_id, loan_id, corrects_id, note, prev_hash, hash`

// GetSafe returns the safe head.
func (r *PgRepository) GetSafe(ctx context.Context, stationID int64) (Safe, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+safeColumns+` FROM safes WHERE station_id=$1`, stationID)
	s, err := scanSafe(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Safe{}, ErrSafeNotFound
	}
	return s, err
}

// ListTransactions returns entries newest first within the filter window.
func (r *PgRepository) ListTransactions(ctx context.Context, stationID int64, filter ListFilter) ([]SafeTransaction, error) {
	clauses := []string{"station_id=$1"}
	args := []any{stationID}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		clauses = append(clauses, fmt.Sprintf("occurred_at >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		clauses = append(clauses, fmt.Sprintf("occurred_at < $%d", len(args)))
	}
	if len(filter.Types) > 0 {
		types := make([]string, 0, len(filter.Types))
		for _, t := range filter.Types {
			types = append(types, string(t))
		}
		args = append(args, types)
		clauses = append(clauses, fmt.Sprintf("type = ANY($%d)", len(args)))
	}
	query := `SELECT ` + txnColumns + ` FROM safe_transactions WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY seq DESC`
	return r.queryTransactions(ctx, query, args...)
}

// ChainEntries returns every entry of the station ordered by seq.
func (r *PgRepository) ChainEntries(ctx context.Context, stationID int64) ([]SafeTransaction, error) {
	return r.queryTransactions(ctx, `SELECT `+txnColumns+` FROM safe_transactions WHERE station_id=$1 ORDER BY seq`, stationID)
}

func (r *PgRepository) queryTransactions(ctx context.Context, query string, args ...any) ([]SafeTransaction, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SafeTransaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, txn)
	}
	return out, rows.Err()
}

// Halt marks the safe as halted. The first recorded reason is kept.
func (r *PgRepository) Halt(ctx context.Context, stationID int64, reason string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO safes (station_id, halted, halt_reason, updated_at)
VALUES ($1, TRUE, $2, NOW())
ON CONFLICT (station_id) DO UPDATE
SET halted=TRUE, halt_reason=CASE WHEN safes.halted THEN safes.halt_reason ELSE EXCLUDED.halt_reason END, updated_at=NOW()`, stationID, reason)
	return err
}

// Stations lists stations with a safe.
func (r *PgRepository) Stations(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT station_id FROM safes ORDER BY station_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type pgTxRepository struct {
	tx pgx.Tx
}

func (r *pgTxRepository) LockSafe(ctx context.Context, stationID int64) (Safe, error) {
	if _, err := r.tx.Exec(ctx, `INSERT INTO safes (station_id) VALUES ($1) ON CONFLICT (station_id) DO NOTHING`, stationID); err != nil {
		return Safe{}, err
	}
	row := r.tx.QueryRow(ctx, `SELECT `+safeColumns+` FROM safes WHERE station_id=$1 FOR UPDATE`, stationID)
	return scanSafe(row)
}

func (r *pgTxRepository) LastTransaction(ctx context.Context, stationID int64) (SafeTransaction, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+txnColumns+` FROM safe_transactions WHERE station_id=$1 ORDER BY seq DESC LIMIT 1`, stationID)
	txn, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return SafeTransaction{}, ErrTransactionNotFound
	}
	return txn, err
}

func (r *pgTxRepository) GetTransaction(ctx context.Context, stationID int64, id uuid.UUID) (SafeTransaction, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+txnColumns+` FROM safe_transactions WHERE station_id=$1 AND id=$2`, stationID, id)
	txn, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return SafeTransaction{}, ErrTransactionNotFound
	}
	return txn, err
}

func (r *pgTxRepository) IsCorrected(ctx context.Context, stationID int64, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM safe_transactions WHERE station_id=$1 AND corrects_id=$2)`, stationID, id).Scan(&exists)
	return exists, err
}

func (r *pgTxRepository) CountBetween(ctx context.Context, stationID int64, from, to time.Time) (int, error) {
	var count int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM safe_transactions WHERE station_id=$1 AND occurred_at >= $2 AND occurred_at < $3`, stationID, from, to).Scan(&count)
	return count, err
}

func (r *pgTxRepository) InsertTransaction(ctx context.Context, txn SafeTransaction) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO safe_transactions (id, station_id, seq, type, amount, balance_before, balance_after,
occurred_at, performer, shift_id, batch_id, cheque_id, loan_id, corrects_id, note, prev_hash, hash)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		txn.ID, txn.StationID, txn.Seq, string(txn.Type), toNumeric(txn.Amount), toNumeric(txn.BalanceBefore), toNumeric(txn.BalanceAfter),
		txn.Timestamp, txn.Performer, txn.Links.ShiftID, nullString(txn.Links.BatchID), nullString(txn.Links.ChequeID),
		nullString(txn.Links.LoanID), txn.Links.CorrectsID, txn.Note, txn.PrevHash, txn.Hash)
	return err
}

func (r *pgTxRepository) UpdateHead(ctx context.Context, s Safe) error {
	_, err := r.tx.Exec(ctx, `UPDATE safes SET balance=$2, head_seq=$3, head_hash=$4, head_at=$5, updated_at=$6 WHERE station_id=$1`,
		s.StationID, toNumeric(s.Balance), s.HeadSeq, s.HeadHash, s.HeadAt, s.UpdatedAt)
	return err
}

func scanSafe(row pgx.Row) (Safe, error) {
	var (
		s       Safe
		balance string
		headAt  *time.Time
	)
	if err := row.Scan(&s.StationID, &balance, &s.HeadSeq, &s.HeadHash, &headAt, &s.Halted, &s.HaltReason, &s.UpdatedAt); err != nil {
		return Safe{}, err
	}
	var err error
	if s.Balance, err = decimal.NewFromString(balance); err != nil {
		return Safe{}, err
	}
	if headAt != nil {
		s.HeadAt = headAt.UTC()
	}
	return s, nil
}

func scanTransaction(row pgx.Row) (SafeTransaction, error) {
	var (
		txn                       SafeTransaction
		typ                       string
		amount, before, after     string
		batchID, chequeID, loanID *string
	)
	err := row.Scan(&txn.ID, &txn.StationID, &txn.Seq, &typ, &amount, &before, &after,
		&txn.Timestamp, &txn.Performer, &txn.Links.ShiftID, &batchID, &chequeID, &loanID, &txn.Links.CorrectsID,
		&txn.Note, &txn.PrevHash, &txn.Hash)
	if err != nil {
		return SafeTransaction{}, err
	}
	txn.Type = TransactionType(typ)
	txn.Timestamp = txn.Timestamp.UTC()
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{{&txn.Amount, amount}, {&txn.BalanceBefore, before}, {&txn.BalanceAfter, after}} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return SafeTransaction{}, err
		}
	}
	txn.Links.BatchID = deref(batchID)
	txn.Links.ChequeID = deref(chequeID)
	txn.Links.LoanID = deref(loanID)
	return txn, nil
}

func toNumeric(v decimal.Decimal) string {
	return v.StringFixed(2)
}

func nullString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
