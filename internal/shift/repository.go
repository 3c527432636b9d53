package shift

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fuelops/stationledger/internal/platform/db"
	"github.com/fuelops/stationledger/internal/reconcile"
	"github.com/fuelops/stationledger/internal/safe"
)

// PgRepository persists shifts in PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PgRepository using the provided pool.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// WithTx executes fn inside a repeatable-read transaction shared with the safe ledger.
func (r *PgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("shift: repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx})
	})
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const shiftColumns = `id, station_id, status, started_at, ended_at, opened_by, closed_by, breakdowns, closure, created_at, updated_at`

// GetShift loads a shift with its lines and declarations.
func (r *PgRepository) GetShift(ctx context.Context, id uuid.UUID) (Shift, error) {
	return loadShift(ctx, r.pool, `SELECT `+shiftColumns+` FROM shifts WHERE id=$1`, id)
}

// ClosureSummaries implements safe.ClosureSource.
func (r *PgRepository) ClosureSummaries(ctx context.Context, shiftIDs []uuid.UUID) (map[uuid.UUID]safe.ClosureSummary, error) {
	out := make(map[uuid.UUID]safe.ClosureSummary, len(shiftIDs))
	if len(shiftIDs) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT id, closure FROM shifts WHERE id = ANY($1) AND closure IS NOT NULL`, shiftIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id  uuid.UUID
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var summary safe.ClosureSummary
		if err := json.Unmarshal(raw, &summary); err != nil {
			return nil, fmt.Errorf("shift: decode closure %s: %w", id, err)
		}
		out[id] = summary
	}
	return out, rows.Err()
}

type pgTxRepository struct {
	tx pgx.Tx
}

func (r *pgTxRepository) Ledger() safe.TxRepository {
	return safe.NewTxRepository(r.tx)
}

func (r *pgTxRepository) HasOpenShift(ctx context.Context, stationID int64) (bool, error) {
	var open bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM shifts WHERE station_id=$1 AND status='OPEN')`, stationID).Scan(&open)
	return open, err
}

func (r *pgTxRepository) InsertShift(ctx context.Context, sh Shift) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO shifts (id, station_id, status, started_at, opened_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, sh.ID, sh.StationID, string(sh.Status), sh.StartedAt, sh.OpenedBy, sh.CreatedAt, sh.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "uq_shifts_one_open" {
			return ErrShiftAlreadyOpen
		}
		return err
	}
	for _, a := range sh.Assignments {
		if _, err := r.tx.Exec(ctx, `INSERT INTO shift_assignments (shift_id, nozzle_id, attendant, fuel_type_id, start_reading)
VALUES ($1,$2,$3,$4,$5)`, sh.ID, a.NozzleID, a.Attendant, a.FuelTypeID, a.StartReading.String()); err != nil {
			return err
		}
	}
	for _, l := range sh.ShopLines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO shift_shop_lines (shift_id, product_id, attendant, opening, added, unit_price)
VALUES ($1,$2,$3,$4,$5,$6)`, sh.ID, l.ProductID, l.Attendant, l.Opening.String(), l.Added.String(), l.UnitPrice.StringFixed(2)); err != nil {
			return err
		}
	}
	return nil
}

func (r *pgTxRepository) LockShift(ctx context.Context, id uuid.UUID) (Shift, error) {
	return loadShift(ctx, r.tx, `SELECT `+shiftColumns+` FROM shifts WHERE id=$1 FOR UPDATE`, id)
}

func (r *pgTxRepository) UpdateShopLine(ctx context.Context, shiftID uuid.UUID, line reconcile.ShopStockLine) error {
	if _, err := r.tx.Exec(ctx, `UPDATE shift_shop_lines SET added=$3 WHERE shift_id=$1 AND product_id=$2`, shiftID, line.ProductID, line.Added.String()); err != nil {
		return err
	}
	return r.touch(ctx, shiftID)
}

func (r *pgTxRepository) UpsertDeclaration(ctx context.Context, shiftID uuid.UUID, decl reconcile.TenderDeclaration) error {
	payload, err := json.Marshal(decl)
	if err != nil {
		return err
	}
	if _, err := r.tx.Exec(ctx, `INSERT INTO shift_declarations (shift_id, attendant, payload) VALUES ($1,$2,$3)
ON CONFLICT (shift_id, attendant) DO UPDATE SET payload=EXCLUDED.payload`, shiftID, decl.Attendant, payload); err != nil {
		return err
	}
	return r.touch(ctx, shiftID)
}

func (r *pgTxRepository) touch(ctx context.Context, shiftID uuid.UUID) error {
	_, err := r.tx.Exec(ctx, `UPDATE shifts SET updated_at=NOW() WHERE id=$1`, shiftID)
	return err
}

func (r *pgTxRepository) SaveClosure(ctx context.Context, sh Shift) error {
	breakdowns, err := json.Marshal(sh.Breakdowns)
	if err != nil {
		return err
	}
	closure, err := json.Marshal(sh.Closure)
	if err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, `UPDATE shifts SET status=$2, ended_at=$3, closed_by=$4, breakdowns=$5, closure=$6, updated_at=$7
WHERE id=$1 AND status='OPEN'`, sh.ID, string(sh.Status), sh.EndedAt, sh.ClosedBy, breakdowns, closure, sh.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &AlreadyClosedError{ShiftID: sh.ID}
	}
	for _, a := range sh.Assignments {
		if a.EndReading == nil {
			continue
		}
		if _, err := r.tx.Exec(ctx, `UPDATE shift_assignments SET end_reading=$3 WHERE shift_id=$1 AND nozzle_id=$2`, sh.ID, a.NozzleID, a.EndReading.String()); err != nil {
			return err
		}
	}
	for _, l := range sh.ShopLines {
		if l.Closing == nil {
			continue
		}
		if _, err := r.tx.Exec(ctx, `UPDATE shift_shop_lines SET closing=$3 WHERE shift_id=$1 AND product_id=$2`, sh.ID, l.ProductID, l.Closing.String()); err != nil {
			return err
		}
	}
	for _, d := range sh.Declarations {
		if err := r.UpsertDeclaration(ctx, sh.ID, d); err != nil {
			return err
		}
	}
	return nil
}

func loadShift(ctx context.Context, q querier, query string, id uuid.UUID) (Shift, error) {
	var (
		sh                  Shift
		status              string
		closedBy            *string
		breakdowns, closure []byte
	)
	err := q.QueryRow(ctx, query, id).Scan(&sh.ID, &sh.StationID, &status, &sh.StartedAt, &sh.EndedAt, &sh.OpenedBy, &closedBy,
		&breakdowns, &closure, &sh.CreatedAt, &sh.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Shift{}, ErrShiftNotFound
	}
	if err != nil {
		return Shift{}, err
	}
	sh.Status = Status(status)
	if closedBy != nil {
		sh.ClosedBy = *closedBy
	}
	if len(breakdowns) > 0 {
		if err := json.Unmarshal(breakdowns, &sh.Breakdowns); err != nil {
			return Shift{}, err
		}
	}
	if len(closure) > 0 && string(closure) != "null" {
		var summary safe.ClosureSummary
		if err := json.Unmarshal(closure, &summary); err != nil {
			return Shift{}, err
		}
		sh.Closure = &summary
	}
	if sh.Assignments, err = loadAssignments(ctx, q, id); err != nil {
		return Shift{}, err
	}
	if sh.ShopLines, err = loadShopLines(ctx, q, id); err != nil {
		return Shift{}, err
	}
	if sh.Declarations, err = loadDeclarations(ctx, q, id); err != nil {
		return Shift{}, err
	}
	return sh, nil
}

func loadAssignments(ctx context.Context, q querier, shiftID uuid.UUID) ([]reconcile.Assignment, error) {
	rows, err := q.Query(ctx, `SELECT nozzle_id, attendant, fuel_type_id, start_reading::text, end_reading::text
FROM shift_assignments WHERE shift_id=$1 ORDER BY nozzle_id`, shiftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []reconcile.Assignment
	for rows.Next() {
		var (
			a     reconcile.Assignment
			start string
			end   *string
		)
		if err := rows.Scan(&a.NozzleID, &a.Attendant, &a.FuelTypeID, &start, &end); err != nil {
			return nil, err
		}
		if a.StartReading, err = decimal.NewFromString(start); err != nil {
			return nil, err
		}
		if a.EndReading, err = optionalDecimal(end); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func loadShopLines(ctx context.Context, q querier, shiftID uuid.UUID) ([]reconcile.ShopStockLine, error) {
	rows, err := q.Query(ctx, `SELECT product_id, attendant, opening::text, added::text, closing::text, unit_price::text
FROM shift_shop_lines WHERE shift_id=$1 ORDER BY product_id`, shiftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []reconcile.ShopStockLine
	for rows.Next() {
		var (
			l                     reconcile.ShopStockLine
			opening, added, price string
			closing               *string
		)
		if err := rows.Scan(&l.ProductID, &l.Attendant, &opening, &added, &closing, &price); err != nil {
			return nil, err
		}
		for _, f := range []struct {
			dst *decimal.Decimal
			src string
		}{{&l.Opening, opening}, {&l.Added, added}, {&l.UnitPrice, price}} {
			if *f.dst, err = decimal.NewFromString(f.src); err != nil {
				return nil, err
			}
		}
		if l.Closing, err = optionalDecimal(closing); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func loadDeclarations(ctx context.Context, q querier, shiftID uuid.UUID) ([]reconcile.TenderDeclaration, error) {
	rows, err := q.Query(ctx, `SELECT payload FROM shift_declarations WHERE shift_id=$1 ORDER BY attendant`, shiftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []reconcile.TenderDeclaration
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var d reconcile.TenderDeclaration
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func optionalDecimal(v *string) (*decimal.Decimal, error) {
	if v == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*v)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
