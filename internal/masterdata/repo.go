package masterdata

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository reads station reference data from PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new master data repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Station(ctx context.Context, id int64) (Station, error) {
	var (
		s         Station
		tolerance *string
	)
	err := r.db.QueryRow(ctx, `SELECT id, code, name, variance_tolerance::text, created_at FROM stations WHERE id = $1`, id).
		Scan(&s.ID, &s.Code, &s.Name, &tolerance, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Station{}, ErrStationNotFound
	}
	if err != nil {
		return Station{}, err
	}
	if tolerance != nil {
		t, err := decimal.NewFromString(*tolerance)
		if err != nil {
			return Station{}, err
		}
		s.Tolerance = &t
	}
	return s, nil
}

func (r *Repository) Nozzles(ctx context.Context, stationID int64) (map[string]Nozzle, error) {
	rows, err := r.db.Query(ctx, `SELECT id, station_id, fuel_type_id, active FROM nozzles WHERE station_id = $1`, stationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]Nozzle)
	for rows.Next() {
		var n Nozzle
		if err := rows.Scan(&n.ID, &n.StationID, &n.FuelTypeID, &n.Active); err != nil {
			return nil, err
		}
		out[n.ID] = n
	}
	return out, rows.Err()
}

// ActiveFuelPrices returns the price effective at the given instant per fuel type.
func (r *Repository) ActiveFuelPrices(ctx context.Context, stationID int64, at time.Time) (map[string]decimal.Decimal, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT ON (fuel_type_id) fuel_type_id, price::text
FROM fuel_prices
WHERE station_id = $1 AND effective_from <= $2 AND (effective_to IS NULL OR effective_to > $2)
ORDER BY fuel_type_id, effective_from DESC`, stationID, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPriceMap(rows)
}

func (r *Repository) ProductPrices(ctx context.Context, stationID int64) (map[string]decimal.Decimal, error) {
	rows, err := r.db.Query(ctx, `SELECT id, selling_price::text FROM products WHERE station_id = $1`, stationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPriceMap(rows)
}

func (r *Repository) Attendants(ctx context.Context, stationID int64) (map[string]bool, error) {
	return r.codeSet(ctx, `SELECT name FROM attendants WHERE station_id = $1 AND active`, stationID)
}

func (r *Repository) Terminals(ctx context.Context, stationID int64) (map[string]bool, error) {
	return r.codeSet(ctx, `SELECT id FROM pos_terminals WHERE station_id = $1`, stationID)
}

func (r *Repository) Banks(ctx context.Context) (map[string]bool, error) {
	return r.codeSet(ctx, `SELECT code FROM banks`)
}

func (r *Repository) codeSet(ctx context.Context, query string, args ...any) (map[string]bool, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		out[code] = true
	}
	return out, rows.Err()
}

func scanPriceMap(rows pgx.Rows) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var (
			id    string
			price string
		)
		if err := rows.Scan(&id, &price); err != nil {
			return nil, err
		}
		p, err := decimal.NewFromString(price)
		if err != nil {
			return nil, err
		}
		out[id] = p
	}
	return out, rows.Err()
}
