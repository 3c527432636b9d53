package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fuelops/stationledger/internal/app"
	"github.com/fuelops/stationledger/internal/platform/db"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	ctx := context.Background()
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	fmt.Println("→ Seeding banks...")
	if err := db.WithTx(ctx, pool, seedBanks); err != nil {
		log.Fatalf("seed banks: %v", err)
	}
	fmt.Println("→ Seeding stations...")
	if err := db.WithTx(ctx, pool, seedStations); err != nil {
		log.Fatalf("seed stations: %v", err)
	}

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

// =============================================================================
// BANKS
// =============================================================================

func seedBanks(tx pgx.Tx) error {
	ctx := context.Background()
	banks := []struct{ code, name string }{
		{"BOC", "Bank of Ceylon"},
		{"HNB", "Hatton National Bank"},
		{"COM", "Commercial Bank"},
		{"SAM", "Sampath Bank"},
	}
	for _, b := range banks {
		if _, err := tx.Exec(ctx, `INSERT INTO banks (code, name) VALUES ($1, $2) ON CONFLICT (code) DO NOTHING`, b.code, b.name); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// STATIONS
// =============================================================================

type stationSeed struct {
	code       string
	name       string
	tolerance  *string
	nozzles    map[string]string
	prices     map[string]string
	products   map[string]struct{ name, price string }
	attendants []string
	terminals  []string
}

func strPtr(v string) *string { return &v }

func seedStations(tx pgx.Tx) error {
	ctx := context.Background()
	effective := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	stations := []stationSeed{
		{
			code: "ST-COL-01",
			name: "Colombo Galle Road",
			nozzles: map[string]string{
				"N1": "PETROL92", "N2": "PETROL92", "N3": "PETROL95", "N4": "DIESEL", "N5": "SUPER_DIESEL",
			},
			prices: map[string]string{
				"PETROL92": "299.00", "PETROL95": "361.00", "DIESEL": "283.00", "SUPER_DIESEL": "313.00",
			},
			products: map[string]struct{ name, price string }{
				"OIL-2T-1L":   {"2T Engine Oil 1L", "1850.00"},
				"OIL-4T-1L":   {"4T Engine Oil 1L", "2400.00"},
				"COOLANT-1L":  {"Radiator Coolant 1L", "1200.00"},
				"BRAKE-FLUID": {"Brake Fluid 250ml", "950.00"},
			},
			attendants: []string{"Kamal", "Nimal", "Sunil", "Ruwan"},
			terminals:  []string{"T1", "T2"},
		},
		{
			code:      "ST-KDY-01",
			name:      "Kandy Peradeniya Road",
			tolerance: strPtr("100.00"),
			nozzles:   map[string]string{"N1": "PETROL92", "N2": "DIESEL"},
			prices:    map[string]string{"PETROL92": "299.00", "DIESEL": "283.00"},
			products: map[string]struct{ name, price string }{
				"OIL-4T-1L": {"4T Engine Oil 1L", "2400.00"},
			},
			attendants: []string{"Chaminda", "Pradeep"},
			terminals:  []string{"T1"},
		},
	}

	for _, s := range stations {
		var stationID int64
		err := tx.QueryRow(ctx, `
			INSERT INTO stations (code, name, variance_tolerance)
			VALUES ($1, $2, $3)
			ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name
			RETURNING id`, s.code, s.name, s.tolerance).Scan(&stationID)
		if err != nil {
			return fmt.Errorf("station %s: %w", s.code, err)
		}
		for id, fuel := range s.nozzles {
			if _, err := tx.Exec(ctx, `
				INSERT INTO nozzles (id, station_id, fuel_type_id) VALUES ($1, $2, $3)
				ON CONFLICT (station_id, id) DO NOTHING`, id, stationID, fuel); err != nil {
				return err
			}
		}
		for fuel, price := range s.prices {
			if _, err := tx.Exec(ctx, `
				INSERT INTO fuel_prices (station_id, fuel_type_id, price, effective_from)
				SELECT $1, $2, $3::numeric, $4
				WHERE NOT EXISTS (SELECT 1 FROM fuel_prices WHERE station_id = $1 AND fuel_type_id = $2)`,
				stationID, fuel, price, effective); err != nil {
				return err
			}
		}
		for id, p := range s.products {
			if _, err := tx.Exec(ctx, `
				INSERT INTO products (id, station_id, name, selling_price) VALUES ($1, $2, $3, $4::numeric)
				ON CONFLICT (station_id, id) DO NOTHING`, id, stationID, p.name, p.price); err != nil {
				return err
			}
		}
		for _, name := range s.attendants {
			if _, err := tx.Exec(ctx, `
				INSERT INTO attendants (station_id, name) VALUES ($1, $2)
				ON CONFLICT (station_id, name) DO NOTHING`, stationID, name); err != nil {
				return err
			}
		}
		for _, id := range s.terminals {
			if _, err := tx.Exec(ctx, `
				INSERT INTO pos_terminals (id, station_id) VALUES ($1, $2)
				ON CONFLICT (station_id, id) DO NOTHING`, id, stationID); err != nil {
				return err
			}
		}
	}
	return nil
}
