package masterdata

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Station is a fuel station with its own safe.
type Station struct {
	ID        int64
	Code      string
	Name      string
	Tolerance *decimal.Decimal
	CreatedAt time.Time
}

// Nozzle is a metered dispenser outlet bound to one fuel type.
type Nozzle struct {
	ID         string
	StationID  int64
	FuelTypeID string
	Active     bool
}

// Product is a shop item sold at a station.
type Product struct {
	ID           string
	StationID    int64
	Name         string
	SellingPrice decimal.Decimal
}

// ErrStationNotFound indicates an unknown station.
var ErrStationNotFound = errors.New("masterdata: station not found")
