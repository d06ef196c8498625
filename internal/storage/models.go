package storage

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// CurveState is the persisted per-asset curve: parameter set, hysteresis
// memory, and the timestamp of the last consumed pool snapshot. Magnitudes
// wider than 64 bits travel as NUMERIC, surfaced here as decimals.
type CurveState struct {
	AssetKey    string
	Params      json.RawMessage
	Ri          decimal.Decimal
	Tcrit       decimal.Decimal
	LastUpdated int64
	UpdatedAt   time.Time
}

// AccrualSample is one audited accrual window for an asset.
type AccrualSample struct {
	Bucket        time.Time
	AssetKey      string
	TotalDeposits decimal.Decimal
	TotalBorrows  decimal.Decimal
	Utilization   decimal.Decimal
	Rcomp         decimal.Decimal
	Ri            decimal.Decimal
	Tcrit         decimal.Decimal
	ElapsedSecs   int64
	Overflow      bool
	Status        string
	Error         *string
	CreatedAt     time.Time
}

// CurveEventRecord captures a configuration change for auditing.
type CurveEventRecord struct {
	ID        int64
	Caller    string
	AssetKey  string
	Params    json.RawMessage
	Ri        decimal.Decimal
	Tcrit     decimal.Decimal
	CreatedAt time.Time
}
