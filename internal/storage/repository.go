package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertCurveStateSQL = `INSERT INTO curve_states (
        asset_key,
        params,
        ri,
        tcrit,
        last_updated_us,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,now()
    )
    ON CONFLICT (asset_key) DO UPDATE
    SET
        params          = EXCLUDED.params,
        ri              = EXCLUDED.ri,
        tcrit           = EXCLUDED.tcrit,
        last_updated_us = EXCLUDED.last_updated_us,
        updated_at      = now();`

	getCurveStateSQL = `SELECT
        asset_key, params, ri, tcrit, last_updated_us, updated_at
    FROM curve_states
    WHERE asset_key = $1;`

	listCurveStatesSQL = `SELECT
        asset_key, params, ri, tcrit, last_updated_us, updated_at
    FROM curve_states
    ORDER BY asset_key;`

	upsertAccrualSampleSQL = `INSERT INTO accrual_samples (
        bucket_ts,
        asset_key,
        total_deposits,
        total_borrows,
        utilization,
        rcomp,
        ri,
        tcrit,
        elapsed_secs,
        overflow,
        status,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
    )
    ON CONFLICT (asset_key, bucket_ts) DO UPDATE
    SET
        total_deposits = EXCLUDED.total_deposits,
        total_borrows  = EXCLUDED.total_borrows,
        utilization    = EXCLUDED.utilization,
        rcomp          = EXCLUDED.rcomp,
        ri             = EXCLUDED.ri,
        tcrit          = EXCLUDED.tcrit,
        elapsed_secs   = EXCLUDED.elapsed_secs,
        overflow       = EXCLUDED.overflow,
        status         = EXCLUDED.status,
        error          = EXCLUDED.error;`

	listSamplesBetweenSQL = `SELECT
        bucket_ts, asset_key, total_deposits, total_borrows, utilization,
        rcomp, ri, tcrit, elapsed_secs, overflow, status, error, created_at
    FROM accrual_samples
    WHERE asset_key = $1
      AND bucket_ts >= $2
      AND bucket_ts < $3
    ORDER BY bucket_ts;`

	listRecentSamplesSQL = `SELECT
        bucket_ts, asset_key, total_deposits, total_borrows, utilization,
        rcomp, ri, tcrit, elapsed_secs, overflow, status, error, created_at
    FROM accrual_samples
    ORDER BY bucket_ts DESC
    LIMIT $1;`

	markSampleErroredSQL = `UPDATE accrual_samples
    SET status = 'errored', error = $3
    WHERE asset_key = $1 AND bucket_ts = $2;`

	countSamplesSQL = `SELECT COUNT(*) FROM accrual_samples;`

	insertCurveEventSQL = `INSERT INTO curve_events (
        caller,
        asset_key,
        params,
        ri,
        tcrit
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    RETURNING id, caller, asset_key, params, ri, tcrit, created_at;`

	listRecentEventsSQL = `SELECT
        id, caller, asset_key, params, ri, tcrit, created_at
    FROM curve_events
    ORDER BY created_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// CurveStateStore defines operations for curve state persistence.
type CurveStateStore interface {
	UpsertCurveState(ctx context.Context, state CurveState) error
	GetCurveState(ctx context.Context, assetKey string) (CurveState, error)
	ListCurveStates(ctx context.Context) ([]CurveState, error)
}

// AccrualSampleStore defines operations for accrual auditing.
type AccrualSampleStore interface {
	UpsertAccrualSample(ctx context.Context, sample AccrualSample) error
	ListSamplesBetween(ctx context.Context, assetKey string, from, to time.Time) ([]AccrualSample, error)
	ListRecentSamples(ctx context.Context, limit int) ([]AccrualSample, error)
	MarkSampleErrored(ctx context.Context, assetKey string, bucket time.Time, errMsg string) error
	CountSamples(ctx context.Context) (int64, error)
}

// CurveEventStore defines operations for curve change auditing.
type CurveEventStore interface {
	InsertCurveEvent(ctx context.Context, event CurveEventRecord) (CurveEventRecord, error)
	ListRecentEvents(ctx context.Context, limit int) ([]CurveEventRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to curve states, accrual samples, and events.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// unlock best effort
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertCurveState persists or updates an asset's curve state.
func (s *Store) UpsertCurveState(ctx context.Context, state CurveState) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertCurveStateSQL,
		state.AssetKey,
		[]byte(state.Params),
		state.Ri.String(),
		state.Tcrit.String(),
		state.LastUpdated,
	)
	if execErr != nil {
		return fmt.Errorf("upsert curve state: %w", execErr)
	}
	return nil
}

// GetCurveState loads one asset's curve state.
func (s *Store) GetCurveState(ctx context.Context, assetKey string) (CurveState, error) {
	pool, err := s.getPool()
	if err != nil {
		return CurveState{}, err
	}
	row := pool.QueryRow(ctx, getCurveStateSQL, assetKey)
	return scanCurveState(row)
}

// ListCurveStates loads all persisted curve states.
func (s *Store) ListCurveStates(ctx context.Context) ([]CurveState, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listCurveStatesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list curve states: %w", queryErr)
	}
	defer rows.Close()

	states := make([]CurveState, 0)
	for rows.Next() {
		state, scanErr := scanCurveState(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		states = append(states, state)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return states, nil
}

// UpsertAccrualSample persists or updates an accrual audit row.
func (s *Store) UpsertAccrualSample(ctx context.Context, sample AccrualSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var errMsg interface{}
	if sample.Error != nil {
		errMsg = *sample.Error
	}

	_, execErr := pool.Exec(ctx, upsertAccrualSampleSQL,
		sample.Bucket,
		sample.AssetKey,
		sample.TotalDeposits.String(),
		sample.TotalBorrows.String(),
		sample.Utilization.String(),
		sample.Rcomp.String(),
		sample.Ri.String(),
		sample.Tcrit.String(),
		sample.ElapsedSecs,
		sample.Overflow,
		sample.Status,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("upsert accrual sample: %w", execErr)
	}
	return nil
}

// ListSamplesBetween lists one asset's samples within a time window.
func (s *Store) ListSamplesBetween(ctx context.Context, assetKey string, from, to time.Time) ([]AccrualSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, assetKey, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]AccrualSample, 0)
	for rows.Next() {
		sample, scanErr := scanAccrualSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// ListRecentSamples lists the most recent samples across assets.
func (s *Store) ListRecentSamples(ctx context.Context, limit int) ([]AccrualSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]AccrualSample, 0, limit)
	for rows.Next() {
		sample, scanErr := scanAccrualSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// MarkSampleErrored marks a sample as errored.
func (s *Store) MarkSampleErrored(ctx context.Context, assetKey string, bucket time.Time, errMsg string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, markSampleErroredSQL, assetKey, bucket, errMsg)
	if execErr != nil {
		return fmt.Errorf("mark sample errored: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// CountSamples counts stored accrual samples.
func (s *Store) CountSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSamplesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

// InsertCurveEvent persists a curve configuration change.
func (s *Store) InsertCurveEvent(ctx context.Context, event CurveEventRecord) (CurveEventRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return CurveEventRecord{}, err
	}

	row := pool.QueryRow(ctx, insertCurveEventSQL,
		event.Caller,
		event.AssetKey,
		[]byte(event.Params),
		event.Ri.String(),
		event.Tcrit.String(),
	)
	return scanCurveEvent(row)
}

// ListRecentEvents lists the most recent curve events.
func (s *Store) ListRecentEvents(ctx context.Context, limit int) ([]CurveEventRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentEventsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent events: %w", queryErr)
	}
	defer rows.Close()

	events := make([]CurveEventRecord, 0, limit)
	for rows.Next() {
		event, scanErr := scanCurveEvent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, event)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

func scanCurveState(row pgx.Row) (CurveState, error) {
	var (
		state  CurveState
		params json.RawMessage
		riStr  string
		tcStr  string
	)
	if err := row.Scan(
		&state.AssetKey,
		&params,
		&riStr,
		&tcStr,
		&state.LastUpdated,
		&state.UpdatedAt,
	); err != nil {
		return CurveState{}, err
	}
	state.Params = params

	var convErr error
	state.Ri, convErr = decimal.NewFromString(riStr)
	if convErr != nil {
		return CurveState{}, fmt.Errorf("parse ri: %w", convErr)
	}
	state.Tcrit, convErr = decimal.NewFromString(tcStr)
	if convErr != nil {
		return CurveState{}, fmt.Errorf("parse tcrit: %w", convErr)
	}
	return state, nil
}

func scanAccrualSample(rows pgx.Rows) (AccrualSample, error) {
	var (
		sample   AccrualSample
		deposits string
		borrows  string
		util     string
		rcomp    string
		ri       string
		tcrit    string
		errMsg   sql.NullString
	)

	if err := rows.Scan(
		&sample.Bucket,
		&sample.AssetKey,
		&deposits,
		&borrows,
		&util,
		&rcomp,
		&ri,
		&tcrit,
		&sample.ElapsedSecs,
		&sample.Overflow,
		&sample.Status,
		&errMsg,
		&sample.CreatedAt,
	); err != nil {
		return AccrualSample{}, err
	}

	for _, field := range []struct {
		dst  *decimal.Decimal
		src  string
		name string
	}{
		{&sample.TotalDeposits, deposits, "total_deposits"},
		{&sample.TotalBorrows, borrows, "total_borrows"},
		{&sample.Utilization, util, "utilization"},
		{&sample.Rcomp, rcomp, "rcomp"},
		{&sample.Ri, ri, "ri"},
		{&sample.Tcrit, tcrit, "tcrit"},
	} {
		value, err := decimal.NewFromString(field.src)
		if err != nil {
			return AccrualSample{}, fmt.Errorf("parse %s: %w", field.name, err)
		}
		*field.dst = value
	}

	if errMsg.Valid {
		msg := errMsg.String
		sample.Error = &msg
	}
	return sample, nil
}

func scanCurveEvent(row pgx.Row) (CurveEventRecord, error) {
	var (
		event  CurveEventRecord
		params json.RawMessage
		riStr  string
		tcStr  string
	)
	if err := row.Scan(
		&event.ID,
		&event.Caller,
		&event.AssetKey,
		&params,
		&riStr,
		&tcStr,
		&event.CreatedAt,
	); err != nil {
		return CurveEventRecord{}, err
	}
	event.Params = params

	var convErr error
	event.Ri, convErr = decimal.NewFromString(riStr)
	if convErr != nil {
		return CurveEventRecord{}, fmt.Errorf("parse ri: %w", convErr)
	}
	event.Tcrit, convErr = decimal.NewFromString(tcStr)
	if convErr != nil {
		return CurveEventRecord{}, fmt.Errorf("parse tcrit: %w", convErr)
	}
	return event, nil
}
