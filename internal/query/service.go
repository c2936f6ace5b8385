// Package query serves read-only access to the projection tables and the
// raw event log. Every response carries as_of_sequence, the projection
// watermark at read time, so callers can reason about freshness.
package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// FundingRateHistory returns closed funding windows for a pool, newest
// first. beforeTime is a cursor: only windows strictly older are
// returned.
func (s *Service) FundingRateHistory(
	ctx context.Context,
	poolID uuid.UUID,
	limit int,
	beforeTime *int64,
) ([]FundingRateHistoryEntry, error) {
	asOf, err := s.Watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	q := `
		SELECT pool_id, adjust_time, sequence, clamped_funding_rate_delta_x96,
		       long_growth_x96, short_growth_x96, paid_amount, received_amount, risk_buffer_fund_delta
		FROM projections.funding_rate_history
		WHERE pool_id = $1
	`
	args := []interface{}{poolID}
	argIdx := 2

	if beforeTime != nil {
		q += fmt.Sprintf(" AND adjust_time < $%d", argIdx)
		args = append(args, *beforeTime)
		argIdx++
	}
	q += " ORDER BY adjust_time DESC"
	q += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FundingRateHistoryEntry
	for rows.Next() {
		var e FundingRateHistoryEntry
		e.AsOfSequence = asOf
		if err := rows.Scan(
			&e.PoolID, &e.AdjustTime, &e.Sequence, &e.ClampedFundingRateDeltaX96,
			&e.LongGrowthX96, &e.ShortGrowthX96, &e.PaidAmount, &e.ReceivedAmount, &e.RiskBufferFundDelta,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Requests returns an account's delayed requests, newest first. status
// filters to one of created, executed, cancelled when set.
func (s *Service) Requests(
	ctx context.Context,
	account uuid.UUID,
	status *string,
	limit int,
	afterSequence *int64,
) ([]RequestStatusEntry, error) {
	asOf, err := s.Watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	q := `
		SELECT kind, queue_index, account, pool_id, status, sequence, updated_at
		FROM projections.request_log
		WHERE account = $1
	`
	args := []interface{}{account}
	argIdx := 2

	if status != nil {
		q += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, *status)
		argIdx++
	}
	if afterSequence != nil {
		q += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}
	q += " ORDER BY sequence DESC"
	q += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RequestStatusEntry
	for rows.Next() {
		var e RequestStatusEntry
		e.AsOfSequence = asOf
		var index int64
		if err := rows.Scan(&e.Kind, &index, &e.Account, &e.PoolID, &e.Status, &e.Sequence, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.Index = uint64(index)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Request returns the latest status of one request, or nil when the
// projection has never seen it.
func (s *Service) Request(ctx context.Context, kind string, index uint64) (*RequestStatusEntry, error) {
	asOf, err := s.Watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var e RequestStatusEntry
	var idx int64
	err = s.db.QueryRowContext(ctx, `
		SELECT kind, queue_index, account, pool_id, status, sequence, updated_at
		FROM projections.request_log
		WHERE kind = $1 AND queue_index = $2
	`, kind, int64(index)).Scan(&e.Kind, &idx, &e.Account, &e.PoolID, &e.Status, &e.Sequence, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Index = uint64(idx)
	e.AsOfSequence = asOf
	return &e, nil
}

// AccountEvents reads the raw event log for one account, newest first.
func (s *Service) AccountEvents(
	ctx context.Context,
	account uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]EventEntry, error) {
	q := `
		SELECT sequence, event_type, pool_id, account, payload, timestamp
		FROM engine_log.events
		WHERE account = $1
	`
	args := []interface{}{account}
	argIdx := 2

	if afterSequence != nil {
		q += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}
	q += " ORDER BY sequence DESC"
	q += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventEntry
	for rows.Next() {
		var e EventEntry
		if err := rows.Scan(&e.Sequence, &e.EventType, &e.PoolID, &e.Account, (*[]byte)(&e.Payload), &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Watermark returns the highest sequence applied to the projections, or
// zero when no event has been projected yet.
func (s *Service) Watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT sequence FROM projections.watermark`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}
