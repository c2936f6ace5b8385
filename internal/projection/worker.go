// Package projection maintains the queryable read models derived from the
// engine's event log: funding-rate history and the delayed-request log.
// The projection channel is non-blocking with drop; anything missed is
// recovered by Rebuild, which replays the persisted log.
package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/EquationDAO/equation-contracts-sub001/internal/event"
	"github.com/EquationDAO/equation-contracts-sub001/internal/observability"
	"github.com/EquationDAO/equation-contracts-sub001/internal/persistence"
)

// Worker applies engine events to the projection tables.
type Worker struct {
	db      *sql.DB
	input   <-chan event.Envelope
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewWorker(db *sql.DB, input <-chan event.Envelope, metrics *observability.Metrics, logger zerolog.Logger) *Worker {
	return &Worker{
		db:      db,
		input:   input,
		metrics: metrics,
		logger:  logger.With().Str("component", "projection").Logger(),
	}
}

// Run applies events until ctx is cancelled. A failed update is logged
// and skipped: projections are eventually consistent and Rebuild closes
// any gap.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-w.input:
			if !ok {
				return nil
			}

			row, err := persistence.RowFromEnvelope(env)
			if err != nil {
				w.logger.Warn().Err(err).Int64("sequence", env.Sequence).Msg("projection skipped unserializable event")
				continue
			}
			if err := w.applyRow(ctx, row); err != nil {
				w.logger.Warn().Err(err).Int64("sequence", env.Sequence).Msg("projection update failed")
				continue
			}
			if w.metrics != nil {
				w.metrics.ProjectionWatermark.Set(float64(env.Sequence))
			}
		}
	}
}

// applyRow updates the affected projection table and the watermark in one
// transaction.
func (w *Worker) applyRow(ctx context.Context, row persistence.EventRow) error {
	start := time.Now()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := applyEvent(ctx, tx, row); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (id, sequence)
		VALUES (TRUE, $1)
		ON CONFLICT (id) DO UPDATE SET sequence = EXCLUDED.sequence
	`, row.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if w.metrics != nil {
		w.metrics.ProjectionEventsApplied.WithLabelValues(row.EventType).Inc()
		w.metrics.ProjectionUpdateDur.WithLabelValues(row.EventType).Observe(time.Since(start).Seconds())
	}
	return nil
}

// applyEvent routes one log row to its projection table. Unhandled event
// types are recorded only in the log itself.
func applyEvent(ctx context.Context, tx *sql.Tx, row persistence.EventRow) error {
	switch row.EventType {
	case event.TypeFundingRateAdjusted.String():
		return applyFundingRateAdjusted(ctx, tx, row)
	case event.TypeRequestCreated.String():
		return applyRequestStatus(ctx, tx, row, "created")
	case event.TypeRequestExecuted.String():
		return applyRequestStatus(ctx, tx, row, "executed")
	case event.TypeRequestCancelled.String():
		return applyRequestStatus(ctx, tx, row, "cancelled")
	default:
		return nil
	}
}

func applyFundingRateAdjusted(ctx context.Context, tx *sql.Tx, row persistence.EventRow) error {
	var p event.FundingRateAdjusted
	if err := json.Unmarshal(row.Payload, &p); err != nil {
		return fmt.Errorf("decode funding payload: %w", err)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.funding_rate_history
			(pool_id, adjust_time, sequence, clamped_funding_rate_delta_x96,
			 long_growth_x96, short_growth_x96, paid_amount, received_amount, risk_buffer_fund_delta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (pool_id, adjust_time) DO UPDATE SET
			sequence                       = EXCLUDED.sequence,
			clamped_funding_rate_delta_x96 = EXCLUDED.clamped_funding_rate_delta_x96,
			long_growth_x96                = EXCLUDED.long_growth_x96,
			short_growth_x96               = EXCLUDED.short_growth_x96,
			paid_amount                    = EXCLUDED.paid_amount,
			received_amount                = EXCLUDED.received_amount,
			risk_buffer_fund_delta         = EXCLUDED.risk_buffer_fund_delta
	`, p.PoolID, p.LastAdjustTime, row.Sequence, p.ClampedFundingRateDeltaX96,
		p.LongGrowthX96, p.ShortGrowthX96, p.PaidAmount, p.ReceivedAmount, p.RiskBufferFundDelta)
	return err
}

func applyRequestStatus(ctx context.Context, tx *sql.Tx, row persistence.EventRow, status string) error {
	var p event.RequestLifecycle
	if err := json.Unmarshal(row.Payload, &p); err != nil {
		return fmt.Errorf("decode request payload: %w", err)
	}

	// A replay can deliver a stale create after the terminal event; the
	// sequence guard keeps the newest status.
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.request_log
			(kind, queue_index, account, pool_id, status, sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (kind, queue_index) DO UPDATE SET
			status     = EXCLUDED.status,
			sequence   = EXCLUDED.sequence,
			updated_at = EXCLUDED.updated_at
		WHERE projections.request_log.sequence < EXCLUDED.sequence
	`, p.Kind, int64(p.Index), p.Account, p.PoolID, status, row.Sequence, row.Timestamp)
	return err
}

// Rebuild truncates the projection tables and replays the whole event log
// into them.
func Rebuild(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	log := logger.With().Str("component", "projection").Logger()

	for _, stmt := range []string{
		`TRUNCATE projections.funding_rate_history`,
		`TRUNCATE projections.request_log`,
		`DELETE FROM projections.watermark`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate: %w", err)
		}
	}

	reader := persistence.NewEventLogWriter(db)
	const pageSize = 1000
	var from, applied int64

	for {
		rows, err := reader.ReadEventsFrom(ctx, from, pageSize)
		if err != nil {
			return fmt.Errorf("read log from %d: %w", from, err)
		}
		if len(rows) == 0 {
			break
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := applyEvent(ctx, tx, row); err != nil {
				tx.Rollback()
				return fmt.Errorf("replay seq %d: %w", row.Sequence, err)
			}
		}
		last := rows[len(rows)-1].Sequence
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.watermark (id, sequence)
			VALUES (TRUE, $1)
			ON CONFLICT (id) DO UPDATE SET sequence = EXCLUDED.sequence
		`, last); err != nil {
			tx.Rollback()
			return fmt.Errorf("watermark update: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		applied += int64(len(rows))
		from = last + 1
	}

	log.Info().Int64("events", applied).Msg("projection rebuild complete")
	return nil
}
