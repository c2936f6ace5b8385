package projection

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/EquationDAO/equation-contracts-sub001/internal/event"
	"github.com/EquationDAO/equation-contracts-sub001/internal/persistence"
	"github.com/EquationDAO/equation-contracts-sub001/internal/testutil"
)

func fundingRow(t *testing.T, seq int64, poolID uuid.UUID, adjustTime int64) persistence.EventRow {
	t.Helper()
	row, err := persistence.RowFromEnvelope(event.Envelope{
		Sequence:  seq,
		Type:      event.TypeFundingRateAdjusted,
		PoolID:    &poolID,
		Timestamp: time.Unix(adjustTime, 0).UTC(),
		Payload: &event.FundingRateAdjusted{
			PoolID:                     poolID,
			ClampedFundingRateDeltaX96: "79228162514264337593543950",
			LongGrowthX96:              "123",
			ShortGrowthX96:             "-456",
			PaidAmount:                 "1000",
			ReceivedAmount:             "990",
			RiskBufferFundDelta:        "10",
			LastAdjustTime:             adjustTime,
		},
	})
	if err != nil {
		t.Fatalf("build row: %v", err)
	}
	return row
}

func requestRow(t *testing.T, seq int64, typ event.Type, account, poolID uuid.UUID, index uint64) persistence.EventRow {
	t.Helper()
	row, err := persistence.RowFromEnvelope(event.Envelope{
		Sequence:  seq,
		Type:      typ,
		PoolID:    &poolID,
		Account:   &account,
		Timestamp: time.Unix(7200+seq, 0).UTC(),
		Payload: &event.RequestLifecycle{
			Kind:    "increase_position",
			Index:   index,
			Account: account,
			PoolID:  poolID,
		},
	})
	if err != nil {
		t.Fatalf("build row: %v", err)
	}
	return row
}

func TestApplyFundingRateAdjusted(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	w := NewWorker(db, nil, nil, zerolog.Nop())
	poolID := uuid.New()

	if err := w.applyRow(ctx, fundingRow(t, 0, poolID, 10800)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	// Replay of the same event must be a no-op, not an error.
	if err := w.applyRow(ctx, fundingRow(t, 0, poolID, 10800)); err != nil {
		t.Fatalf("replay apply: %v", err)
	}

	var longGrowth string
	var seq int64
	err := db.QueryRowContext(ctx, `
		SELECT long_growth_x96, sequence FROM projections.funding_rate_history
		WHERE pool_id = $1 AND adjust_time = 10800
	`, poolID).Scan(&longGrowth, &seq)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if longGrowth != "123" || seq != 0 {
		t.Errorf("row = (%s, %d), want (123, 0)", longGrowth, seq)
	}

	var watermark int64
	if err := db.QueryRowContext(ctx, `SELECT sequence FROM projections.watermark`).Scan(&watermark); err != nil {
		t.Fatalf("watermark: %v", err)
	}
	if watermark != 0 {
		t.Errorf("watermark = %d, want 0", watermark)
	}
}

func TestRequestStatusTransitions(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	w := NewWorker(db, nil, nil, zerolog.Nop())
	account := uuid.New()
	poolID := uuid.New()

	if err := w.applyRow(ctx, requestRow(t, 1, event.TypeRequestCreated, account, poolID, 0)); err != nil {
		t.Fatalf("created: %v", err)
	}
	if err := w.applyRow(ctx, requestRow(t, 2, event.TypeRequestExecuted, account, poolID, 0)); err != nil {
		t.Fatalf("executed: %v", err)
	}
	// An out-of-order replay of the created event must not regress the status.
	if err := w.applyRow(ctx, requestRow(t, 1, event.TypeRequestCreated, account, poolID, 0)); err != nil {
		t.Fatalf("replayed created: %v", err)
	}

	var status string
	var seq int64
	err := db.QueryRowContext(ctx, `
		SELECT status, sequence FROM projections.request_log
		WHERE kind = 'increase_position' AND queue_index = 0
	`).Scan(&status, &seq)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if status != "executed" || seq != 2 {
		t.Errorf("row = (%s, %d), want (executed, 2)", status, seq)
	}
}

func TestRebuildReplaysLog(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	account := uuid.New()
	poolID := uuid.New()

	writer := persistence.NewEventLogWriter(db)
	rows := []persistence.EventRow{
		fundingRow(t, 0, poolID, 10800),
		requestRow(t, 1, event.TypeRequestCreated, account, poolID, 0),
		requestRow(t, 2, event.TypeRequestCancelled, account, poolID, 0),
	}
	if err := writer.WriteEventBatch(ctx, db, rows); err != nil {
		t.Fatalf("seed log: %v", err)
	}

	// Poison the read models to prove Rebuild starts from scratch.
	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.request_log (kind, queue_index, account, pool_id, status, sequence, updated_at)
		VALUES ('increase_position', 99, $1, $2, 'executed', 999, now())
	`, account, poolID); err != nil {
		t.Fatalf("poison: %v", err)
	}

	if err := Rebuild(ctx, db, zerolog.Nop()); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT count(*) FROM projections.request_log`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("request_log rows = %d, want 1", count)
	}

	var status string
	if err := db.QueryRowContext(ctx, `
		SELECT status FROM projections.request_log WHERE kind = 'increase_position' AND queue_index = 0
	`).Scan(&status); err != nil {
		t.Fatalf("query: %v", err)
	}
	if status != "cancelled" {
		t.Errorf("status = %s, want cancelled", status)
	}

	var watermark int64
	if err := db.QueryRowContext(ctx, `SELECT sequence FROM projections.watermark`).Scan(&watermark); err != nil {
		t.Fatalf("watermark: %v", err)
	}
	if watermark != 2 {
		t.Errorf("watermark = %d, want 2", watermark)
	}
}

func TestApplyRowUnknownTypeIsSkipped(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	w := NewWorker(db, nil, nil, zerolog.Nop())
	row := persistence.EventRow{
		Sequence:  5,
		EventType: "PositionIncreased",
		Payload:   mustJSON(t, map[string]string{"size_delta": "100"}),
		Timestamp: time.Now().UTC(),
	}
	if err := w.applyRow(context.Background(), row); err != nil {
		t.Fatalf("apply: %v", err)
	}

	var watermark int64
	if err := db.QueryRowContext(context.Background(), `SELECT sequence FROM projections.watermark`).Scan(&watermark); err != nil {
		t.Fatalf("watermark: %v", err)
	}
	if watermark != 5 {
		t.Errorf("watermark = %d, want 5", watermark)
	}
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}
