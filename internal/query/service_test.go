package query

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/EquationDAO/equation-contracts-sub001/internal/testutil"
)

func seedFunding(t *testing.T, db *sql.DB, poolID uuid.UUID, adjustTime, seq int64) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO projections.funding_rate_history
			(pool_id, adjust_time, sequence, clamped_funding_rate_delta_x96,
			 long_growth_x96, short_growth_x96, paid_amount, received_amount, risk_buffer_fund_delta)
		VALUES ($1, $2, $3, '1', '2', '3', '4', '4', '0')
	`, poolID, adjustTime, seq)
	if err != nil {
		t.Fatalf("seed funding: %v", err)
	}
}

func seedRequest(t *testing.T, db *sql.DB, kind string, index uint64, account, poolID uuid.UUID, status string, seq int64) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO projections.request_log
			(kind, queue_index, account, pool_id, status, sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, kind, int64(index), account, poolID, status, seq, time.Unix(7200+seq, 0).UTC())
	if err != nil {
		t.Fatalf("seed request: %v", err)
	}
}

func setWatermark(t *testing.T, db *sql.DB, seq int64) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO projections.watermark (id, sequence) VALUES (TRUE, $1)
		ON CONFLICT (id) DO UPDATE SET sequence = EXCLUDED.sequence
	`, seq)
	if err != nil {
		t.Fatalf("set watermark: %v", err)
	}
}

func TestFundingRateHistoryPagination(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	svc := NewService(db)
	poolID := uuid.New()

	seedFunding(t, db, poolID, 10800, 0)
	seedFunding(t, db, poolID, 14400, 1)
	seedFunding(t, db, poolID, 18000, 2)
	setWatermark(t, db, 2)

	entries, err := svc.FundingRateHistory(ctx, poolID, 2, nil)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].AdjustTime != 18000 || entries[1].AdjustTime != 14400 {
		t.Errorf("order = (%d, %d), want newest first", entries[0].AdjustTime, entries[1].AdjustTime)
	}
	if entries[0].AsOfSequence != 2 {
		t.Errorf("as-of = %d, want 2", entries[0].AsOfSequence)
	}

	cursor := entries[1].AdjustTime
	tail, err := svc.FundingRateHistory(ctx, poolID, 10, &cursor)
	if err != nil {
		t.Fatalf("history page 2: %v", err)
	}
	if len(tail) != 1 || tail[0].AdjustTime != 10800 {
		t.Errorf("page 2 = %+v, want one entry at 10800", tail)
	}
}

func TestRequestsFilterByStatus(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	svc := NewService(db)
	account := uuid.New()
	other := uuid.New()
	poolID := uuid.New()

	seedRequest(t, db, "increase_position", 0, account, poolID, "executed", 1)
	seedRequest(t, db, "increase_position", 1, account, poolID, "created", 2)
	seedRequest(t, db, "decrease_position", 0, other, poolID, "created", 3)
	setWatermark(t, db, 3)

	all, err := svc.Requests(ctx, account, nil, 10, nil)
	if err != nil {
		t.Fatalf("requests: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d requests for account, want 2", len(all))
	}

	status := "created"
	created, err := svc.Requests(ctx, account, &status, 10, nil)
	if err != nil {
		t.Fatalf("requests filtered: %v", err)
	}
	if len(created) != 1 || created[0].Index != 1 {
		t.Errorf("filtered = %+v, want the single created request at index 1", created)
	}
}

func TestRequestLookup(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	svc := NewService(db)
	account := uuid.New()
	poolID := uuid.New()

	seedRequest(t, db, "close_liquidity_position", 7, account, poolID, "cancelled", 4)
	setWatermark(t, db, 4)

	entry, err := svc.Request(ctx, "close_liquidity_position", 7)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if entry == nil {
		t.Fatal("expected entry, got nil")
	}
	if entry.Status != "cancelled" || entry.Account != account {
		t.Errorf("entry = %+v", entry)
	}

	missing, err := svc.Request(ctx, "close_liquidity_position", 8)
	if err != nil {
		t.Fatalf("missing request: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for vacant slot, got %+v", missing)
	}
}

func TestWatermarkEmpty(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	svc := NewService(db)
	wm, err := svc.Watermark(context.Background())
	if err != nil {
		t.Fatalf("watermark: %v", err)
	}
	if wm != 0 {
		t.Errorf("watermark = %d, want 0 before any projection ran", wm)
	}
}
