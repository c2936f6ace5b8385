package persistence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/EquationDAO/equation-contracts-sub001/internal/event"
	"github.com/EquationDAO/equation-contracts-sub001/internal/testutil"
)

func TestRowFromEnvelope(t *testing.T) {
	poolID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	account := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	env := event.Envelope{
		Sequence:  42,
		Type:      event.TypeRequestCreated,
		PoolID:    &poolID,
		Account:   &account,
		Timestamp: time.Unix(7200, 0).UTC(),
		Payload: &event.RequestLifecycle{
			Kind:    "increase_position",
			Index:   3,
			Account: account,
			PoolID:  poolID,
		},
	}

	row, err := RowFromEnvelope(env)
	if err != nil {
		t.Fatalf("RowFromEnvelope: %v", err)
	}

	if row.Sequence != 42 {
		t.Errorf("sequence = %d, want 42", row.Sequence)
	}
	if row.EventType != "RequestCreated" {
		t.Errorf("event type = %q, want RequestCreated", row.EventType)
	}
	if row.PoolID == nil || *row.PoolID != poolID.String() {
		t.Errorf("pool id = %v, want %s", row.PoolID, poolID)
	}
	if row.Account == nil || *row.Account != account.String() {
		t.Errorf("account = %v, want %s", row.Account, account)
	}

	var payload event.RequestLifecycle
	if err := json.Unmarshal(row.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Kind != "increase_position" || payload.Index != 3 {
		t.Errorf("payload = %+v", payload)
	}
}

func TestRowFromEnvelopeNoScope(t *testing.T) {
	row, err := RowFromEnvelope(event.Envelope{
		Sequence:  0,
		Type:      event.TypeFundingRateAdjusted,
		Timestamp: time.Unix(10800, 0).UTC(),
		Payload:   &event.FundingRateAdjusted{LastAdjustTime: 10800},
	})
	if err != nil {
		t.Fatalf("RowFromEnvelope: %v", err)
	}
	if row.PoolID != nil || row.Account != nil {
		t.Errorf("expected nil scope columns, got pool=%v account=%v", row.PoolID, row.Account)
	}
}

func TestWriteEventBatchIdempotent(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	w := NewEventLogWriter(db)

	poolID := uuid.New().String()
	rows := []EventRow{
		{Sequence: 0, EventType: "FundingRateAdjusted", PoolID: &poolID, Payload: []byte(`{}`), Timestamp: time.Now().UTC()},
		{Sequence: 1, EventType: "RequestCreated", PoolID: &poolID, Payload: []byte(`{}`), Timestamp: time.Now().UTC()},
	}

	if err := w.WriteEventBatch(ctx, db, rows); err != nil {
		t.Fatalf("first write: %v", err)
	}
	// Replaying the same batch must not duplicate or error.
	if err := w.WriteEventBatch(ctx, db, rows); err != nil {
		t.Fatalf("replay write: %v", err)
	}

	got, err := w.ReadEventsFrom(ctx, 0, 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2", len(got))
	}
	if got[0].Sequence != 0 || got[1].Sequence != 1 {
		t.Errorf("rows out of order: %d, %d", got[0].Sequence, got[1].Sequence)
	}

	last, err := w.LastSequence(ctx)
	if err != nil {
		t.Fatalf("last sequence: %v", err)
	}
	if last != 1 {
		t.Errorf("last sequence = %d, want 1", last)
	}
}

func TestLastSequenceEmptyLog(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	w := NewEventLogWriter(db)
	last, err := w.LastSequence(context.Background())
	if err != nil {
		t.Fatalf("last sequence: %v", err)
	}
	if last != -1 {
		t.Errorf("last sequence = %d, want -1 for empty log", last)
	}
}
