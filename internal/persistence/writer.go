package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/EquationDAO/equation-contracts-sub001/internal/event"
)

// execer is satisfied by both *sql.DB and *sql.Tx so batch writes can run
// inside the worker's transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// EventLogWriter writes engine events to Postgres using multi-row INSERT.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow is one row of engine_log.events.
type EventRow struct {
	Sequence  int64
	EventType string
	PoolID    *string
	Account   *string
	Payload   []byte
	Timestamp time.Time
}

// RowFromEnvelope flattens an envelope into its storage row. The payload
// is JSON so the log stays greppable.
func RowFromEnvelope(env event.Envelope) (EventRow, error) {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return EventRow{}, fmt.Errorf("marshal payload seq %d: %w", env.Sequence, err)
	}

	row := EventRow{
		Sequence:  env.Sequence,
		EventType: env.Type.String(),
		Payload:   payload,
		Timestamp: env.Timestamp,
	}
	if env.PoolID != nil {
		s := env.PoolID.String()
		row.PoolID = &s
	}
	if env.Account != nil {
		s := env.Account.String()
		row.Account = &s
	}
	return row, nil
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteEventBatch writes a batch of events to engine_log.events on the
// given execer. ON CONFLICT DO NOTHING makes replays after a crash
// idempotent: the sequence is the primary key.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, ex execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO engine_log.events
		(sequence, event_type, pool_id, account, payload, timestamp)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*6)

	for i, e := range events {
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		args = append(args,
			e.Sequence, e.EventType, e.PoolID, e.Account, e.Payload, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// ReadEventsFrom returns up to limit rows with sequence >= from, in
// sequence order. Projections use this to rebuild from the log.
func (w *EventLogWriter) ReadEventsFrom(ctx context.Context, from int64, limit int) ([]EventRow, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT sequence, event_type, pool_id, account, payload, timestamp
		FROM engine_log.events
		WHERE sequence >= $1
		ORDER BY sequence
		LIMIT $2
	`, from, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var r EventRow
		if err := rows.Scan(&r.Sequence, &r.EventType, &r.PoolID, &r.Account, &r.Payload, &r.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LastSequence returns the highest persisted sequence, or -1 when the log
// is empty.
func (w *EventLogWriter) LastSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM engine_log.events`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}
