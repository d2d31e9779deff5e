package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marwinsteiner/lendflow/internal/event"
)

// EventLogWriter batch-writes protocol events to Postgres using
// multi-row INSERT. ON CONFLICT DO NOTHING on the sequence key makes
// writes idempotent: a replayed batch after a crash is a no-op.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow is one row in event_log.events.
type EventRow struct {
	Sequence  int64
	EventType string
	Actor     uuid.UUID
	LoanID    int64 // 0 for pool-level events
	Payload   []byte
	Timestamp time.Time
}

// RowFromEnvelope flattens an envelope for storage. The payload keeps
// its JSON form so the log stays inspectable with plain SQL.
func RowFromEnvelope(env event.Envelope) (EventRow, error) {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return EventRow{}, fmt.Errorf("marshal %s payload: %w", env.Type, err)
	}
	return EventRow{
		Sequence:  env.Sequence,
		EventType: env.Type.String(),
		Actor:     env.Actor,
		LoanID:    int64(env.LoanID),
		Payload:   payload,
		Timestamp: env.Timestamp,
	}, nil
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteBatch writes a batch of events in one statement.
func (w *EventLogWriter) WriteBatch(ctx context.Context, rows []EventRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(sequence, event_type, actor, loan_id, payload, timestamp)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*6)

	for i, r := range rows {
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		args = append(args, r.Sequence, r.EventType, r.Actor, r.LoanID, r.Payload, r.Timestamp)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}
