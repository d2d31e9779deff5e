package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/marwinsteiner/lendflow/internal/event"
)

// ReadEventsFrom streams the event log in sequence order, starting after
// fromSequence, and hands each decoded envelope to apply. Used at startup
// to rebuild controller state.
func ReadEventsFrom(ctx context.Context, db *sql.DB, fromSequence int64, apply func(event.Envelope) error) (int64, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT sequence, event_type, actor, loan_id, payload, timestamp
		FROM event_log.events
		WHERE sequence > $1
		ORDER BY sequence ASC
	`, fromSequence)
	if err != nil {
		return fromSequence, fmt.Errorf("query event log: %w", err)
	}
	defer rows.Close()

	last := fromSequence
	for rows.Next() {
		var r EventRow
		if err := rows.Scan(&r.Sequence, &r.EventType, &r.Actor, &r.LoanID, &r.Payload, &r.Timestamp); err != nil {
			return last, fmt.Errorf("scan event row: %w", err)
		}

		env, err := envelopeFromRow(r)
		if err != nil {
			return last, err
		}
		if err := apply(env); err != nil {
			return last, err
		}
		last = r.Sequence
	}
	return last, rows.Err()
}

func envelopeFromRow(r EventRow) (event.Envelope, error) {
	t := typeFromString(r.EventType)
	payload, err := event.UnmarshalPayload(t, r.Payload)
	if err != nil {
		return event.Envelope{}, fmt.Errorf("sequence %d: %w", r.Sequence, err)
	}
	return event.Envelope{
		Sequence:  r.Sequence,
		Type:      t,
		Actor:     r.Actor,
		LoanID:    uint64(r.LoanID),
		Timestamp: r.Timestamp,
		Payload:   payload,
	}, nil
}

func typeFromString(s string) event.Type {
	for t := event.TypeDeposited; t <= event.TypePauseChanged; t++ {
		if t.String() == s {
			return t
		}
	}
	return event.TypeUnknown
}
