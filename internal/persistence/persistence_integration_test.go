package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/marwinsteiner/lendflow/internal/event"
	"github.com/marwinsteiner/lendflow/internal/testutil"
)

// Integration tests require a running Postgres (see testutil). Gated on
// INTEGRATION_TEST=1.

func TestEventLogRoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := NewMigrator(db, "../../migrations", zerolog.Nop()).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	actor := uuid.New()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	envs := []event.Envelope{
		{
			Sequence: 1, Type: event.TypeDeposited, Actor: actor, Timestamp: ts,
			Payload: event.Deposited{Account: actor, Amount: 1_000_000_000, SharesMinted: 1_000_000_000},
		},
		{
			Sequence: 2, Type: event.TypeLoanOpened, Actor: actor, LoanID: 1, Timestamp: ts,
			Payload: event.LoanOpened{
				LoanID: 1, Borrower: actor, Principal: 500_000_000, Collateral: 1_000_000,
				InterestRate: 20_000, StartTime: ts, EndTime: ts.Add(30 * 24 * time.Hour),
			},
		},
	}

	writer := NewEventLogWriter(db)
	rows := make([]EventRow, 0, len(envs))
	for _, env := range envs {
		row, err := RowFromEnvelope(env)
		if err != nil {
			t.Fatalf("row from envelope: %v", err)
		}
		rows = append(rows, row)
	}
	if err := writer.WriteBatch(ctx, rows); err != nil {
		t.Fatalf("write batch: %v", err)
	}

	// Idempotent: rewriting the same batch is a no-op.
	if err := writer.WriteBatch(ctx, rows); err != nil {
		t.Fatalf("rewrite batch: %v", err)
	}

	var got []event.Envelope
	last, err := ReadEventsFrom(ctx, db, 0, func(env event.Envelope) error {
		got = append(got, env)
		return nil
	})
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	if last != 2 || len(got) != 2 {
		t.Fatalf("read %d events to sequence %d, want 2 to 2", len(got), last)
	}

	dep, ok := got[0].Payload.(*event.Deposited)
	if !ok {
		t.Fatalf("payload type %T, want *Deposited", got[0].Payload)
	}
	if dep.SharesMinted != 1_000_000_000 {
		t.Fatalf("shares = %d", dep.SharesMinted)
	}

	opened, ok := got[1].Payload.(*event.LoanOpened)
	if !ok {
		t.Fatalf("payload type %T, want *LoanOpened", got[1].Payload)
	}
	if opened.LoanID != 1 || got[1].LoanID != 1 {
		t.Fatalf("loan id = %d/%d", opened.LoanID, got[1].LoanID)
	}

	// Reading past the head yields nothing.
	n := 0
	if _, err := ReadEventsFrom(ctx, db, 2, func(event.Envelope) error { n++; return nil }); err != nil {
		t.Fatalf("read from head: %v", err)
	}
	if n != 0 {
		t.Fatalf("read %d events past head", n)
	}
}

func TestWorkerFlushesOnClose(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := NewMigrator(db, "../../migrations", zerolog.Nop()).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	input := make(chan event.Envelope, 16)
	worker := NewWorker(db, input, 100, 50*time.Millisecond, zerolog.Nop(), nil)

	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	actor := uuid.New()
	for i := int64(1); i <= 5; i++ {
		input <- event.Envelope{
			Sequence: i, Type: event.TypeDeposited, Actor: actor, Timestamp: time.Now(),
			Payload: event.Deposited{Account: actor, Amount: i, SharesMinted: i},
		}
	}
	close(input)

	if err := <-done; err != nil {
		t.Fatalf("worker: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM event_log.events").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 5 {
		t.Fatalf("persisted %d events, want 5", count)
	}
}
