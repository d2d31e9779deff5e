package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/marwinsteiner/lendflow/internal/event"
	"github.com/marwinsteiner/lendflow/internal/observability"
)

// Worker drains the persist channel and batch-writes the event log.
// The controller sends on this channel blocking, so if the worker falls
// behind, mutations stall rather than lose a durable record.
type Worker struct {
	writer       *EventLogWriter
	input        <-chan event.Envelope
	batchSize    int
	flushTimeout time.Duration
	log          zerolog.Logger
	metrics      *observability.Metrics
}

func NewWorker(
	db *sql.DB,
	input <-chan event.Envelope,
	batchSize int,
	flushTimeout time.Duration,
	log zerolog.Logger,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		writer:       NewEventLogWriter(db),
		input:        input,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		log:          log,
		metrics:      metrics,
	}
}

// Run batches incoming events and flushes when the batch is full or the
// flush timeout expires. Blocks until ctx is cancelled or the input
// channel is closed; either way the pending batch is flushed first.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]EventRow, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := w.flush(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Int("events", len(batch)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case env, ok := <-w.input:
			if !ok {
				if len(batch) > 0 {
					if err := w.flush(context.Background(), batch); err != nil {
						w.log.Error().Err(err).Int("events", len(batch)).Msg("final flush failed")
					}
				}
				return nil
			}

			row, err := RowFromEnvelope(env)
			if err != nil {
				// An unmarshalable payload is a programming error; the log
				// must not silently skip a sequence.
				w.log.Error().Err(err).Int64("sequence", env.Sequence).Msg("drop unencodable event")
				if w.metrics != nil {
					w.metrics.PersistErrors.WithLabelValues("encode").Inc()
				}
				continue
			}
			batch = append(batch, row)

			if len(batch) >= w.batchSize {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write
// succeeds or the context is cancelled. The worker never drops a batch;
// on shutdown it makes one final attempt with a background context.
func (w *Worker) flushWithRetry(ctx context.Context, rows []EventRow) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.log.Warn().Int("attempt", attempt).Dur("backoff", backoff).
				Int("events", len(rows)).Msg("persistence retry")
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), rows); err != nil {
					w.log.Error().Err(err).Int("events", len(rows)).Msg("final flush on shutdown failed")
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, rows)
		if err == nil {
			if attempt > 0 {
				w.log.Info().Int("attempts", attempt).Msg("persistence flush recovered")
			}
			return
		}

		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (w *Worker) flush(ctx context.Context, rows []EventRow) error {
	start := time.Now()

	if err := w.writer.WriteBatch(ctx, rows); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(rows)))
		w.metrics.PersistEventsWritten.Add(float64(len(rows)))
	}
	return nil
}
