package ingestion

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/marwinsteiner/lendflow/internal/event"
)

// OutboundPublisher publishes committed protocol events for downstream
// consumers on lendflow.events.<type>. Publish failures are non-fatal:
// consumers can always rebuild from the Postgres event log.
type OutboundPublisher struct {
	js    jetstream.JetStream
	input <-chan event.Envelope
	log   zerolog.Logger
}

func NewOutboundPublisher(js jetstream.JetStream, input <-chan event.Envelope, log zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:    js,
		input: input,
		log:   log,
	}
}

// Run drains the publish channel until ctx is cancelled or the channel
// closes.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-op.input:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, env); err != nil {
				op.log.Warn().Err(err).Int64("sequence", env.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, env event.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	subject := fmt.Sprintf("lendflow.events.%s", env.Type)
	_, err = op.js.Publish(ctx, subject, data)
	return err
}
