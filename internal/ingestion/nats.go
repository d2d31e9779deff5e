// Package ingestion connects the protocol to NATS JetStream: inbound
// price updates for the oracle and outbound protocol events for
// downstream consumers.
package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	PriceStream   = "LENDFLOW_PRICES"
	PriceSubjects = "lendflow.prices.>"

	EventStream   = "LENDFLOW_EVENTS"
	EventSubjects = "lendflow.events.>"
)

// ConnectNATS establishes a NATS connection and returns a JetStream
// context. Reconnects indefinitely.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}

// EnsureStreams creates the required JetStream streams if they don't
// exist. Streams use FileStorage with limits-based retention.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      PriceStream,
			Subjects:  []string{PriceSubjects},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      EventStream,
			Subjects:  []string{EventSubjects},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}
