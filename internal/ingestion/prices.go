package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/marwinsteiner/lendflow/internal/observability"
	"github.com/marwinsteiner/lendflow/internal/oracle"
)

// PriceMessage is the wire format on lendflow.prices.<asset>.
type PriceMessage struct {
	Asset       string `json:"asset"`
	Price       int64  `json:"price"`        // USDC per whole unit, ppm-scaled
	TimestampUS int64  `json:"timestamp_us"` // source time, microseconds since epoch
}

// PriceSubscriber consumes price updates from JetStream and pushes them
// into the oracle feed. Rejected updates (bad asset, non-positive price,
// out-of-order timestamp) are ACKed anyway: redelivering a bad or
// superseded price can never make it good.
type PriceSubscriber struct {
	js       jetstream.JetStream
	feed     *oracle.Feed
	consumer jetstream.ConsumeContext
	log      zerolog.Logger
	metrics  *observability.Metrics
}

func NewPriceSubscriber(js jetstream.JetStream, feed *oracle.Feed, log zerolog.Logger, metrics *observability.Metrics) *PriceSubscriber {
	return &PriceSubscriber{
		js:      js,
		feed:    feed,
		log:     log,
		metrics: metrics,
	}
}

// Subscribe creates a durable JetStream consumer on the price stream.
func (ps *PriceSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ps.js.CreateOrUpdateConsumer(ctx, PriceStream, jetstream.ConsumerConfig{
		Durable:       "lendflow-prices",
		FilterSubject: PriceSubjects,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create price consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		ps.handle(msg)
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume prices: %w", err)
	}

	ps.consumer = cc
	ps.log.Info().Str("subject", PriceSubjects).Msg("subscribed to price feed")
	return nil
}

func (ps *PriceSubscriber) handle(msg jetstream.Msg) {
	var pm PriceMessage
	if err := json.Unmarshal(msg.Data(), &pm); err != nil {
		ps.reject("unknown", "decode", err)
		return
	}

	asset, err := oracle.ParseAsset(pm.Asset)
	if err != nil {
		ps.reject(pm.Asset, "asset", err)
		return
	}

	snap := oracle.PriceSnapshot{
		Asset:     asset,
		Price:     pm.Price,
		Timestamp: time.UnixMicro(pm.TimestampUS),
	}
	if err := ps.feed.Update(snap); err != nil {
		ps.reject(pm.Asset, "update", err)
		return
	}

	if ps.metrics != nil {
		ps.metrics.PriceUpdates.WithLabelValues(pm.Asset).Inc()
	}
	ps.log.Debug().Str("asset", pm.Asset).Int64("price", pm.Price).Msg("price accepted")
}

func (ps *PriceSubscriber) reject(asset, reason string, err error) {
	if ps.metrics != nil {
		ps.metrics.PriceRejected.WithLabelValues(asset, reason).Inc()
	}
	ps.log.Warn().Str("asset", asset).Str("reason", reason).Err(err).Msg("price rejected")
}

// Stop stops the consumer.
func (ps *PriceSubscriber) Stop() {
	if ps.consumer != nil {
		ps.consumer.Stop()
	}
}
