package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	priceStream     = "EQUATION_PRICES"
	priceSubjects   = "equation.prices.>"
	priceConsumer   = "engine-prices"
	priceSubjPrefix = "equation.prices."
)

// PriceUpdate is the wire form of one tick. Prices are decimal strings;
// sequence orders ticks per market.
type PriceUpdate struct {
	MinPriceX96 string `json:"min_price_x96"`
	MaxPriceX96 string `json:"max_price_x96"`
	Sequence    uint64 `json:"sequence"`
}

// Subscriber consumes price ticks from JetStream and routes them to the
// per-market feeds. Subjects carry the pool ID as the last token.
type Subscriber struct {
	js  jetstream.JetStream
	log zerolog.Logger

	mu    sync.RWMutex
	feeds map[uuid.UUID]*Feed

	consumer jetstream.ConsumeContext
}

func NewSubscriber(js jetstream.JetStream, logger zerolog.Logger) *Subscriber {
	return &Subscriber{
		js:    js,
		log:   logger.With().Str("component", "price_feed").Logger(),
		feeds: make(map[uuid.UUID]*Feed),
	}
}

// Register creates the feed for a pool and returns it. Ticks for
// unregistered pools are acked and dropped.
func (s *Subscriber) Register(poolID uuid.UUID) *Feed {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.feeds[poolID]
	if !ok {
		f = NewFeed()
		s.feeds[poolID] = f
	}
	return f
}

func (s *Subscriber) feed(poolID uuid.UUID) *Feed {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.feeds[poolID]
}

// Subscribe creates the durable consumer and starts delivery. Every tick
// is acked: prices are latest-wins, redelivering an old tick buys nothing.
func (s *Subscriber) Subscribe(ctx context.Context) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, priceStream, jetstream.ConsumerConfig{
		Durable:       priceConsumer,
		FilterSubject: priceSubjects,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    1,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", priceConsumer, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		defer msg.Ack()
		s.apply(msg.Subject(), msg.Data())
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", priceConsumer, err)
	}

	s.consumer = cc
	s.log.Info().Str("subject", priceSubjects).Msg("subscribed to price ticks")
	return nil
}

func (s *Subscriber) apply(subject string, data []byte) {
	poolID, err := uuid.Parse(strings.TrimPrefix(subject, priceSubjPrefix))
	if err != nil {
		s.log.Warn().Str("subject", subject).Msg("price tick with malformed pool id")
		return
	}

	f := s.feed(poolID)
	if f == nil {
		return
	}

	var u PriceUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		s.log.Warn().Err(err).Str("subject", subject).Msg("unparseable price tick")
		return
	}

	minX96, err := uint256.FromDecimal(u.MinPriceX96)
	if err != nil {
		s.log.Warn().Err(err).Str("subject", subject).Msg("bad min price")
		return
	}
	maxX96, err := uint256.FromDecimal(u.MaxPriceX96)
	if err != nil {
		s.log.Warn().Err(err).Str("subject", subject).Msg("bad max price")
		return
	}

	if err := f.Set(minX96, maxX96, u.Sequence); err != nil {
		s.log.Warn().Err(err).Str("subject", subject).Msg("rejected price tick")
	}
}

// Stop halts delivery.
func (s *Subscriber) Stop() {
	if s.consumer != nil {
		s.consumer.Stop()
	}
	s.log.Info().Msg("price feed subscriber stopped")
}

// EnsurePriceStream creates the inbound price stream if it does not exist.
func EnsurePriceStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      priceStream,
		Subjects:  []string{priceSubjects},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", priceStream, err)
	}
	return nil
}
