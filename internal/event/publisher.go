package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Publisher pushes engine events to NATS JetStream for downstream
// consumers (indexers, keeper bots, dashboards). Publishing is best
// effort: a failed publish is logged and dropped, consumers that need a
// complete history read the persisted event log instead.
// Subjects follow the pattern equation.engine.events.{type}[.{pool_id}].
type Publisher struct {
	js    jetstream.JetStream
	input <-chan Envelope
	log   zerolog.Logger
}

func NewPublisher(js jetstream.JetStream, input <-chan Envelope, logger zerolog.Logger) *Publisher {
	return &Publisher{
		js:    js,
		input: input,
		log:   logger.With().Str("component", "publisher").Logger(),
	}
}

// Run drains the input channel until it closes or ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-p.input:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, env); err != nil {
				p.log.Warn().
					Int64("sequence", env.Sequence).
					Str("type", env.Type.String()).
					Err(err).
					Msg("outbound publish failed")
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	subject := fmt.Sprintf("equation.engine.events.%s", env.Type)
	if env.PoolID != nil {
		subject = fmt.Sprintf("%s.%s", subject, env.PoolID)
	}

	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureStream creates or updates the outbound events stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "EQUATION_ENGINE_EVENTS",
		Subjects:  []string{"equation.engine.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
