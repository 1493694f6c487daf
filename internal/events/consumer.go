package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"voice-companion-client/internal/models"
)

var ErrUnknownEvent = errors.New("unknown session event")

// Record is one decoded session event read back from Kafka. Exactly one of
// Lifecycle and State is set.
type Record struct {
	Topic     string                   `json:"topic"`
	Offset    int64                    `json:"offset"`
	Key       string                   `json:"key"`
	EventType string                   `json:"eventType"`
	Principal string                   `json:"principal,omitempty"`
	Lifecycle *models.SessionLifecycle `json:"lifecycle,omitempty"`
	State     *models.StateChanged     `json:"state,omitempty"`
}

// Decode turns a published message into a record, using the payload's own
// eventType to pick the shape.
func Decode(msg kafka.Message) (Record, error) {
	var head struct {
		EventType string `json:"eventType"`
	}
	if err := json.Unmarshal(msg.Value, &head); err != nil {
		return Record{}, fmt.Errorf("decode event: %w", err)
	}

	rec := Record{
		Topic:     msg.Topic,
		Offset:    msg.Offset,
		Key:       string(msg.Key),
		EventType: head.EventType,
	}
	for _, h := range msg.Headers {
		if h.Key == "principal" {
			rec.Principal = string(h.Value)
		}
	}

	switch head.EventType {
	case models.EventSessionStarted, models.EventSessionFailed, models.EventSessionClosed:
		var ev models.SessionLifecycle
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			return Record{}, fmt.Errorf("decode lifecycle event: %w", err)
		}
		rec.Lifecycle = &ev
	case models.EventStateChanged:
		var ev models.StateChanged
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			return Record{}, fmt.Errorf("decode state event: %w", err)
		}
		rec.State = &ev
	default:
		return Record{}, fmt.Errorf("%w: %q", ErrUnknownEvent, head.EventType)
	}
	return rec, nil
}

// ConsumerConfig selects the topics to tail.
type ConsumerConfig struct {
	Brokers []string
	Topics  []string
	// Since rewinds each partition reader to this long ago.
	Since time.Duration
}

// Consumer tails the session event topics, one partition-0 reader per topic
// so it works without a consumer group.
type Consumer struct {
	cfg ConsumerConfig
}

// NewConsumer creates a consumer.
func NewConsumer(cfg ConsumerConfig) *Consumer {
	return &Consumer{cfg: cfg}
}

// Tail reads every topic until ctx ends, handing decoded records to fn.
// Undecodable messages are logged and skipped.
func (c *Consumer) Tail(ctx context.Context, fn func(Record)) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, topic := range c.cfg.Topics {
		g.Go(func() error {
			return c.tailTopic(gctx, topic, fn)
		})
	}
	return g.Wait()
}

func (c *Consumer) tailTopic(ctx context.Context, topic string, fn func(Record)) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   c.cfg.Brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if c.cfg.Since > 0 {
		if err := reader.SetOffsetAt(ctx, time.Now().Add(-c.cfg.Since)); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Failed to rewind reader")
		}
	}
	log.Info().Str("topic", topic).Dur("since", c.cfg.Since).Msg("Tailing session events")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Str("topic", topic).Msg("Kafka read error")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		rec, err := Decode(msg)
		if err != nil {
			log.Warn().Err(err).Str("topic", topic).Int64("offset", msg.Offset).Msg("Skipping event")
			continue
		}
		fn(rec)
	}
}
