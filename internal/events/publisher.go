// Package events publishes voice session lifecycle and state telemetry.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"voice-companion-client/internal/models"
	"voice-companion-client/internal/observability/metrics"
)

// Publisher writes session events to the lifecycle and state topics. With
// Kafka disabled it only logs.
type Publisher struct {
	writerLifecycle *kafka.Writer
	writerState     *kafka.Writer
	principal       string
	topicLifecycle  string
	topicState      string
	enabled         bool
	metrics         *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers        []string
	TopicLifecycle string
	TopicState     string
	Principal      string
	Enabled        bool
}

// New creates a publisher. A nil or disabled config yields log-only mode.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{metrics: m}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:      cfg.Principal,
			topicLifecycle: cfg.TopicLifecycle,
			topicState:     cfg.TopicState,
			metrics:        m,
		}
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	p := &Publisher{
		principal:      cfg.Principal,
		topicLifecycle: cfg.TopicLifecycle,
		topicState:     cfg.TopicState,
		enabled:        true,
		metrics:        m,
	}
	p.writerLifecycle = p.newWriter(cfg.Brokers, cfg.TopicLifecycle, "lifecycle", transport)
	p.writerState = p.newWriter(cfg.Brokers, cfg.TopicState, "state", transport)

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicLifecycle", cfg.TopicLifecycle).
		Str("topicState", cfg.TopicState).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return p
}

// newWriter returns an async writer so publishing never blocks the session
// loop. Delivery outcomes are recorded on completion.
func (p *Publisher) newWriter(brokers []string, topic, eventType string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Transport:    transport,
		Completion: func(messages []kafka.Message, err error) {
			for range messages {
				p.metrics.RecordKafkaPublish(topic, eventType, err, 0)
			}
			if err != nil {
				log.Error().Err(err).Str("topic", topic).Int("messages", len(messages)).Msg("Failed to write to Kafka")
			}
		},
	}
}

// Enabled reports whether events go to Kafka.
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// PublishLifecycle publishes a session started/failed/closed event keyed by
// client ID, so one client's events stay ordered.
func (p *Publisher) PublishLifecycle(ctx context.Context, ev models.SessionLifecycle) error {
	return p.publish(ctx, p.writerLifecycle, p.topicLifecycle, "lifecycle", ev.ClientID, ev)
}

// PublishState publishes a state transition keyed by client ID.
func (p *Publisher) PublishState(ctx context.Context, ev models.StateChanged) error {
	return p.publish(ctx, p.writerState, p.topicState, "state", ev.ClientID, ev)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to enqueue Kafka message")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}
	return nil
}

// Close flushes and closes both writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerLifecycle != nil {
		if e := p.writerLifecycle.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing lifecycle writer")
			err = e
		}
	}
	if p.writerState != nil {
		if e := p.writerState.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing state writer")
			err = e
		}
	}
	return err
}
