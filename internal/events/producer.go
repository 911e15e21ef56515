package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/Togather-Foundation/passvault/internal/metrics"
)

const defaultWriteTimeout = 5 * time.Second

var ErrNotConnected = errors.New("event producer is not connected")

// Writer is the part of *kafka.Writer the producer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ProducerConfig struct {
	Brokers      []string
	Topic        string
	ClientID     string
	WriteTimeout time.Duration
}

type ProducerOption func(*Producer)

// WithWriter replaces the Kafka writer, mainly for tests.
func WithWriter(w Writer) ProducerOption {
	return func(p *Producer) { p.writer = w }
}

// Producer publishes entry events keyed by entry id, so all events for one
// entry land on one partition in order.
type Producer struct {
	cfg    ProducerConfig
	logger zerolog.Logger
	now    func() time.Time

	mu     sync.Mutex
	writer Writer
}

func NewProducer(cfg ProducerConfig, logger zerolog.Logger, opts ...ProducerOption) *Producer {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	p := &Producer{
		cfg:    cfg,
		logger: logger.With().Str("component", "event_producer").Str("topic", cfg.Topic).Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Connect prepares the writer and checks that a broker answers. The writer
// is kept when the check fails; kafka-go dials again on the next write.
func (p *Producer) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.writer == nil {
		p.writer = &kafka.Writer{
			Addr:                   kafka.TCP(p.cfg.Brokers...),
			Topic:                  p.cfg.Topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: false,
			BatchTimeout:           10 * time.Millisecond,
			WriteTimeout:           p.cfg.WriteTimeout,
			Transport:              &kafka.Transport{ClientID: p.cfg.ClientID},
		}
	}
	p.mu.Unlock()

	if len(p.cfg.Brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", p.cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("dial kafka broker %s: %w", p.cfg.Brokers[0], err)
	}
	_ = conn.Close()
	p.logger.Info().Strs("brokers", p.cfg.Brokers).Msg("event producer connected")
	return nil
}

// Publish writes one event. The write is detached from the caller's
// cancellation and bounded by the configured write timeout.
func (p *Producer) Publish(ctx context.Context, eventType string, data EntryData) (err error) {
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.EventsPublishedTotal.WithLabelValues(eventType, status).Inc()
	}()

	p.mu.Lock()
	w := p.writer
	p.mu.Unlock()
	if w == nil {
		return ErrNotConnected
	}

	ev, err := NewEntryEvent(eventType, data, p.now())
	if err != nil {
		return err
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.WriteTimeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(data.ID, 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(ev.Type)},
			{Key: HeaderSchemaVersion, Value: []byte(ev.SchemaVersion)},
		},
		Time: ev.At,
	}
	if err := w.WriteMessages(writeCtx, msg); err != nil {
		return fmt.Errorf("publish %s event %s: %w", eventType, ev.EventID, err)
	}

	p.logger.Debug().Str("event_id", ev.EventID).Str("type", eventType).Int64("entry_id", data.ID).Msg("event published")
	return nil
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer == nil {
		return nil
	}
	err := p.writer.Close()
	p.writer = nil
	if err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}

// Discard drops every event. It stands in when Kafka is disabled.
type Discard struct{}

func (Discard) Publish(context.Context, string, EntryData) error { return nil }
