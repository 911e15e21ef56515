package events

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Source yields messages and commits them once handled. *kafka.Reader
// satisfies it.
type Source interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topic    string
	ClientID string
}

// NewReader builds a consumer-group reader with synchronous commits. New
// groups start at the end of the topic.
func NewReader(cfg ConsumerConfig, logger zerolog.Logger) *kafka.Reader {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	log := logger.With().Str("component", "kafka_reader").Logger()
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		GroupID: cfg.GroupID,
		Topic:   cfg.Topic,
		Dialer: &kafka.Dialer{
			ClientID:  cfg.ClientID,
			Timeout:   10 * time.Second,
			DualStack: true,
		},
		MinBytes:          1,
		MaxBytes:          10e6,
		MaxWait:           time.Second,
		CommitInterval:    0,
		StartOffset:       kafka.LastOffset,
		SessionTimeout:    30 * time.Second,
		HeartbeatInterval: 3 * time.Second,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error().Msgf(msg, args...)
		}),
	})
}
