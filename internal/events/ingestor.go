package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/Togather-Foundation/passvault/internal/metrics"
	"github.com/Togather-Foundation/passvault/internal/storage"
)

const (
	maxErrorDetail = 500

	defaultRetryBase = 100 * time.Millisecond
	defaultRetryMax  = 10 * time.Second
)

type Outcome int

const (
	// Stored means a new audit row was written.
	Stored Outcome = iota
	// Duplicate means the event id was already recorded.
	Duplicate
	// DeadLettered means a dead-letter row was written instead.
	DeadLettered
	// Aborted means the context ended before anything was persisted. The
	// message must not be committed.
	Aborted
)

func (o Outcome) String() string {
	switch o {
	case Stored:
		return "ingested"
	case Duplicate:
		return "duplicate"
	case DeadLettered:
		return "dead_lettered"
	default:
		return "aborted"
	}
}

type IngestorOption func(*Ingestor)

// WithRetryBackoff sets the dead-letter retry backoff bounds.
func WithRetryBackoff(base, maxDelay time.Duration) IngestorOption {
	return func(in *Ingestor) {
		in.retryBase = base
		in.retryMax = maxDelay
	}
}

// WithClock overrides the receive-time clock.
func WithClock(now func() time.Time) IngestorOption {
	return func(in *Ingestor) { in.now = now }
}

// IngestorStatus is reported by the storage health endpoint.
type IngestorStatus struct {
	Running      bool  `json:"running"`
	Stored       int64 `json:"stored"`
	Duplicates   int64 `json:"duplicates"`
	DeadLettered int64 `json:"deadLettered"`
}

// Ingestor writes consumed events to the audit log, once per event id.
// Messages are handled one at a time, so per-partition order is kept.
type Ingestor struct {
	repo      storage.AuditRepository
	logger    zerolog.Logger
	now       func() time.Time
	retryBase time.Duration
	retryMax  time.Duration

	running      atomic.Bool
	stored       atomic.Int64
	duplicates   atomic.Int64
	deadLettered atomic.Int64
}

func NewIngestor(repo storage.AuditRepository, logger zerolog.Logger, opts ...IngestorOption) *Ingestor {
	in := &Ingestor{
		repo:      repo,
		logger:    logger.With().Str("component", "event_ingestor").Logger(),
		now:       time.Now,
		retryBase: defaultRetryBase,
		retryMax:  defaultRetryMax,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

func (in *Ingestor) Status() IngestorStatus {
	return IngestorStatus{
		Running:      in.running.Load(),
		Stored:       in.stored.Load(),
		Duplicates:   in.duplicates.Load(),
		DeadLettered: in.deadLettered.Load(),
	}
}

// Run consumes src until ctx ends or src is closed. A message is committed
// only after its audit or dead-letter row is persisted.
func (in *Ingestor) Run(ctx context.Context, src Source) error {
	in.running.Store(true)
	defer in.running.Store(false)
	in.logger.Info().Msg("event ingestor started")

	for {
		msg, err := src.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				in.logger.Info().Msg("event ingestor stopped")
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		if in.Handle(ctx, msg) == Aborted {
			in.logger.Info().Msg("event ingestor stopped")
			return nil
		}

		if err := src.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// The message is redelivered later and deduplicated then.
			in.logger.Error().Err(err).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("commit failed")
		}
	}
}

// Handle persists one message as an audit row, or as a dead-letter row when
// it is malformed or cannot be stored.
func (in *Ingestor) Handle(ctx context.Context, msg kafka.Message) Outcome {
	start := time.Now()
	outcome := in.handle(ctx, msg)

	metrics.EventIngestDuration.Observe(time.Since(start).Seconds())
	metrics.EventsIngestedTotal.WithLabelValues(outcome.String()).Inc()
	switch outcome {
	case Stored:
		in.stored.Add(1)
	case Duplicate:
		in.duplicates.Add(1)
	case DeadLettered:
		in.deadLettered.Add(1)
	}
	return outcome
}

func (in *Ingestor) handle(ctx context.Context, msg kafka.Message) Outcome {
	log := in.logger.With().
		Str("topic", msg.Topic).
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Logger()

	ev, err := Parse(msg.Value)
	if err != nil {
		log.Warn().Err(err).Msg("malformed event")
		return in.deadLetter(ctx, msg, err, log)
	}

	inserted, err := in.repo.InsertIfAbsent(ctx, storage.AuditEvent{
		EventID:    ev.EventID,
		Type:       ev.Type,
		OccurredAt: ev.At,
		Payload:    string(msg.Value),
		ReceivedAt: in.now(),
	})
	if err != nil {
		if ctx.Err() != nil {
			return Aborted
		}
		log.Error().Err(err).Str("event_id", ev.EventID).Msg("store event")
		return in.deadLetter(ctx, msg, fmt.Errorf("store event %s: %w", ev.EventID, err), log)
	}
	if !inserted {
		log.Debug().Str("event_id", ev.EventID).Msg("duplicate event skipped")
		return Duplicate
	}

	log.Debug().Str("event_id", ev.EventID).Str("type", ev.Type).Msg("event stored")
	return Stored
}

// deadLetter retries until the row is stored or ctx ends. The row id is fixed
// up front so a retried insert cannot produce two rows.
func (in *Ingestor) deadLetter(ctx context.Context, msg kafka.Message, cause error, log zerolog.Logger) Outcome {
	detail := truncate(cause.Error(), maxErrorDetail)
	occurred := msg.Time
	if occurred.IsZero() {
		occurred = in.now()
	}
	row := storage.AuditEvent{
		EventID:     "dlq-" + ulid.Make().String(),
		Type:        TypeDeadLetter,
		OccurredAt:  occurred,
		Payload:     string(msg.Value),
		ReceivedAt:  in.now(),
		ErrorDetail: &detail,
	}

	backoff := in.retryBase
	for {
		_, err := in.repo.InsertIfAbsent(ctx, row)
		if err == nil {
			log.Warn().Str("event_id", row.EventID).Str("error_detail", detail).Msg("message dead-lettered")
			return DeadLettered
		}
		if ctx.Err() != nil {
			return Aborted
		}
		log.Error().Err(err).Dur("retry_in", backoff).Msg("store dead-letter row")

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return Aborted
		case <-t.C:
		}
		backoff = min(backoff*2, in.retryMax)
	}
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
