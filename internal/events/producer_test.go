package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestProducer_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducer(ProducerConfig{}, zerolog.Nop(), WithWriter(w))

	err := p.Publish(context.Background(), TypeUpdated, EntryData{ID: 42, Title: "Gmail", Username: "alice", Category: "email"})
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "42", string(msg.Key))
	assert.Equal(t, TypeUpdated, header(msg, HeaderEventType))
	assert.Equal(t, SchemaVersion, header(msg, HeaderSchemaVersion))

	ev, err := Parse(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, TypeUpdated, ev.Type)
	assert.JSONEq(t, `{"id":42,"title":"Gmail","username":"alice","category":"email"}`, string(ev.Data))
}

func TestProducer_DistinctEventIDs(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducer(ProducerConfig{}, zerolog.Nop(), WithWriter(w))

	for i := 0; i < 2; i++ {
		require.NoError(t, p.Publish(context.Background(), TypeCreated, EntryData{ID: 1}))
	}
	a, err := Parse(w.msgs[0].Value)
	require.NoError(t, err)
	b, err := Parse(w.msgs[1].Value)
	require.NoError(t, err)
	assert.NotEqual(t, a.EventID, b.EventID)
}

func TestProducer_Errors(t *testing.T) {
	p := NewProducer(ProducerConfig{}, zerolog.Nop())
	assert.ErrorIs(t, p.Publish(context.Background(), TypeCreated, EntryData{ID: 1}), ErrNotConnected)

	w := &fakeWriter{err: errors.New("leader not available")}
	p = NewProducer(ProducerConfig{}, zerolog.Nop(), WithWriter(w))
	err := p.Publish(context.Background(), TypeDeleted, EntryData{ID: 1})
	assert.ErrorContains(t, err, "leader not available")

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
	assert.ErrorIs(t, p.Publish(context.Background(), TypeCreated, EntryData{ID: 1}), ErrNotConnected)
}

func TestProducer_PublishIgnoresCallerCancellation(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducer(ProducerConfig{}, zerolog.Nop(), WithWriter(w))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.Publish(ctx, TypeCreated, EntryData{ID: 3}))
	assert.Len(t, w.msgs, 1)
}

func TestProducer_ConnectWithoutBrokers(t *testing.T) {
	p := NewProducer(ProducerConfig{}, zerolog.Nop())
	assert.Error(t, p.Connect(context.Background()))
	require.NoError(t, p.Close())
}

func TestDiscard(t *testing.T) {
	assert.NoError(t, Discard{}.Publish(context.Background(), TypeCreated, EntryData{}))
}
