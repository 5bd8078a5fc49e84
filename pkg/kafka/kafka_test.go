package kafka

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- fakes ---

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
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

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	closed    int
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) == 0 {
		r.mu.Unlock()
		r.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.queue[0]
	r.queue = r.queue[1:]
	r.mu.Unlock()
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	r.closed++
	r.mu.Unlock()
	return nil
}

func encodedEvent(t *testing.T, id string) []byte {
	t.Helper()
	ev, err := NewEvent("order.confirmed", "order-1", "order", "order-service", map[string]string{"order_id": "order-1"})
	require.NoError(t, err)
	ev.EventID = id
	b, err := ev.Marshal()
	require.NoError(t, err)
	return b
}

// --- Event ---

func TestNewEvent_RoundTrip(t *testing.T) {
	ev, err := NewEvent("promotion.created", "p-1", "promotion", "promotion-service", map[string]int{"priority": 5})
	require.NoError(t, err)
	ev.WithCorrelationID("corr-1").WithMetadata("k", "v")

	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, 1, ev.Version)

	raw, err := ev.Marshal()
	require.NoError(t, err)
	decoded, err := UnmarshalEvent(raw)
	require.NoError(t, err)

	var data map[string]int
	require.NoError(t, decoded.UnmarshalData(&data))
	assert.Equal(t, 5, data["priority"])
	assert.Equal(t, "corr-1", decoded.CorrelationID)
	assert.Equal(t, "v", decoded.Metadata["k"])
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "ouioui.order.confirmed", Topic("order", "confirmed"))
}

// --- Producer ---

func TestProducer_PublishSetsKeyAndHeaders(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w, logger: testLogger()}

	ev, err := NewEvent("promotion.updated", "p-9", "promotion", "promotion-service", nil)
	require.NoError(t, err)
	ev.WithCorrelationID("corr-9")

	require.NoError(t, p.Publish(context.Background(), "ouioui.promotion.updated", ev))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "p-9", string(w.msgs[0].Key))
	assert.Len(t, w.msgs[0].Headers, 3)
}

func TestProducer_PublishError(t *testing.T) {
	p := &Producer{writer: &fakeWriter{err: errors.New("broker down")}, logger: testLogger()}
	ev, _ := NewEvent("promotion.deleted", "p-1", "promotion", "promotion-service", nil)

	err := p.Publish(context.Background(), "ouioui.promotion.deleted", ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestPingBrokers_NoBrokers(t *testing.T) {
	assert.Error(t, PingBrokers(context.Background(), nil))
}

// --- Consumer ---

func TestConsumer_RetriesThenCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := &fakeReader{cancel: cancel, queue: []kafka.Message{
		{Offset: 1, Value: encodedEvent(t, "e1")},
		{Offset: 2, Value: []byte("not json")},
		{Offset: 3, Value: encodedEvent(t, "e3")},
	}}

	calls := map[string]int{}
	handler := func(_ context.Context, ev *Event) error {
		calls[ev.EventID]++
		if ev.EventID == "e3" {
			return errors.New("always failing")
		}
		return nil
	}

	c := newConsumer(r, "ouioui.order.confirmed", "promotions", handler, testLogger())
	c.backoff = time.Millisecond

	require.NoError(t, c.Start(ctx))
	assert.Equal(t, 1, calls["e1"])
	assert.Equal(t, maxHandlerAttempts, calls["e3"])
	assert.Equal(t, []int64{1, 2, 3}, r.committed)
	assert.Equal(t, 1, r.closed)
}

// --- Idempotency ---

func TestMemoryIdempotencyStore_Expiry(t *testing.T) {
	s := NewMemoryIdempotencyStore(time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Add(context.Background(), "e1"))
	seen, err := s.Contains(context.Background(), "e1")
	require.NoError(t, err)
	assert.True(t, seen)

	now = now.Add(2 * time.Minute)
	seen, err = s.Contains(context.Background(), "e1")
	require.NoError(t, err)
	assert.False(t, seen)
	assert.Equal(t, 0, s.Len())
}

func TestRedisIdempotencyStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	s := NewRedisIdempotencyStore(rdb, "promotions:events", time.Hour)
	ctx := context.Background()

	seen, err := s.Contains(ctx, "e1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.Add(ctx, "e1"))
	seen, err = s.Contains(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.True(t, mr.Exists("promotions:events:e1"))

	mr.FastForward(2 * time.Hour)
	seen, err = s.Contains(ctx, "e1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestIdempotentHandler_SkipsDuplicates(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Hour)
	calls := 0
	h := IdempotentHandler(store, func(context.Context, *Event) error {
		calls++
		return nil
	}, testLogger())

	ev := &Event{EventID: "e1", EventType: "order.confirmed"}
	require.NoError(t, h(context.Background(), ev))
	require.NoError(t, h(context.Background(), ev))
	assert.Equal(t, 1, calls)
}

func TestIdempotentHandler_FailureNotRecorded(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Hour)
	h := IdempotentHandler(store, func(context.Context, *Event) error {
		return errors.New("boom")
	}, testLogger())

	require.Error(t, h(context.Background(), &Event{EventID: "e1"}))
	assert.Equal(t, 0, store.Len())
}

type brokenStore struct{}

func (brokenStore) Contains(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}
func (brokenStore) Add(context.Context, string) error { return errors.New("redis down") }

func TestIdempotentHandler_StoreFailureStillProcesses(t *testing.T) {
	calls := 0
	h := IdempotentHandler(brokenStore{}, func(context.Context, *Event) error {
		calls++
		return nil
	}, testLogger())

	require.NoError(t, h(context.Background(), &Event{EventID: "e1"}))
	assert.Equal(t, 1, calls)
}
