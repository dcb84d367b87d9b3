package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/behzadon/livepoll/internal/domain"
	"github.com/behzadon/livepoll/internal/events"
	"github.com/go-redis/redis/v8"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testEvent(topic domain.Topic, seq uint64, votes int64) domain.Event {
	return domain.Event{
		Topic:      topic,
		Sequence:   seq,
		OccurredAt: time.Date(2024, 3, 1, 12, 0, 0, 500, time.UTC),
		Poll: domain.Poll{
			ID:      "p1",
			Title:   "Q",
			Options: []domain.Option{{ID: "o1", Label: "A", VoteCount: votes}},
		},
	}
}

func TestEnvelopeEncodeDecode(t *testing.T) {
	ev := testEvent(domain.TopicVoteCast, 7, 3)

	data, err := Encode(ev)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"poll.voted"`)
	assert.Contains(t, string(data), `"sequence":7`)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, ev.Topic, got.Topic)
	assert.Equal(t, ev.Sequence, got.Sequence)
	assert.True(t, ev.OccurredAt.Equal(got.OccurredAt))
	assert.Equal(t, ev.Poll.Options, got.Poll.Options)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
		is   error
	}{
		{name: "not json", body: "{", is: errMalformed},
		{name: "unknown topic", body: `{"type":"poll.skipped","data":{}}`, is: domain.ErrUnknownTopic},
		{name: "bad timestamp", body: `{"type":"poll.created","timestamp":"yesterday","data":{}}`, is: errMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, errMalformed)
			assert.ErrorIs(t, err, tt.is)
		})
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
	fail   map[uint64]bool
	sent   chan domain.Event
}

func newRecordingSink() *recordingSink {
	return &recordingSink{fail: map[uint64]bool{}, sent: make(chan domain.Event, 64)}
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Send(ctx context.Context, ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent <- ev
	if s.fail[ev.Sequence] {
		return errors.New("broker unavailable")
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) await(t *testing.T) domain.Event {
	t.Helper()
	select {
	case ev := <-s.sent:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relayed event")
		return domain.Event{}
	}
}

func startRelay(t *testing.T, hub *events.Hub, sink Sink) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- New(hub, sink, zap.NewNop()).Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return hub.SubscriberCount(domain.TopicPollCreated) == 1 &&
			hub.SubscriberCount(domain.TopicVoteCast) == 1
	}, 2*time.Second, 5*time.Millisecond)
	return cancel, done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
		return nil
	}
}

func TestRelayForwardsBothTopics(t *testing.T) {
	hub := events.NewHub(events.Options{}, zap.NewNop())
	sink := newRecordingSink()
	cancel, done := startRelay(t, hub, sink)

	poll := domain.Poll{ID: "p1", Options: []domain.Option{{ID: "o1"}}}
	require.NoError(t, hub.Publish(domain.NewPollCreated(poll)))
	created := sink.await(t)
	assert.Equal(t, domain.TopicPollCreated, created.Topic)

	for i := int64(1); i <= 3; i++ {
		poll.Options[0].VoteCount = i
		require.NoError(t, hub.Publish(domain.NewVoteCast(poll)))
	}
	for want := int64(1); want <= 3; want++ {
		ev := sink.await(t)
		assert.Equal(t, domain.TopicVoteCast, ev.Topic)
		assert.Equal(t, uint64(want), ev.Sequence)
		assert.Equal(t, want, ev.Poll.Options[0].VoteCount)
	}

	cancel()
	assert.NoError(t, waitDone(t, done))
}

func TestRelaySurvivesSinkErrors(t *testing.T) {
	hub := events.NewHub(events.Options{}, zap.NewNop())
	sink := newRecordingSink()
	sink.fail[1] = true
	cancel, done := startRelay(t, hub, sink)
	defer cancel()

	poll := domain.Poll{ID: "p1"}
	require.NoError(t, hub.Publish(domain.NewPollCreated(poll)))
	require.NoError(t, hub.Publish(domain.NewPollCreated(poll)))

	sink.await(t)
	sink.await(t)

	sink.mu.Lock()
	require.Len(t, sink.events, 1)
	assert.Equal(t, uint64(2), sink.events[0].Sequence)
	sink.mu.Unlock()

	hub.Close()
	assert.NoError(t, waitDone(t, done))
}

type fakeRedis struct {
	channel string
	message []byte
	err     error
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.message, _ = message.([]byte)
	return redis.NewIntResult(1, f.err)
}

func TestRedisSink(t *testing.T) {
	client := &fakeRedis{}
	sink := NewRedisSink(client, "")

	require.NoError(t, sink.Send(context.Background(), testEvent(domain.TopicPollCreated, 1, 0)))
	assert.Equal(t, DefaultRedisChannel, client.channel)

	ev, err := Decode(client.message)
	require.NoError(t, err)
	assert.Equal(t, domain.TopicPollCreated, ev.Topic)

	client.err = errors.New("connection refused")
	err = sink.Send(context.Background(), testEvent(domain.TopicPollCreated, 2, 0))
	assert.ErrorContains(t, err, "connection refused")
}

type MockChannel struct {
	mock.Mock
}

func (m *MockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	args := m.Called(ctx, exchange, key, msg)
	return args.Error(0)
}

func (m *MockChannel) Close() error {
	return m.Called().Error(0)
}

func TestRabbitMQSinkRoutesByTopic(t *testing.T) {
	ch := new(MockChannel)
	sink := &RabbitMQSink{channel: ch, exchange: "livepoll", logger: zap.NewNop()}

	ch.On("PublishWithContext", mock.Anything, "livepoll", "poll.voted", mock.MatchedBy(func(msg amqp.Publishing) bool {
		ev, err := Decode(msg.Body)
		return err == nil && ev.Sequence == 4 && msg.ContentType == "application/json" && msg.DeliveryMode == amqp.Persistent
	})).Return(nil)
	ch.On("Close").Return(nil)

	require.NoError(t, sink.Send(context.Background(), testEvent(domain.TopicVoteCast, 4, 2)))
	require.NoError(t, sink.Close())
	ch.AssertExpectations(t)
}

func TestRabbitMQSinkPublishError(t *testing.T) {
	ch := new(MockChannel)
	sink := &RabbitMQSink{channel: ch, exchange: "livepoll", logger: zap.NewNop()}
	ch.On("PublishWithContext", mock.Anything, "livepoll", "poll.created", mock.Anything).Return(amqp.ErrClosed)

	err := sink.Send(context.Background(), testEvent(domain.TopicPollCreated, 1, 0))
	assert.ErrorIs(t, err, amqp.ErrClosed)
}

type MockHandler struct {
	mock.Mock
}

func (m *MockHandler) HandlePollCreated(ctx context.Context, poll *domain.Poll) error {
	return m.Called(ctx, poll).Error(0)
}

func (m *MockHandler) HandleVoteCast(ctx context.Context, poll *domain.Poll) error {
	return m.Called(ctx, poll).Error(0)
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("poll created", func(t *testing.T) {
		handler := new(MockHandler)
		handler.On("HandlePollCreated", ctx, mock.MatchedBy(func(p *domain.Poll) bool { return p.ID == "p1" })).Return(nil)

		body, err := Encode(testEvent(domain.TopicPollCreated, 1, 0))
		require.NoError(t, err)
		require.NoError(t, dispatch(ctx, handler, body))
		handler.AssertExpectations(t)
	})

	t.Run("vote cast handler error", func(t *testing.T) {
		handler := new(MockHandler)
		handler.On("HandleVoteCast", ctx, mock.Anything).Return(errors.New("downstream"))

		body, err := Encode(testEvent(domain.TopicVoteCast, 1, 1))
		require.NoError(t, err)
		err = dispatch(ctx, handler, body)
		require.Error(t, err)
		assert.NotErrorIs(t, err, errMalformed)
	})

	t.Run("malformed", func(t *testing.T) {
		handler := new(MockHandler)
		err := dispatch(ctx, handler, []byte("nope"))
		assert.ErrorIs(t, err, errMalformed)
		handler.AssertNotCalled(t, "HandlePollCreated", mock.Anything, mock.Anything)
	})
}
