package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/behzadon/livepoll/internal/domain"
	"github.com/behzadon/livepoll/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ev domain.Event) error {
	args := m.Called(ev)
	return args.Error(0)
}

func setupStore(t *testing.T) (*Store, *events.Hub) {
	t.Helper()
	hub := events.NewHub(events.Options{BufferSize: 4096}, zap.NewNop())
	t.Cleanup(hub.Close)
	return NewStore(hub, zap.NewNop()), hub
}

func next(t *testing.T, sub *events.Subscription) domain.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := sub.Next(ctx)
	require.NoError(t, err)
	return ev
}

func TestCreateThenGet(t *testing.T) {
	ctx := context.Background()
	store, _ := setupStore(t)

	created, err := store.Create(ctx, "Q", []string{"A", "B"})
	require.NoError(t, err)

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Q", got.Title)
	require.Len(t, got.Options, 2)
	assert.Equal(t, "A", got.Options[0].Label)
	assert.Equal(t, "B", got.Options[1].Label)
	for _, o := range got.Options {
		assert.Equal(t, int64(0), o.VoteCount)
		assert.NotEmpty(t, o.ID)
	}
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name    string
		title   string
		options []string
		want    []string
		wantErr error
	}{
		{name: "empty title and options", title: "", options: nil, wantErr: domain.ErrInvalidInput},
		{name: "blank title", title: "   ", options: []string{"A"}, wantErr: domain.ErrInvalidInput},
		{name: "only blank options", title: "Q", options: []string{"", "  "}, wantErr: domain.ErrInvalidInput},
		{name: "single option", title: "Q", options: []string{"A"}, want: []string{"A"}},
		{name: "blanks trimmed", title: " Q ", options: []string{" A ", "", "B"}, want: []string{"A", "B"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store, hub := setupStore(t)
			sub, err := hub.Subscribe(domain.TopicPollCreated)
			require.NoError(t, err)

			poll, err := store.Create(ctx, tt.title, tt.options)
			polls, _ := store.List(ctx)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, poll)
				assert.Empty(t, polls, "collection must be unchanged")
				assert.Equal(t, 0, sub.Pending())
				return
			}

			require.NoError(t, err)
			assert.Equal(t, "Q", poll.Title)
			var labels []string
			for _, o := range poll.Options {
				labels = append(labels, o.Label)
			}
			assert.Equal(t, tt.want, labels)
			assert.Len(t, polls, 1)
			assert.Equal(t, poll.ID, next(t, sub).Poll.ID)
		})
	}
}

func TestListNewestFirst(t *testing.T) {
	ctx := context.Background()
	store, _ := setupStore(t)

	first, err := store.Create(ctx, "first", []string{"A"})
	require.NoError(t, err)
	second, err := store.Create(ctx, "second", []string{"A"})
	require.NoError(t, err)

	polls, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, polls, 2)
	assert.Equal(t, second.ID, polls[0].ID)
	assert.Equal(t, first.ID, polls[1].ID)
}

func TestGetUnknownPoll(t *testing.T) {
	store, _ := setupStore(t)
	poll, err := store.Get(context.Background(), "missing")
	assert.Nil(t, poll)
	assert.ErrorIs(t, err, domain.ErrPollNotFound)
}

func TestSnapshotsAreDetached(t *testing.T) {
	ctx := context.Background()
	store, _ := setupStore(t)

	poll, err := store.Create(ctx, "Q", []string{"A"})
	require.NoError(t, err)
	poll.Options[0].VoteCount = 99
	poll.Options[0].Label = "hacked"

	got, err := store.Get(ctx, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Options[0].VoteCount)
	assert.Equal(t, "A", got.Options[0].Label)
}

func TestVoteEmitsPostIncrementSnapshot(t *testing.T) {
	ctx := context.Background()
	store, hub := setupStore(t)

	poll, err := store.Create(ctx, "Q", []string{"A", "B"})
	require.NoError(t, err)

	before, err := hub.Subscribe(domain.TopicVoteCast)
	require.NoError(t, err)

	updated, err := store.Vote(ctx, poll.Options[1].ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Options[1].VoteCount)

	after, err := hub.Subscribe(domain.TopicVoteCast)
	require.NoError(t, err)

	ev := next(t, before)
	assert.Equal(t, domain.TopicVoteCast, ev.Topic)
	assert.Equal(t, poll.ID, ev.Poll.ID)
	assert.Equal(t, int64(0), ev.Poll.Options[0].VoteCount)
	assert.Equal(t, int64(1), ev.Poll.Options[1].VoteCount)
	assert.Equal(t, 0, before.Pending(), "exactly one event")
	assert.Equal(t, 0, after.Pending(), "no replay for late subscribers")

	got, err := store.Get(ctx, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Options[1].VoteCount)
}

func TestVoteUnknownOption(t *testing.T) {
	ctx := context.Background()
	pub := new(MockPublisher)
	pub.On("Publish", mock.MatchedBy(func(ev domain.Event) bool {
		return ev.Topic == domain.TopicPollCreated
	})).Return(nil).Once()
	store := NewStore(pub, zap.NewNop())

	poll, err := store.Create(ctx, "Q", []string{"A"})
	require.NoError(t, err)

	got, err := store.Vote(ctx, "nonexistent-id")
	assert.Nil(t, got)
	assert.ErrorIs(t, err, domain.ErrOptionNotFound)

	after, err := store.Get(ctx, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), after.TotalVotes())
	pub.AssertExpectations(t)
	pub.AssertNumberOfCalls(t, "Publish", 1)
}

func TestConcurrentVotesAreNotLost(t *testing.T) {
	ctx := context.Background()
	store, hub := setupStore(t)

	a, err := store.Create(ctx, "A", []string{"x", "y"})
	require.NoError(t, err)
	b, err := store.Create(ctx, "B", []string{"z"})
	require.NoError(t, err)

	sub, err := hub.Subscribe(domain.TopicVoteCast)
	require.NoError(t, err)

	const workers, perWorker = 16, 100
	targets := []string{a.Options[0].ID, a.Options[1].ID, b.Options[0].ID}

	var wg sync.WaitGroup
	var ok atomic.Int64
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := store.Vote(ctx, targets[(w+i)%len(targets)]); err == nil {
					ok.Add(1)
				}
			}
		}(w)
	}
	wg.Wait()

	gotA, err := store.Get(ctx, a.ID)
	require.NoError(t, err)
	gotB, err := store.Get(ctx, b.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(workers*perWorker), ok.Load())
	assert.Equal(t, ok.Load(), gotA.TotalVotes()+gotB.TotalVotes())
	assert.Equal(t, workers*perWorker, sub.Pending())

	// Events for a single poll arrive in increment order.
	lastTotal := map[string]int64{}
	for i := 0; i < workers*perWorker; i++ {
		ev := next(t, sub)
		total := ev.Poll.TotalVotes()
		assert.Equal(t, lastTotal[ev.Poll.ID]+1, total)
		lastTotal[ev.Poll.ID] = total
	}
}

func TestConcurrentCreatesGetDistinctIDs(t *testing.T) {
	ctx := context.Background()
	store, _ := setupStore(t)

	const n = 200
	var wg sync.WaitGroup
	results := make([]*domain.Poll, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := store.Create(ctx, fmt.Sprintf("poll %d", i), []string{"A", "B", "C"})
			assert.NoError(t, err)
			results[i] = p
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{}, n*4)
	for _, p := range results {
		require.NotNil(t, p)
		ids := []string{p.ID}
		for _, o := range p.Options {
			ids = append(ids, o.ID)
		}
		for _, id := range ids {
			_, dup := seen[id]
			assert.False(t, dup, "duplicate id %s", id)
			seen[id] = struct{}{}
		}
	}

	polls, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, polls, n)
}

func TestIDCollisionsAreRegenerated(t *testing.T) {
	ctx := context.Background()
	seq := []string{"dup", "dup", "dup", "o2", "dup", "o3"}
	var i int
	gen := func() string {
		id := seq[i%len(seq)]
		i++
		return id
	}

	hub := events.NewHub(events.Options{}, zap.NewNop())
	defer hub.Close()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(hub, zap.NewNop(), WithIDGenerator(gen), WithClock(func() time.Time { return fixed }))

	p, err := store.Create(ctx, "Q", []string{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, fixed, p.CreatedAt)
	assert.Equal(t, "dup", p.ID)
	assert.Equal(t, "o2", p.Options[0].ID)
	assert.Equal(t, "o3", p.Options[1].ID)
}

func TestCancelledContext(t *testing.T) {
	store, _ := setupStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Create(ctx, "Q", []string{"A"})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = store.Vote(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
