package publication

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialflow/internal/clock"
	"socialflow/internal/domain"
)

type fakeQueue struct {
	mu    sync.Mutex
	tasks []domain.Task
	err   error
}

func (q *fakeQueue) Enqueue(_ context.Context, t domain.Task) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.tasks = append(q.tasks, t)
	return "tsk_" + string(rune('a'+len(q.tasks)-1)), nil
}

// pop removes and returns the oldest queued task.
func (q *fakeQueue) pop(t *testing.T) domain.Task {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	require.NotEmpty(t, q.tasks)
	task := q.tasks[0]
	q.tasks = q.tasks[1:]
	return task
}

type fakeStore struct {
	mu      sync.Mutex
	clock   clock.Clock
	authors map[int64]bool
	posts   []domain.Post
}

func (s *fakeStore) CreatePost(_ context.Context, p domain.NewPost) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.authors[p.AuthorID] {
		return 0, domain.ErrNotFound
	}
	id := int64(len(s.posts) + 1)
	s.posts = append(s.posts, domain.Post{
		ID:              id,
		AuthorID:        p.AuthorID,
		Hashtag:         p.Hashtag,
		TextContent:     p.TextContent,
		MediaAttachment: p.MediaAttachment,
		CreatedAt:       s.clock.Now(),
	})
	return id, nil
}

func (s *fakeStore) ResolveAuthor(_ context.Context, id int64) (domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.authors[id] {
		return domain.Profile{}, domain.ErrNotFound
	}
	return domain.Profile{ID: id}, nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.posts)
}

type fixture struct {
	clock *clock.Fake
	queue *fakeQueue
	store *fakeStore
	svc   *Service
}

func newFixture() *fixture {
	clk := clock.NewFake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	q := &fakeQueue{}
	st := &fakeStore{clock: clk, authors: map[int64]bool{1: true}}
	return &fixture{clock: clk, queue: q, store: st, svc: NewService(q, st, st, clk)}
}

func TestImmediatePublication(t *testing.T) {
	past := time.Date(2026, 4, 30, 9, 0, 0, 0, time.UTC)
	for name, publishTime := range map[string]*time.Time{
		"absent": nil,
		"past":   &past,
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture()
			requestedAt := f.clock.Now()

			res, err := f.svc.RequestPublication(context.Background(), Request{
				AuthorID: 1, TextContent: "hello", PublishTime: publishTime,
			})
			require.NoError(t, err)
			assert.False(t, res.Accepted)
			assert.Equal(t, int64(1), res.PostID)
			require.Equal(t, 1, f.store.count())
			assert.False(t, f.store.posts[0].CreatedAt.Before(requestedAt))
			assert.Empty(t, f.queue.tasks)
		})
	}
}

func TestPublishTimeEqualToNowIsImmediate(t *testing.T) {
	f := newFixture()
	res, err := f.svc.RequestPublication(context.Background(), Request{AuthorID: 1, PublishTime: timePtr(f.clock.Now())})
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, 1, f.store.count())
}

func TestFuturePublicationIsDeferred(t *testing.T) {
	f := newFixture()
	publishAt := f.clock.Now().Add(2 * time.Hour)

	res, err := f.svc.RequestPublication(context.Background(), Request{
		AuthorID: 1, Hashtag: "home", TextContent: "hi", PublishTime: timePtr(publishAt),
	})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.NotEmpty(t, res.TaskID)
	assert.Zero(t, res.PostID)
	assert.Equal(t, 0, f.store.count())

	require.Len(t, f.queue.tasks, 1)
	task := f.queue.tasks[0]
	assert.Equal(t, domain.TaskTypePublishPost, task.Type)
	assert.True(t, task.RunAt.Equal(publishAt))
}

func TestDueTaskCreatesExactlyOnePost(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	publishAt := f.clock.Now().Add(time.Hour)

	_, err := f.svc.RequestPublication(ctx, Request{
		AuthorID: 1, Hashtag: "home", TextContent: "hi", PublishTime: timePtr(publishAt),
	})
	require.NoError(t, err)
	task := f.queue.pop(t)

	f.clock.Set(publishAt.Add(3 * time.Second))
	require.NoError(t, f.svc.Handle(ctx, task.Payload))

	require.Equal(t, 1, f.store.count())
	post := f.store.posts[0]
	assert.Equal(t, int64(1), post.AuthorID)
	assert.Equal(t, "home", post.Hashtag)
	assert.Equal(t, "hi", post.TextContent)
	assert.False(t, post.CreatedAt.Before(publishAt))
	assert.Empty(t, f.queue.tasks)
}

func TestEarlyDeliveryRearms(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	publishAt := f.clock.Now().Add(10 * time.Minute)

	_, err := f.svc.RequestPublication(ctx, Request{AuthorID: 1, TextContent: "soon", PublishTime: timePtr(publishAt)})
	require.NoError(t, err)

	// Deliver early three times, each time a bit closer to the publish time.
	for i := 0; i < 3; i++ {
		task := f.queue.pop(t)
		f.clock.Advance(3 * time.Minute)
		require.NoError(t, f.svc.Handle(ctx, task.Payload))

		assert.Equal(t, 0, f.store.count())
		require.Len(t, f.queue.tasks, 1)
		assert.True(t, f.queue.tasks[0].RunAt.Equal(publishAt))
	}

	task := f.queue.pop(t)
	f.clock.Advance(time.Minute)
	require.NoError(t, f.svc.Handle(ctx, task.Payload))

	assert.Equal(t, 1, f.store.count())
	assert.Empty(t, f.queue.tasks)
	assert.False(t, f.store.posts[0].CreatedAt.Before(publishAt))
}

func TestMalformedPublishTime(t *testing.T) {
	for _, raw := range []string{
		"not-a-date", "tomorrow", "2026-13-45T99:00:00Z",
		"1.5", "3/4", "10:30", "2026", "5", "May", "03/04/2026",
	} {
		t.Run(raw, func(t *testing.T) {
			_, err := ParsePublishTime(raw)
			require.Error(t, err)
			assert.True(t, domain.IsValidation(err))
		})
	}
}

func TestParsePublishTime(t *testing.T) {
	got, err := ParsePublishTime("")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = ParsePublishTime("2026-05-01T10:30:00.000000Z")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Equal(time.Date(2026, 5, 1, 10, 30, 0, 0, time.UTC)))

	got, err = ParsePublishTime("2026-05-01T12:30:00+02:00")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, 5, 1, 10, 30, 0, 0, time.UTC)))
	assert.Equal(t, time.UTC, got.Location())

	got, err = ParsePublishTime("2026-05-01 10:30:00")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, 5, 1, 10, 30, 0, 0, time.UTC)))

	got, err = ParsePublishTime("2026-05-01")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)))
}

func TestValidation(t *testing.T) {
	f := newFixture()
	long := make([]byte, domain.MaxTextContentLen+1)
	for i := range long {
		long[i] = 'a'
	}
	for name, req := range map[string]Request{
		"no author":    {TextContent: "x"},
		"long text":    {AuthorID: 1, TextContent: string(long)},
		"long hashtag": {AuthorID: 1, Hashtag: string(long[:domain.MaxHashtagLen+1])},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.RequestPublication(context.Background(), req)
			assert.True(t, domain.IsValidation(err))
		})
	}
	assert.Equal(t, 0, f.store.count())
	assert.Empty(t, f.queue.tasks)
}

func TestQueueUnavailable(t *testing.T) {
	f := newFixture()
	f.queue.err = errors.New("disk I/O error")

	_, err := f.svc.RequestPublication(context.Background(), Request{
		AuthorID: 1, PublishTime: timePtr(f.clock.Now().Add(time.Hour)),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDependencyUnavailable)
	assert.Equal(t, 0, f.store.count())
}

func TestAuthorGoneAtExecution(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	publishAt := f.clock.Now().Add(time.Hour)

	_, err := f.svc.RequestPublication(ctx, Request{AuthorID: 1, PublishTime: timePtr(publishAt)})
	require.NoError(t, err)
	task := f.queue.pop(t)

	delete(f.store.authors, 1)
	f.clock.Set(publishAt)
	err = f.svc.Handle(ctx, task.Payload)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrReferenceGone)
	assert.ErrorIs(t, err, domain.ErrPermanent)
	assert.Equal(t, 0, f.store.count())
	assert.Empty(t, f.queue.tasks)
}

func TestMalformedPayloadIsPermanent(t *testing.T) {
	f := newFixture()
	err := f.svc.Handle(context.Background(), json.RawMessage(`{"author_id":`))
	assert.ErrorIs(t, err, domain.ErrPermanent)

	err = f.svc.Handle(context.Background(), json.RawMessage(`{"author_id":0}`))
	assert.ErrorIs(t, err, domain.ErrPermanent)
}

func timePtr(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}
