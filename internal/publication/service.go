// Package publication creates posts immediately or defers their creation to a
// requested publish time through the durable task queue.
package publication

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"socialflow/internal/clock"
	"socialflow/internal/domain"
)

// Queue accepts a unit of work to run no earlier than task.RunAt.
type Queue interface {
	Enqueue(ctx context.Context, t domain.Task) (string, error)
}

// PostStore durably records posts. CreatePost fails with domain.ErrNotFound
// when the author does not exist.
type PostStore interface {
	CreatePost(ctx context.Context, p domain.NewPost) (int64, error)
}

// AuthorResolver confirms that an author reference still exists.
type AuthorResolver interface {
	ResolveAuthor(ctx context.Context, authorID int64) (domain.Profile, error)
}

// Result of a publication request: either a created post or an accepted
// deferred task.
type Result struct {
	PostID   int64
	Accepted bool
	TaskID   string
}

type Service struct {
	queue   Queue
	posts   PostStore
	authors AuthorResolver
	clock   clock.Clock
}

func NewService(q Queue, posts PostStore, authors AuthorResolver, clk clock.Clock) *Service {
	return &Service{queue: q, posts: posts, authors: authors, clock: clk}
}

// RequestPublication creates the post now when its publish time is absent or
// already reached, and otherwise queues it for PublishTime without creating
// anything.
func (s *Service) RequestPublication(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	now := s.clock.Now()
	if d := req.delay(now); d > 0 {
		taskID, err := s.enqueue(ctx, req)
		if err != nil {
			return Result{}, err
		}
		log.Info().
			Str("task_id", taskID).
			Int64("author_id", req.AuthorID).
			Time("publish_time", *req.PublishTime).
			Dur("delay", d).
			Msg("post publication deferred")
		return Result{Accepted: true, TaskID: taskID}, nil
	}

	id, err := s.posts.CreatePost(ctx, req.newPost())
	if err != nil {
		return Result{}, fmt.Errorf("create post: %w", err)
	}
	return Result{PostID: id}, nil
}

// Handle is the execution step of a deferred publication. The queue may
// deliver early, so the delay is evaluated again: an early task is re-armed
// for the same publish time and nothing is created.
func (s *Service) Handle(ctx context.Context, payload json.RawMessage) error {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decode publication payload: %w: %w", err, domain.ErrPermanent)
	}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid publication payload: %w: %w", err, domain.ErrPermanent)
	}

	now := s.clock.Now()
	if d := req.delay(now); d > 0 {
		taskID, err := s.enqueue(ctx, req)
		if err != nil {
			return err
		}
		log.Info().
			Str("task_id", taskID).
			Time("publish_time", *req.PublishTime).
			Dur("early_by", d).
			Msg("publication delivered early, re-armed")
		return nil
	}

	if _, err := s.authors.ResolveAuthor(ctx, req.AuthorID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("author %d: %w", req.AuthorID, domain.ErrReferenceGone)
		}
		return fmt.Errorf("resolve author %d: %w", req.AuthorID, err)
	}

	id, err := s.posts.CreatePost(ctx, req.newPost())
	if err != nil {
		// The author may vanish between resolution and insert.
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("author %d: %w", req.AuthorID, domain.ErrReferenceGone)
		}
		return fmt.Errorf("create post: %w", err)
	}

	ev := log.Info().Int64("post_id", id).Int64("author_id", req.AuthorID)
	if req.PublishTime != nil {
		ev = ev.Time("publish_time", *req.PublishTime).Dur("late_by", now.Sub(*req.PublishTime))
	}
	ev.Msg("deferred post published")
	return nil
}

func (s *Service) enqueue(ctx context.Context, req Request) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode publication payload: %w", err)
	}
	taskID, err := s.queue.Enqueue(ctx, domain.Task{
		Type:    domain.TaskTypePublishPost,
		Payload: payload,
		RunAt:   req.PublishTime.UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("enqueue publication: %w: %w", domain.ErrDependencyUnavailable, err)
	}
	return taskID, nil
}
