package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"socialflow/internal/domain"
	"socialflow/internal/queue"
)

type Handler interface {
	Handle(ctx context.Context, payload json.RawMessage) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) error

func (f HandlerFunc) Handle(ctx context.Context, payload json.RawMessage) error { return f(ctx, payload) }

type Pool struct {
	repo      queue.Repository
	handlers  map[string]Handler
	sem       chan struct{}
	pollEvery time.Duration
	wg        sync.WaitGroup
}

func NewPool(repo queue.Repository, handlers map[string]Handler, size int, pollEvery time.Duration) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{repo: repo, handlers: handlers, sem: make(chan struct{}, size), pollEvery: pollEvery}
}

// Run polls the queue until ctx is done, then waits for in-flight tasks.
func (p *Pool) Run(ctx context.Context) {
	t := time.NewTicker(p.pollEvery)
	defer t.Stop()
	defer p.wg.Wait()

	log.Info().Int("workers", cap(p.sem)).Dur("poll", p.pollEvery).Msg("worker pool started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("worker pool stopping")
			return
		case now := <-t.C:
			p.drain(ctx, now.UTC())
		}
	}
}

// drain leases and dispatches every task due at now.
func (p *Pool) drain(ctx context.Context, now time.Time) {
	for {
		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		task, _, err := p.repo.LeaseNext(ctx, now)
		if err != nil {
			<-p.sem
			if !errors.Is(err, queue.ErrEmpty) {
				log.Error().Err(err).Msg("lease next task")
			}
			return
		}
		p.wg.Add(1)
		go func(tk domain.Task) {
			defer p.wg.Done()
			defer func() { <-p.sem }()
			p.Process(ctx, tk)
		}(task)
	}
}

// Process runs a single leased task and records its outcome.
func (p *Pool) Process(ctx context.Context, tk domain.Task) {
	logger := log.With().Str("task_id", tk.ID).Str("task_type", tk.Type).Int("attempt", tk.Attempts+1).Logger()

	// Outcomes are recorded even when ctx is cancelled mid-task.
	bg := context.WithoutCancel(ctx)

	h, ok := p.handlers[tk.Type]
	if !ok {
		logger.Error().Msg("no handler for task type")
		if err := p.repo.Fail(bg, tk.ID, "no handler"); err != nil {
			logger.Error().Err(err).Msg("mark task failed")
		}
		return
	}

	timeout := time.Duration(tk.VisibilityTimeout) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(queue.DefaultVisibilityTimeout) * time.Second
	}
	c, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := h.Handle(c, tk.Payload)
	switch {
	case err == nil:
		if err := p.repo.Succeed(bg, tk.ID); err != nil {
			logger.Error().Err(err).Msg("mark task succeeded")
		}
	case errors.Is(err, domain.ErrPermanent):
		logger.Error().Err(err).Msg("task failed permanently")
		if err := p.repo.Fail(bg, tk.ID, err.Error()); err != nil {
			logger.Error().Err(err).Msg("mark task failed")
		}
	default:
		next := backoffExp(tk.Attempts + 1)
		logger.Warn().Err(err).Dur("retry_in", next).Msg("task failed, retrying")
		if err := p.repo.Retry(bg, tk.ID, err.Error(), next); err != nil {
			logger.Error().Err(err).Msg("mark task for retry")
		}
	}
}

func backoffExp(attempts int) time.Duration {
	if attempts <= 0 {
		return time.Second
	}
	if attempts > 7 {
		return 60 * time.Second
	}
	d := 1 << (attempts - 1) // 1,2,4,8...
	if d > 60 {
		d = 60
	}
	return time.Duration(d) * time.Second
}
