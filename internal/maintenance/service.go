// Package maintenance runs periodic queue housekeeping on a cron schedule.
package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"socialflow/internal/clock"
	"socialflow/internal/queue"
)

type Service struct {
	repo      queue.Repository
	clock     clock.Clock
	cron      *cron.Cron
	spec      string
	retention time.Duration
}

func NewService(repo queue.Repository, clk clock.Clock, spec string, retention time.Duration) *Service {
	return &Service{
		repo:      repo,
		clock:     clk,
		cron:      cron.New(cron.WithLocation(time.UTC)),
		spec:      spec,
		retention: retention,
	}
}

// Start schedules the sweep and returns; Stop ends it. ctx bounds each sweep.
func (s *Service) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.Sweep(ctx) }); err != nil {
		return err
	}
	s.cron.Start()

	next, _ := NextRunTime(s.spec, s.clock.Now())
	log.Info().Str("cron", s.spec).Time("next_run", next).Msg("maintenance service started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep requeues tasks whose lease expired and purges old finished tasks.
func (s *Service) Sweep(ctx context.Context) {
	now := s.clock.Now()

	recovered, err := s.repo.RecoverStale(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("failed to recover stale tasks")
	} else if recovered > 0 {
		log.Warn().Int("recovered", recovered).Msg("requeued tasks with expired leases")
	}

	purged, err := s.repo.PurgeFinished(ctx, now.Add(-s.retention))
	if err != nil {
		log.Error().Err(err).Msg("failed to purge finished tasks")
	} else if purged > 0 {
		log.Info().Int("purged", purged).Dur("retention", s.retention).Msg("purged finished tasks")
	}
}

// NextRunTime calculates the next run time for a cron expression
func NextRunTime(expr string, from time.Time) (time.Time, error) {
	cronSchedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return cronSchedule.Next(from), nil
}
