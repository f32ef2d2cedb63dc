package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"duck-ask/internal/domain"
)

// DefaultSweepSchedule runs the retention sweep once a minute.
const DefaultSweepSchedule = "@every 1m"

// Sweep fails clarification dialogues idle past ClarificationIdle, then
// evicts terminal records whose completion is older than the configured
// retention and returns how many were removed. A zero retention keeps
// everything.
func (s *Service) Sweep(ctx context.Context) int {
	now := s.now().UTC()
	if s.opts.ClarificationIdle > 0 {
		s.failIdle(ctx, now)
	}
	if s.opts.Retention <= 0 {
		return 0
	}

	evicted := 0
	s.records.Range(func(k, v any) bool {
		if expired(v.(*entry).snap.Load(), s.opts.Retention, now) {
			s.records.Delete(k)
			evicted++
		}
		return true
	})
	if evicted > 0 {
		s.metrics.Evicted(evicted)
		s.logger.DebugContext(ctx, "evicted expired records", "count", evicted, "retention", s.opts.Retention.String())
	}
	return evicted
}

// failIdle fails records that have waited for an answer longer than
// ClarificationIdle.
func (s *Service) failIdle(ctx context.Context, now time.Time) {
	cutoff := now.Add(-s.opts.ClarificationIdle)
	s.records.Range(func(_, v any) bool {
		e := v.(*entry)
		if e.snap.Load().State != domain.StateAwaitingClarification {
			return true
		}
		e.mu.Lock()
		if e.rec.State == domain.StateAwaitingClarification && e.rec.UpdatedAt.Before(cutoff) {
			s.fail(ctx, e, domain.NewPipelineError(domain.ErrorKindCancelled,
				"no clarification answer within %s", s.opts.ClarificationIdle))
		}
		e.mu.Unlock()
		return true
	})
}

// Sweeper runs Service.Sweep on a cron schedule.
type Sweeper struct {
	cron   *cron.Cron
	svc    *Service
	logger *slog.Logger
}

// NewSweeper registers the sweep on schedule. An empty schedule selects
// DefaultSweepSchedule.
func NewSweeper(svc *Service, schedule string, logger *slog.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		cron:   cron.New(),
		svc:    svc,
		logger: logger.With("component", "retention-sweeper"),
	}
	if _, err := s.cron.AddFunc(schedule, func() {
		s.svc.Sweep(context.Background())
	}); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins running the schedule in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("retention sweeper started", "retention", s.svc.opts.Retention.String())
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("retention sweeper stopped")
}

// expired reports whether a snapshot would be evicted at now.
func expired(snap *domain.StatusSnapshot, retention time.Duration, now time.Time) bool {
	return retention > 0 && snap.State.Terminal() && snap.CompletedAt != nil && snap.CompletedAt.Before(now.Add(-retention))
}
