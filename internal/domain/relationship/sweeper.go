package relationship

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sweeper runs SweepOrphans on a cron schedule.
type Sweeper struct {
	svc     *Service
	checker PatientChecker
	cron    *cron.Cron
	timeout time.Duration
	scope   Scope
	logger  zerolog.Logger
}

// Scope prepares the context a sweep runs in, for example by pinning a
// tenant connection. The returned func releases it.
type Scope func(ctx context.Context) (context.Context, func(), error)

// NewSweeper creates a sweeper. Nothing runs until Schedule and Start are called.
func NewSweeper(svc *Service, checker PatientChecker, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		svc:     svc,
		checker: checker,
		cron:    cron.New(),
		timeout: 5 * time.Minute,
		logger:  logger.With().Str("component", "orphan-sweep").Logger(),
	}
}

func (s *Sweeper) SetScope(scope Scope) {
	s.scope = scope
}

// Schedule registers the sweep under a standard five-field cron spec.
func (s *Sweeper) Schedule(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.RunOnce); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return nil
}

func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info().Msg("orphan link sweep scheduled")
}

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce performs one sweep and logs the outcome.
func (s *Sweeper) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if s.scope != nil {
		scoped, release, err := s.scope(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("orphan link sweep could not start")
			return
		}
		defer release()
		ctx = scoped
	}

	start := time.Now()
	n, err := s.svc.SweepOrphans(ctx, s.checker)
	if err != nil {
		s.logger.Error().Err(err).Int("removed", n).Msg("orphan link sweep failed")
		return
	}
	s.logger.Info().Int("removed", n).Dur("took", time.Since(start)).Msg("orphan link sweep finished")
}
