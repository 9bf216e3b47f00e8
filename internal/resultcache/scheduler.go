package resultcache

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// RefreshScheduler periodically calls CheckAndTriggerDailyRefresh so the
// cache self-invalidates even without an incoming request driving it,
// adapted from the teacher's cron-backed scheduler
// (trader-go/internal/scheduler/scheduler.go) onto a single fixed job
// rather than a general job registry.
type RefreshScheduler struct {
	cache *Cache
	cron  *cron.Cron
	log   zerolog.Logger
}

// NewRefreshScheduler builds a scheduler that checks the daily refresh
// every five minutes -- frequent enough that the cache flips over shortly
// after local midnight without requiring a live request to trigger it.
func NewRefreshScheduler(cache *Cache, log zerolog.Logger) *RefreshScheduler {
	return &RefreshScheduler{
		cache: cache,
		cron:  cron.New(),
		log:   log.With().Str("component", "resultcache_scheduler").Logger(),
	}
}

// Start registers the refresh check and starts the underlying cron runner.
func (s *RefreshScheduler) Start() error {
	_, err := s.cron.AddFunc("@every 5m", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		triggered, err := s.cache.CheckAndTriggerDailyRefresh(ctx, time.Now())
		if err != nil {
			s.log.Warn().Err(err).Msg("daily refresh check failed")
			return
		}
		if triggered {
			s.log.Info().Msg("result cache invalidated for new calendar day")
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop waits for any in-flight job to finish and stops the cron runner.
func (s *RefreshScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
