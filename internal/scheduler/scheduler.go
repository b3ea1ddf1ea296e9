package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/learnhub/assistant-gateway/internal/logging"
	"github.com/learnhub/assistant-gateway/internal/searchcache"
	"github.com/learnhub/assistant-gateway/internal/threads"
)

// Scheduler manages periodic housekeeping jobs.
type Scheduler struct {
	cron      *cron.Cron
	searches  *searchcache.Cache
	directory *threads.Directory
	logger    *slog.Logger
}

// New creates a scheduler with the housekeeping jobs registered.
func New(searches *searchcache.Cache, directory *threads.Directory) *Scheduler {
	s := &Scheduler{
		cron:      cron.New(),
		searches:  searches,
		directory: directory,
		logger:    logging.WithComponent("scheduler"),
	}
	s.scheduleSearchCleanup()
	s.scheduleStatsLog()
	return s
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// scheduleSearchCleanup reconciles search-cache TTLs every 15 minutes.
func (s *Scheduler) scheduleSearchCleanup() {
	s.cron.AddFunc("*/15 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		cleaned, backfilled, err := s.searches.CleanupExpired(ctx)
		if err != nil {
			s.logger.Warn("search cache cleanup failed", "error", err)
			return
		}
		s.logger.Info("search cache cleanup done", "cleaned", cleaned, "backfilled", backfilled)
	})
}

// scheduleStatsLog logs thread directory counts hourly.
func (s *Scheduler) scheduleStatsLog() {
	s.cron.AddFunc("0 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		stats, err := s.directory.Stats(ctx)
		if err != nil {
			s.logger.Warn("thread stats failed", "error", err)
			return
		}
		s.logger.Info("thread stats",
			"course_threads", stats.CourseThreads,
			"mentor_threads", stats.MentorThreads,
			"meta_records", stats.MetaRecords,
			"video_pointers", stats.VideoPointers)
	})
}
