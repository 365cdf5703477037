package epg

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/repository"
)

// pruneInterval is how often expired programs are swept.
const pruneInterval = time.Hour

// pruneRetention keeps programs for this long after they end, so "what was
// just on" queries still resolve.
const pruneRetention = 24 * time.Hour

// Scheduler drives periodic source refreshes on each source's cadence plus a
// housekeeping sweep for expired programs. Cadence changes take effect after
// Resync.
type Scheduler struct {
	mu sync.Mutex

	refresher *Refresher
	sources   repository.EpgSourceRepository
	programs  repository.EpgProgramRepository
	logger    *slog.Logger

	cron    *cron.Cron
	entries map[models.ULID]cron.EntryID
	started bool
}

// NewScheduler creates the scheduler. Call Start to begin.
func NewScheduler(
	refresher *Refresher,
	sources repository.EpgSourceRepository,
	programs repository.EpgProgramRepository,
	logger *slog.Logger,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		refresher: refresher,
		sources:   sources,
		programs:  programs,
		logger:    logger,
		cron:      cron.New(),
		entries:   make(map[models.ULID]cron.EntryID),
	}
}

// Start registers all enabled sources and begins the cron loop. Sources that
// have never refreshed successfully are refreshed immediately in the
// background.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("EPG scheduler already started")
	}
	s.started = true
	s.mu.Unlock()

	if err := s.Resync(ctx); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", pruneInterval), func() {
		s.prune(context.Background())
	}); err != nil {
		return fmt.Errorf("scheduling EPG prune: %w", err)
	}

	s.cron.Start()
	s.logger.Info("EPG scheduler started")

	go s.refreshStale(ctx)
	return nil
}

// Stop halts the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("EPG scheduler stopped")
}

// Resync rebuilds the per-source cron entries from the store. Call after
// source create, update or delete.
func (s *Scheduler) Resync(ctx context.Context) error {
	sources, err := s.sources.GetEnabled(ctx)
	if err != nil {
		return fmt.Errorf("listing enabled EPG sources: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, entryID := range s.entries {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}

	for _, source := range sources {
		source := source
		spec := fmt.Sprintf("@every %s", source.RefreshDuration())
		entryID, err := s.cron.AddFunc(spec, func() {
			if _, err := s.refresher.RefreshSource(context.Background(), source); err != nil {
				s.logger.Error("scheduled EPG refresh failed",
					slog.String("source_id", source.ID.String()),
					slog.String("source_name", source.Name),
					slog.String("error", err.Error()))
			}
		})
		if err != nil {
			return fmt.Errorf("scheduling EPG source %s: %w", source.ID, err)
		}
		s.entries[source.ID] = entryID
		s.logger.Debug("EPG source scheduled",
			slog.String("source_id", source.ID.String()),
			slog.String("source_name", source.Name),
			slog.String("cadence", source.RefreshInterval))
	}
	return nil
}

// refreshStale refreshes sources whose last success is missing or older
// than their cadence, so a restart does not wait a full interval.
func (s *Scheduler) refreshStale(ctx context.Context) {
	sources, err := s.sources.GetEnabled(ctx)
	if err != nil {
		s.logger.Error("listing EPG sources for startup refresh", slog.String("error", err.Error()))
		return
	}
	now := time.Now()
	for _, source := range sources {
		if ctx.Err() != nil {
			return
		}
		if source.LastSuccessAt != nil && now.Sub(*source.LastSuccessAt) < source.RefreshDuration() {
			continue
		}
		if _, err := s.refresher.RefreshSource(ctx, source); err != nil {
			s.logger.Error("startup EPG refresh failed",
				slog.String("source_id", source.ID.String()),
				slog.String("error", err.Error()))
		}
	}
}

func (s *Scheduler) prune(ctx context.Context) {
	cutoff := time.Now().Add(-pruneRetention)
	removed, err := s.programs.DeleteBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("pruning expired EPG programs", slog.String("error", err.Error()))
		return
	}
	if removed > 0 {
		s.logger.Info("pruned expired EPG programs",
			slog.Int64("removed", removed),
			slog.Time("cutoff", cutoff))
	}
}
