package client

import (
	"context"
	"errors"
	"time"

	"github.com/peervault/peervault/internal/clock"
	"github.com/peervault/peervault/internal/common"
	"github.com/peervault/peervault/internal/logging"
	"github.com/peervault/peervault/internal/relationship"
)

// Scheduler starts backups on their own once they fall due. A provider
// relationship is due when it is active and next_scheduled_backup is at
// or before now; a relationship that never backed up is due immediately.
type Scheduler struct {
	svc       *Service
	relations *relationship.Store
	clock     clock.Clock
	logger    logging.Logger
	interval  time.Duration
}

func NewScheduler(svc *Service, relations *relationship.Store, clk clock.Clock, logger logging.Logger, interval time.Duration) *Scheduler {
	return &Scheduler{svc: svc, relations: relations, clock: clk, logger: logger, interval: interval}
}

// Run checks for due backups every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// tick starts at most one backup; further due providers stay due and
// get their turn on a later tick, once the running backup finishes.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.clock.Now()
	for _, rel := range s.relations.Providers() {
		if rel.Status != relationship.StatusActive || rel.NextScheduledBackup.After(now) {
			continue
		}
		snapshotID, err := s.svc.StartBackup(ctx, rel.ProviderCallsign)
		switch {
		case errors.Is(err, common.ErrAlreadyInProgress):
			return
		case err != nil:
			s.logger.Warn("scheduled backup not started",
				"provider", rel.ProviderCallsign, "error", err.Error())
		default:
			s.logger.Info("scheduled backup started",
				"provider", rel.ProviderCallsign, "snapshot", snapshotID)
			return
		}
	}
}
