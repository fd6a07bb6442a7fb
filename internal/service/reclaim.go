package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/runplane/internal/domain"
	"github.com/xiaot623/gogo/runplane/internal/log"
)

// RunReclaimer settles runs whose execution lease expired, e.g. after a
// worker crashed. Interrupted runs are never touched.
func (s *Service) RunReclaimer(ctx context.Context) {
	ticker := time.NewTicker(s.config.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepExpiredLeases(ctx)
		}
	}
}

// RecoverRuns runs one reclaim sweep. Called at startup; runs whose leases
// are still live are picked up by later sweeps.
func (s *Service) RecoverRuns(ctx context.Context) int {
	return s.sweepExpiredLeases(ctx)
}

func (s *Service) sweepExpiredLeases(ctx context.Context) int {
	sweepCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	runs, err := s.backend.ListRunsByStatus(sweepCtx, domain.ActiveStatuses...)
	if err != nil {
		log.Warnf("reclaim sweep failed: %v", err)
		return 0
	}

	reclaimed := 0
	for _, r := range runs {
		if _, executing := s.exec.Done(r.RunID); executing {
			continue
		}
		lease, err := s.locks.Acquire(sweepCtx, r.ThreadID, "reclaim:"+uuid.NewString())
		if errors.Is(err, domain.ErrThreadBusy) {
			continue
		}
		if err != nil {
			log.Warnf("reclaim run %s: %v", r.RunID, err)
			continue
		}
		if s.reclaim(sweepCtx, r.RunID) {
			reclaimed++
		}
		releaseLease(sweepCtx, lease)
	}
	return reclaimed
}

// reclaim settles one run. The caller holds the thread lock.
func (s *Service) reclaim(ctx context.Context, runID string) bool {
	run, err := s.backend.GetRun(ctx, runID)
	if err != nil {
		log.Warnf("reclaim run %s: %v", runID, err)
		return false
	}
	if run.Status != domain.RunStatusPending && !run.Status.IsActive() {
		return false
	}
	if err := s.exec.Reclaim(ctx, run, s.config.ReclaimPolicy); err != nil {
		if !errors.Is(err, domain.ErrInvalidState) {
			log.Warnf("reclaim run %s: %v", runID, err)
		}
		return false
	}
	log.Warnf("run %s: lease expired, reclaimed as %s", runID, run.Status)
	return true
}

// RunEventRetention deletes lifecycle audit records older than the retention window.
func (s *Service) RunEventRetention(ctx context.Context) {
	if s.config.EventRetention <= 0 || s.config.EventCleanup <= 0 {
		return
	}
	ticker := time.NewTicker(s.config.EventCleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepRunEvents(ctx)
		}
	}
}

func (s *Service) sweepRunEvents(ctx context.Context) int64 {
	sweepCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	n, err := s.backend.DeleteRunEventsBefore(sweepCtx, time.Now().Add(-s.config.EventRetention))
	if err != nil {
		log.Warnf("run event retention sweep failed: %v", err)
		return 0
	}
	if n > 0 {
		log.Infof("run event retention: deleted %d events", n)
	}
	return n
}
