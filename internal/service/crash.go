package service

import (
	"context"
	"fmt"

	"greenhouse_controller/internal/logger"
	"greenhouse_controller/internal/platform"
	"greenhouse_controller/internal/repository"
)

// RollbackThreshold is the crash streak that triggers a firmware
// rollback.
const RollbackThreshold = 3

// CrashService owns the persisted boot-health counter. The counter is
// incremented as the very first act of every boot (pessimistic: this
// boot may fail too) and cleared only once the node reaches
// steady-state broker connectivity.
type CrashService struct {
	repo      repository.SupervisorRepo
	updater   platform.Updater
	restarter platform.Restarter
	log       *logger.Logger
}

func NewCrashService(repo repository.SupervisorRepo, updater platform.Updater, restarter platform.Restarter, log *logger.Logger) *CrashService {
	return &CrashService{repo: repo, updater: updater, restarter: restarter, log: log}
}

// OnBoot runs before anything else. Three boots that never verified
// trigger at most one rollback per streak: the counter is reset and
// the rollback-pending flag persisted BEFORE the rollback is invoked,
// so a failing rollback path cannot loop.
func (s *CrashService) OnBoot(ctx context.Context) error {
	st, err := s.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("load supervisor state: %w", err)
	}
	st.CrashCount++
	s.log.Infow("boot", "crash_count", st.CrashCount, "rollback_pending", st.RollbackPending)

	if st.CrashCount >= RollbackThreshold {
		if s.updater.PreviousImageAvailable() {
			st.CrashCount = 0
			st.RollbackPending = true
			if err := s.repo.Save(ctx, st); err != nil {
				return fmt.Errorf("persist rollback state: %w", err)
			}
			s.log.Errorw("crash streak reached threshold, rolling back firmware", "threshold", RollbackThreshold)
			if err := s.updater.Rollback(); err != nil {
				s.log.Errorw("rollback failed", "err", err)
				return nil
			}
			s.restarter.Restart("firmware rollback")
			return nil
		}
		// No rollback target: reset anyway to avoid an endless
		// crash-reboot loop with nothing left to revert to.
		s.log.Errorw("crash streak reached threshold but no previous image available")
		st.CrashCount = 0
	}

	if err := s.repo.Save(ctx, st); err != nil {
		return fmt.Errorf("persist supervisor state: %w", err)
	}
	return nil
}

// MarkBootVerified clears the crash counter. Called when the node
// first reaches CONNECTED after boot.
func (s *CrashService) MarkBootVerified(ctx context.Context) error {
	st, err := s.repo.Load(ctx)
	if err != nil {
		return err
	}
	if st.CrashCount == 0 {
		return nil
	}
	st.CrashCount = 0
	return s.repo.Save(ctx, st)
}

// RollbackPending reports whether a rollback alert still awaits
// delivery.
func (s *CrashService) RollbackPending(ctx context.Context) (bool, error) {
	st, err := s.repo.Load(ctx)
	if err != nil {
		return false, err
	}
	return st.RollbackPending, nil
}

// ClearRollbackPending is called only after the alert publish
// succeeded, so an interrupted publish is retried on the next
// successful connection.
func (s *CrashService) ClearRollbackPending(ctx context.Context) error {
	st, err := s.repo.Load(ctx)
	if err != nil {
		return err
	}
	if !st.RollbackPending {
		return nil
	}
	st.RollbackPending = false
	return s.repo.Save(ctx, st)
}
