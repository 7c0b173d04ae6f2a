package service

import (
	"context"
	"testing"

	greenhouse "greenhouse_controller"
)

func TestCrash_CountsEveryBoot(t *testing.T) {
	repo := &memSupervisorRepo{}
	svc := NewCrashService(repo, &fakeUpdater{prevAvailable: true}, &fakeRestarter{}, testLogger())

	if err := svc.OnBoot(context.Background()); err != nil {
		t.Fatalf("OnBoot: %v", err)
	}
	if repo.state.CrashCount != 1 {
		t.Fatalf("crash_count = %d, want 1", repo.state.CrashCount)
	}
}

func TestCrash_RollbackOnThirdUnverifiedBoot(t *testing.T) {
	repo := &memSupervisorRepo{state: greenhouse.CrashState{CrashCount: 2}}
	updater := &fakeUpdater{prevAvailable: true}
	restarter := &fakeRestarter{}
	svc := NewCrashService(repo, updater, restarter, testLogger())

	if err := svc.OnBoot(context.Background()); err != nil {
		t.Fatalf("OnBoot: %v", err)
	}
	if updater.rollbacks != 1 {
		t.Fatalf("rollbacks = %d, want 1", updater.rollbacks)
	}
	if len(restarter.reasons) != 1 {
		t.Fatalf("device must restart after a rollback")
	}
	// The reset and the pending flag land on disk before the rollback
	// runs, so a crashing rollback cannot repeat per streak.
	if len(repo.saves) != 1 {
		t.Fatalf("saves = %d, want exactly 1", len(repo.saves))
	}
	if got := repo.saves[0]; got.CrashCount != 0 || !got.RollbackPending {
		t.Fatalf("persisted state = %+v, want count reset and pending flag", got)
	}
}

func TestCrash_NoRollbackTargetResetsCounter(t *testing.T) {
	repo := &memSupervisorRepo{state: greenhouse.CrashState{CrashCount: 2}}
	updater := &fakeUpdater{prevAvailable: false}
	restarter := &fakeRestarter{}
	svc := NewCrashService(repo, updater, restarter, testLogger())

	if err := svc.OnBoot(context.Background()); err != nil {
		t.Fatalf("OnBoot: %v", err)
	}
	if updater.rollbacks != 0 || len(restarter.reasons) != 0 {
		t.Fatalf("no rollback image means no rollback and no restart")
	}
	if repo.state.CrashCount != 0 || repo.state.RollbackPending {
		t.Fatalf("state = %+v, want counter reset without pending flag", repo.state)
	}
}

func TestCrash_MarkBootVerifiedClearsCounter(t *testing.T) {
	repo := &memSupervisorRepo{state: greenhouse.CrashState{CrashCount: 2}}
	svc := NewCrashService(repo, &fakeUpdater{}, &fakeRestarter{}, testLogger())

	if err := svc.MarkBootVerified(context.Background()); err != nil {
		t.Fatalf("MarkBootVerified: %v", err)
	}
	if repo.state.CrashCount != 0 {
		t.Fatalf("crash_count = %d, want 0", repo.state.CrashCount)
	}

	// Already clear: no storage write.
	before := len(repo.saves)
	if err := svc.MarkBootVerified(context.Background()); err != nil {
		t.Fatalf("MarkBootVerified (clean): %v", err)
	}
	if len(repo.saves) != before {
		t.Fatalf("clean verify must not rewrite storage")
	}
}

func TestCrash_PendingFlagClearedOnce(t *testing.T) {
	repo := &memSupervisorRepo{state: greenhouse.CrashState{RollbackPending: true}}
	svc := NewCrashService(repo, &fakeUpdater{}, &fakeRestarter{}, testLogger())

	pending, err := svc.RollbackPending(context.Background())
	if err != nil || !pending {
		t.Fatalf("pending=%v err=%v, want true", pending, err)
	}
	if err := svc.ClearRollbackPending(context.Background()); err != nil {
		t.Fatalf("ClearRollbackPending: %v", err)
	}
	if repo.state.RollbackPending {
		t.Fatalf("flag must clear")
	}

	before := len(repo.saves)
	if err := svc.ClearRollbackPending(context.Background()); err != nil {
		t.Fatalf("second clear: %v", err)
	}
	if len(repo.saves) != before {
		t.Fatalf("clearing a clear flag must not write")
	}
}
