package service

import (
	"context"
	"errors"
	"testing"

	greenhouse "greenhouse_controller"
	"greenhouse_controller/internal/state"
)

func newSettingsFixture() (*SettingsService, *memSettingsRepo, *state.Store) {
	repo := newMemSettingsRepo()
	store := state.NewStore()
	store.SetConfig(greenhouse.DefaultControlConfig())
	return NewSettingsService(repo, store, testLogger()), repo, store
}

func TestSettings_ApplyPersistsAndUpdatesStore(t *testing.T) {
	svc, repo, store := newSettingsFixture()

	applied, err := svc.Apply(context.Background(), "soil_dry", 35)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !applied {
		t.Fatalf("expected the write to be applied")
	}
	if repo.puts != 1 {
		t.Fatalf("puts = %d, want 1", repo.puts)
	}
	if got := store.Config().SoilDry; got != 35 {
		t.Fatalf("store soil_dry = %d, want 35", got)
	}
}

func TestSettings_EqualWriteSuppressed(t *testing.T) {
	svc, repo, _ := newSettingsFixture()

	if _, err := svc.Apply(context.Background(), "soil_dry", 35); err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	applied, err := svc.Apply(context.Background(), "soil_dry", 35)
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if applied {
		t.Fatalf("identical write must be suppressed")
	}
	if repo.puts != 1 {
		t.Fatalf("puts = %d, want 1 (second write suppressed)", repo.puts)
	}
}

func TestSettings_FloatWithinToleranceSuppressed(t *testing.T) {
	svc, repo, _ := newSettingsFixture()

	// Default temp_max is 30.0; a 0.005 nudge is below the threshold.
	applied, err := svc.Apply(context.Background(), "temp_max", 30.005)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if applied || repo.puts != 0 {
		t.Fatalf("applied=%v puts=%d, want suppressed with no persist", applied, repo.puts)
	}
}

func TestSettings_OutOfRangeRejected(t *testing.T) {
	svc, repo, store := newSettingsFixture()

	_, err := svc.Apply(context.Background(), "soil_dry", 150)
	if !errors.Is(err, errValueOutOfRange) {
		t.Fatalf("err = %v, want out-of-range", err)
	}
	if repo.puts != 0 {
		t.Fatalf("rejected write must not persist")
	}
	if got := store.Config().SoilDry; got != 40 {
		t.Fatalf("store soil_dry = %d, want unchanged 40", got)
	}
}

func TestSettings_InvariantViolationRejected(t *testing.T) {
	svc, repo, store := newSettingsFixture()

	// soil_dry=80 would cross soil_wet=70.
	_, err := svc.Apply(context.Background(), "soil_dry", 80)
	if err == nil {
		t.Fatalf("expected invariant violation")
	}
	if repo.puts != 0 || store.Config().SoilDry != 40 {
		t.Fatalf("violating write must leave config and storage untouched")
	}
}

func TestSettings_UnknownKeyRejected(t *testing.T) {
	svc, _, _ := newSettingsFixture()
	if _, err := svc.Apply(context.Background(), "fan_speed", 3); !errors.Is(err, errUnknownSetting) {
		t.Fatalf("err = %v, want unknown-key", err)
	}
}

func TestSettings_AliasKeyApplies(t *testing.T) {
	svc, repo, store := newSettingsFixture()

	applied, err := svc.Apply(context.Background(), "min_temp", 5)
	if err != nil || !applied {
		t.Fatalf("Apply(min_temp): applied=%v err=%v", applied, err)
	}
	if got := store.Config().TempMinNight; got != 5 {
		t.Fatalf("temp_min = %v, want 5", got)
	}
	if _, ok := repo.values["temp_min"]; !ok {
		t.Fatalf("alias must persist under the canonical key")
	}
}

func TestSettings_LoadUsesPersistedValues(t *testing.T) {
	svc, repo, store := newSettingsFixture()
	repo.values["soil_dry"] = "30"
	repo.values["temp_max"] = "28.5"

	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := store.Config()
	if cfg.SoilDry != 30 || cfg.TempMaxDay != 28.5 {
		t.Fatalf("cfg = %+v, want persisted soil_dry=30 temp_max=28.5", cfg)
	}
	if cfg.SoilWet != 70 {
		t.Fatalf("unwritten keys must load defaults")
	}
}

func TestSettings_LoadFallsBackOnInvalidPersistedConfig(t *testing.T) {
	svc, repo, store := newSettingsFixture()
	// Persisted pair violates soil_dry < soil_wet.
	repo.values["soil_dry"] = "90"

	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := store.Config(); got != greenhouse.DefaultControlConfig() {
		t.Fatalf("invalid persisted config must fall back to defaults, got %+v", got)
	}
}
