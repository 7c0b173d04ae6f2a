package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	greenhouse "greenhouse_controller"
	"greenhouse_controller/internal/logger"
	"greenhouse_controller/internal/repository"
	"greenhouse_controller/internal/state"
)

// floatTolerance bounds persistent-storage wear: a write that changes
// a value by less than this is a no-op and is not persisted.
const floatTolerance = 0.01

var (
	errUnknownSetting  = errors.New("unknown setting key")
	errValueOutOfRange = errors.New("value out of range")
)

type settingKind int

const (
	kindFloat settingKind = iota
	kindInt
)

// settingSpec declares one tunable: its persisted key, valid range and
// how it maps onto ControlConfig.
type settingSpec struct {
	key      string
	kind     settingKind
	min, max float64
	get      func(c greenhouse.ControlConfig) float64
	set      func(c *greenhouse.ControlConfig, v float64)
}

var settingSpecs = []settingSpec{
	{"temp_min", kindFloat, -10, 40,
		func(c greenhouse.ControlConfig) float64 { return c.TempMinNight },
		func(c *greenhouse.ControlConfig, v float64) { c.TempMinNight = v }},
	{"temp_max", kindFloat, 0, 60,
		func(c greenhouse.ControlConfig) float64 { return c.TempMaxDay },
		func(c *greenhouse.ControlConfig, v float64) { c.TempMaxDay = v }},
	{"hum_max", kindFloat, 0, 100,
		func(c greenhouse.ControlConfig) float64 { return c.HumMax },
		func(c *greenhouse.ControlConfig, v float64) { c.HumMax = v }},
	{"soil_dry", kindInt, 0, 100,
		func(c greenhouse.ControlConfig) float64 { return float64(c.SoilDry) },
		func(c *greenhouse.ControlConfig, v float64) { c.SoilDry = int(v) }},
	{"soil_wet", kindInt, 0, 100,
		func(c greenhouse.ControlConfig) float64 { return float64(c.SoilWet) },
		func(c *greenhouse.ControlConfig, v float64) { c.SoilWet = int(v) }},
	{"tank_empty_dist", kindInt, 1, 500,
		func(c greenhouse.ControlConfig) float64 { return float64(c.TankEmptyDist) },
		func(c *greenhouse.ControlConfig, v float64) { c.TankEmptyDist = int(v) }},
	{"tank_full_dist", kindInt, 0, 499,
		func(c greenhouse.ControlConfig) float64 { return float64(c.TankFullDist) },
		func(c *greenhouse.ControlConfig, v float64) { c.TankFullDist = int(v) }},
	{"cal_air", kindInt, 0, 4095,
		func(c greenhouse.ControlConfig) float64 { return float64(c.CalAir) },
		func(c *greenhouse.ControlConfig, v float64) { c.CalAir = int(v) }},
	{"cal_water", kindInt, 0, 4095,
		func(c greenhouse.ControlConfig) float64 { return float64(c.CalWater) },
		func(c *greenhouse.ControlConfig, v float64) { c.CalWater = int(v) }},
}

// settingAliases maps the second spelling some controllers send to the
// canonical persisted key.
var settingAliases = map[string]string{
	"min_temp": "temp_min",
	"max_temp": "temp_max",
	"max_hum":  "hum_max",
}

func lookupSpec(key string) (settingSpec, bool) {
	if canonical, ok := settingAliases[key]; ok {
		key = canonical
	}
	for _, s := range settingSpecs {
		if s.key == key {
			return s, true
		}
	}
	return settingSpec{}, false
}

// validateConfig enforces the cross-field monotonic invariants.
func validateConfig(c greenhouse.ControlConfig) error {
	if c.SoilDry >= c.SoilWet {
		return fmt.Errorf("soil_dry %d must be below soil_wet %d", c.SoilDry, c.SoilWet)
	}
	if c.TempMinNight >= c.TempMaxDay {
		return fmt.Errorf("temp_min %.1f must be below temp_max %.1f", c.TempMinNight, c.TempMaxDay)
	}
	if c.CalWater >= c.CalAir {
		return fmt.Errorf("cal_water %d must be below cal_air %d", c.CalWater, c.CalAir)
	}
	if c.TankFullDist >= c.TankEmptyDist {
		return fmt.Errorf("tank_full_dist %d must be below tank_empty_dist %d", c.TankFullDist, c.TankEmptyDist)
	}
	return nil
}

// SettingsService is the single validated write path for ControlConfig.
// Every accepted mutation persists; a write within tolerance of the
// current value is suppressed.
type SettingsService struct {
	repo  repository.SettingsRepo
	store *state.Store
	log   *logger.Logger
}

func NewSettingsService(repo repository.SettingsRepo, store *state.Store, log *logger.Logger) *SettingsService {
	return &SettingsService{repo: repo, store: store, log: log}
}

// Load populates the store from the persisted key/value store, falling
// back to factory defaults for keys never written.
func (s *SettingsService) Load(ctx context.Context) error {
	cfg := greenhouse.DefaultControlConfig()
	for _, spec := range settingSpecs {
		def := spec.get(cfg)
		var (
			v   float64
			err error
		)
		if spec.kind == kindInt {
			var n int
			n, err = s.repo.GetInt(ctx, spec.key, int(def))
			v = float64(n)
		} else {
			v, err = s.repo.GetFloat(ctx, spec.key, def)
		}
		if err != nil {
			return fmt.Errorf("load setting %s: %w", spec.key, err)
		}
		spec.set(&cfg, v)
	}
	if err := validateConfig(cfg); err != nil {
		// A half-written store must not wedge control: fall back to
		// defaults and keep running.
		s.log.Errorw("persisted config invalid, using defaults", "err", err)
		cfg = greenhouse.DefaultControlConfig()
	}
	s.store.SetConfig(cfg)
	return nil
}

// Apply validates and applies one key. It reports whether the value
// was actually written (false means suppressed-as-equal). Out-of-range
// values and invariant violations return an error and change nothing.
func (s *SettingsService) Apply(ctx context.Context, key string, value float64) (bool, error) {
	spec, ok := lookupSpec(key)
	if !ok {
		return false, errUnknownSetting
	}
	if value < spec.min || value > spec.max {
		return false, fmt.Errorf("%w: %s=%v (valid %v..%v)", errValueOutOfRange, spec.key, value, spec.min, spec.max)
	}
	if spec.kind == kindInt {
		value = math.Round(value)
	}

	cfg := s.store.Config()
	current := spec.get(cfg)
	if spec.kind == kindInt {
		if int(current) == int(value) {
			return false, nil
		}
	} else if math.Abs(current-value) <= floatTolerance {
		return false, nil
	}

	candidate := cfg
	spec.set(&candidate, value)
	if err := validateConfig(candidate); err != nil {
		return false, err
	}

	if spec.kind == kindInt {
		if err := s.repo.PutInt(ctx, spec.key, int(value)); err != nil {
			return false, fmt.Errorf("persist %s: %w", spec.key, err)
		}
	} else {
		if err := s.repo.PutFloat(ctx, spec.key, value); err != nil {
			return false, fmt.Errorf("persist %s: %w", spec.key, err)
		}
	}
	s.store.SetConfig(candidate)
	s.log.Infow("setting applied", "key", spec.key, "value", value)
	return true, nil
}
