package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	greenhouse "greenhouse_controller"
	"greenhouse_controller/internal/logger"
	"greenhouse_controller/internal/platform"
	"greenhouse_controller/internal/state"
)

// MaxCommandBytes is the inbound payload ceiling; larger messages are
// rejected before any parsing.
const MaxCommandBytes = 10 * 1024

// commandPayload mirrors the command message schema. Pointer fields
// distinguish absent keys from zero values; unknown keys are ignored
// for forward compatibility.
type commandPayload struct {
	TempMin *float64 `json:"temp_min"`
	MinTemp *float64 `json:"min_temp"`
	TempMax *float64 `json:"temp_max"`
	MaxTemp *float64 `json:"max_temp"`
	HumMax  *float64 `json:"hum_max"`
	MaxHum  *float64 `json:"max_hum"`

	SoilDry       *float64 `json:"soil_dry"`
	SoilWet       *float64 `json:"soil_wet"`
	TankEmptyDist *float64 `json:"tank_empty_dist"`
	TankFullDist  *float64 `json:"tank_full_dist"`
	CalAir        *float64 `json:"cal_air"`
	CalWater      *float64 `json:"cal_water"`

	Mode   *string `json:"mode"`
	Pump   *int    `json:"pump"`
	Fan    *int    `json:"fan"`
	Heater *int    `json:"heater"`

	UpdateURL *string `json:"update_url"`
}

// CommandService applies inbound broker commands: validated config
// writes, mode/override changes, and out-of-band firmware updates.
// A bad field is dropped (and logged) while the rest of the message
// still applies.
type CommandService struct {
	store     *state.Store
	settings  *SettingsService
	updater   platform.Updater
	restarter platform.Restarter
	wd        *Watchdog
	wdUnit    string
	log       *logger.Logger
}

func NewCommandService(store *state.Store, settings *SettingsService, updater platform.Updater, restarter platform.Restarter, wd *Watchdog, wdUnit string, log *logger.Logger) *CommandService {
	return &CommandService{
		store:     store,
		settings:  settings,
		updater:   updater,
		restarter: restarter,
		wd:        wd,
		wdUnit:    wdUnit,
		log:       log,
	}
}

// Handle processes one raw command message. Errors are reported to the
// caller for logging; none of them are fatal to the node.
func (c *CommandService) Handle(ctx context.Context, payload []byte) error {
	if len(payload) > MaxCommandBytes {
		return fmt.Errorf("command payload %d bytes exceeds %d byte ceiling", len(payload), MaxCommandBytes)
	}

	var cmd commandPayload
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("malformed command payload: %w", err)
	}

	c.applyConfig(ctx, cmd)
	c.applyMode(cmd)
	c.applyOverrides(cmd)

	if cmd.UpdateURL != nil {
		c.runUpdate(ctx, *cmd.UpdateURL)
	}
	return nil
}

// applyConfig walks every known config key, preferring the canonical
// spelling over its alias when both appear.
func (c *CommandService) applyConfig(ctx context.Context, cmd commandPayload) {
	fields := []struct {
		key string
		val *float64
	}{
		{"temp_min", firstOf(cmd.TempMin, cmd.MinTemp)},
		{"temp_max", firstOf(cmd.TempMax, cmd.MaxTemp)},
		{"hum_max", firstOf(cmd.HumMax, cmd.MaxHum)},
		{"soil_dry", cmd.SoilDry},
		{"soil_wet", cmd.SoilWet},
		{"tank_empty_dist", cmd.TankEmptyDist},
		{"tank_full_dist", cmd.TankFullDist},
		{"cal_air", cmd.CalAir},
		{"cal_water", cmd.CalWater},
	}
	for _, f := range fields {
		if f.val == nil {
			continue
		}
		if _, err := c.settings.Apply(ctx, f.key, *f.val); err != nil {
			// Drop just this key; the rest of the message still applies.
			c.log.Warnw("command field dropped", "key", f.key, "value", *f.val, "err", err)
		}
	}
}

func (c *CommandService) applyMode(cmd commandPayload) {
	if cmd.Mode == nil {
		return
	}
	switch strings.ToUpper(strings.TrimSpace(*cmd.Mode)) {
	case "MANUAL", "1":
		c.store.SetMode(greenhouse.ModeManual)
		c.log.Infow("mode set", "mode", greenhouse.ModeManual)
	case "AUTO", "0":
		// Switching to AUTO clears all overrides atomically.
		c.store.SetMode(greenhouse.ModeAuto)
		c.log.Infow("mode set", "mode", greenhouse.ModeAuto)
	default:
		c.log.Warnw("command field dropped", "key", "mode", "value", *cmd.Mode)
	}
}

// applyOverrides honors pump/fan/heater keys only while in MANUAL.
func (c *CommandService) applyOverrides(cmd commandPayload) {
	if c.store.Mode() != greenhouse.ModeManual {
		return
	}
	if cmd.Pump != nil {
		c.store.SetOverridePump(*cmd.Pump == 1)
	}
	if cmd.Fan != nil {
		c.store.SetOverrideFan(*cmd.Fan == 1)
	}
	if cmd.Heater != nil {
		c.store.SetOverrideHeater(*cmd.Heater == 1)
	}
}

// runUpdate fetches and applies new firmware. The fetch legitimately
// stalls this unit for minutes, so its watchdog feed is suspended for
// the duration and re-armed on every failure path. The success path
// does not return: the device restarts into the new image.
func (c *CommandService) runUpdate(ctx context.Context, url string) {
	c.log.Infow("firmware update requested", "url", url)
	if c.wd != nil {
		c.wd.Suspend(c.wdUnit)
	}
	if err := c.updater.FetchAndApply(ctx, url); err != nil {
		c.log.Errorw("firmware update failed", "url", url, "err", err)
		if c.wd != nil {
			c.wd.Resume(c.wdUnit)
		}
		return
	}
	c.restarter.Restart("firmware update applied")
}

func firstOf(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}
