package service

import (
	"context"
	"time"

	greenhouse "greenhouse_controller"
	"greenhouse_controller/internal/logger"
	"greenhouse_controller/internal/platform"
	"greenhouse_controller/internal/state"
)

// DefaultControlTick is the control loop period.
const DefaultControlTick = 1 * time.Second

// ControlService decides actuator targets each cycle. In AUTO the pump
// runs on soil-moisture hysteresis gated by water availability, the
// fan and heater on simple thresholds. In MANUAL every target is
// copied verbatim from the override flags and no sensor logic runs.
type ControlService struct {
	store     *state.Store
	distance  platform.DistanceMeter
	actuators platform.ActuatorBank
	feed      func()
	log       *logger.Logger

	pumpOn bool // hysteresis memory
}

func NewControlService(store *state.Store, distance platform.DistanceMeter, actuators platform.ActuatorBank, feed func(), log *logger.Logger) *ControlService {
	if feed == nil {
		feed = func() {}
	}
	return &ControlService{
		store:     store,
		distance:  distance,
		actuators: actuators,
		feed:      feed,
		log:       log,
	}
}

// Run ticks at the given interval until ctx is cancelled.
func (c *ControlService) Run(ctx context.Context, tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.feed()
			c.step()
		}
	}
}

func (c *ControlService) step() {
	cfg := c.store.Config()

	distCM, err := c.distance.Measure()
	if err != nil {
		// No echo: treat the tank as empty so the pump never runs dry.
		c.log.Warnw("distance measurement failed, assuming empty tank", "err", err)
	}
	tankHasWater, level := tankFromDistance(distCM, err, cfg)
	c.store.SetTankLevel(level)

	mode, ov := c.store.ModeAndOverrides()

	var next greenhouse.ActuatorStatus
	if mode == greenhouse.ModeManual {
		next = greenhouse.ActuatorStatus{Pump: ov.Pump, Fan: ov.Fan, Heater: ov.Heater}
		// Seed hysteresis from the commanded state so the dead band
		// applies immediately after switching back to AUTO.
		c.pumpOn = next.Pump
	} else {
		r := c.store.Readings()
		c.pumpOn = nextPumpState(c.pumpOn, r.SoilMoisture, cfg, tankHasWater)
		next = greenhouse.ActuatorStatus{
			Pump:   c.pumpOn,
			Fan:    r.Temperature > cfg.TempMaxDay || r.Humidity > cfg.HumMax,
			Heater: r.Temperature < cfg.TempMinNight,
		}
	}

	c.actuators.Apply(next)
	c.store.SetActuators(next)
}

// nextPumpState implements the irrigation hysteresis: turn on below
// soilDry with water available, turn off above soilWet or when water
// runs out, hold inside the dead band.
func nextPumpState(prev bool, soil int, cfg greenhouse.ControlConfig, tankHasWater bool) bool {
	switch {
	case soil < cfg.SoilDry && tankHasWater:
		return true
	case soil > cfg.SoilWet || !tankHasWater:
		return false
	default:
		return prev
	}
}

// tankFromDistance maps the echo distance onto water availability and
// a 0-100 level. A measurement error reads as empty (fail-safe).
func tankFromDistance(cm int, err error, cfg greenhouse.ControlConfig) (hasWater bool, level int) {
	if err != nil {
		return false, 0
	}
	if cm < cfg.TankFullDist {
		cm = cfg.TankFullDist
	}
	if cm > cfg.TankEmptyDist {
		cm = cfg.TankEmptyDist
	}
	span := cfg.TankEmptyDist - cfg.TankFullDist
	if span <= 0 {
		return false, 0
	}
	level = (cfg.TankEmptyDist - cm) * 100 / span
	return cm < cfg.TankEmptyDist, level
}
