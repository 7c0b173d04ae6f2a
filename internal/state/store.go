// Package state holds the node-wide mutable state shared by every
// execution unit. Fields are grouped per entity behind their own lock;
// each scalar has a single owning writer (readings: sensor unit,
// actuators/tank: control unit, connectivity: supervisor) except the
// mode/override group, which both the command handler and the portal
// may write last-write-wins.
package state

import (
	"sync"
	"time"

	greenhouse "greenhouse_controller"
)

type Store struct {
	readingsMu sync.RWMutex
	readings   greenhouse.Readings

	actMu     sync.RWMutex
	actuators greenhouse.ActuatorStatus

	modeMu    sync.RWMutex
	mode      greenhouse.Mode
	overrides greenhouse.Overrides

	cfgMu sync.RWMutex
	cfg   greenhouse.ControlConfig

	connMu       sync.RWMutex
	conn         greenhouse.ConnectivityState
	provisioning bool
}

func NewStore() *Store {
	return &Store{
		mode: greenhouse.ModeAuto,
		cfg:  greenhouse.DefaultControlConfig(),
		conn: greenhouse.Disconnected,
	}
}

// ---- readings ----

func (s *Store) Readings() greenhouse.Readings {
	s.readingsMu.RLock()
	defer s.readingsMu.RUnlock()
	return s.readings
}

// SetSensorReadings overwrites everything except the tank level, which
// the control unit owns.
func (s *Store) SetSensorReadings(r greenhouse.Readings) {
	s.readingsMu.Lock()
	r.TankLevel = s.readings.TankLevel
	s.readings = r
	s.readingsMu.Unlock()
}

func (s *Store) SetTankLevel(pct int) {
	s.readingsMu.Lock()
	s.readings.TankLevel = pct
	s.readingsMu.Unlock()
}

// ---- actuators ----

func (s *Store) Actuators() greenhouse.ActuatorStatus {
	s.actMu.RLock()
	defer s.actMu.RUnlock()
	return s.actuators
}

func (s *Store) SetActuators(a greenhouse.ActuatorStatus) {
	s.actMu.Lock()
	s.actuators = a
	s.actMu.Unlock()
}

// ---- mode / overrides ----

func (s *Store) Mode() greenhouse.Mode {
	s.modeMu.RLock()
	defer s.modeMu.RUnlock()
	return s.mode
}

func (s *Store) Overrides() greenhouse.Overrides {
	s.modeMu.RLock()
	defer s.modeMu.RUnlock()
	return s.overrides
}

// SetMode switches the control mode. Switching to AUTO clears all
// overrides under the same lock, so no actuator stays forced on.
func (s *Store) SetMode(m greenhouse.Mode) {
	s.modeMu.Lock()
	s.mode = m
	if m == greenhouse.ModeAuto {
		s.overrides = greenhouse.Overrides{}
	}
	s.modeMu.Unlock()
}

// ModeAndOverrides reads both in one pass so the control loop never
// pairs a stale mode with fresh overrides.
func (s *Store) ModeAndOverrides() (greenhouse.Mode, greenhouse.Overrides) {
	s.modeMu.RLock()
	defer s.modeMu.RUnlock()
	return s.mode, s.overrides
}

func (s *Store) SetOverridePump(on bool) {
	s.modeMu.Lock()
	s.overrides.Pump = on
	s.modeMu.Unlock()
}

func (s *Store) SetOverrideFan(on bool) {
	s.modeMu.Lock()
	s.overrides.Fan = on
	s.modeMu.Unlock()
}

func (s *Store) SetOverrideHeater(on bool) {
	s.modeMu.Lock()
	s.overrides.Heater = on
	s.modeMu.Unlock()
}

// ---- config ----

func (s *Store) Config() greenhouse.ControlConfig {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// SetConfig replaces the in-memory config. Persistence is the settings
// service's job, not the store's.
func (s *Store) SetConfig(c greenhouse.ControlConfig) {
	s.cfgMu.Lock()
	s.cfg = c
	s.cfgMu.Unlock()
}

// ---- connectivity ----

func (s *Store) Connectivity() greenhouse.ConnectivityState {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.conn
}

func (s *Store) SetConnectivity(c greenhouse.ConnectivityState) {
	s.connMu.Lock()
	s.conn = c
	s.connMu.Unlock()
}

func (s *Store) ProvisioningActive() bool {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.provisioning
}

func (s *Store) SetProvisioningActive(on bool) {
	s.connMu.Lock()
	s.provisioning = on
	s.connMu.Unlock()
}

// UIState snapshots everything the display needs, entity by entity.
// There is no cross-entity transaction; one control cycle of staleness
// between entities is acceptable.
func (s *Store) UIState() greenhouse.UIState {
	return greenhouse.UIState{
		Readings:     s.Readings(),
		Actuators:    s.Actuators(),
		Mode:         s.Mode(),
		Link:         s.Connectivity(),
		Provisioning: s.ProvisioningActive(),
		UpdatedAt:    time.Now(),
	}
}
