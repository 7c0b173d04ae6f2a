package greenhouse_controller

import (
	"encoding/json"
	"time"
)

// Mode selects how actuator targets are decided.
type Mode string

const (
	ModeAuto   Mode = "AUTO"
	ModeManual Mode = "MANUAL"
)

// Readings is the latest sensor sample. Values are overwritten in
// place every poll; the node keeps no history.
type Readings struct {
	Temperature  float64 `json:"temp"`       // °C
	Humidity     float64 `json:"hum"`        // %RH
	SoilMoisture int     `json:"soil"`       // 0-100 %
	ECO2         int     `json:"co2"`        // ppm
	TVOC         int     `json:"tvoc"`       // ppb
	TankLevel    int     `json:"tank_level"` // 0-100 %
}

// ActuatorStatus is the commanded state of the three relays.
type ActuatorStatus struct {
	Pump   bool `json:"pump"`
	Fan    bool `json:"fan"`
	Heater bool `json:"heater"`
}

// Overrides are the per-actuator forced states used in MANUAL mode.
type Overrides struct {
	Pump   bool `json:"pump"`
	Fan    bool `json:"fan"`
	Heater bool `json:"heater"`
}

// ControlConfig holds the tunable thresholds and calibration points.
// SoilDry/SoilWet form the irrigation hysteresis band; CalAir/CalWater
// are the raw ADC endpoints of the soil probe (air reads higher than
// water on this probe, hence CalWater < CalAir).
type ControlConfig struct {
	TempMinNight  float64 `json:"temp_min"`        // heater ON below this
	TempMaxDay    float64 `json:"temp_max"`        // fan ON above this
	HumMax        float64 `json:"hum_max"`         // fan ON above this
	SoilDry       int     `json:"soil_dry"`        // pump ON below this %
	SoilWet       int     `json:"soil_wet"`        // pump OFF above this %
	TankEmptyDist int     `json:"tank_empty_dist"` // cm, sensor to surface when empty
	TankFullDist  int     `json:"tank_full_dist"`  // cm, sensor to surface when full
	CalAir        int     `json:"cal_air"`
	CalWater      int     `json:"cal_water"`
}

// DefaultControlConfig matches the values flashed into a fresh unit.
func DefaultControlConfig() ControlConfig {
	return ControlConfig{
		TempMinNight:  20.0,
		TempMaxDay:    30.0,
		HumMax:        75.0,
		SoilDry:       40,
		SoilWet:       70,
		TankEmptyDist: 25,
		TankFullDist:  5,
		CalAir:        4095,
		CalWater:      1670,
	}
}

// ConnectivityState is the single lifecycle state owned by the
// connectivity supervisor.
type ConnectivityState int

const (
	Disconnected ConnectivityState = iota
	Associating
	Provisioning
	AssociatedNoBroker
	Connected
)

func (s ConnectivityState) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Associating:
		return "ASSOCIATING"
	case Provisioning:
		return "PROVISIONING"
	case AssociatedNoBroker:
		return "ASSOCIATED_NO_BROKER"
	case Connected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON reports the state by name so UI clients never see the
// raw enum value.
func (s ConnectivityState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// TelemetrySnapshot is one published telemetry entry. Actuators are
// encoded as 0/1 to keep the payload under the 512 byte budget.
type TelemetrySnapshot struct {
	DeviceID  string  `json:"device_id"`
	Firmware  string  `json:"fw_version"`
	Timestamp int64   `json:"timestamp"` // unix seconds
	Temp      float64 `json:"temp"`
	Hum       float64 `json:"hum"`
	Soil      int     `json:"soil"`
	CO2       int     `json:"co2"`
	TVOC      int     `json:"tvoc"`
	TankLevel int     `json:"tank_level"`
	Pump      int     `json:"pump"`
	Fan       int     `json:"fan"`
	Heater    int     `json:"heater"`
	Mode      Mode    `json:"mode"`
}

// Alert is published once per rollback event.
type Alert struct {
	Alert     string `json:"alert"` // e.g. AlertRollbackExecuted
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

const AlertRollbackExecuted = "ROLLBACK_EXECUTED"

// CrashState is the persisted boot-health record. CrashCount is
// incremented as the very first act of every boot and cleared only
// once the node reaches steady-state broker connectivity.
type CrashState struct {
	CrashCount      int  `json:"crash_count"`
	RollbackPending bool `json:"rollback_pending"`
}

// UIState is what the display collaborator renders.
type UIState struct {
	Readings     Readings          `json:"readings"`
	Actuators    ActuatorStatus    `json:"actuators"`
	Mode         Mode              `json:"mode"`
	Link         ConnectivityState `json:"link"`
	Provisioning bool              `json:"provisioning"`
	UpdatedAt    time.Time         `json:"updated_at"`
}
