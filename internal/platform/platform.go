// Package platform declares the hardware and firmware collaborators
// the core depends on. The core never touches GPIO, I2C or the flash
// partition table directly; it consumes these interfaces and decides
// what to do when they succeed, fail, or are absent.
package platform

import (
	"context"
	"time"

	greenhouse "greenhouse_controller"
)

// Sensors is the climate/air sensor block (AHT + ENS class parts).
type Sensors interface {
	// Read returns a fresh sample. A failed read returns an error and
	// the caller keeps its last known values.
	Read() (greenhouse.Readings, error)
	// RawSoil exposes the unmapped soil ADC value for calibration.
	RawSoil() int
}

// DistanceMeter is the ultrasonic tank-level sensor. Measure returns
// the distance to the water surface in cm, or an error when no echo
// arrives within the bounded wait.
type DistanceMeter interface {
	Measure() (int, error)
}

// ActuatorBank drives the pump/fan/heater relays.
type ActuatorBank interface {
	Apply(greenhouse.ActuatorStatus)
}

// Display renders the local status panel.
type Display interface {
	Render(greenhouse.UIState)
}

// LinkStatus is the network association state as reported by the
// connectivity provider.
type LinkStatus int

const (
	LinkDown LinkStatus = iota
	LinkAssociating
	LinkUp
)

// Network is the external connectivity provider: association and the
// provisioning access point. All calls must return promptly; long
// operations run in the provider and are polled via Status.
type Network interface {
	Associate(ctx context.Context) error
	Status() LinkStatus
	StartProvisioning() error
	StopProvisioning() error
	SaveCredentials(ssid, passphrase string) error
}

// Updater performs out-of-band firmware updates and rollbacks.
type Updater interface {
	// FetchAndApply downloads and flashes the image at url. On success
	// the device restarts into the new firmware and this call never
	// returns to the caller's happy path.
	FetchAndApply(ctx context.Context, url string) error
	// PreviousImageAvailable reports whether a rollback target exists.
	PreviousImageAvailable() bool
	// Rollback reverts to the previous image.
	Rollback() error
}

// Clock is the time source. Broker transport security needs a synced
// clock, so IsSynced gates the broker handshake.
type Clock interface {
	Now() time.Time
	IsSynced() bool
	// Sync kicks an opportunistic time sync; it must not block.
	Sync()
}

// Restarter forces a full device restart. It is the only recovery
// path from a wedged execution unit.
type Restarter interface {
	Restart(reason string)
}

// Hardware bundles the platform interfaces for wiring in main.
type Hardware struct {
	Sensors   Sensors
	Distance  DistanceMeter
	Actuators ActuatorBank
	Display   Display
	Network   Network
	Updater   Updater
	Clock     Clock
	Restarter Restarter
}
