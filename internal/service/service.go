package service

import (
	"context"
	"time"

	"greenhouse_controller/internal/broker"
	"greenhouse_controller/internal/logger"
	"greenhouse_controller/internal/platform"
	"greenhouse_controller/internal/repository"
	"greenhouse_controller/internal/state"
)

// Unit is a background loop owned by the node supervisor. Stop via
// context cancellation in main() for graceful shutdown.
type Unit interface {
	Run(ctx context.Context, tick time.Duration)
}

// Config carries the per-node settings the service layer needs.
type Config struct {
	WatchdogTimeout time.Duration
	Connectivity    ConnectivityConfig
	Telemetry       TelemetryConfig
}

// Service aggregates all sub-services of the node.
type Service struct {
	Watchdog     *Watchdog
	Settings     *SettingsService
	Sensors      *SensorService
	Control      *ControlService
	Display      *DisplayService
	Telemetry    *TelemetryService
	Crash        *CrashService
	Commands     *CommandService
	Connectivity *ConnectivityService
}

// NewService wires the repository layer and the platform into concrete
// services. The portal and the settings service come in from the
// caller: the portal shares the settings write path for calibration,
// so both are constructed in main.
func NewService(
	repos *repository.Repository,
	store *state.Store,
	hw platform.Hardware,
	session broker.Session,
	portal PortalController,
	settings *SettingsService,
	cfg Config,
	log *logger.Logger,
) *Service {
	if cfg.WatchdogTimeout <= 0 {
		cfg.WatchdogTimeout = DefaultWatchdogTimeout
	}
	wd := NewWatchdog(cfg.WatchdogTimeout, hw.Restarter.Restart, log.Unit("watchdog"))

	crash := NewCrashService(repos.Supervisor, hw.Updater, hw.Restarter, log.Unit("crash"))
	commands := NewCommandService(store, settings, hw.Updater, hw.Restarter, wd, "commands", log.Unit("commands"))

	return &Service{
		Watchdog: wd,
		Settings: settings,
		Sensors:  NewSensorService(hw.Sensors, store, wd.Register("sensors"), log.Unit("sensors")),
		Control:  NewControlService(store, hw.Distance, hw.Actuators, wd.Register("control"), log.Unit("control")),
		Display:  NewDisplayService(hw.Display, store, wd.Register("display"), log.Unit("display")),
		Telemetry: NewTelemetryService(
			store, repos.Backlog, session, hw.Clock, cfg.Telemetry,
			wd.Register("telemetry"), log.Unit("telemetry"),
		),
		Crash:    crash,
		Commands: commands,
		Connectivity: NewConnectivityService(
			store, hw.Network, session, hw.Clock, crash, commands, portal,
			cfg.Connectivity, wd.Register("connectivity"), log.Unit("connectivity"),
		),
	}
}
