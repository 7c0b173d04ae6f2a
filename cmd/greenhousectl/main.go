package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"

	"greenhouse_controller/internal/broker"
	"greenhouse_controller/internal/logger"
	"greenhouse_controller/internal/platform"
	"greenhouse_controller/internal/portal"
	"greenhouse_controller/internal/repository"
	"greenhouse_controller/internal/repository/db"
	"greenhouse_controller/internal/service"
	"greenhouse_controller/internal/state"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

func main() {
	if err := loadConfig(); err != nil {
		logger.Get(logger.InfoLevel).Fatalw("error reading config", "err", err)
	}
	log := logger.Get(logLevel())

	conn, err := openDB(log)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()

	dir := dataDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Fatalw("failed to create data dir", "dir", dir, "err", err)
	}
	repos := repository.NewRepository(conn, dir)
	store := state.NewStore()
	hw := buildHardware(log)

	// One identity for the whole process: the MQTT client id and the
	// device_id stamped on telemetry must match.
	id := deviceID()
	session := broker.NewPahoSession(broker.Config{
		BrokerURL: viper.GetString("broker.url"),
		ClientID:  id,
		Username:  viper.GetString("broker.username"),
		Password:  viper.GetString("broker.password"),
		QoS:       1,
	})

	settings := service.NewSettingsService(repos.Settings, store, log.Unit("settings"))
	prov := portal.New(store, hw.Network, hw.Sensors, settings, viper.GetString("portal.port"), log.Unit("portal"))

	services := service.NewService(repos, store, hw, session, prov, settings, serviceConfig(id), log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The crash counter must move before anything else runs: a wedge
	// later in startup still counts as a failed boot.
	if err := services.Crash.OnBoot(ctx); err != nil {
		log.Fatalw("crash supervisor boot failed", "err", err)
	}

	if err := services.Settings.Load(ctx); err != nil {
		log.Fatalw("settings load failed", "err", err)
	}

	go services.Sensors.Run(ctx, service.DefaultSensorTick)
	go services.Control.Run(ctx, service.DefaultControlTick)
	go services.Display.Run(ctx, service.DefaultDisplayTick)
	go services.Telemetry.Run(ctx, service.DefaultTelemetryTick)
	go services.Connectivity.Run(ctx, service.DefaultConnectivityTick)
	go services.Watchdog.Run(ctx)

	waitForShutdown(cancel, services, log)
}

func loadConfig() error {
	viper.AddConfigPath("configs") // configs/config.yml
	viper.SetConfigName("config")
	return viper.ReadInConfig()
}

func openDB(log *logger.Logger) (*sql.DB, error) {
	dbPath := viper.GetString("db.path")
	if dbPath == "" {
		log.Infow("db.path not set in config; using default file", "default", "greenhouse.db")
		dbPath = "greenhouse.db"
	}
	return db.InitDB(dbPath)
}

func dataDir() string {
	dir := viper.GetString("data.dir")
	if dir == "" {
		dir = "data"
	}
	return dir
}

func logLevel() string {
	if lvl := viper.GetString("log.level"); lvl != "" {
		return lvl
	}
	return logger.InfoLevel
}

func deviceID() string {
	id := viper.GetString("device.id")
	if id == "" {
		id = "greenhouse-" + uuid.NewString()
	}
	return id
}

// buildHardware returns the simulated platform. A real device build
// swaps these for driver-backed implementations.
func buildHardware(log *logger.Logger) platform.Hardware {
	return platform.Hardware{
		Sensors:   platform.NewSimSensors(),
		Distance:  platform.NewSimDistanceMeter(),
		Actuators: platform.NewLogActuators(log.Unit("actuators")),
		Display:   platform.NewLogDisplay(log.Unit("display")),
		Network:   platform.NewSimNetwork(viper.GetBool("sim.have_credentials")),
		Updater:   platform.NoopUpdater{},
		Clock:     platform.SystemClock{},
		Restarter: platform.NewProcessRestarter(log.Unit("restart")),
	}
}

func serviceConfig(deviceID string) service.Config {
	return service.Config{
		Connectivity: service.ConnectivityConfig{
			CommandTopic: viper.GetString("broker.topics.commands"),
			AlertTopic:   viper.GetString("broker.topics.alerts"),
		},
		Telemetry: service.TelemetryConfig{
			DeviceID:  deviceID,
			Firmware:  viper.GetString("device.fw_version"),
			DataTopic: viper.GetString("broker.topics.data"),
		},
	}
}

// waitForShutdown listens for termination signals. SIGUSR1 stands in
// for the physical provisioning button on simulated hardware.
func waitForShutdown(cancel context.CancelFunc, services *service.Service, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	button := make(chan os.Signal, 1)
	signal.Notify(button, syscall.SIGUSR1)

	for {
		select {
		case <-button:
			services.Connectivity.PressButton()
		case <-quit:
			log.Infow("shutting down")
			cancel()
			return
		}
	}
}
