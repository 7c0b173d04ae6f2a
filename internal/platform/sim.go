package platform

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	greenhouse "greenhouse_controller"
	"greenhouse_controller/internal/logger"
)

// Simulated collaborators so the node runs end to end without the
// bench hardware. The drift model mirrors the physical unit: slow
// temperature/humidity drift, soil drying between waterings.

// ----------- Simulation constants -----------
const (
	simAmbientC      = 24.0
	simTempDriftC    = 0.3  // max °C change per sample
	simHumBase       = 60.0 // %RH baseline
	simSoilDryPerMin = 0.5  // % lost per minute unpumped
	simCO2Base       = 400  // ppm floor
	simTankStartCM   = 10   // distance to surface at boot
)

type SimSensors struct {
	mu   sync.Mutex
	last greenhouse.Readings
	raw  int
}

func NewSimSensors() *SimSensors {
	return &SimSensors{
		last: greenhouse.Readings{
			Temperature:  simAmbientC,
			Humidity:     simHumBase,
			SoilMoisture: 55,
			ECO2:         simCO2Base,
			TVOC:         20,
		},
		raw: 2800,
	}
}

func (s *SimSensors) Read() (greenhouse.Readings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.last
	r.Temperature += (rand.Float64()*2 - 1) * simTempDriftC
	r.Humidity = clampF(r.Humidity+(rand.Float64()*2-1)*1.5, 20, 95)
	r.SoilMoisture = clampI(r.SoilMoisture+rand.Intn(3)-1, 0, 100)
	r.ECO2 = simCO2Base + rand.Intn(200)
	r.TVOC = clampI(r.TVOC+rand.Intn(5)-2, 0, 500)
	s.last = r
	s.raw = 4095 - r.SoilMoisture*24 // roughly inverse of the probe mapping
	return r, nil
}

func (s *SimSensors) RawSoil() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.raw
}

type SimDistanceMeter struct {
	mu sync.Mutex
	cm int
}

func NewSimDistanceMeter() *SimDistanceMeter {
	return &SimDistanceMeter{cm: simTankStartCM}
}

func (d *SimDistanceMeter) Measure() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cm, nil
}

// Drain lowers the simulated water level (raises the distance).
func (d *SimDistanceMeter) Drain(cm int) {
	d.mu.Lock()
	d.cm += cm
	d.mu.Unlock()
}

type LogActuators struct {
	log  *logger.Logger
	mu   sync.Mutex
	last greenhouse.ActuatorStatus
	any  bool
}

func NewLogActuators(log *logger.Logger) *LogActuators {
	return &LogActuators{log: log}
}

func (a *LogActuators) Apply(st greenhouse.ActuatorStatus) {
	a.mu.Lock()
	changed := !a.any || st != a.last
	a.last = st
	a.any = true
	a.mu.Unlock()
	if changed {
		a.log.Infow("relays", "pump", st.Pump, "fan", st.Fan, "heater", st.Heater)
	}
}

type LogDisplay struct {
	log *logger.Logger
}

func NewLogDisplay(log *logger.Logger) *LogDisplay {
	return &LogDisplay{log: log}
}

func (d *LogDisplay) Render(ui greenhouse.UIState) {
	if ui.Provisioning {
		d.log.Debugw("lcd", "line", "WiFi Setup Mode / connect to AP")
		return
	}
	d.log.Debugw("lcd",
		"temp", fmt.Sprintf("%.1fC", ui.Readings.Temperature),
		"hum", fmt.Sprintf("%.0f%%", ui.Readings.Humidity),
		"soil", fmt.Sprintf("%d%%", ui.Readings.SoilMoisture),
		"co2", ui.Readings.ECO2,
		"mode", ui.Mode,
		"link", ui.Link.String(),
	)
}

// SimNetwork associates after a couple of attempts once credentials
// exist, which exercises the ASSOCIATING path on boot.
type SimNetwork struct {
	mu             sync.Mutex
	status         LinkStatus
	attempts       int
	haveCreds      bool
	provisioning   bool
	attemptsNeeded int
}

func NewSimNetwork(haveCreds bool) *SimNetwork {
	return &SimNetwork{haveCreds: haveCreds, attemptsNeeded: 2}
}

func (n *SimNetwork) Associate(_ context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.haveCreds {
		n.status = LinkDown
		return fmt.Errorf("no saved credentials")
	}
	n.attempts++
	if n.attempts >= n.attemptsNeeded {
		n.status = LinkUp
		return nil
	}
	n.status = LinkAssociating
	return nil
}

func (n *SimNetwork) Status() LinkStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

func (n *SimNetwork) StartProvisioning() error {
	n.mu.Lock()
	n.provisioning = true
	n.mu.Unlock()
	return nil
}

func (n *SimNetwork) StopProvisioning() error {
	n.mu.Lock()
	n.provisioning = false
	n.mu.Unlock()
	return nil
}

func (n *SimNetwork) SaveCredentials(ssid, _ string) error {
	n.mu.Lock()
	n.haveCreds = ssid != ""
	n.attempts = 0
	n.mu.Unlock()
	return nil
}

// NoopUpdater stands in where no OTA partition scheme exists.
type NoopUpdater struct{}

func (NoopUpdater) FetchAndApply(_ context.Context, url string) error {
	return fmt.Errorf("updater: no OTA support in this build (url %s)", url)
}
func (NoopUpdater) PreviousImageAvailable() bool { return false }
func (NoopUpdater) Rollback() error              { return fmt.Errorf("updater: no previous image") }

// SystemClock is the host clock; on a hosted OS it is always synced.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
func (SystemClock) IsSynced() bool { return true }
func (SystemClock) Sync()          {}

// ProcessRestarter exits the process; the supervisor (systemd, RTOS
// reset vector) brings it back up, which is what re-runs the crash
// supervisor boot path.
type ProcessRestarter struct {
	log *logger.Logger
}

func NewProcessRestarter(log *logger.Logger) *ProcessRestarter {
	return &ProcessRestarter{log: log}
}

func (r *ProcessRestarter) Restart(reason string) {
	r.log.Errorw("forcing restart", "reason", reason)
	os.Exit(1)
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampI(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
