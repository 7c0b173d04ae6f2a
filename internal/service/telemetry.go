package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	greenhouse "greenhouse_controller"
	"greenhouse_controller/internal/broker"
	"greenhouse_controller/internal/logger"
	"greenhouse_controller/internal/platform"
	"greenhouse_controller/internal/repository"
	"greenhouse_controller/internal/state"
)

const (
	// DefaultTelemetryTick is the snapshot period.
	DefaultTelemetryTick = 5 * time.Second

	// DefaultBatchCap is the RAM batch capacity before a flush to disk.
	DefaultBatchCap = 50

	// maxDrainRounds bounds the retry/new promotion loop per tick. One
	// promotion can happen per round, so two rounds clear a steady
	// backlog; the bound exists so a pathological writer cannot pin the
	// loop.
	maxDrainRounds = 4
)

// errBacklogRemaining signals that persisted entries are still queued,
// so the live entry must buffer behind them to keep ordering.
var errBacklogRemaining = errors.New("backlog not fully drained")

// TelemetryService guarantees every snapshot is eventually delivered
// at least once, in original order, surviving outages and reboots.
// Entries buffer in RAM, spill to the pending-new file at capacity,
// and replay through pending-retry on reconnection. The backlog files
// and the RAM batch have this unit as their only writer.
type TelemetryService struct {
	store    *state.Store
	backlog  repository.BacklogRepo
	pub      broker.Publisher
	clock    platform.Clock
	deviceID string
	firmware string
	topic    string
	batchCap int
	feed     func()
	log      *logger.Logger

	batch []string
}

type TelemetryConfig struct {
	DeviceID  string
	Firmware  string
	DataTopic string
	BatchCap  int
}

func NewTelemetryService(store *state.Store, backlog repository.BacklogRepo, pub broker.Publisher, clock platform.Clock, cfg TelemetryConfig, feed func(), log *logger.Logger) *TelemetryService {
	if cfg.BatchCap <= 0 {
		cfg.BatchCap = DefaultBatchCap
	}
	if feed == nil {
		feed = func() {}
	}
	return &TelemetryService{
		store:    store,
		backlog:  backlog,
		pub:      pub,
		clock:    clock,
		deviceID: cfg.DeviceID,
		firmware: cfg.Firmware,
		topic:    cfg.DataTopic,
		batchCap: cfg.BatchCap,
		feed:     feed,
		log:      log,
	}
}

func (t *TelemetryService) Run(ctx context.Context, tick time.Duration) {
	tk := time.NewTicker(tick)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			t.feed()
			t.Tick()
		}
	}
}

// Tick serializes one snapshot and either publishes it or buffers it.
// When connected, all older entries (RAM batch, then persisted files)
// go out before the live entry so order is preserved end to end.
func (t *TelemetryService) Tick() {
	line, err := t.snapshotLine()
	if err != nil {
		t.log.Errorw("snapshot marshal failed", "err", err)
		return
	}

	if !t.connected() {
		t.buffer(line)
		return
	}

	if err := t.deliverBacklog(); err != nil {
		// Backlog must drain first; buffering the live entry keeps it
		// ordered behind whatever is still on disk.
		t.log.Warnw("backlog delivery incomplete", "err", err)
		t.buffer(line)
		return
	}
	if err := t.pub.Publish(t.topic, []byte(line)); err != nil {
		t.log.Warnw("live publish failed, buffering", "err", err)
		t.buffer(line)
	}
}

// connected gates on the broker session itself, not on the lifecycle
// state: the portal parks the state at PROVISIONING while the session
// stays up, and publishing should continue through that window.
func (t *TelemetryService) connected() bool {
	return t.pub.IsConnected()
}

func (t *TelemetryService) snapshotLine() (string, error) {
	r := t.store.Readings()
	a := t.store.Actuators()
	snap := greenhouse.TelemetrySnapshot{
		DeviceID:  t.deviceID,
		Firmware:  t.firmware,
		Timestamp: t.clock.Now().Unix(),
		Temp:      r.Temperature,
		Hum:       r.Humidity,
		Soil:      r.SoilMoisture,
		CO2:       r.ECO2,
		TVOC:      r.TVOC,
		TankLevel: r.TankLevel,
		Pump:      boolTo01(a.Pump),
		Fan:       boolTo01(a.Fan),
		Heater:    boolTo01(a.Heater),
		Mode:      t.store.Mode(),
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// buffer appends to the RAM batch and spills the whole batch to disk
// as one append once it reaches capacity.
func (t *TelemetryService) buffer(line string) {
	t.batch = append(t.batch, line)
	if len(t.batch) < t.batchCap {
		return
	}
	if err := t.flushBatch(); err != nil {
		// Keep the batch in RAM and retry next tick rather than lose
		// entries; capacity may temporarily overshoot.
		t.log.Errorw("batch flush failed", "err", err, "buffered", len(t.batch))
	}
}

// flushBatch writes the RAM batch to pending-new and clears it.
func (t *TelemetryService) flushBatch() error {
	if len(t.batch) == 0 {
		return nil
	}
	if err := t.backlog.AppendNew(t.batch); err != nil {
		return err
	}
	t.log.Infow("batch flushed to disk", "entries", len(t.batch))
	t.batch = nil
	return nil
}

// deliverBacklog flushes the RAM batch to disk, then replays persisted
// entries in order: the retry file first (left over from an earlier
// interrupted attempt), then pending-new promoted by rename. The loop
// stops on the first publish failure, leaving the retry file intact so
// the next attempt resumes without gaps or reordering.
func (t *TelemetryService) deliverBacklog() error {
	if err := t.flushBatch(); err != nil {
		return err
	}

	for round := 0; round < maxDrainRounds; round++ {
		if t.backlog.HasRetry() {
			lines, err := t.backlog.ReadRetry()
			if err != nil {
				return err
			}
			for _, line := range lines {
				if err := t.pub.Publish(t.topic, []byte(line)); err != nil {
					return err
				}
			}
			// A power cut here resends the whole file next boot:
			// at-least-once, never at-most-once.
			if err := t.backlog.DeleteRetry(); err != nil {
				return err
			}
			t.log.Infow("retry backlog delivered", "entries", len(lines))
		}
		if !t.backlog.HasNew() {
			return nil
		}
		if err := t.backlog.PromoteNew(); err != nil {
			return err
		}
	}
	if t.backlog.HasRetry() || t.backlog.HasNew() {
		return errBacklogRemaining
	}
	return nil
}

func boolTo01(b bool) int {
	if b {
		return 1
	}
	return 0
}
