package service

import (
	"context"
	"time"

	"greenhouse_controller/internal/logger"
	"greenhouse_controller/internal/platform"
	"greenhouse_controller/internal/state"
)

// DefaultSensorTick matches the hardware polling interval.
const DefaultSensorTick = 2 * time.Second

// SensorService polls the sensor block and publishes fresh readings
// into the store. A failed read leaves the last known values in place
// (stale-but-available) rather than halting control.
type SensorService struct {
	sensors platform.Sensors
	store   *state.Store
	feed    func()
	log     *logger.Logger
}

func NewSensorService(sensors platform.Sensors, store *state.Store, feed func(), log *logger.Logger) *SensorService {
	if feed == nil {
		feed = func() {}
	}
	return &SensorService{sensors: sensors, store: store, feed: feed, log: log}
}

func (s *SensorService) Run(ctx context.Context, tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.feed()
			r, err := s.sensors.Read()
			if err != nil {
				s.log.Warnw("sensor read failed, keeping last values", "err", err)
				continue
			}
			s.store.SetSensorReadings(r)
		}
	}
}
