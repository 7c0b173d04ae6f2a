package service

import (
	"context"
	"sync"
	"time"

	"greenhouse_controller/internal/logger"
)

// DefaultWatchdogTimeout is how long a unit may stay silent before the
// node is force-restarted.
const DefaultWatchdogTimeout = 30 * time.Second

// Watchdog tracks liveness of every execution unit. Each unit
// registers once and calls its feed closure every loop iteration; a
// unit that stays silent past the timeout is fatal and forces a full
// restart. This is the only recovery path from a wedged unit.
type Watchdog struct {
	mu        sync.Mutex
	timeout   time.Duration
	lastFeed  map[string]time.Time
	suspended map[string]bool
	restart   func(reason string)
	log       *logger.Logger
}

func NewWatchdog(timeout time.Duration, restart func(reason string), log *logger.Logger) *Watchdog {
	if timeout <= 0 {
		timeout = DefaultWatchdogTimeout
	}
	return &Watchdog{
		timeout:   timeout,
		lastFeed:  make(map[string]time.Time),
		suspended: make(map[string]bool),
		restart:   restart,
		log:       log,
	}
}

// Register adds a unit to the watch list and returns its feed closure.
func (w *Watchdog) Register(unit string) func() {
	w.mu.Lock()
	w.lastFeed[unit] = time.Now()
	w.mu.Unlock()
	return func() {
		w.mu.Lock()
		w.lastFeed[unit] = time.Now()
		w.mu.Unlock()
	}
}

// Suspend stops liveness checking for a unit. Used around the firmware
// update fetch, which legitimately stalls its unit for minutes.
// Unknown unit names are ignored: callers that run outside any
// registered loop (broker message handlers) must not create entries
// here that nothing will ever feed.
func (w *Watchdog) Suspend(unit string) {
	w.mu.Lock()
	if _, ok := w.lastFeed[unit]; ok {
		w.suspended[unit] = true
	}
	w.mu.Unlock()
}

// Resume re-arms checking for a previously suspended unit. Unknown
// unit names are ignored, same as Suspend.
func (w *Watchdog) Resume(unit string) {
	w.mu.Lock()
	if _, ok := w.lastFeed[unit]; ok {
		w.suspended[unit] = false
		w.lastFeed[unit] = time.Now()
	}
	w.mu.Unlock()
}

// Run checks all units once a second until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if unit, ok := w.expiredUnit(now); ok {
				w.log.Errorw("watchdog timeout", "unit", unit, "timeout", w.timeout)
				w.restart("watchdog timeout on unit " + unit)
				return
			}
		}
	}
}

// expiredUnit reports the first unit whose feed is older than the
// timeout, skipping suspended units.
func (w *Watchdog) expiredUnit(now time.Time) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for unit, last := range w.lastFeed {
		if w.suspended[unit] {
			continue
		}
		if now.Sub(last) > w.timeout {
			return unit, true
		}
	}
	return "", false
}
