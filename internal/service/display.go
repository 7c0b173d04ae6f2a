package service

import (
	"context"
	"time"

	"greenhouse_controller/internal/logger"
	"greenhouse_controller/internal/platform"
	"greenhouse_controller/internal/state"
)

// DefaultDisplayTick is the panel refresh period.
const DefaultDisplayTick = 500 * time.Millisecond

// DisplayService renders the local status panel from store snapshots.
type DisplayService struct {
	display platform.Display
	store   *state.Store
	feed    func()
	log     *logger.Logger
}

func NewDisplayService(display platform.Display, store *state.Store, feed func(), log *logger.Logger) *DisplayService {
	if feed == nil {
		feed = func() {}
	}
	return &DisplayService{display: display, store: store, feed: feed, log: log}
}

func (d *DisplayService) Run(ctx context.Context, tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			d.feed()
			d.display.Render(d.store.UIState())
		}
	}
}
