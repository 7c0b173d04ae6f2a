package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"

	greenhouse "greenhouse_controller"
	"greenhouse_controller/internal/broker"
	"greenhouse_controller/internal/logger"
	"greenhouse_controller/internal/platform"
	"greenhouse_controller/internal/state"
)

// DefaultConnectivityTick is the supervisor loop period. Every network
// or broker operation inside a step is bounded by a short timeout;
// nothing here blocks the rest of the node.
const DefaultConnectivityTick = 1 * time.Second

// PortalController is the provisioning portal as the supervisor sees
// it: something it can open and close with a bounded lifetime.
type PortalController interface {
	Start() error
	Stop()
	Active() bool
}

type ConnectivityConfig struct {
	AssocRetryMax    time.Duration // cap on association retry backoff
	BrokerRetry      time.Duration // pause between broker connect attempts
	ConnectTimeout   time.Duration // per network/broker attempt
	ProvisionTimeout time.Duration // portal lifetime
	CommandTopic     string
	AlertTopic       string
}

func (c *ConnectivityConfig) applyDefaults() {
	if c.AssocRetryMax <= 0 {
		c.AssocRetryMax = 30 * time.Second
	}
	if c.BrokerRetry <= 0 {
		c.BrokerRetry = 5 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 2 * time.Second
	}
	if c.ProvisionTimeout <= 0 {
		c.ProvisionTimeout = 3 * time.Minute
	}
}

// ConnectivityService owns the lifecycle state machine: association,
// user-triggered provisioning, the broker session, and the plumbing
// that marks a boot as verified once the node is fully connected.
type ConnectivityService struct {
	store    *state.Store
	network  platform.Network
	session  broker.Session
	clock    platform.Clock
	crash    *CrashService
	commands *CommandService
	portal   PortalController
	cfg      ConnectivityConfig
	feed     func()
	log      *logger.Logger

	buttonCh chan struct{}

	assocBackoff   *backoff.ExponentialBackOff
	nextAssoc      time.Time
	nextBroker     time.Time
	provisionUntil time.Time
	bootVerified   bool
	subscribed     bool
}

func NewConnectivityService(
	store *state.Store,
	network platform.Network,
	session broker.Session,
	clock platform.Clock,
	crash *CrashService,
	commands *CommandService,
	portal PortalController,
	cfg ConnectivityConfig,
	feed func(),
	log *logger.Logger,
) *ConnectivityService {
	cfg.applyDefaults()
	if feed == nil {
		feed = func() {}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.MaxInterval = cfg.AssocRetryMax
	bo.MaxElapsedTime = 0 // retry forever

	return &ConnectivityService{
		store:        store,
		network:      network,
		session:      session,
		clock:        clock,
		crash:        crash,
		commands:     commands,
		portal:       portal,
		cfg:          cfg,
		feed:         feed,
		log:          log,
		buttonCh:     make(chan struct{}, 1),
		assocBackoff: bo,
	}
}

// PressButton is the physical-button hook: first press opens the
// provisioning portal, a second press while provisioning closes it.
// Non-blocking; a press during an unserviced press is coalesced.
func (c *ConnectivityService) PressButton() {
	select {
	case c.buttonCh <- struct{}{}:
	default:
	}
}

func (c *ConnectivityService) Run(ctx context.Context, tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			c.session.Disconnect()
			return
		case <-t.C:
			c.feed()
			c.step(ctx, c.clock.Now())
		}
	}
}

// step advances the state machine by at most one transition worth of
// bounded work.
func (c *ConnectivityService) step(ctx context.Context, now time.Time) {
	select {
	case <-c.buttonCh:
		c.handleButton(now)
	default:
	}

	if c.portal.Active() && now.After(c.provisionUntil) {
		c.log.Infow("provisioning portal timed out")
		c.exitProvisioning()
	}

	switch c.network.Status() {
	case platform.LinkUp:
		c.assocBackoff.Reset()
		c.nextAssoc = time.Time{}
		c.stepBroker(ctx, now)
	default:
		c.subscribed = false
		c.stepAssociation(ctx, now)
	}
}

func (c *ConnectivityService) handleButton(now time.Time) {
	if c.portal.Active() {
		c.log.Infow("provisioning exit requested")
		c.exitProvisioning()
		return
	}
	c.log.Infow("provisioning requested")
	if err := c.network.StartProvisioning(); err != nil {
		c.log.Errorw("provisioning AP start failed", "err", err)
		return
	}
	if err := c.portal.Start(); err != nil {
		c.log.Errorw("portal start failed", "err", err)
		_ = c.network.StopProvisioning()
		return
	}
	c.provisionUntil = now.Add(c.cfg.ProvisionTimeout)
	c.store.SetProvisioningActive(true)
	c.store.SetConnectivity(greenhouse.Provisioning)
}

func (c *ConnectivityService) exitProvisioning() {
	c.portal.Stop()
	if err := c.network.StopProvisioning(); err != nil {
		c.log.Warnw("provisioning AP stop failed", "err", err)
	}
	c.store.SetProvisioningActive(false)
	// Fresh credentials may have just landed: retry association now.
	c.assocBackoff.Reset()
	c.nextAssoc = time.Time{}
	c.store.SetConnectivity(greenhouse.Disconnected)
}

// stepAssociation retries the network link on a bounded, growing
// interval while the link is down.
func (c *ConnectivityService) stepAssociation(ctx context.Context, now time.Time) {
	if c.portal.Active() {
		c.store.SetConnectivity(greenhouse.Provisioning)
	} else if c.network.Status() == platform.LinkAssociating {
		c.store.SetConnectivity(greenhouse.Associating)
	} else {
		c.store.SetConnectivity(greenhouse.Disconnected)
	}

	if now.Before(c.nextAssoc) {
		return
	}
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	if err := c.network.Associate(attemptCtx); err != nil {
		c.log.Debugw("association attempt failed", "err", err)
	} else if !c.portal.Active() {
		c.store.SetConnectivity(greenhouse.Associating)
	}
	c.nextAssoc = now.Add(c.assocBackoff.NextBackOff())
}

// stepBroker manages the broker session once the link is up. The
// handshake is gated on a synced clock because transport security
// depends on current time.
func (c *ConnectivityService) stepBroker(ctx context.Context, now time.Time) {
	if c.portal.Active() {
		// Portal open with link up: keep reporting PROVISIONING until
		// the user closes it; broker work continues underneath.
		c.store.SetConnectivity(greenhouse.Provisioning)
	}

	if !c.clock.IsSynced() {
		c.clock.Sync()
		if !c.portal.Active() {
			c.store.SetConnectivity(greenhouse.AssociatedNoBroker)
		}
		return
	}

	if !c.session.IsConnected() {
		c.subscribed = false
		if !c.portal.Active() {
			c.store.SetConnectivity(greenhouse.AssociatedNoBroker)
		}
		if now.Before(c.nextBroker) {
			return
		}
		c.nextBroker = now.Add(c.cfg.BrokerRetry)
		if err := c.session.Connect(c.cfg.ConnectTimeout); err != nil {
			c.log.Warnw("broker connect failed", "err", err)
			return
		}
		c.log.Infow("broker connected")
	}

	if !c.subscribed {
		if err := c.session.Subscribe(c.cfg.CommandTopic, func(payload []byte) {
			if err := c.commands.Handle(ctx, payload); err != nil {
				c.log.Warnw("command rejected", "err", err)
			}
		}); err != nil {
			c.log.Warnw("command subscribe failed", "err", err)
			return
		}
		c.subscribed = true
	}

	if !c.portal.Active() {
		c.store.SetConnectivity(greenhouse.Connected)
	}

	// Boot success means steady-state connectivity, not reaching main.
	if !c.bootVerified {
		if err := c.crash.MarkBootVerified(ctx); err != nil {
			c.log.Errorw("boot verification persist failed", "err", err)
		} else {
			c.bootVerified = true
			c.log.Infow("boot verified, crash counter cleared")
		}
	}

	c.publishPendingAlert(ctx, now)
}

// publishPendingAlert delivers the one-shot rollback notification. The
// flag is cleared only after the publish succeeds, so an interrupted
// delivery retries on the next connection.
func (c *ConnectivityService) publishPendingAlert(ctx context.Context, now time.Time) {
	pending, err := c.crash.RollbackPending(ctx)
	if err != nil {
		c.log.Errorw("rollback flag read failed", "err", err)
		return
	}
	if !pending {
		return
	}
	alert := greenhouse.Alert{
		Alert:     greenhouse.AlertRollbackExecuted,
		Message:   "firmware was rolled back to the previous image after repeated boot failures",
		Timestamp: now.Unix(),
	}
	b, err := json.Marshal(alert)
	if err != nil {
		c.log.Errorw("alert marshal failed", "err", err)
		return
	}
	if err := c.session.Publish(c.cfg.AlertTopic, b); err != nil {
		c.log.Warnw("alert publish failed, will retry", "err", err)
		return
	}
	if err := c.crash.ClearRollbackPending(ctx); err != nil {
		c.log.Errorw("alert flag clear failed", "err", err)
		return
	}
	c.log.Infow("rollback alert delivered")
}
