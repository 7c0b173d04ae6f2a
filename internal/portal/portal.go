package portal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"greenhouse_controller/internal/logger"
	"greenhouse_controller/internal/platform"
	"greenhouse_controller/internal/server"
	"greenhouse_controller/internal/state"
)

// SettingsWriter is the validated config write path. The concrete
// settings service enforces ranges, invariants and write suppression;
// the portal never writes config any other way.
type SettingsWriter interface {
	Apply(ctx context.Context, key string, value float64) (bool, error)
}

// Portal is the captive provisioning page served while the device runs
// its setup access point. It accepts network credentials, runs soil
// probe calibration and streams live device state so the user can
// watch the node come up.
type Portal struct {
	store    *state.Store
	network  platform.Network
	sensors  platform.Sensors
	settings SettingsWriter
	port     string
	log      *logger.Logger

	mu     sync.Mutex
	active bool
	srv    *server.Server
}

func New(store *state.Store, network platform.Network, sensors platform.Sensors, settings SettingsWriter, port string, log *logger.Logger) *Portal {
	if port == "" {
		port = "80"
	}
	return &Portal{
		store:    store,
		network:  network,
		sensors:  sensors,
		settings: settings,
		port:     port,
		log:      log,
	}
}

// Start brings the HTTP server up in the background. Calling Start on
// an already running portal is a no-op.
func (p *Portal) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		return nil
	}
	p.srv = new(server.Server)
	p.active = true
	go func() {
		if err := p.srv.Run(p.port, p.initRoutes()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.log.Errorw("portal server stopped", "err", err)
			p.mu.Lock()
			p.active = false
			p.mu.Unlock()
		}
	}()
	p.log.Infow("provisioning portal started", "port", p.port)
	return nil
}

// Stop shuts the server down, allowing in-flight requests to finish.
func (p *Portal) Stop() {
	p.mu.Lock()
	srv := p.srv
	p.active = false
	p.srv = nil
	p.mu.Unlock()
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		p.log.Warnw("portal shutdown failed", "err", err)
	}
	p.log.Infow("provisioning portal stopped")
}

func (p *Portal) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Portal) initRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/", p.getStatus)
	router.GET("/status", p.getStatus)
	router.POST("/provision", p.provision)
	router.POST("/calibrate", p.calibrate)
	router.GET("/ws", p.wsConnect)

	return router
}

func (p *Portal) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, p.store.UIState())
}

type provisionRequest struct {
	SSID       string `json:"ssid" binding:"required"`
	Passphrase string `json:"passphrase"`
}

// provision stores the submitted credentials. The connectivity
// supervisor picks them up on its next association attempt.
func (p *Portal) provision(c *gin.Context) {
	var req provisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ssid is required"})
		return
	}
	if err := p.network.SaveCredentials(req.SSID, req.Passphrase); err != nil {
		p.log.Errorw("credential save failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store credentials"})
		return
	}
	p.log.Infow("credentials stored", "ssid", req.SSID)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type calibrateRequest struct {
	Target string `json:"target" binding:"required"` // "air" or "water"
}

// calibrate captures the current raw soil reading as the dry-air or
// in-water reference point. The write goes through the validated
// settings path, so a reading that would invert the calibration band
// is refused.
func (p *Portal) calibrate(c *gin.Context) {
	var req calibrateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target is required"})
		return
	}
	var key string
	switch req.Target {
	case "air":
		key = "cal_air"
	case "water":
		key = "cal_water"
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "target must be air or water"})
		return
	}

	raw := p.sensors.RawSoil()
	applied, err := p.settings.Apply(c.Request.Context(), key, float64(raw))
	if err != nil {
		p.log.Warnw("calibration refused", "key", key, "raw", raw, "err", err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	p.log.Infow("calibration point captured", "key", key, "raw", raw, "applied", applied)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "key": key, "raw": raw})
}
