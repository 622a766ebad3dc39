// Package server exposes the operator HTTP API: read-only views of the bot
// plus the monitoring and auto-trade toggles.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/betbot/spikebot/internal/domain"
	"github.com/betbot/spikebot/internal/engine"
)

var apiLog = logrus.WithField("component", "api")

// Bot is what the API reads and toggles. *engine.Engine implements it.
type Bot interface {
	Status() engine.Status
	Prices() []engine.PriceView
	Signals() []domain.Signal
	Stats() domain.Stats
	Start()
	Stop()
	Running() bool
	SetAutoTrade(on bool) bool
	AutoTrade() bool
}

type Config struct {
	Listen    string
	AuthToken string // empty disables auth on /api
}

type Server struct {
	cfg Config
	bot Bot
}

func New(cfg Config, bot Bot) (*Server, error) {
	if bot == nil {
		return nil, errors.New("bot is required")
	}
	return &Server{cfg: cfg, bot: bot}, nil
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api")
	api.Use(s.auth())
	api.GET("/status", s.handleStatus)
	api.GET("/prices", s.handlePrices)
	api.GET("/signals", s.handleSignals)
	api.GET("/stats", s.handleStats)

	monitoring := api.Group("/monitoring")
	monitoring.POST("/start", s.handleMonitoringStart)
	monitoring.POST("/stop", s.handleMonitoringStop)

	api.GET("/autotrade", s.handleAutoTradeGet)
	api.POST("/autotrade", s.handleAutoTradeSet)
	return r
}

func (s *Server) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AuthToken == "" {
			c.Next()
			return
		}
		got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.AuthToken)) != 1 {
			writeError(c, http.StatusUnauthorized, "unauthorized")
			c.Abort()
			return
		}
		c.Next()
	}
}

// StartAsync serves the API until ctx is done.
func (s *Server) StartAsync(ctx context.Context) (net.Addr, error) {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return nil, err
	}
	hs := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			apiLog.Errorf("api server: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hs.Shutdown(shutdownCtx)
	}()
	apiLog.Infof("api listening on %s", ln.Addr())
	return ln.Addr(), nil
}

func writeError(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"error": msg})
}
