package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/betbot/spikebot/internal/domain"
)

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.bot.Status())
}

func (s *Server) handlePrices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"prices": s.bot.Prices()})
}

// handleSignals lists today's trade signals, optionally filtered by
// ?status= and ?symbol=.
func (s *Server) handleSignals(c *gin.Context) {
	status := c.Query("status")
	symbol := c.Query("symbol")
	switch domain.SignalStatus(status) {
	case "", domain.StatusPending, domain.StatusSuccess, domain.StatusFailed:
	default:
		writeError(c, http.StatusBadRequest, "unknown status "+status)
		return
	}
	out := make([]domain.SignalRecord, 0)
	for _, sig := range s.bot.Signals() {
		if status != "" && string(sig.Status) != status {
			continue
		}
		if symbol != "" && sig.Symbol != symbol {
			continue
		}
		out = append(out, sig.Record())
	}
	c.JSON(http.StatusOK, gin.H{"signals": out})
}

type symbolStatsView struct {
	domain.SymbolStats
	SuccessRate float64 `json:"success_rate"`
}

func (s *Server) handleStats(c *gin.Context) {
	st := s.bot.Stats()
	per := make([]symbolStatsView, 0, len(st.PerSymbol))
	for _, ss := range st.PerSymbol {
		per = append(per, symbolStatsView{SymbolStats: ss, SuccessRate: ss.SuccessRate()})
	}
	c.JSON(http.StatusOK, gin.H{
		"day":          st.Day,
		"total":        st.Total,
		"success":      st.Success,
		"failed":       st.Failed,
		"pending":      st.Pending,
		"streak":       st.Streak,
		"success_rate": st.SuccessRate(),
		"per_symbol":   per,
	})
}

func (s *Server) handleMonitoringStart(c *gin.Context) {
	s.bot.Start()
	c.JSON(http.StatusOK, gin.H{"running": s.bot.Running()})
}

func (s *Server) handleMonitoringStop(c *gin.Context) {
	s.bot.Stop()
	c.JSON(http.StatusOK, gin.H{"running": s.bot.Running()})
}

func (s *Server) handleAutoTradeGet(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"auto_trade": s.bot.AutoTrade()})
}

type autoTradeRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleAutoTradeSet(c *gin.Context) {
	var req autoTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		writeError(c, http.StatusBadRequest, `body must be {"enabled": true|false}`)
		return
	}
	got := s.bot.SetAutoTrade(*req.Enabled)
	if got != *req.Enabled {
		writeError(c, http.StatusConflict, "auto-trade unavailable: no trading session configured")
		return
	}
	apiLog.Infof("auto-trade set to %v via api", got)
	c.JSON(http.StatusOK, gin.H{"auto_trade": got})
}
