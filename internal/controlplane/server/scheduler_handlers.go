package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/betbot/kisbot/internal/orchestrator"
)

const slackTestMessage = ":white_check_mark: *Trade Bot Test*\nSlack notification is working!"

func (s *Server) handleSchedulerConfig(c *gin.Context) {
	o := s.cfg.Runner.Orchestrator()
	settings := o.Settings()
	c.JSON(http.StatusOK, gin.H{
		"enabled":       o.Enabled(),
		"environment":   s.cfg.Env,
		"weeklyStocks":  settings.Stocks,
		"monthlyStocks": settings.MonthlyStocks,
		"rebalance":     settings.Rebalance,
	})
}

func (s *Server) handleSchedulerJobs(c *gin.Context) {
	if s.cfg.Jobs == nil {
		c.JSON(http.StatusOK, []any{})
		return
	}
	c.JSON(http.StatusOK, s.cfg.Jobs())
}

func (s *Server) handleSchedulerHistory(c *gin.Context) {
	if s.cfg.History == nil {
		c.JSON(http.StatusOK, []any{})
		return
	}
	c.JSON(http.StatusOK, s.cfg.History())
}

func (s *Server) respondPurchases(c *gin.Context, results []orchestrator.PurchaseResult) {
	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
		}
	}
	respond(c, purchaseStatus(len(results), ok), results)
}

func (s *Server) handleExecuteWeekly(c *gin.Context) {
	env, ok := s.environment(c)
	if !ok {
		return
	}
	s.log.Infof("[%s] 手动执行每周定投", env)
	s.respondPurchases(c, s.cfg.Runner.Weekly(c.Request.Context(), env))
}

func (s *Server) handleExecuteMonthly(c *gin.Context) {
	env, ok := s.environment(c)
	if !ok {
		return
	}
	s.log.Infof("[%s] 手动执行月度再平衡", env)
	s.respondPurchases(c, s.cfg.Runner.Monthly(c.Request.Context(), env))
}

func (s *Server) handleExecuteAll(c *gin.Context) {
	env, ok := s.environment(c)
	if !ok {
		return
	}
	s.log.Infof("[%s] 手动执行全部任务", env)
	s.respondPurchases(c, s.cfg.Runner.All(c.Request.Context(), env))
}

func (s *Server) handleExecuteFallback(c *gin.Context) {
	env, ok := s.environment(c)
	if !ok {
		return
	}
	s.log.Infof("[%s] 手动执行未成交转市价", env)
	results := s.cfg.Runner.Fallback(c.Request.Context(), env)
	n := 0
	for _, r := range results {
		if r.Success {
			n++
		}
	}
	respond(c, fallbackStatus(len(results), n), results)
}

func (s *Server) handleToggle(c *gin.Context) {
	enabled, err := strconv.ParseBool(c.Query("enabled"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "enabled must be a boolean")
		return
	}
	o := s.cfg.Runner.Orchestrator()
	o.SetEnabled(enabled)

	msg := "스케줄러가 비활성화되었습니다"
	if enabled {
		msg = "스케줄러가 활성화되었습니다"
	}
	c.JSON(http.StatusOK, gin.H{"enabled": o.Enabled(), "message": msg})
}

func (s *Server) handleBalanceNotify(c *gin.Context) {
	env, ok := s.environment(c)
	if !ok {
		return
	}
	bal, err := s.cfg.Runner.Balance(c.Request.Context(), env)
	if err != nil {
		writeKISError(c, err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

func (s *Server) handleSlackTest(c *gin.Context) {
	if s.cfg.Slack == nil {
		writeError(c, http.StatusServiceUnavailable, "slack not configured")
		return
	}
	if err := s.cfg.Slack.Send(c.Request.Context(), slackTestMessage); err != nil {
		writeError(c, http.StatusBadGateway, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Slack test message sent"})
}
