// Package server 手动触发与查询用的 HTTP 控制面。
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/kisbot/internal/kis"
	"github.com/betbot/kisbot/internal/kis/domestic"
	"github.com/betbot/kisbot/internal/kis/overseas"
	"github.com/betbot/kisbot/internal/kis/realtime"
	"github.com/betbot/kisbot/internal/scheduler"
)

// OverseasAPI 海外股票接口
type OverseasAPI interface {
	CurrentPrice(ctx context.Context, env kis.Environment, ex overseas.Exchange, symbol string) (*overseas.Price, error)
	Balance(ctx context.Context, env kis.Environment) ([]overseas.Position, error)
	BalanceFor(ctx context.Context, env kis.Environment, ex overseas.Exchange, currency string) ([]overseas.Position, error)
	PositionBySymbol(ctx context.Context, env kis.Environment, symbol string) (*overseas.Position, error)
	ForeignMargin(ctx context.Context, env kis.Environment) ([]overseas.ForeignMargin, error)
	UnfilledOrders(ctx context.Context, env kis.Environment, ex overseas.Exchange) ([]overseas.UnfilledOrder, error)
	PurchasableAmount(ctx context.Context, env kis.Environment, ex overseas.Exchange, symbol string, price decimal.Decimal) (*overseas.PurchasableAmount, error)
	PlaceOrder(ctx context.Context, env kis.Environment, req overseas.OrderRequest) (overseas.OrderResult, error)
	CancelOrder(ctx context.Context, env kis.Environment, ex overseas.Exchange, symbol, orderID string, qty int64) (overseas.OrderResult, error)
}

// DomesticAPI 国内股票接口
type DomesticAPI interface {
	CurrentPrice(ctx context.Context, env kis.Environment, stockCode string) (*domestic.Price, error)
	Balance(ctx context.Context, env kis.Environment) ([]domestic.Position, error)
	PositionByCode(ctx context.Context, env kis.Environment, stockCode string) (*domestic.Position, error)
	PurchasableAmount(ctx context.Context, env kis.Environment, stockCode string, price decimal.Decimal) (*domestic.PurchasableAmount, error)
	UnfilledOrders(ctx context.Context, env kis.Environment) ([]domestic.UnfilledOrder, error)
	PlaceOrder(ctx context.Context, env kis.Environment, req domestic.OrderRequest) (domestic.OrderResult, error)
	CancelOrder(ctx context.Context, env kis.Environment, orderID string, qty int64) (domestic.OrderResult, error)
}

// Feed 实时行情订阅
type Feed interface {
	Subscribe(ctx context.Context, channel, key string) error
	Unsubscribe(ctx context.Context, channel, key string) error
	Subscriptions() []realtime.Subscription
	State() realtime.State
}

// QuoteSource 最近成交快照
type QuoteSource interface {
	Snapshot() map[string]realtime.OverseasQuote
}

// Messenger Slack 测试消息
type Messenger interface {
	Send(ctx context.Context, text string) error
}

// Config 控制面依赖；除 Runner 外均可为 nil，对应路由返回 503
type Config struct {
	Runner      *scheduler.Runner
	Env         kis.Environment
	Overseas    OverseasAPI
	Domestic    DomesticAPI
	Feed        Feed
	Quotes      QuoteSource
	Slack       Messenger
	Jobs        func() []scheduler.Entry
	History     func() []scheduler.JobRun
	Metrics     http.Handler
	MetricsPath string
	Mode        string
}

// Server 控制面
type Server struct {
	cfg  Config
	http *http.Server
	log  *logrus.Entry
}

// New 创建控制面
func New(cfg Config) (*Server, error) {
	if cfg.Runner == nil {
		return nil, errors.New("runner is required")
	}
	if cfg.Env == "" {
		cfg.Env = kis.Demo
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	return &Server{cfg: cfg, log: logrus.WithField("component", "controlplane")}, nil
}

// Router 路由
func (s *Server) Router() http.Handler {
	switch s.cfg.Mode {
	case gin.DebugMode, gin.TestMode:
		gin.SetMode(s.cfg.Mode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	if s.cfg.Metrics != nil {
		r.GET(s.cfg.MetricsPath, gin.WrapH(s.cfg.Metrics))
	}

	api := r.Group("/api")

	sched := api.Group("/scheduler")
	sched.GET("/config", s.handleSchedulerConfig)
	sched.GET("/jobs", s.handleSchedulerJobs)
	sched.GET("/history", s.handleSchedulerHistory)
	sched.POST("/execute", s.handleExecuteAll)
	sched.POST("/execute/weekly", s.handleExecuteWeekly)
	sched.POST("/execute/monthly", s.handleExecuteMonthly)
	sched.POST("/execute/fallback", s.handleExecuteFallback)
	sched.POST("/toggle", s.handleToggle)
	sched.POST("/balance", s.handleBalanceNotify)
	sched.POST("/slack/test", s.handleSlackTest)
	api.POST("/slack/test", s.handleSlackTest)

	ov := api.Group("/overseas", s.require(s.cfg.Overseas != nil, "overseas"))
	ov.GET("/price", s.handleOverseasPrice)
	ov.GET("/balance", s.handleOverseasBalance)
	ov.GET("/balance/:symbol", s.handleOverseasPosition)
	ov.GET("/margin", s.handleOverseasMargin)
	ov.GET("/summary", s.handleOverseasSummary)
	ov.GET("/unfilled", s.handleOverseasUnfilled)
	ov.GET("/purchasable", s.handleOverseasPurchasable)
	ov.POST("/order", s.handleOverseasOrder)
	ov.POST("/cancel", s.handleOverseasCancel)

	dom := api.Group("/domestic", s.require(s.cfg.Domestic != nil, "domestic"))
	dom.GET("/price/:code", s.handleDomesticPrice)
	dom.GET("/balance", s.handleDomesticBalance)
	dom.GET("/balance/:code", s.handleDomesticPosition)
	dom.GET("/purchasable", s.handleDomesticPurchasable)
	dom.GET("/unfilled", s.handleDomesticUnfilled)
	dom.POST("/order", s.handleDomesticOrder)
	dom.POST("/cancel", s.handleDomesticCancel)

	rt := api.Group("/realtime", s.require(s.cfg.Feed != nil, "realtime"))
	rt.GET("/subscriptions", s.handleSubscriptions)
	rt.POST("/subscribe", s.handleSubscribe)
	rt.POST("/unsubscribe", s.handleUnsubscribe)
	rt.GET("/quotes", s.handleQuotes)

	return r
}

// require 依赖缺失时直接 503
func (s *Server) require(ok bool, name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ok {
			writeError(c, http.StatusServiceUnavailable, name+" not configured")
			c.Abort()
			return
		}
		c.Next()
	}
}

const requestIDHeader = "X-Request-Id"

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"request_id": id,
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).Round(time.Microsecond).String(),
		}).Debug("http")
	}
}

// Start 在后台监听 addr
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		s.log.Infof("控制面监听 %s", addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("控制面异常退出")
		}
	}()
	return nil
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
