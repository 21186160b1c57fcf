// Package orchestrator 定投、再平衡与未成交转市价的业务编排。
//
// 每次调用在单一路径上按配置顺序处理标的，单个标的失败只记录结果，不影响后续标的。
// 预期内的失败以结果记录返回，而不是 error。
package orchestrator

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/kisbot/internal/kis"
	"github.com/betbot/kisbot/internal/kis/overseas"
	"github.com/betbot/kisbot/pkg/config"
)

// Gateway 编排所需的海外下单/查询能力
type Gateway interface {
	CurrentPrice(ctx context.Context, env kis.Environment, ex overseas.Exchange, symbol string) (*overseas.Price, error)
	PurchasableAmount(ctx context.Context, env kis.Environment, ex overseas.Exchange, symbol string, price decimal.Decimal) (*overseas.PurchasableAmount, error)
	Buy(ctx context.Context, env kis.Environment, req overseas.OrderRequest) (overseas.OrderResult, error)
	Sell(ctx context.Context, env kis.Environment, req overseas.OrderRequest) (overseas.OrderResult, error)
	PositionBySymbol(ctx context.Context, env kis.Environment, symbol string) (*overseas.Position, error)
	UnfilledOrdersBySymbol(ctx context.Context, env kis.Environment, ex overseas.Exchange, symbol string) ([]overseas.UnfilledOrder, error)
	CancelOrder(ctx context.Context, env kis.Environment, ex overseas.Exchange, symbol, orderID string, qty int64) (overseas.OrderResult, error)
	ForeignMargin(ctx context.Context, env kis.Environment) ([]overseas.ForeignMargin, error)
}

// PurchaseResult 一次买入/卖出尝试的结果，创建后不再修改
type PurchaseResult struct {
	Symbol       string           `json:"symbol"`
	Success      bool             `json:"success"`
	OrderNumber  string           `json:"orderNumber,omitempty"`
	Price        *decimal.Decimal `json:"price,omitempty"`
	Quantity     int64            `json:"quantity"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
}

// FallbackResult 一次撤单并转市价的结果
type FallbackResult struct {
	Symbol               string `json:"symbol"`
	Success              bool   `json:"success"`
	CancelledOrderNumber string `json:"cancelledOrderNumber,omitempty"`
	NewOrderNumber       string `json:"newOrderNumber,omitempty"`
	Quantity             int64  `json:"quantity"`
	ErrorMessage         string `json:"errorMessage,omitempty"`
}

func failed(symbol string, qty int64, price *decimal.Decimal, msg string) PurchaseResult {
	return PurchaseResult{Symbol: symbol, Quantity: qty, Price: price, ErrorMessage: msg}
}

func priceRef(d decimal.Decimal) *decimal.Decimal { return &d }

// Orchestrator 业务编排器
type Orchestrator struct {
	gw       Gateway
	settings config.SchedulerConfig

	enabled atomic.Bool
	now     func() time.Time
}

// New 创建编排器，总开关取自 settings.Enabled
func New(gw Gateway, settings config.SchedulerConfig) *Orchestrator {
	o := &Orchestrator{gw: gw, settings: settings, now: time.Now}
	o.enabled.Store(settings.Enabled)
	return o
}

// Enabled 总开关
func (o *Orchestrator) Enabled() bool { return o.enabled.Load() }

// SetEnabled 切换总开关，运行中的任务不受影响
func (o *Orchestrator) SetEnabled(v bool) {
	o.enabled.Store(v)
	logrus.WithField("component", "orchestrator").Infof("定投总开关: %v", v)
}

// Settings 当前配置快照（Enabled 反映总开关当前值）
func (o *Orchestrator) Settings() config.SchedulerConfig {
	s := o.settings
	s.Enabled = o.Enabled()
	return s
}

func (o *Orchestrator) runLogger(job string, env kis.Environment) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"component": "orchestrator",
		"job":       job,
		"run":       uuid.NewString(),
		"env":       env.String(),
	})
}

func logPurchaseSummary(log *logrus.Entry, results []PurchaseResult) {
	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
		}
	}
	log.Infof("共 %d 笔，成功 %d，失败 %d", len(results), ok, len(results)-ok)
	for _, r := range results {
		if r.Success {
			log.Infof("  [成功] %s 订单号=%s 价格=%s 数量=%d", r.Symbol, r.OrderNumber, fmtPrice(r.Price), r.Quantity)
		} else {
			log.Infof("  [失败] %s 原因: %s", r.Symbol, r.ErrorMessage)
		}
	}
}

func fmtPrice(p *decimal.Decimal) string {
	if p == nil {
		return "-"
	}
	return p.StringFixed(2)
}
