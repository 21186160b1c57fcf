package orchestrator

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/betbot/kisbot/internal/kis"
	"github.com/betbot/kisbot/internal/kis/overseas"
	"github.com/betbot/kisbot/pkg/config"
)

// MarketFallback 收盘前把未成交的限价买单撤销，按剩余数量改挂收盘市价单。
// 每个标的最多处理一笔未成交买单。撤单与重新下单之间没有原子性保证。
func (o *Orchestrator) MarketFallback(ctx context.Context, env kis.Environment) []FallbackResult {
	if !o.Enabled() {
		logrus.WithField("component", "orchestrator").Debug("定投总开关关闭，跳过转市价检查")
		return []FallbackResult{}
	}
	settings := o.Settings()

	var targets []config.StockPurchaseConfig
	for _, list := range [][]config.StockPurchaseConfig{settings.Stocks, settings.MonthlyStocks} {
		for _, sc := range list {
			if sc.Enabled && sc.MarketFallback {
				targets = append(targets, sc)
			}
		}
	}

	log := o.runLogger("fallback", env)
	log.Infof("========== 未成交转市价检查：%d 个标的 ==========", len(targets))

	results := []FallbackResult{}
	for _, sc := range targets {
		if r, ok := o.fallbackOne(ctx, env, log.WithField("symbol", sc.Symbol), sc); ok {
			results = append(results, r)
		}
	}

	if len(results) == 0 {
		log.Info("没有需要转市价的订单")
		return results
	}
	for _, r := range results {
		if r.Success {
			log.Infof("  [成功] %s 撤单 %s → 市价单 %s（%d 股）", r.Symbol, r.CancelledOrderNumber, r.NewOrderNumber, r.Quantity)
		} else {
			log.Infof("  [失败] %s 原因: %s", r.Symbol, r.ErrorMessage)
		}
	}
	return results
}

// fallbackOne 没有未成交买单时 ok 为 false
func (o *Orchestrator) fallbackOne(ctx context.Context, env kis.Environment, log *logrus.Entry, sc config.StockPurchaseConfig) (FallbackResult, bool) {
	symbol := sc.Symbol
	fail := func(err error) (FallbackResult, bool) {
		log.WithError(err).Errorf("%s 转市价失败", symbol)
		return FallbackResult{Symbol: symbol, ErrorMessage: err.Error()}, true
	}

	ex, err := overseas.ParseExchange(sc.Exchange)
	if err != nil {
		return fail(err)
	}

	orders, err := o.gw.UnfilledOrdersBySymbol(ctx, env, ex, symbol)
	if err != nil {
		return fail(err)
	}
	var pending []overseas.UnfilledOrder
	for _, u := range orders {
		if u.IsBuy() && u.HasRemaining() {
			pending = append(pending, u)
		}
	}
	if len(pending) == 0 {
		log.Infof("%s 没有未成交买单", symbol)
		return FallbackResult{}, false
	}
	if len(pending) > 1 {
		log.Warnf("%s 有 %d 笔未成交买单，本次只处理第一笔", symbol, len(pending))
	}

	u := pending[0]
	remaining := u.RemainingQty.Int64()
	log.Infof("%s 撤销订单 %s（未成交 %d 股）", symbol, u.OrderID, remaining)
	if _, err := o.gw.CancelOrder(ctx, env, ex, symbol, u.OrderID, remaining); err != nil {
		return fail(err)
	}

	res, err := o.gw.Buy(ctx, env, overseas.MarketOnCloseBuy(ex, symbol, remaining))
	if err != nil {
		// 原订单已撤销，新单未成功
		log.WithError(err).Errorf("%s 订单 %s 已撤销但市价单下单失败", symbol, u.OrderID)
		return FallbackResult{Symbol: symbol, CancelledOrderNumber: u.OrderID, Quantity: remaining, ErrorMessage: err.Error()}, true
	}
	log.Infof("%s 市价单下单成功 新订单号=%s", symbol, res.OrderID)
	return FallbackResult{
		Symbol:               symbol,
		Success:              true,
		CancelledOrderNumber: u.OrderID,
		NewOrderNumber:       res.OrderID,
		Quantity:             remaining,
	}, true
}
