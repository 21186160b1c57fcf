package orchestrator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/kisbot/internal/kis"
	"github.com/betbot/kisbot/internal/kis/overseas"
	"github.com/betbot/kisbot/pkg/config"
)

// 失败原因
const (
	msgPriceUnavailable     = "price unavailable"
	msgInsufficientQuantity = "insufficient quantity"
	msgNoPosition           = "no position"
)

// WeeklyPurchase 每周定投：按配置顺序处理启用的标的
func (o *Orchestrator) WeeklyPurchase(ctx context.Context, env kis.Environment) []PurchaseResult {
	if !o.Enabled() {
		logrus.WithField("component", "orchestrator").Debug("定投总开关关闭，跳过每周定投")
		return []PurchaseResult{}
	}
	settings := o.Settings()
	if len(settings.Stocks) == 0 {
		return []PurchaseResult{}
	}

	log := o.runLogger("weekly", env)
	log.Info("========== 每周定投开始 ==========")

	results := make([]PurchaseResult, 0, len(settings.Stocks))
	for _, sc := range settings.Stocks {
		if !sc.Enabled {
			log.Infof("跳过 %s（未启用）", sc.Symbol)
			continue
		}
		if ctx.Err() != nil {
			results = append(results, failed(sc.Symbol, 0, nil, ctx.Err().Error()))
			continue
		}
		var r PurchaseResult
		if sc.BudgetBased() {
			r = o.budgetPurchase(ctx, env, log, sc, settings.DefaultExchangeRate)
		} else {
			r = o.fixedPurchase(ctx, env, log, sc)
		}
		results = append(results, r)
	}

	logPurchaseSummary(log, results)
	return results
}

// orderPrice 限价买入价 = 现价 × (1 − 折扣)，截断到 2 位；市价类订单为 0
func orderPrice(current decimal.Decimal, kind overseas.OrderKind, discount decimal.Decimal) decimal.Decimal {
	if kind.MarketPriced() {
		return decimal.Zero
	}
	return current.Mul(decimal.NewFromInt(1).Sub(discount)).Truncate(2)
}

// premiumPrice 限价卖出价 = 现价 × (1 + 溢价)，向上取到 2 位
func premiumPrice(current, premium decimal.Decimal) decimal.Decimal {
	return current.Mul(decimal.NewFromInt(1).Add(premium)).RoundCeil(2)
}

// quantityFor floor(budget / price)，price 非正时为 0
func quantityFor(budget, price decimal.Decimal) int64 {
	if !price.IsPositive() || !budget.IsPositive() {
		return 0
	}
	return budget.Div(price).Floor().IntPart()
}

func (o *Orchestrator) currentPrice(ctx context.Context, env kis.Environment, ex overseas.Exchange, symbol string) (decimal.Decimal, error) {
	p, err := o.gw.CurrentPrice(ctx, env, ex, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if p == nil || !p.Last.Positive() {
		return decimal.Zero, nil
	}
	return p.Last.Decimal, nil
}

func (o *Orchestrator) budgetPurchase(ctx context.Context, env kis.Environment, log *logrus.Entry, sc config.StockPurchaseConfig, defaultRate decimal.Decimal) PurchaseResult {
	symbol := sc.Symbol
	log = log.WithField("symbol", symbol)
	log.Infof("----- %s 按预算买入（预算 %s 韩元）-----", symbol, sc.BudgetKRW)

	ex, err := overseas.ParseExchange(sc.Exchange)
	if err != nil {
		return failed(symbol, 0, nil, err.Error())
	}
	kind := overseas.ParseOrderKind(sc.OrderType)

	current, err := o.currentPrice(ctx, env, ex, symbol)
	if err != nil {
		log.WithError(err).Error("查询现价失败")
		return failed(symbol, 0, nil, err.Error())
	}
	if !current.IsPositive() {
		log.Warnf("%s 现价不可用（可能是非交易时段）", symbol)
		return failed(symbol, 0, nil, msgPriceUnavailable)
	}

	amount, err := o.gw.PurchasableAmount(ctx, env, ex, symbol, current)
	if err != nil {
		log.WithError(err).Error("查询可买金额失败")
		return failed(symbol, 0, nil, err.Error())
	}
	available := decimal.Zero
	rate := decimal.Zero
	if amount != nil {
		available = amount.OrderableForeign.Decimal
		rate = amount.ExchangeRate.Decimal
	}
	if !rate.IsPositive() {
		rate = defaultRate
		log.Infof("汇率缺失，使用默认汇率 %s", rate)
	}

	budgetUSD := sc.BudgetKRW.Div(rate).Truncate(2)
	usable := decimal.Min(budgetUSD, available)
	log.Infof("预算 %s 韩元 → $%s，可用 $%s，实际使用 $%s", sc.BudgetKRW, budgetUSD, available, usable)

	price := orderPrice(current, kind, sc.DiscountRate)
	// 市价类订单按现价估算数量
	sizing := price
	if kind.MarketPriced() {
		sizing = current
	}
	qty := quantityFor(usable, sizing)
	if qty <= 0 {
		log.Warnf("%s 可买数量为 0（可用 $%s，预算 $%s）", symbol, available, budgetUSD)
		return failed(symbol, 0, priceRef(price), fmt.Sprintf("%s (available $%s, budget $%s)", msgInsufficientQuantity, available, budgetUSD))
	}

	res, err := o.gw.Buy(ctx, env, overseas.OrderRequest{
		Exchange: ex,
		Symbol:   symbol,
		Side:     overseas.Buy,
		Quantity: qty,
		Price:    price,
		Kind:     kind,
	})
	if err != nil {
		log.WithError(err).Errorf("%s 买入失败", symbol)
		return failed(symbol, qty, priceRef(price), err.Error())
	}
	log.Infof("%s 买入下单成功 订单号=%s %d 股 x $%s", symbol, res.OrderID, qty, price.StringFixed(2))
	return PurchaseResult{Symbol: symbol, Success: true, OrderNumber: res.OrderID, Price: priceRef(price), Quantity: qty}
}

func (o *Orchestrator) fixedPurchase(ctx context.Context, env kis.Environment, log *logrus.Entry, sc config.StockPurchaseConfig) PurchaseResult {
	symbol := sc.Symbol
	log = log.WithField("symbol", symbol)
	log.Infof("----- %s 固定数量买入（%d 股）-----", symbol, sc.Quantity)

	ex, err := overseas.ParseExchange(sc.Exchange)
	if err != nil {
		return failed(symbol, sc.Quantity, nil, err.Error())
	}
	kind := overseas.ParseOrderKind(sc.OrderType)

	current, err := o.currentPrice(ctx, env, ex, symbol)
	if err != nil {
		log.WithError(err).Error("查询现价失败")
		return failed(symbol, sc.Quantity, nil, err.Error())
	}
	if !current.IsPositive() {
		log.Warnf("%s 现价不可用（可能是非交易时段）", symbol)
		return failed(symbol, sc.Quantity, nil, msgPriceUnavailable)
	}

	price := orderPrice(current, kind, sc.DiscountRate)
	res, err := o.gw.Buy(ctx, env, overseas.OrderRequest{
		Exchange: ex,
		Symbol:   symbol,
		Side:     overseas.Buy,
		Quantity: sc.Quantity,
		Price:    price,
		Kind:     kind,
	})
	if err != nil {
		log.WithError(err).Errorf("%s 买入失败", symbol)
		return failed(symbol, sc.Quantity, nil, err.Error())
	}
	log.Infof("%s 买入下单成功 订单号=%s", symbol, res.OrderID)
	return PurchaseResult{Symbol: symbol, Success: true, OrderNumber: res.OrderID, Price: priceRef(price), Quantity: sc.Quantity}
}
