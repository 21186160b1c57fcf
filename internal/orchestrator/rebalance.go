package orchestrator

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/kisbot/internal/kis"
	"github.com/betbot/kisbot/internal/kis/overseas"
	"github.com/betbot/kisbot/pkg/config"
)

const rebalanceSymbol = "REBALANCE"

var hundred = decimal.NewFromInt(100)

// MonthlyRebalance 源标的收益率达到阈值时卖出一部分，所得资金买入目标标的。
// 只有卖出成功才会执行买入。
func (o *Orchestrator) MonthlyRebalance(ctx context.Context, env kis.Environment) (results []PurchaseResult) {
	if !o.Enabled() {
		logrus.WithField("component", "orchestrator").Debug("定投总开关关闭，跳过月度再平衡")
		return []PurchaseResult{}
	}
	rc := o.Settings().Rebalance
	if !rc.Enabled {
		logrus.WithField("component", "orchestrator").Debug("月度再平衡未启用")
		return []PurchaseResult{}
	}

	log := o.runLogger("monthly", env)
	log.Infof("========== 月度再平衡开始：%s 收益率 ≥ %s%% 时卖出 %s%%，买入 %s ==========",
		rc.SourceSymbol, rc.TriggerProfitRate.Mul(hundred), rc.SellRate.Mul(hundred), rc.TargetSymbol)

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("再平衡 panic: %v", r)
			results = []PurchaseResult{failed(rebalanceSymbol, 0, nil, fmt.Sprintf("%v", r))}
		}
		logPurchaseSummary(log, results)
	}()

	results, err := o.rebalance(ctx, env, log, rc)
	if err != nil {
		log.WithError(err).Error("再平衡执行出错")
		results = append(results, failed(rebalanceSymbol, 0, nil, err.Error()))
	}
	return results
}

// rebalance 返回的 error 表示流程外的意外错误
func (o *Orchestrator) rebalance(ctx context.Context, env kis.Environment, log *logrus.Entry, rc config.RebalanceConfig) ([]PurchaseResult, error) {
	results := []PurchaseResult{}

	pos, err := o.gw.PositionBySymbol(ctx, env, rc.SourceSymbol)
	if err != nil {
		return results, errors.Wrapf(err, "查询 %s 持仓", rc.SourceSymbol)
	}
	if pos == nil || pos.Quantity.Int64() <= 0 {
		log.Infof("%s 无持仓，跳过再平衡", rc.SourceSymbol)
		return append(results, failed(rc.SourceSymbol, 0, nil, msgNoPosition)), nil
	}
	held := pos.Quantity.Int64()
	log.Infof("%s 持仓 %d 股，均价 $%s，现价 $%s，收益率 %s%%",
		rc.SourceSymbol, held, pos.AvgPrice.Decimal, pos.CurrentPrice.Decimal, pos.ProfitRate.Decimal)

	// 接口返回的收益率是百分比，阈值按小数配置，比较前乘以 100
	trigger := rc.TriggerProfitRate.Mul(hundred)
	if !pos.ProfitRate.Valid || pos.ProfitRate.LessThan(trigger) {
		rate := "N/A"
		if pos.ProfitRate.Valid {
			rate = pos.ProfitRate.String()
		}
		log.Infof("%s 收益率 %s%% < 目标 %s%%，跳过", rc.SourceSymbol, rate, trigger)
		return append(results, failed(rc.SourceSymbol, 0, nil,
			fmt.Sprintf("profit rate below threshold (%s%% < %s%%)", rate, trigger))), nil
	}

	sellQty := decimal.NewFromInt(held).Mul(rc.SellRate).Floor().IntPart()
	if sellQty <= 0 {
		log.Warnf("%s 卖出数量为 0（持仓 %d，比例 %s%%）", rc.SourceSymbol, held, rc.SellRate.Mul(hundred))
		return append(results, failed(rc.SourceSymbol, 0, nil, "sell quantity is zero")), nil
	}

	sell := o.rebalanceSell(ctx, env, log, rc, pos, sellQty)
	results = append(results, sell)
	if !sell.Success {
		log.Errorf("%s 卖出失败，终止再平衡", rc.SourceSymbol)
		return results, nil
	}

	proceeds := sell.Price.Mul(decimal.NewFromInt(sellQty))
	log.Infof("预计卖出金额 $%s", proceeds.StringFixed(2))
	return append(results, o.rebalanceBuy(ctx, env, log, rc, proceeds)), nil
}

func (o *Orchestrator) rebalanceSell(ctx context.Context, env kis.Environment, log *logrus.Entry, rc config.RebalanceConfig, pos *overseas.Position, qty int64) PurchaseResult {
	symbol := rc.SourceSymbol + "_SELL"
	ex, err := overseas.ParseExchange(rc.SourceExchange)
	if err != nil {
		return failed(symbol, qty, nil, err.Error())
	}
	if !pos.CurrentPrice.Positive() {
		return failed(symbol, qty, nil, msgPriceUnavailable)
	}

	price := premiumPrice(pos.CurrentPrice.Decimal, rc.DiscountRate)
	log.Infof("%s 卖出 %d 股 @ $%s（现价 $%s + %s%%）", rc.SourceSymbol, qty, price.StringFixed(2),
		pos.CurrentPrice.Decimal, rc.DiscountRate.Mul(hundred))

	res, err := o.gw.Sell(ctx, env, overseas.LimitSell(ex, rc.SourceSymbol, qty, price))
	if err != nil {
		log.WithError(err).Errorf("%s 卖出下单失败", rc.SourceSymbol)
		return failed(symbol, qty, nil, err.Error())
	}
	log.Infof("%s 卖出下单成功 订单号=%s", rc.SourceSymbol, res.OrderID)
	return PurchaseResult{Symbol: symbol, Success: true, OrderNumber: res.OrderID, Price: priceRef(price), Quantity: qty}
}

func (o *Orchestrator) rebalanceBuy(ctx context.Context, env kis.Environment, log *logrus.Entry, rc config.RebalanceConfig, budget decimal.Decimal) PurchaseResult {
	symbol := rc.TargetSymbol + "_BUY"
	ex, err := overseas.ParseExchange(rc.TargetExchange)
	if err != nil {
		return failed(symbol, 0, nil, err.Error())
	}

	current, err := o.currentPrice(ctx, env, ex, rc.TargetSymbol)
	if err != nil {
		log.WithError(err).Errorf("%s 查询现价失败", rc.TargetSymbol)
		return failed(symbol, 0, nil, err.Error())
	}
	if !current.IsPositive() {
		return failed(symbol, 0, nil, msgPriceUnavailable)
	}

	price := orderPrice(current, overseas.Limit, rc.DiscountRate)
	qty := quantityFor(budget, price)
	if qty <= 0 {
		log.Warnf("%s 可买数量为 0（预算 $%s）", rc.TargetSymbol, budget.StringFixed(2))
		return failed(symbol, 0, priceRef(price), fmt.Sprintf("%s (budget $%s)", msgInsufficientQuantity, budget.StringFixed(2)))
	}

	res, err := o.gw.Buy(ctx, env, overseas.LimitBuy(ex, rc.TargetSymbol, qty, price))
	if err != nil {
		log.WithError(err).Errorf("%s 买入下单失败", rc.TargetSymbol)
		return failed(symbol, qty, nil, err.Error())
	}
	log.Infof("%s 买入下单成功 订单号=%s %d 股 x $%s", rc.TargetSymbol, res.OrderID, qty, price.StringFixed(2))
	return PurchaseResult{Symbol: symbol, Success: true, OrderNumber: res.OrderID, Price: priceRef(price), Quantity: qty}
}
