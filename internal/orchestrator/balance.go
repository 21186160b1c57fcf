package orchestrator

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/kisbot/internal/kis"
)

// BalanceSummary 外币保证金账户余额
type BalanceSummary struct {
	KRW          decimal.Decimal `json:"krw"`
	USD          decimal.Decimal `json:"usd"`
	ExchangeRate decimal.Decimal `json:"exchangeRate"`
	USDInKRW     decimal.Decimal `json:"usdInKrw"`
	TotalKRW     decimal.Decimal `json:"totalKrw"`
	AsOf         time.Time       `json:"asOf"`
}

// BalanceSummary 查询韩元与美元存款，美元按汇率折算（向下取整）后合计
func (o *Orchestrator) BalanceSummary(ctx context.Context, env kis.Environment) (BalanceSummary, error) {
	log := o.runLogger("balance", env)

	margins, err := o.gw.ForeignMargin(ctx, env)
	if err != nil {
		log.WithError(err).Error("余额查询失败")
		return BalanceSummary{}, err
	}

	s := BalanceSummary{AsOf: o.now()}
	for _, m := range margins {
		switch m.Currency {
		case "KRW":
			s.KRW = m.Deposit.Decimal
		case "USD":
			s.USD = m.Deposit.Decimal
			s.ExchangeRate = m.ExchangeRate.Decimal
		}
	}
	s.USDInKRW = s.USD.Mul(s.ExchangeRate).Floor()
	s.TotalKRW = s.KRW.Add(s.USDInKRW)

	log.Infof("韩元余额 %s，美元余额 $%s，汇率 %s", s.KRW, s.USD, s.ExchangeRate)
	return s, nil
}
