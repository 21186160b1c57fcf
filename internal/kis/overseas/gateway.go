// Package overseas 海外股票下单、撤单、查询网关。
package overseas

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/kisbot/internal/kis"
)

const (
	orderPath       = "/uapi/overseas-stock/v1/trading/order"
	unfilledPath    = "/uapi/overseas-stock/v1/trading/inquire-nccs"
	cancelPath      = "/uapi/overseas-stock/v1/trading/order-rvsecncl"
	balancePath     = "/uapi/overseas-stock/v1/trading/inquire-balance"
	purchasablePath = "/uapi/overseas-stock/v1/trading/inquire-psamount"
	marginPath      = "/uapi/overseas-stock/v1/trading/foreign-margin"
	pricePath       = "/uapi/overseas-price/v1/quotations/price"

	trUnfilled    = "TTTS3018R"
	trCancel      = "TTTT1004U"
	trBalance     = "TTTS3012R"
	trPurchasable = "TTTS3007R"
	// 以下两个 TR 没有模拟盘版本
	trPrice  = "HHDFS00000300"
	trMargin = "TTTC2101R"
)

// Caller 执行 KIS REST 调用，*kis.Client 实现了它
type Caller interface {
	Do(ctx context.Context, env kis.Environment, call kis.Call, out kis.Envelope) error
	Profile(env kis.Environment) kis.Profile
}

// OrderObserver 每笔下单/撤单完成后回调（用于指标）
type OrderObserver func(side Side, err error)

// Gateway 海外股票网关，无状态
type Gateway struct {
	caller   Caller
	observer OrderObserver
	log      *logrus.Entry
}

// NewGateway 创建网关
func NewGateway(caller Caller) *Gateway {
	return &Gateway{
		caller: caller,
		log:    logrus.WithField("component", "overseas"),
	}
}

// SetOrderObserver 设置下单回调
func (g *Gateway) SetOrderObserver(o OrderObserver) {
	g.observer = o
}

func (g *Gateway) account(env kis.Environment) (kis.Profile, error) {
	p := g.caller.Profile(env)
	return p, p.RequireAccount()
}

// PlaceOrder 下单
func (g *Gateway) PlaceOrder(ctx context.Context, env kis.Environment, req OrderRequest) (OrderResult, error) {
	if err := req.Validate(); err != nil {
		return OrderResult{}, err
	}
	p, err := g.account(env)
	if err != nil {
		return OrderResult{}, err
	}

	sellType := ""
	if req.Side == Sell {
		sellType = "00"
	}
	price := req.Price
	if req.Kind.MarketPriced() {
		price = decimal.Zero
	}
	body := map[string]string{
		"CANO":            p.AccountNumber,
		"ACNT_PRDT_CD":    p.AccountProductCode,
		"OVRS_EXCG_CD":    req.Exchange.APICode(),
		"PDNO":            req.Symbol,
		"ORD_QTY":         strconv.FormatInt(req.Quantity, 10),
		"OVRS_ORD_UNPR":   price.String(),
		"CTAC_TLNO":       "",
		"MGCO_APTM_ODNO":  "",
		"SLL_TYPE":        sellType,
		"ORD_SVR_DVSN_CD": "0",
		"ORD_DVSN":        req.Kind.Code(),
	}

	g.log.Infof("海外下单: %s %s %s x%d @ %s (%s)", req.Side, req.Exchange, req.Symbol, req.Quantity, price, req.Kind)
	var out orderResponse
	err = g.caller.Do(ctx, env, kis.Call{
		Op:     "overseas order",
		Method: http.MethodPost,
		Path:   orderPath,
		TRID:   kis.TRID(req.Exchange.orderTR(req.Side), env),
		Body:   body,
	}, &out)
	if err == nil && !out.Output.IsSuccess() {
		err = &kis.BusinessRejection{Op: "overseas order", Code: out.MsgCd, Message: "no order number returned"}
	}
	if g.observer != nil {
		g.observer(req.Side, err)
	}
	if err != nil {
		return OrderResult{}, err
	}
	g.log.Infof("海外下单成功: 订单号=%s 时间=%s", out.Output.OrderID, out.Output.OrderTime)
	return out.Output, nil
}

// Buy 买入
func (g *Gateway) Buy(ctx context.Context, env kis.Environment, req OrderRequest) (OrderResult, error) {
	req.Side = Buy
	return g.PlaceOrder(ctx, env, req)
}

// Sell 卖出
func (g *Gateway) Sell(ctx context.Context, env kis.Environment, req OrderRequest) (OrderResult, error) {
	req.Side = Sell
	return g.PlaceOrder(ctx, env, req)
}

// CancelOrder 撤单；qty 为 0 表示撤销全部剩余数量
func (g *Gateway) CancelOrder(ctx context.Context, env kis.Environment, ex Exchange, symbol, orderID string, qty int64) (OrderResult, error) {
	if !ex.Valid() {
		return OrderResult{}, &kis.ValidationError{Field: "exchange", Message: "exchange is required"}
	}
	if strings.TrimSpace(orderID) == "" {
		return OrderResult{}, &kis.ValidationError{Field: "orderId", Message: "original order number is required"}
	}
	if qty < 0 {
		return OrderResult{}, &kis.ValidationError{Field: "quantity", Message: "quantity must not be negative"}
	}
	p, err := g.account(env)
	if err != nil {
		return OrderResult{}, err
	}

	body := map[string]string{
		"CANO":              p.AccountNumber,
		"ACNT_PRDT_CD":      p.AccountProductCode,
		"OVRS_EXCG_CD":      ex.APICode(),
		"PDNO":              symbol,
		"ORGN_ODNO":         orderID,
		"RVSE_CNCL_DVSN_CD": "02",
		"ORD_QTY":           strconv.FormatInt(qty, 10),
		"OVRS_ORD_UNPR":     "0",
		"MGCO_APTM_ODNO":    "",
		"ORD_SVR_DVSN_CD":   "0",
	}

	g.log.Infof("海外撤单: %s %s 原订单号=%s 数量=%d", ex, symbol, orderID, qty)
	var out orderResponse
	err = g.caller.Do(ctx, env, kis.Call{
		Op:     "overseas cancel",
		Method: http.MethodPost,
		Path:   cancelPath,
		TRID:   kis.TRID(trCancel, env),
		Body:   body,
	}, &out)
	if err != nil {
		return OrderResult{}, err
	}
	return out.Output, nil
}

// UnfilledOrders 查询交易所下的全部未成交委托
func (g *Gateway) UnfilledOrders(ctx context.Context, env kis.Environment, ex Exchange) ([]UnfilledOrder, error) {
	p, err := g.account(env)
	if err != nil {
		return nil, err
	}
	var out unfilledResponse
	err = g.caller.Do(ctx, env, kis.Call{
		Op:   "overseas unfilled",
		Path: unfilledPath,
		TRID: kis.TRID(trUnfilled, env),
		Params: map[string]any{
			"CANO":           p.AccountNumber,
			"ACNT_PRDT_CD":   p.AccountProductCode,
			"OVRS_EXCG_CD":   ex.APICode(),
			"SORT_SQN":       "DS",
			"CTX_AREA_FK200": "",
			"CTX_AREA_NK200": "",
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	g.log.Debugf("%s 未成交委托 %d 笔", ex, len(out.Output))
	return out.Output, nil
}

// UnfilledOrdersBySymbol 按代码过滤未成交委托
func (g *Gateway) UnfilledOrdersBySymbol(ctx context.Context, env kis.Environment, ex Exchange, symbol string) ([]UnfilledOrder, error) {
	all, err := g.UnfilledOrders(ctx, env, ex)
	if err != nil {
		return nil, err
	}
	var res []UnfilledOrder
	for _, o := range all {
		if o.Symbol == symbol {
			res = append(res, o)
		}
	}
	return res, nil
}

// Balance 查询美股持仓（NASD / USD）
func (g *Gateway) Balance(ctx context.Context, env kis.Environment) ([]Position, error) {
	return g.BalanceFor(ctx, env, NASDAQ, "USD")
}

// BalanceFor 查询指定交易所与币种的持仓
func (g *Gateway) BalanceFor(ctx context.Context, env kis.Environment, ex Exchange, currency string) ([]Position, error) {
	p, err := g.account(env)
	if err != nil {
		return nil, err
	}
	var out balanceResponse
	err = g.caller.Do(ctx, env, kis.Call{
		Op:   "overseas balance",
		Path: balancePath,
		TRID: kis.TRID(trBalance, env),
		Params: map[string]any{
			"CANO":           p.AccountNumber,
			"ACNT_PRDT_CD":   p.AccountProductCode,
			"OVRS_EXCG_CD":   ex.APICode(),
			"TR_CRCY_CD":     currency,
			"CTX_AREA_FK200": "",
			"CTX_AREA_NK200": "",
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Output1, nil
}

// PositionBySymbol 查询单个代码的持仓，没有持仓时返回 nil
func (g *Gateway) PositionBySymbol(ctx context.Context, env kis.Environment, symbol string) (*Position, error) {
	positions, err := g.Balance(ctx, env)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		if positions[i].Symbol == symbol {
			return &positions[i], nil
		}
	}
	return nil, nil
}

// PurchasableAmount 查询可买金额与汇率
func (g *Gateway) PurchasableAmount(ctx context.Context, env kis.Environment, ex Exchange, symbol string, price decimal.Decimal) (*PurchasableAmount, error) {
	p, err := g.account(env)
	if err != nil {
		return nil, err
	}
	var out purchasableResponse
	err = g.caller.Do(ctx, env, kis.Call{
		Op:   "overseas purchasable amount",
		Path: purchasablePath,
		TRID: kis.TRID(trPurchasable, env),
		Params: map[string]any{
			"CANO":          p.AccountNumber,
			"ACNT_PRDT_CD":  p.AccountProductCode,
			"OVRS_EXCG_CD":  ex.APICode(),
			"OVRS_ORD_UNPR": price.String(),
			"ITEM_CD":       symbol,
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Output == nil {
		return &PurchasableAmount{}, nil
	}
	return out.Output, nil
}

// CurrentPrice 查询当前价，响应中没有 output 时返回 nil
func (g *Gateway) CurrentPrice(ctx context.Context, env kis.Environment, ex Exchange, symbol string) (*Price, error) {
	var out priceResponse
	err := g.caller.Do(ctx, env, kis.Call{
		Op:   "overseas price",
		Path: pricePath,
		TRID: trPrice,
		Params: map[string]any{
			"AUTH": "",
			"EXCD": ex.Code(),
			"SYMB": symbol,
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Output, nil
}

// ForeignMargin 查询外币保证金（各币种存款与汇率）
func (g *Gateway) ForeignMargin(ctx context.Context, env kis.Environment) ([]ForeignMargin, error) {
	p, err := g.account(env)
	if err != nil {
		return nil, err
	}
	var out marginResponse
	err = g.caller.Do(ctx, env, kis.Call{
		Op:   "foreign margin",
		Path: marginPath,
		TRID: trMargin,
		Params: map[string]any{
			"CANO":         p.AccountNumber,
			"ACNT_PRDT_CD": p.AccountProductCode,
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Output, nil
}
