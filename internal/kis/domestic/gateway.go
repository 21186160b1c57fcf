// Package domestic 国内（KRX）股票网关。
package domestic

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
	orderPath    = "/uapi/domestic-stock/v1/trading/order-cash"
	unfilledPath = "/uapi/domestic-stock/v1/trading/inquire-psbl-order"
	cancelPath   = "/uapi/domestic-stock/v1/trading/order-rvsecncl"
	pricePath    = "/uapi/domestic-stock/v1/quotations/inquire-price"
	balancePath  = "/uapi/domestic-stock/v1/trading/inquire-balance"

	trBuy         = "TTTC0802U"
	trSell        = "TTTC0801U"
	trUnfilled    = "TTTC8908R"
	trCancel      = "TTTC0803U"
	trBalance     = "TTTC8434R"
	trPurchasable = "TTTC8908R"
	trPrice       = "FHKST01010100"
)

// OrderKind 国内下单类型（ORD_DVSN）
type OrderKind string

const (
	Limit            OrderKind = "LIMIT"
	Market           OrderKind = "MARKET"
	ConditionalLimit OrderKind = "CONDITIONAL_LIMIT"
	BestLimit        OrderKind = "BEST_LIMIT"
	PriorityLimit    OrderKind = "PRIORITY_LIMIT"
	PreMarket        OrderKind = "PRE_MARKET"
	AfterMarket      OrderKind = "AFTER_MARKET"
	OffHoursSingle   OrderKind = "OFF_HOURS_SINGLE"
)

var kindCodes = map[OrderKind]string{
	Limit:            "00",
	Market:           "01",
	ConditionalLimit: "02",
	BestLimit:        "03",
	PriorityLimit:    "04",
	PreMarket:        "05",
	AfterMarket:      "06",
	OffHoursSingle:   "07",
}

// ParseOrderKind 未知类型回落为 LIMIT
func ParseOrderKind(s string) OrderKind {
	k := OrderKind(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := kindCodes[k]; ok {
		return k
	}
	return Limit
}

func (k OrderKind) Code() string {
	if c, ok := kindCodes[k]; ok {
		return c
	}
	return kindCodes[Limit]
}

// priced 需要指定价格的类型
func (k OrderKind) priced() bool {
	return k == Limit || k == ConditionalLimit || k == OffHoursSingle
}

// OrderRequest 国内下单请求
type OrderRequest struct {
	StockCode string
	Buy       bool
	Quantity  int64
	Price     decimal.Decimal
	Kind      OrderKind
}

func (r OrderRequest) Validate() error {
	if strings.TrimSpace(r.StockCode) == "" {
		return &kis.ValidationError{Field: "stockCode", Message: "stock code is required"}
	}
	if r.Quantity < 1 {
		return &kis.ValidationError{Field: "quantity", Message: "quantity must be at least 1"}
	}
	if r.Kind.priced() && !r.Price.IsPositive() {
		return &kis.ValidationError{Field: "price", Message: "limit orders require a positive price"}
	}
	return nil
}

// OrderResult 下单结果
type OrderResult struct {
	OrgCode   string `json:"KRX_FWDG_ORD_ORGNO"`
	OrderID   string `json:"ODNO"`
	OrderTime string `json:"ORD_TMD"`
}

func (r OrderResult) IsSuccess() bool { return r.OrderID != "" }

// Price 国内当前价
type Price struct {
	Current    kis.Number `json:"stck_prpr"`
	Change     kis.Number `json:"prdy_vrss"`
	ChangeSign string     `json:"prdy_vrss_sign"`
	ChangeRate kis.Number `json:"prdy_ctrt"`
	Volume     kis.Number `json:"acml_vol"`
	Amount     kis.Number `json:"acml_tr_pbmn"`
	Open       kis.Number `json:"stck_oprc"`
	High       kis.Number `json:"stck_hgpr"`
	Low        kis.Number `json:"stck_lwpr"`
	UpperLimit kis.Number `json:"stck_mxpr"`
	LowerLimit kis.Number `json:"stck_llam"`
	PER        kis.Number `json:"per"`
	PBR        kis.Number `json:"pbr"`
	Week52High kis.Number `json:"w52_hgpr"`
	Week52Low  kis.Number `json:"w52_lwpr"`
}

// Position 国内持仓
type Position struct {
	StockCode    string     `json:"pdno"`
	Name         string     `json:"prdt_name"`
	Quantity     kis.Number `json:"hldg_qty"`
	OrderableQty kis.Number `json:"ord_psbl_qty"`
	AvgPrice     kis.Number `json:"pchs_avg_pric"`
	BuyAmount    kis.Number `json:"pchs_amt"`
	CurrentPrice kis.Number `json:"prpr"`
	EvalAmount   kis.Number `json:"evlu_amt"`
	ProfitLoss   kis.Number `json:"evlu_pfls_amt"`
	ProfitRate   kis.Number `json:"evlu_pfls_rt"`
}

// UnfilledOrder 国内未成交委托
type UnfilledOrder struct {
	OrderID         string     `json:"odno"`
	OriginalOrderID string     `json:"orgn_odno"`
	StockCode       string     `json:"pdno"`
	Name            string     `json:"prdt_name"`
	SideCode        string     `json:"sll_buy_dvsn_cd"`
	OrderedQty      kis.Number `json:"ord_qty"`
	OrderPrice      kis.Number `json:"ord_unpr"`
	FilledQty       kis.Number `json:"tot_ccld_qty"`
	RemainingQty    kis.Number `json:"rmn_qty"`
	OrderDate       string     `json:"ord_dt"`
	OrderTime       string     `json:"ord_tmd"`
}

func (o UnfilledOrder) HasRemaining() bool { return o.RemainingQty.Int64() > 0 }

// PurchasableAmount 国内可买金额
type PurchasableAmount struct {
	OrderableCash kis.Number `json:"ord_psbl_cash"`
	MaxBuyAmount  kis.Number `json:"max_buy_amt"`
	MaxBuyQty     kis.Number `json:"max_buy_qty"`
	NoCreditQty   kis.Number `json:"nrcvb_buy_qty"`
}

type orderResponse struct {
	kis.ResponseStatus
	Output OrderResult `json:"output"`
}

type priceResponse struct {
	kis.ResponseStatus
	Output *Price `json:"output"`
}

type balanceResponse struct {
	kis.ResponseStatus
	Output1 []Position `json:"output1"`
}

type unfilledResponse struct {
	kis.ResponseStatus
	Output []UnfilledOrder `json:"output"`
}

type purchasableResponse struct {
	kis.ResponseStatus
	Output *PurchasableAmount `json:"output"`
}

// Caller 执行 KIS REST 调用
type Caller interface {
	Do(ctx context.Context, env kis.Environment, call kis.Call, out kis.Envelope) error
	Profile(env kis.Environment) kis.Profile
}

// Gateway 国内股票网关
type Gateway struct {
	caller Caller
	log    *logrus.Entry
}

func NewGateway(caller Caller) *Gateway {
	return &Gateway{caller: caller, log: logrus.WithField("component", "domestic")}
}

func (g *Gateway) account(env kis.Environment) (kis.Profile, error) {
	p := g.caller.Profile(env)
	return p, p.RequireAccount()
}

// PlaceOrder 现金下单
func (g *Gateway) PlaceOrder(ctx context.Context, env kis.Environment, req OrderRequest) (OrderResult, error) {
	if err := req.Validate(); err != nil {
		return OrderResult{}, err
	}
	p, err := g.account(env)
	if err != nil {
		return OrderResult{}, err
	}
	tr := trSell
	if req.Buy {
		tr = trBuy
	}
	price := req.Price
	if !req.Kind.priced() {
		price = decimal.Zero
	}

	g.log.Infof("国内下单: buy=%v %s x%d @ %s (%s)", req.Buy, req.StockCode, req.Quantity, price, req.Kind)
	var out orderResponse
	err = g.caller.Do(ctx, env, kis.Call{
		Op:     "domestic order",
		Method: http.MethodPost,
		Path:   orderPath,
		TRID:   kis.TRID(tr, env),
		Body: map[string]string{
			"CANO":         p.AccountNumber,
			"ACNT_PRDT_CD": p.AccountProductCode,
			"PDNO":         req.StockCode,
			"ORD_DVSN":     req.Kind.Code(),
			"ORD_QTY":      strconv.FormatInt(req.Quantity, 10),
			"ORD_UNPR":     price.String(),
		},
	}, &out)
	if err != nil {
		return OrderResult{}, err
	}
	if !out.Output.IsSuccess() {
		return OrderResult{}, &kis.BusinessRejection{Op: "domestic order", Code: out.MsgCd, Message: "no order number returned"}
	}
	return out.Output, nil
}

// CancelOrder 撤单；qty 为 0 时全部撤销
func (g *Gateway) CancelOrder(ctx context.Context, env kis.Environment, orderID string, qty int64) (OrderResult, error) {
	if strings.TrimSpace(orderID) == "" {
		return OrderResult{}, &kis.ValidationError{Field: "orderId", Message: "original order number is required"}
	}
	p, err := g.account(env)
	if err != nil {
		return OrderResult{}, err
	}
	all := "N"
	if qty == 0 {
		all = "Y"
	}
	var out orderResponse
	err = g.caller.Do(ctx, env, kis.Call{
		Op:     "domestic cancel",
		Method: http.MethodPost,
		Path:   cancelPath,
		TRID:   kis.TRID(trCancel, env),
		Body: map[string]string{
			"CANO":               p.AccountNumber,
			"ACNT_PRDT_CD":       p.AccountProductCode,
			"KRX_FWDG_ORD_ORGNO": "",
			"ORGN_ODNO":          orderID,
			"ORD_DVSN":           "00",
			"RVSE_CNCL_DVSN_CD":  "02",
			"ORD_QTY":            strconv.FormatInt(qty, 10),
			"ORD_UNPR":           "0",
			"QTY_ALL_ORD_YN":     all,
		},
	}, &out)
	if err != nil {
		return OrderResult{}, err
	}
	return out.Output, nil
}

// UnfilledOrders 未成交委托
func (g *Gateway) UnfilledOrders(ctx context.Context, env kis.Environment) ([]UnfilledOrder, error) {
	p, err := g.account(env)
	if err != nil {
		return nil, err
	}
	var out unfilledResponse
	err = g.caller.Do(ctx, env, kis.Call{
		Op:   "domestic unfilled",
		Path: unfilledPath,
		TRID: kis.TRID(trUnfilled, env),
		Params: map[string]any{
			"CANO":           p.AccountNumber,
			"ACNT_PRDT_CD":   p.AccountProductCode,
			"INQR_DVSN_1":    "0",
			"INQR_DVSN_2":    "0",
			"CTX_AREA_FK100": "",
			"CTX_AREA_NK100": "",
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Output, nil
}

// CurrentPrice 当前价（无模拟盘 TR）
func (g *Gateway) CurrentPrice(ctx context.Context, env kis.Environment, stockCode string) (*Price, error) {
	var out priceResponse
	err := g.caller.Do(ctx, env, kis.Call{
		Op:   "domestic price",
		Path: pricePath,
		TRID: trPrice,
		Params: map[string]any{
			"FID_COND_MRKT_DIV_CODE": "J",
			"FID_INPUT_ISCD":         stockCode,
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Output, nil
}

// Balance 持仓
func (g *Gateway) Balance(ctx context.Context, env kis.Environment) ([]Position, error) {
	p, err := g.account(env)
	if err != nil {
		return nil, err
	}
	var out balanceResponse
	err = g.caller.Do(ctx, env, kis.Call{
		Op:   "domestic balance",
		Path: balancePath,
		TRID: kis.TRID(trBalance, env),
		Params: map[string]any{
			"CANO":                  p.AccountNumber,
			"ACNT_PRDT_CD":          p.AccountProductCode,
			"AFHR_FLPR_YN":          "N",
			"OFL_YN":                "",
			"INQR_DVSN":             "02",
			"UNPR_DVSN":             "01",
			"FUND_STTL_ICLD_YN":     "N",
			"FNCG_AMT_AUTO_RDPT_YN": "N",
			"PRCS_DVSN":             "00",
			"CTX_AREA_FK100":        "",
			"CTX_AREA_NK100":        "",
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Output1, nil
}

// PositionByCode 单个代码的持仓，没有时返回 nil
func (g *Gateway) PositionByCode(ctx context.Context, env kis.Environment, stockCode string) (*Position, error) {
	positions, err := g.Balance(ctx, env)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		if positions[i].StockCode == stockCode {
			return &positions[i], nil
		}
	}
	return nil, nil
}

// PurchasableAmount 可买金额；price 为 0 时按当前价计算
func (g *Gateway) PurchasableAmount(ctx context.Context, env kis.Environment, stockCode string, price decimal.Decimal) (*PurchasableAmount, error) {
	p, err := g.account(env)
	if err != nil {
		return nil, err
	}
	dvsn := "00"
	if price.IsZero() {
		dvsn = "01"
	}
	var out purchasableResponse
	err = g.caller.Do(ctx, env, kis.Call{
		Op:   "domestic purchasable amount",
		Path: unfilledPath,
		TRID: kis.TRID(trPurchasable, env),
		Params: map[string]any{
			"CANO":                 p.AccountNumber,
			"ACNT_PRDT_CD":         p.AccountProductCode,
			"PDNO":                 stockCode,
			"ORD_UNPR":             price.String(),
			"ORD_DVSN":             dvsn,
			"CMA_EVLU_AMT_ICLD_YN": "N",
			"OVRS_ICLD_YN":         "N",
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
