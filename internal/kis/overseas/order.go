package overseas

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/betbot/kisbot/internal/kis"
)

// Side 买卖方向
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderKind 海外下单类型（ORD_DVSN）
type OrderKind string

const (
	Limit         OrderKind = "LIMIT"
	MarketOnOpen  OrderKind = "MARKET_ON_OPEN"
	LimitOnOpen   OrderKind = "LIMIT_ON_OPEN"
	MarketOnClose OrderKind = "MARKET_ON_CLOSE"
	LimitOnClose  OrderKind = "LIMIT_ON_CLOSE"
)

var orderKindCodes = map[OrderKind]string{
	Limit:         "00",
	MarketOnOpen:  "31",
	LimitOnOpen:   "32",
	MarketOnClose: "33",
	LimitOnClose:  "34",
}

// ParseOrderKind 未知类型回落为 LIMIT
func ParseOrderKind(s string) OrderKind {
	k := OrderKind(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := orderKindCodes[k]; ok {
		return k
	}
	return Limit
}

// Code ORD_DVSN 代码
func (k OrderKind) Code() string {
	if c, ok := orderKindCodes[k]; ok {
		return c
	}
	return orderKindCodes[Limit]
}

// MarketPriced 市价类委托，价格固定为 0
func (k OrderKind) MarketPriced() bool {
	return k == MarketOnOpen || k == MarketOnClose
}

// OrderRequest 下单请求，构造后不再修改
type OrderRequest struct {
	Exchange Exchange
	Symbol   string
	Side     Side
	Quantity int64
	Price    decimal.Decimal
	Kind     OrderKind
}

// LimitBuy 限价买入
func LimitBuy(ex Exchange, symbol string, qty int64, price decimal.Decimal) OrderRequest {
	return OrderRequest{Exchange: ex, Symbol: symbol, Side: Buy, Quantity: qty, Price: price, Kind: Limit}
}

// LimitSell 限价卖出
func LimitSell(ex Exchange, symbol string, qty int64, price decimal.Decimal) OrderRequest {
	return OrderRequest{Exchange: ex, Symbol: symbol, Side: Sell, Quantity: qty, Price: price, Kind: Limit}
}

// MarketOnCloseBuy 收盘市价买入（价格 0）
func MarketOnCloseBuy(ex Exchange, symbol string, qty int64) OrderRequest {
	return OrderRequest{Exchange: ex, Symbol: symbol, Side: Buy, Quantity: qty, Price: decimal.Zero, Kind: MarketOnClose}
}

// Validate 发送前校验
func (r OrderRequest) Validate() error {
	if !r.Exchange.Valid() {
		return &kis.ValidationError{Field: "exchange", Message: "exchange is required"}
	}
	if strings.TrimSpace(r.Symbol) == "" {
		return &kis.ValidationError{Field: "symbol", Message: "symbol is required"}
	}
	if r.Quantity < 1 {
		return &kis.ValidationError{Field: "quantity", Message: "quantity must be at least 1"}
	}
	if r.Price.IsNegative() {
		return &kis.ValidationError{Field: "price", Message: "price must not be negative"}
	}
	if !r.Kind.MarketPriced() && !r.Price.IsPositive() {
		return &kis.ValidationError{Field: "price", Message: "limit orders require a positive price"}
	}
	return nil
}

// OrderResult 下单/撤单结果
type OrderResult struct {
	OrgCode   string `json:"KRX_FWDG_ORD_ORGNO"`
	OrderID   string `json:"ODNO"`
	OrderTime string `json:"ORD_TMD"`
}

// IsSuccess 返回了订单号
func (r OrderResult) IsSuccess() bool {
	return r.OrderID != ""
}
