package realtime

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/kisbot/pkg/cache"
)

// HDFSCNT0 字段下标
const (
	ovSymbol = iota
	ovDecimals
	ovLocalDate
	ovExchangeDate
	ovExchangeTime
	ovKoreaDate
	ovKoreaTime
	ovOpen
	ovHigh
	ovLow
	ovLast
	ovSign
	ovDiff
	ovRate
	ovBid
	ovAsk
	ovBidSize
	ovAskSize
	ovTradeVolume
	ovTotalVolume
	ovTotalAmount
	ovBuyVolume
	ovSellVolume
	ovStrength
	ovMarketType

	// OverseasTradeFields 每条记录的字段数
	OverseasTradeFields
)

// OverseasQuote 海外延迟成交（HDFSCNT0）
type OverseasQuote struct {
	Symbol       string
	Decimals     int
	LocalDate    string
	ExchangeDate string
	ExchangeTime string
	KoreaDate    string
	KoreaTime    string
	Open         decimal.Decimal
	High         decimal.Decimal
	Low          decimal.Decimal
	Last         decimal.Decimal
	Sign         string
	Diff         decimal.Decimal
	Rate         decimal.Decimal
	Bid          decimal.Decimal
	Ask          decimal.Decimal
	BidSize      int64
	AskSize      int64
	TradeVolume  int64
	TotalVolume  int64
	TotalAmount  decimal.Decimal
	BuyVolume    int64
	SellVolume   int64
	Strength     decimal.Decimal
	MarketType   string
}

// Up 相对前日上涨（1 上限 2 上涨）
func (t OverseasQuote) Up() bool { return t.Sign == "1" || t.Sign == "2" }

// Down 相对前日下跌（4 下限 5 下跌）
func (t OverseasQuote) Down() bool { return t.Sign == "4" || t.Sign == "5" }

func field(fields []string, i int) string {
	if i < len(fields) {
		return strings.TrimSpace(fields[i])
	}
	return ""
}

// 缺失或非法的数值按 0 处理
func decField(fields []string, i int) decimal.Decimal {
	d, err := decimal.NewFromString(field(fields, i))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func intField(fields []string, i int) int64 {
	n, err := strconv.ParseInt(field(fields, i), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// DecodeOverseasQuote 把 HDFSCNT0 的字段数组解码为结构体
func DecodeOverseasQuote(fields []string) OverseasQuote {
	return OverseasQuote{
		Symbol:       field(fields, ovSymbol),
		Decimals:     int(intField(fields, ovDecimals)),
		LocalDate:    field(fields, ovLocalDate),
		ExchangeDate: field(fields, ovExchangeDate),
		ExchangeTime: field(fields, ovExchangeTime),
		KoreaDate:    field(fields, ovKoreaDate),
		KoreaTime:    field(fields, ovKoreaTime),
		Open:         decField(fields, ovOpen),
		High:         decField(fields, ovHigh),
		Low:          decField(fields, ovLow),
		Last:         decField(fields, ovLast),
		Sign:         field(fields, ovSign),
		Diff:         decField(fields, ovDiff),
		Rate:         decField(fields, ovRate),
		Bid:          decField(fields, ovBid),
		Ask:          decField(fields, ovAsk),
		BidSize:      intField(fields, ovBidSize),
		AskSize:      intField(fields, ovAskSize),
		TradeVolume:  intField(fields, ovTradeVolume),
		TotalVolume:  intField(fields, ovTotalVolume),
		TotalAmount:  decField(fields, ovTotalAmount),
		BuyVolume:    intField(fields, ovBuyVolume),
		SellVolume:   intField(fields, ovSellVolume),
		Strength:     decField(fields, ovStrength),
		MarketType:   field(fields, ovMarketType),
	}
}

// QuoteBook 按代码缓存最近一次海外成交，过期自动淘汰
type QuoteBook struct {
	store *cache.InMemoryCache[string, OverseasQuote]
	ttl   time.Duration
}

// NewQuoteBook 创建报价簿
func NewQuoteBook(ttl time.Duration) *QuoteBook {
	return &QuoteBook{store: cache.NewInMemoryCache[string, OverseasQuote](ttl), ttl: ttl}
}

// HandleTick 作为 OnTick 回调使用，只处理 HDFSCNT0
func (b *QuoteBook) HandleTick(t Tick) {
	if t.Channel != OverseasTrade {
		return
	}
	for _, rec := range t.Records(OverseasTradeFields) {
		tr := DecodeOverseasQuote(rec)
		if tr.Symbol != "" {
			b.store.Set(tr.Symbol, tr, b.ttl)
		}
	}
	// 字段不足一条完整记录时仍按单条解码
	if len(t.Fields) < OverseasTradeFields {
		if tr := DecodeOverseasQuote(t.Fields); tr.Symbol != "" {
			b.store.Set(tr.Symbol, tr, b.ttl)
		}
	}
}

// Get 取代码的最近成交
func (b *QuoteBook) Get(symbol string) (OverseasQuote, bool) {
	return b.store.Get(symbol)
}

// Snapshot 全部未过期的成交
func (b *QuoteBook) Snapshot() map[string]OverseasQuote {
	return b.store.Items()
}

// Close 停止后台清理
func (b *QuoteBook) Close() {
	b.store.Close()
}
