package realtime

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func overseasFields(symbol, last, sign string) []string {
	f := make([]string, OverseasTradeFields)
	f[ovSymbol] = symbol
	f[ovDecimals] = "4"
	f[ovLast] = last
	f[ovSign] = sign
	f[ovBid] = "189.50"
	f[ovAsk] = "189.60"
	f[ovTradeVolume] = "120"
	f[ovTotalVolume] = "bad"
	return f
}

func TestDecodeOverseasQuote(t *testing.T) {
	q := DecodeOverseasQuote(overseasFields("AAPL", "189.55", "2"))
	assert.Equal(t, "AAPL", q.Symbol)
	assert.Equal(t, 4, q.Decimals)
	assert.Equal(t, "189.55", q.Last.String())
	assert.Equal(t, int64(120), q.TradeVolume)
	assert.Equal(t, int64(0), q.TotalVolume)
	assert.True(t, q.Up())
	assert.False(t, q.Down())

	short := DecodeOverseasQuote([]string{"TSLA"})
	assert.Equal(t, "TSLA", short.Symbol)
	assert.True(t, short.Last.IsZero())
}

func TestQuoteBookKeepsLatestPerSymbol(t *testing.T) {
	book := NewQuoteBook(time.Minute)
	defer book.Close()

	fields := append(overseasFields("AAPL", "189.55", "2"), overseasFields("TSLA", "250.10", "5")...)
	book.HandleTick(Tick{Channel: OverseasTrade, Count: 2, Fields: fields})
	book.HandleTick(Tick{Channel: OverseasTrade, Count: 1, Fields: overseasFields("AAPL", "190.00", "2")})
	book.HandleTick(Tick{Channel: DomesticTradeTotal, Fields: strings.Split("005930^093000^71500", "^")})

	q, ok := book.Get("AAPL")
	require.True(t, ok)
	assert.Equal(t, "190", q.Last.String())

	snap := book.Snapshot()
	assert.Len(t, snap, 2)
	assert.True(t, snap["TSLA"].Down())
}
