package realtime

import (
	"strings"

	"github.com/betbot/kisbot/internal/kis"
)

// 实时频道（tr_id）
const (
	// 国内成交
	DomesticTradeTotal = "H0UNCNT0"
	DomesticTradeKRX   = "H0STCNT0"
	DomesticTradeNXT   = "H0NXCNT0"
	// 国内盘口
	DomesticBookTotal = "H0UNASP0"
	DomesticBookKRX   = "H0STASP0"
	DomesticBookNXT   = "H0NXASP0"
	// 国内其他
	DomesticAfterHoursTrade = "H0STCNT7"
	DomesticIndexTrade      = "H0UPCNT0"
	DomesticIndexExpected   = "H0UPCNT3"
	DomesticMarketOpKRX     = "H0STMNI0"
	DomesticMarketOpTotal   = "H0UNMNI0"
	DomesticProgramKRX      = "H0STPGM0"
	DomesticProgramTotal    = "H0UNPGM0"

	// 海外延迟成交
	OverseasTrade = "HDFSCNT0"
	// 海外盘口：美国 / 亚洲
	OverseasBookUS   = "HDFSASP0"
	OverseasBookAsia = "HDFSASP1"

	domesticFillLive = "H0STCNI0"
	domesticFillDemo = "H0STCNI9"
	overseasFillLive = "H0GSCNI0"
	overseasFillDemo = "H0GSCNI9"
)

// DomesticFillChannel 国内成交通知频道，按环境区分
func DomesticFillChannel(env kis.Environment) string {
	if env == kis.Demo {
		return domesticFillDemo
	}
	return domesticFillLive
}

// OverseasFillChannel 海外成交通知频道，按环境区分
func OverseasFillChannel(env kis.Environment) string {
	if env == kis.Demo {
		return overseasFillDemo
	}
	return overseasFillLive
}

var overseasKeyPrefixes = map[string]string{
	"NAS": "DNAS",
	"NYS": "DNYS",
	"AMS": "DAMS",
	"HKS": "DHKS",
	"SHS": "DSHS",
	"SZS": "DSZS",
	"TSE": "DTSE",
}

// OverseasKey 海外实时订阅的 tr_key：前缀 + 代码，例如 DNASAAPL。
// exchangeCode 为行情代码（NAS/NYS/...），不支持的交易所返回空串。
func OverseasKey(exchangeCode, symbol string) string {
	p, ok := overseasKeyPrefixes[strings.ToUpper(exchangeCode)]
	if !ok {
		return ""
	}
	return p + strings.ToUpper(strings.TrimSpace(symbol))
}
