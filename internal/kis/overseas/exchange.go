package overseas

import (
	"fmt"
	"strings"
)

// Exchange 海外交易所
type Exchange string

const (
	NASDAQ        Exchange = "NASDAQ"
	NYSE          Exchange = "NYSE"
	AMEX          Exchange = "AMEX"
	NASDAQDay     Exchange = "NASDAQ_DAY"
	NYSEDay       Exchange = "NYSE_DAY"
	AMEXDay       Exchange = "AMEX_DAY"
	HongKong      Exchange = "HONG_KONG"
	Tokyo         Exchange = "TOKYO"
	Shanghai      Exchange = "SHANGHAI"
	Shenzhen      Exchange = "SHENZHEN"
	ShanghaiIndex Exchange = "SHANGHAI_INDEX"
	ShenzhenIndex Exchange = "SHENZHEN_INDEX"
	HoChiMinh     Exchange = "HO_CHI_MINH"
	Hanoi         Exchange = "HANOI"
)

// market 决定下单 TR
type market int

const (
	marketUS market = iota
	marketHK
	marketSH
	marketSZ
	marketJP
	marketVN
)

type exchangeInfo struct {
	code    string // 行情代码（EXCD）
	apiCode string // 交易代码（OVRS_EXCG_CD）
	market  market
	desc    string
}

var exchanges = map[Exchange]exchangeInfo{
	NASDAQ:        {"NAS", "NASD", marketUS, "Nasdaq"},
	NYSE:          {"NYS", "NYSE", marketUS, "NYSE"},
	AMEX:          {"AMS", "AMEX", marketUS, "AMEX"},
	NASDAQDay:     {"BAQ", "NASD", marketUS, "Nasdaq (day)"},
	NYSEDay:       {"BAY", "NYSE", marketUS, "NYSE (day)"},
	AMEXDay:       {"BAA", "AMEX", marketUS, "AMEX (day)"},
	HongKong:      {"HKS", "SEHK", marketHK, "Hong Kong"},
	Tokyo:         {"TSE", "TKSE", marketJP, "Tokyo"},
	Shanghai:      {"SHS", "SHAA", marketSH, "Shanghai"},
	Shenzhen:      {"SZS", "SZAA", marketSZ, "Shenzhen"},
	ShanghaiIndex: {"SHI", "SHAA", marketSH, "Shanghai index"},
	ShenzhenIndex: {"SZI", "SZAA", marketSZ, "Shenzhen index"},
	HoChiMinh:     {"HSX", "VNSE", marketVN, "Ho Chi Minh"},
	Hanoi:         {"HNX", "HASE", marketVN, "Hanoi"},
}

// 按 market 的买/卖 TR
var orderTRs = map[market][2]string{
	marketUS: {"TTTT1002U", "TTTT1006U"},
	marketHK: {"TTTS1002U", "TTTS1001U"},
	marketSH: {"TTTS0202U", "TTTS1005U"},
	marketSZ: {"TTTS0305U", "TTTS0304U"},
	marketJP: {"TTTS0308U", "TTTS0307U"},
	marketVN: {"TTTS0311U", "TTTS0310U"},
}

// ParseExchange 先按名称匹配，再按行情代码匹配，均不区分大小写
func ParseExchange(s string) (Exchange, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	if _, ok := exchanges[Exchange(v)]; ok {
		return Exchange(v), nil
	}
	for ex, info := range exchanges {
		if info.code == v {
			return ex, nil
		}
	}
	return "", fmt.Errorf("unknown exchange: %q", s)
}

// Valid 是否已知交易所
func (e Exchange) Valid() bool {
	_, ok := exchanges[e]
	return ok
}

// Code 行情查询用的交易所代码（NAS）
func (e Exchange) Code() string { return exchanges[e].code }

// APICode 交易接口用的交易所代码（NASD）
func (e Exchange) APICode() string { return exchanges[e].apiCode }

// Description 交易所名称
func (e Exchange) Description() string { return exchanges[e].desc }

// ExchangeFromAPICode 交易代码反查交易所，多个交易所共享代码时取常规时段那个
func ExchangeFromAPICode(code string) (Exchange, bool) {
	switch strings.ToUpper(code) {
	case "NASD":
		return NASDAQ, true
	case "NYSE":
		return NYSE, true
	case "AMEX":
		return AMEX, true
	case "SEHK":
		return HongKong, true
	case "SHAA":
		return Shanghai, true
	case "SZAA":
		return Shenzhen, true
	case "TKSE":
		return Tokyo, true
	case "VNSE":
		return HoChiMinh, true
	case "HASE":
		return Hanoi, true
	}
	return "", false
}

func (e Exchange) orderTR(side Side) string {
	trs := orderTRs[exchanges[e].market]
	if side == Sell {
		return trs[1]
	}
	return trs[0]
}
