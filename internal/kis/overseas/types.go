package overseas

import "github.com/betbot/kisbot/internal/kis"

// Price 当前价（HHDFS00000300）
type Price struct {
	RealtimeSymbol string     `json:"rsym"`
	DecimalPlaces  kis.Number `json:"zdiv"`
	PreviousClose  kis.Number `json:"base"`
	PreviousVolume kis.Number `json:"pvol"`
	Last           kis.Number `json:"last"`
	Sign           string     `json:"sign"`
	Diff           kis.Number `json:"diff"`
	Rate           kis.Number `json:"rate"`
	Volume         kis.Number `json:"tvol"`
	Amount         kis.Number `json:"tamt"`
	Orderable      string     `json:"ordy"`
}

// Position 持仓（inquire-balance output1）
type Position struct {
	Symbol         string     `json:"ovrs_pdno"`
	Name           string     `json:"ovrs_item_name"`
	Quantity       kis.Number `json:"ovrs_cblc_qty"`
	OrderableQty   kis.Number `json:"ord_psbl_qty"`
	AvgPrice       kis.Number `json:"pchs_avg_pric"`
	CurrentPrice   kis.Number `json:"now_pric2"`
	ProfitLoss     kis.Number `json:"frcr_evlu_pfls_amt"`
	ProfitRate     kis.Number `json:"evlu_pfls_rt"` // 百分比
	EvalAmount     kis.Number `json:"ovrs_stck_evlu_amt"`
	PurchaseAmount kis.Number `json:"frcr_pchs_amt1"`
	Currency       string     `json:"tr_crcy_cd"`
	ExchangeCode   string     `json:"ovrs_excg_cd"`
}

// PurchasableAmount 可买金额（TTTS3007R）
type PurchasableAmount struct {
	Currency           string     `json:"tr_crcy_cd"`
	OrderableForeign   kis.Number `json:"ord_psbl_frcr_amt"`
	OrderableForeign1  kis.Number `json:"frcr_ord_psbl_amt1"`
	MaxQuantity        kis.Number `json:"ovrs_ord_psbl_qty"`
	ExchangeRate       kis.Number `json:"exrt"`
	ForeignEvalAmount2 kis.Number `json:"frcr_evlu_amt2"`
}

// UnfilledOrder 未成交委托（TTTS3018R）
type UnfilledOrder struct {
	OrderID         string     `json:"odno"`
	OriginalOrderID string     `json:"orgn_odno"`
	Symbol          string     `json:"pdno"`
	ProductName     string     `json:"prdt_name"`
	SideCode        string     `json:"sll_buy_dvsn_cd"` // 01 卖 02 买
	OrderedQty      kis.Number `json:"ord_qty"`
	FilledQty       kis.Number `json:"ft_ccld_qty"`
	RemainingQty    kis.Number `json:"nccs_qty"`
	OrderPrice      kis.Number `json:"ft_ord_unpr3"`
	ExchangeCode    string     `json:"ovrs_excg_cd"`
	OrderDate       string     `json:"ord_dt"`
	OrderTime       string     `json:"ord_tmd"`
}

// Side 由方向代码得出
func (o UnfilledOrder) Side() Side {
	if o.SideCode == "01" {
		return Sell
	}
	return Buy
}

// IsBuy 买单
func (o UnfilledOrder) IsBuy() bool { return o.SideCode == "02" }

// HasRemaining 仍有未成交数量
func (o UnfilledOrder) HasRemaining() bool { return o.RemainingQty.Int64() > 0 }

// ForeignMargin 外币保证金（TTTC2101R）
type ForeignMargin struct {
	Currency     string     `json:"crcy_cd"`
	Deposit      kis.Number `json:"frcr_dncl_amt"`
	Withdrawable kis.Number `json:"frcr_drwg_psbl_amt"`
	EvalAmount   kis.Number `json:"frcr_evlu_amt"`
	ExchangeRate kis.Number `json:"exrt"`
}

type priceResponse struct {
	kis.ResponseStatus
	Output *Price `json:"output"`
}

type balanceResponse struct {
	kis.ResponseStatus
	Output1 []Position `json:"output1"`
}

type purchasableResponse struct {
	kis.ResponseStatus
	Output *PurchasableAmount `json:"output"`
}

type unfilledResponse struct {
	kis.ResponseStatus
	Output []UnfilledOrder `json:"output"`
}

type orderResponse struct {
	kis.ResponseStatus
	Output OrderResult `json:"output"`
}

type marginResponse struct {
	kis.ResponseStatus
	Output []ForeignMargin `json:"output"`
}
