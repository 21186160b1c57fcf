package overseas

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/kisbot/internal/kis"
	sdkhttp "github.com/betbot/kisbot/pkg/sdk/http"
)

type tokens struct{}

func (tokens) BearerHeader(ctx context.Context, env kis.Environment) (string, error) {
	return "Bearer t", nil
}

type recorded struct {
	Path  string
	TRID  string
	Query url.Values
	Body  map[string]string
}

type fakeKIS struct {
	mu        sync.Mutex
	requests  []recorded
	responses map[string]string
}

func (f *fakeKIS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := recorded{Path: r.URL.Path, TRID: r.Header.Get("tr_id"), Query: r.URL.Query()}
	if r.Method == http.MethodPost {
		_ = json.NewDecoder(r.Body).Decode(&rec.Body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, rec)
	body, ok := f.responses[r.URL.Path]
	f.mu.Unlock()
	if !ok {
		body = `{"rt_cd":"0","msg_cd":"","msg1":""}`
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func (f *fakeKIS) last() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func (f *fakeKIS) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newGateway(t *testing.T, responses map[string]string) (*Gateway, *fakeKIS) {
	f := &fakeKIS{responses: responses}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	p := kis.Profile{BaseURL: srv.URL, AppKey: "k", AppSecret: "s", AccountNumber: "12345678", AccountProductCode: "01"}
	c := kis.NewClient(kis.Profiles{Live: p, Demo: p}, tokens{}, nil, sdkhttp.DefaultOptions())
	return NewGateway(c), f
}

const okOrder = `{"rt_cd":"0","msg_cd":"APBK0013","msg1":"ok","output":{"KRX_FWDG_ORD_ORGNO":"01790","ODNO":"0030128","ORD_TMD":"093000"}}`

func TestParseExchange(t *testing.T) {
	ex, err := ParseExchange("nasdaq")
	require.NoError(t, err)
	assert.Equal(t, NASDAQ, ex)

	ex, err = ParseExchange("HKS")
	require.NoError(t, err)
	assert.Equal(t, HongKong, ex)
	assert.Equal(t, "SEHK", ex.APICode())

	_, err = ParseExchange("LSE")
	assert.Error(t, err)

	assert.Equal(t, "BAQ", NASDAQDay.Code())
	assert.Equal(t, "NASD", NASDAQDay.APICode())
	assert.Equal(t, "TTTT1002U", NASDAQDay.orderTR(Buy))
	assert.Equal(t, "TTTS1005U", ShanghaiIndex.orderTR(Sell))
	assert.Equal(t, "TTTS0310U", Hanoi.orderTR(Sell))

	got, ok := ExchangeFromAPICode("tkse")
	assert.True(t, ok)
	assert.Equal(t, Tokyo, got)
}

func TestOrderKinds(t *testing.T) {
	assert.Equal(t, MarketOnClose, ParseOrderKind("market_on_close"))
	assert.Equal(t, Limit, ParseOrderKind("whatever"))
	assert.Equal(t, "33", MarketOnClose.Code())
	assert.Equal(t, "34", LimitOnClose.Code())
	assert.Equal(t, "00", OrderKind("X").Code())
	assert.True(t, MarketOnOpen.MarketPriced())
	assert.False(t, LimitOnOpen.MarketPriced())
}

func TestOrderRequestValidate(t *testing.T) {
	price := decimal.NewFromInt(10)
	cases := []struct {
		name  string
		req   OrderRequest
		field string
	}{
		{"missing exchange", OrderRequest{Symbol: "QLD", Quantity: 1, Price: price}, "exchange"},
		{"blank symbol", LimitBuy(NASDAQ, "  ", 1, price), "symbol"},
		{"zero quantity", LimitBuy(NASDAQ, "QLD", 0, price), "quantity"},
		{"limit without price", LimitBuy(NASDAQ, "QLD", 1, decimal.Zero), "price"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			var ve *kis.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
	assert.NoError(t, MarketOnCloseBuy(NASDAQ, "QLD", 3).Validate())
}

func TestPlaceOrderDemoBuy(t *testing.T) {
	g, f := newGateway(t, map[string]string{orderPath: okOrder})

	var sides []Side
	g.SetOrderObserver(func(side Side, err error) { sides = append(sides, side) })

	res, err := g.Buy(context.Background(), kis.Demo, LimitBuy(NASDAQ, "QLD", 5, decimal.RequireFromString("98.00")))
	require.NoError(t, err)
	assert.Equal(t, "0030128", res.OrderID)
	assert.True(t, res.IsSuccess())

	req := f.last()
	assert.Equal(t, "VTTT1002U", req.TRID)
	assert.Equal(t, "12345678", req.Body["CANO"])
	assert.Equal(t, "NASD", req.Body["OVRS_EXCG_CD"])
	assert.Equal(t, "5", req.Body["ORD_QTY"])
	assert.Equal(t, "98", req.Body["OVRS_ORD_UNPR"])
	assert.Equal(t, "", req.Body["SLL_TYPE"])
	assert.Equal(t, "00", req.Body["ORD_DVSN"])
	assert.Equal(t, "0", req.Body["ORD_SVR_DVSN_CD"])
	assert.Equal(t, []Side{Buy}, sides)
}

func TestPlaceOrderLiveSellAndMOC(t *testing.T) {
	g, f := newGateway(t, map[string]string{orderPath: okOrder})

	_, err := g.Sell(context.Background(), kis.Live, LimitSell(NASDAQ, "QLD", 10, decimal.RequireFromString("102.01")))
	require.NoError(t, err)
	req := f.last()
	assert.Equal(t, "TTTT1006U", req.TRID)
	assert.Equal(t, "00", req.Body["SLL_TYPE"])
	assert.Equal(t, "102.01", req.Body["OVRS_ORD_UNPR"])

	_, err = g.Buy(context.Background(), kis.Live, MarketOnCloseBuy(NASDAQ, "JEPQ", 7))
	require.NoError(t, err)
	req = f.last()
	assert.Equal(t, "0", req.Body["OVRS_ORD_UNPR"])
	assert.Equal(t, "33", req.Body["ORD_DVSN"])
}

func TestPlaceOrderValidationSkipsNetwork(t *testing.T) {
	g, f := newGateway(t, nil)
	_, err := g.Buy(context.Background(), kis.Demo, LimitBuy(NASDAQ, "QLD", 0, decimal.NewFromInt(1)))
	assert.True(t, kis.IsValidationError(err))
	assert.Equal(t, 0, f.count())
}

func TestPlaceOrderWithoutAccount(t *testing.T) {
	srv := httptest.NewServer(&fakeKIS{})
	defer srv.Close()
	p := kis.Profile{BaseURL: srv.URL}
	g := NewGateway(kis.NewClient(kis.Profiles{Demo: p}, tokens{}, nil, sdkhttp.DefaultOptions()))
	_, err := g.Buy(context.Background(), kis.Demo, LimitBuy(NASDAQ, "QLD", 1, decimal.NewFromInt(1)))
	assert.True(t, kis.IsValidationError(err))
}

func TestPlaceOrderRejected(t *testing.T) {
	g, _ := newGateway(t, map[string]string{orderPath: `{"rt_cd":"1","msg_cd":"APBK0952","msg1":"insufficient cash"}`})
	_, err := g.Buy(context.Background(), kis.Demo, LimitBuy(NASDAQ, "QLD", 1, decimal.NewFromInt(1)))
	require.True(t, kis.IsBusinessRejection(err))
	assert.Contains(t, err.Error(), "insufficient cash")
}

func TestPlaceOrderWithoutOrderNumber(t *testing.T) {
	g, _ := newGateway(t, map[string]string{orderPath: `{"rt_cd":"0","msg_cd":"X","msg1":"","output":{"ODNO":""}}`})
	_, err := g.Buy(context.Background(), kis.Demo, LimitBuy(NASDAQ, "QLD", 1, decimal.NewFromInt(1)))
	assert.True(t, kis.IsBusinessRejection(err))
}

func TestCancelOrder(t *testing.T) {
	g, f := newGateway(t, map[string]string{cancelPath: okOrder})

	_, err := g.CancelOrder(context.Background(), kis.Demo, NASDAQ, "QLD", "0001", 0)
	require.NoError(t, err)
	req := f.last()
	assert.Equal(t, cancelPath, req.Path)
	assert.Equal(t, "VTTT1004U", req.TRID)
	assert.Equal(t, "0001", req.Body["ORGN_ODNO"])
	assert.Equal(t, "02", req.Body["RVSE_CNCL_DVSN_CD"])
	assert.Equal(t, "0", req.Body["ORD_QTY"])
	assert.Equal(t, "0", req.Body["OVRS_ORD_UNPR"])

	_, err = g.CancelOrder(context.Background(), kis.Demo, NASDAQ, "QLD", "", 0)
	assert.True(t, kis.IsValidationError(err))
}

func TestUnfilledOrdersBySymbol(t *testing.T) {
	g, f := newGateway(t, map[string]string{unfilledPath: `{"rt_cd":"0","output":[
		{"odno":"1","pdno":"QLD","sll_buy_dvsn_cd":"02","ord_qty":"10","ft_ccld_qty":"3","nccs_qty":"7"},
		{"odno":"2","pdno":"JEPQ","sll_buy_dvsn_cd":"02","ord_qty":"1","ft_ccld_qty":"0","nccs_qty":"1"},
		{"odno":"3","pdno":"QLD","sll_buy_dvsn_cd":"01","ord_qty":"2","ft_ccld_qty":"2","nccs_qty":"0"}]}`})

	orders, err := g.UnfilledOrdersBySymbol(context.Background(), kis.Live, NASDAQ, "QLD")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.True(t, orders[0].IsBuy())
	assert.True(t, orders[0].HasRemaining())
	assert.EqualValues(t, 7, orders[0].RemainingQty.Int64())
	assert.Equal(t, Sell, orders[1].Side())
	assert.False(t, orders[1].HasRemaining())

	req := f.last()
	assert.Equal(t, "TTTS3018R", req.TRID)
	assert.Equal(t, "NASD", req.Query.Get("OVRS_EXCG_CD"))
	assert.Equal(t, "DS", req.Query.Get("SORT_SQN"))
}

func TestPositionBySymbol(t *testing.T) {
	g, f := newGateway(t, map[string]string{balancePath: `{"rt_cd":"0","output1":[
		{"ovrs_pdno":"QLD","ovrs_cblc_qty":"100","now_pric2":"101.5","evlu_pfls_rt":"30.12"}]}`})

	pos, err := g.PositionBySymbol(context.Background(), kis.Demo, "QLD")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.EqualValues(t, 100, pos.Quantity.Int64())
	assert.Equal(t, "30.12", pos.ProfitRate.String())
	assert.Equal(t, "VTTS3012R", f.last().TRID)
	assert.Equal(t, "USD", f.last().Query.Get("TR_CRCY_CD"))

	pos, err = g.PositionBySymbol(context.Background(), kis.Demo, "TQQQ")
	require.NoError(t, err)
	assert.Nil(t, pos)
}

func TestCurrentPriceAndPurchasable(t *testing.T) {
	g, f := newGateway(t, map[string]string{
		pricePath:       `{"rt_cd":"0","output":{"rsym":"DNASQLD","last":"100.00","base":"99"}}`,
		purchasablePath: `{"rt_cd":"0","output":{"ord_psbl_frcr_amt":"1000.00","exrt":"1400.5"}}`,
	})

	p, err := g.CurrentPrice(context.Background(), kis.Demo, NASDAQ, "QLD")
	require.NoError(t, err)
	assert.True(t, p.Last.Positive())
	req := f.last()
	assert.Equal(t, "HHDFS00000300", req.TRID)
	assert.Equal(t, "NAS", req.Query.Get("EXCD"))
	assert.Equal(t, "QLD", req.Query.Get("SYMB"))

	amt, err := g.PurchasableAmount(context.Background(), kis.Demo, NASDAQ, "QLD", decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.Equal(t, "1000", amt.OrderableForeign.String())
	assert.Equal(t, "VTTS3007R", f.last().TRID)
	assert.Equal(t, "100", f.last().Query.Get("OVRS_ORD_UNPR"))
}

func TestForeignMarginUsesLiveTR(t *testing.T) {
	g, f := newGateway(t, map[string]string{marginPath: `{"rt_cd":"0","output":[
		{"crcy_cd":"KRW","frcr_dncl_amt":"500000"},{"crcy_cd":"USD","frcr_dncl_amt":"120.5","exrt":"1400"}]}`})
	m, err := g.ForeignMargin(context.Background(), kis.Demo)
	require.NoError(t, err)
	require.Len(t, m, 2)
	assert.Equal(t, "TTTC2101R", f.last().TRID)
}
