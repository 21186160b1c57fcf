package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/betbot/kisbot/internal/kis/overseas"
)

// parseExchange 接受名称、行情代码或交易接口代码，空值为 def
func parseExchange(v string, def overseas.Exchange) (overseas.Exchange, error) {
	if strings.TrimSpace(v) == "" {
		return def, nil
	}
	ex, err := overseas.ParseExchange(v)
	if err == nil {
		return ex, nil
	}
	if ex, ok := overseas.ExchangeFromAPICode(strings.ToUpper(strings.TrimSpace(v))); ok {
		return ex, nil
	}
	return "", err
}

func (s *Server) exchangeParam(c *gin.Context, v string) (overseas.Exchange, bool) {
	ex, err := parseExchange(v, overseas.NASDAQ)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return "", false
	}
	return ex, true
}

func (s *Server) handleOverseasPrice(c *gin.Context) {
	env, ok := s.environment(c)
	if !ok {
		return
	}
	symbol := strings.TrimSpace(c.Query("symbol"))
	if symbol == "" {
		writeError(c, http.StatusBadRequest, "symbol is required")
		return
	}
	ex, ok := s.exchangeParam(c, c.Query("exchange"))
	if !ok {
		return
	}
	p, err := s.cfg.Overseas.CurrentPrice(c.Request.Context(), env, ex, symbol)
	if err != nil {
		writeKISError(c, err)
		return
	}
	if p == nil {
		writeError(c, http.StatusNotFound, "price not found")
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleOverseasBalance(c *gin.Context) {
	env, ok := s.environment(c)
	if !ok {
		return
	}
	ex, ok := s.exchangeParam(c, c.Query("exchange"))
	if !ok {
		return
	}
	currency := strings.ToUpper(strings.TrimSpace(c.DefaultQuery("currency", "USD")))
	positions, err := s.cfg.Overseas.BalanceFor(c.Request.Context(), env, ex, currency)
	if err != nil {
		writeKISError(c, err)
		return
	}
	c.JSON(http.StatusOK, positions)
}

func (s *Server) handleOverseasPosition(c *gin.Context) {
	env, ok := s.environment(c)
	if !ok {
		return
	}
	pos, err := s.cfg.Overseas.PositionBySymbol(c.Request.Context(), env, c.Param("symbol"))
	if err != nil {
		writeKISError(c, err)
		return
	}
	if pos == nil {
		writeError(c, http.StatusNotFound, "position not found")
		return
	}
	c.JSON(http.StatusOK, pos)
}

func (s *Server) handleOverseasMargin(c *gin.Context) {
	env, ok := s.environment(c)
	if !ok {
		return
	}
	margins, err := s.cfg.Overseas.ForeignMargin(c.Request.Context(), env)
	if err != nil {
		writeKISError(c, err)
		return
	}
	c.JSON(http.StatusOK, margins)
}

func (s *Server) handleOverseasSummary(c *gin.Context) {
	env, ok := s.environment(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	holdings, err := s.cfg.Overseas.Balance(ctx, env)
	if err != nil {
		writeKISError(c, err)
		return
	}
	margins, err := s.cfg.Overseas.ForeignMargin(ctx, env)
	if err != nil {
		writeKISError(c, err)
		return
	}

	totalEval, totalPL := decimal.Zero, decimal.Zero
	var profit, loss int
	for _, h := range holdings {
		totalEval = totalEval.Add(h.EvalAmount.Decimal)
		totalPL = totalPL.Add(h.ProfitLoss.Decimal)
		switch h.ProfitLoss.Decimal.Sign() {
		case 1:
			profit++
		case -1:
			loss++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"holdings":          holdings,
		"margins":           margins,
		"totalEvalAmount":   totalEval,
		"totalProfitLoss":   totalPL,
		"totalStocksCount":  len(holdings),
		"profitStocksCount": profit,
		"lossStocksCount":   loss,
	})
}

func (s *Server) handleOverseasUnfilled(c *gin.Context) {
	env, ok := s.environment(c)
	if !ok {
		return
	}
	ex, ok := s.exchangeParam(c, c.Query("exchange"))
	if !ok {
		return
	}
	orders, err := s.cfg.Overseas.UnfilledOrders(c.Request.Context(), env, ex)
	if err != nil {
		writeKISError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (s *Server) handleOverseasPurchasable(c *gin.Context) {
	env, ok := s.environment(c)
	if !ok {
		return
	}
	ex, ok := s.exchangeParam(c, c.Query("exchange"))
	if !ok {
		return
	}
	price, err := decimal.NewFromString(c.DefaultQuery("price", "0"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid price")
		return
	}
	amt, err := s.cfg.Overseas.PurchasableAmount(c.Request.Context(), env, ex, c.Query("symbol"), price)
	if err != nil {
		writeKISError(c, err)
		return
	}
	c.JSON(http.StatusOK, amt)
}

type overseasOrderBody struct {
	Exchange  string          `json:"exchange"`
	Symbol    string          `json:"symbol" binding:"required"`
	Side      string          `json:"side" binding:"required,oneof=BUY SELL buy sell"`
	Quantity  int64           `json:"quantity" binding:"required,min=1"`
	Price     decimal.Decimal `json:"price"`
	OrderType string          `json:"orderType"`
}

func (s *Server) handleOverseasOrder(c *gin.Context) {
	env, ok := s.environment(c)
	if !ok {
		return
	}
	var body overseasOrderBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	ex, ok := s.exchangeParam(c, body.Exchange)
	if !ok {
		return
	}
	req := overseas.OrderRequest{
		Exchange: ex,
		Symbol:   strings.ToUpper(strings.TrimSpace(body.Symbol)),
		Side:     overseas.Side(strings.ToUpper(body.Side)),
		Quantity: body.Quantity,
		Price:    body.Price,
		Kind:     overseas.ParseOrderKind(body.OrderType),
	}
	if req.Kind.MarketPriced() {
		req.Price = decimal.Zero
	}
	s.log.Infof("[%s] 海外手动下单 %s %s x%d @ %s (%s)", env, req.Side, req.Symbol, req.Quantity, req.Price, req.Kind)
	res, err := s.cfg.Overseas.PlaceOrder(c.Request.Context(), env, req)
	if err != nil {
		writeKISError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type overseasCancelBody struct {
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol" binding:"required"`
	OrderID  string `json:"orderId" binding:"required"`
	Quantity int64  `json:"quantity" binding:"min=0"`
}

func (s *Server) handleOverseasCancel(c *gin.Context) {
	env, ok := s.environment(c)
	if !ok {
		return
	}
	var body overseasCancelBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	ex, ok := s.exchangeParam(c, body.Exchange)
	if !ok {
		return
	}
	res, err := s.cfg.Overseas.CancelOrder(c.Request.Context(), env, ex, body.Symbol, body.OrderID, body.Quantity)
	if err != nil {
		writeKISError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
