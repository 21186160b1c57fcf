package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/betbot/kisbot/internal/kis/domestic"
)

func (s *Server) handleDomesticPrice(c *gin.Context) {
	env, ok := s.environment(c)
	if !ok {
		return
	}
	p, err := s.cfg.Domestic.CurrentPrice(c.Request.Context(), env, c.Param("code"))
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

func (s *Server) handleDomesticBalance(c *gin.Context) {
	env, ok := s.environment(c)
	if !ok {
		return
	}
	positions, err := s.cfg.Domestic.Balance(c.Request.Context(), env)
	if err != nil {
		writeKISError(c, err)
		return
	}
	c.JSON(http.StatusOK, positions)
}

func (s *Server) handleDomesticPosition(c *gin.Context) {
	env, ok := s.environment(c)
	if !ok {
		return
	}
	pos, err := s.cfg.Domestic.PositionByCode(c.Request.Context(), env, c.Param("code"))
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

func (s *Server) handleDomesticPurchasable(c *gin.Context) {
	env, ok := s.environment(c)
	if !ok {
		return
	}
	code := strings.TrimSpace(c.Query("stockCode"))
	if code == "" {
		writeError(c, http.StatusBadRequest, "stockCode is required")
		return
	}
	price, err := decimal.NewFromString(c.DefaultQuery("price", "0"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid price")
		return
	}
	amt, err := s.cfg.Domestic.PurchasableAmount(c.Request.Context(), env, code, price)
	if err != nil {
		writeKISError(c, err)
		return
	}
	c.JSON(http.StatusOK, amt)
}

func (s *Server) handleDomesticUnfilled(c *gin.Context) {
	env, ok := s.environment(c)
	if !ok {
		return
	}
	orders, err := s.cfg.Domestic.UnfilledOrders(c.Request.Context(), env)
	if err != nil {
		writeKISError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

type domesticOrderBody struct {
	StockCode string          `json:"stockCode" binding:"required"`
	Side      string          `json:"side" binding:"required,oneof=BUY SELL buy sell"`
	Quantity  int64           `json:"quantity" binding:"required,min=1"`
	Price     decimal.Decimal `json:"price"`
	OrderType string          `json:"orderType"`
}

func (s *Server) handleDomesticOrder(c *gin.Context) {
	env, ok := s.environment(c)
	if !ok {
		return
	}
	var body domesticOrderBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	req := domestic.OrderRequest{
		StockCode: strings.TrimSpace(body.StockCode),
		Buy:       strings.EqualFold(body.Side, "BUY"),
		Quantity:  body.Quantity,
		Price:     body.Price,
		Kind:      domestic.ParseOrderKind(body.OrderType),
	}
	s.log.Infof("[%s] 国内手动下单 %s %s x%d @ %s (%s)", env, body.Side, req.StockCode, req.Quantity, req.Price, req.Kind)
	res, err := s.cfg.Domestic.PlaceOrder(c.Request.Context(), env, req)
	if err != nil {
		writeKISError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type domesticCancelBody struct {
	OrderID  string `json:"orderId" binding:"required"`
	Quantity int64  `json:"quantity" binding:"min=0"`
}

func (s *Server) handleDomesticCancel(c *gin.Context) {
	env, ok := s.environment(c)
	if !ok {
		return
	}
	var body domesticCancelBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.cfg.Domestic.CancelOrder(c.Request.Context(), env, body.OrderID, body.Quantity)
	if err != nil {
		writeKISError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
