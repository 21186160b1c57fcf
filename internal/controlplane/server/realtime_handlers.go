package server

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/betbot/kisbot/internal/kis/overseas"
	"github.com/betbot/kisbot/internal/kis/realtime"
)

type subscriptionBody struct {
	Channel string `json:"channel" binding:"required"`
	Key     string `json:"key"`
	// 海外代码可给 exchange+symbol，由服务端拼 key
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`
}

func (b subscriptionBody) key() (string, error) {
	if k := strings.TrimSpace(b.Key); k != "" {
		return k, nil
	}
	ex, err := parseExchange(b.Exchange, overseas.NASDAQ)
	if err != nil {
		return "", err
	}
	key := realtime.OverseasKey(ex.Code(), b.Symbol)
	if key == "" || strings.TrimSpace(b.Symbol) == "" {
		return "", errors.Errorf("no realtime key for %s %s", ex, b.Symbol)
	}
	return key, nil
}

func (s *Server) handleSubscriptions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":         s.cfg.Feed.State().String(),
		"subscriptions": s.cfg.Feed.Subscriptions(),
	})
}

func (s *Server) bindSubscription(c *gin.Context) (string, string, bool) {
	var body subscriptionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return "", "", false
	}
	key, err := body.key()
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return "", "", false
	}
	return body.Channel, key, true
}

func (s *Server) handleSubscribe(c *gin.Context) {
	channel, key, ok := s.bindSubscription(c)
	if !ok {
		return
	}
	if err := s.cfg.Feed.Subscribe(c.Request.Context(), channel, key); err != nil {
		writeError(c, http.StatusBadGateway, err.Error())
		return
	}
	c.JSON(http.StatusOK, realtime.Subscription{Channel: channel, Key: key})
}

func (s *Server) handleUnsubscribe(c *gin.Context) {
	channel, key, ok := s.bindSubscription(c)
	if !ok {
		return
	}
	if err := s.cfg.Feed.Unsubscribe(c.Request.Context(), channel, key); err != nil {
		writeError(c, http.StatusBadGateway, err.Error())
		return
	}
	c.JSON(http.StatusOK, realtime.Subscription{Channel: channel, Key: key})
}

func (s *Server) handleQuotes(c *gin.Context) {
	if s.cfg.Quotes == nil {
		c.JSON(http.StatusOK, []realtime.OverseasQuote{})
		return
	}
	snap := s.cfg.Quotes.Snapshot()
	out := make([]realtime.OverseasQuote, 0, len(snap))
	for _, q := range snap {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	c.JSON(http.StatusOK, out)
}
