// Package notify Slack webhook 通知。
package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/kisbot/internal/orchestrator"
	"github.com/betbot/kisbot/pkg/config"
	sdkhttp "github.com/betbot/kisbot/pkg/sdk/http"
)

const timeLayout = "2006-01-02 15:04:05"

type payload struct {
	Text      string `json:"text"`
	Username  string `json:"username,omitempty"`
	IconEmoji string `json:"icon_emoji,omitempty"`
	Channel   string `json:"channel,omitempty"`
}

// Slack 通知器；未启用时所有方法都是空操作
type Slack struct {
	cfg  config.SlackConfig
	http *sdkhttp.Client
	now  func() time.Time
	log  *logrus.Entry
}

// NewSlack 创建通知器
func NewSlack(cfg config.SlackConfig, opts sdkhttp.Options) *Slack {
	return &Slack{
		cfg:  cfg,
		http: sdkhttp.NewClientWithOptions("", opts),
		now:  time.Now,
		log:  logrus.WithField("component", "slack"),
	}
}

// Enabled 是否启用
func (s *Slack) Enabled() bool { return s != nil && s.cfg.Enabled }

// Send 发送原始文本。未启用返回 nil；未配置 webhook 只记录警告。
func (s *Slack) Send(ctx context.Context, text string) error {
	if !s.Enabled() {
		return nil
	}
	if strings.TrimSpace(s.cfg.WebhookURL) == "" {
		s.log.Warn("未配置 Slack webhook URL")
		return nil
	}

	body := payload{
		Text:      text,
		Username:  s.cfg.Username,
		IconEmoji: s.cfg.IconEmoji,
		Channel:   strings.TrimSpace(s.cfg.Channel),
	}
	resp, err := s.http.DoRequest(ctx, http.MethodPost, s.cfg.WebhookURL, &sdkhttp.RequestOptions{Data: body}, nil)
	if err := sdkhttp.ParseHTTPError(resp, err); err != nil {
		s.log.WithError(err).Error("Slack 通知发送失败")
		return err
	}
	s.log.Debugf("Slack 通知已发送: %s", resp.String())
	return nil
}

func (s *Slack) header(emoji, title string) *strings.Builder {
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*\n시각: %s\n\n", emoji, title, s.now().Format(timeLayout))
	return &b
}

func (s *Slack) deliver(ctx context.Context, text string) {
	// 通知失败不影响业务流程
	_ = s.Send(ctx, text)
}

func allOK(n int, ok func(i int) bool) bool {
	for i := 0; i < n; i++ {
		if !ok(i) {
			return false
		}
	}
	return true
}

func price(p *decimal.Decimal) string {
	if p == nil {
		return "-"
	}
	return p.StringFixed(2)
}

// WeeklyPurchase 每周定投结果，空列表不发送
func (s *Slack) WeeklyPurchase(ctx context.Context, results []orchestrator.PurchaseResult) {
	if !s.Enabled() || len(results) == 0 {
		return
	}
	emoji := ":warning:"
	if allOK(len(results), func(i int) bool { return results[i].Success }) {
		emoji = ":white_check_mark:"
	}
	b := s.header(emoji, "주간 정기 매수 완료")
	for _, r := range results {
		if r.Success {
			fmt.Fprintf(b, ":moneybag: *%s* - 성공\n   주문번호: `%s`\n   가격: $%s x %d주\n", r.Symbol, r.OrderNumber, price(r.Price), r.Quantity)
		} else {
			fmt.Fprintf(b, ":x: *%s* - 실패\n   사유: %s\n", r.Symbol, r.ErrorMessage)
		}
	}
	s.deliver(ctx, b.String())
}

// MonthlyRebalance 月度再平衡结果；动作由 _SELL/_BUY 后缀判断
func (s *Slack) MonthlyRebalance(ctx context.Context, results []orchestrator.PurchaseResult) {
	if !s.Enabled() || len(results) == 0 {
		return
	}
	emoji := ":warning:"
	if allOK(len(results), func(i int) bool { return results[i].Success }) {
		emoji = ":scales:"
	}
	b := s.header(emoji, "월간 리밸런싱 완료")
	for _, r := range results {
		action := "매수"
		if strings.HasSuffix(r.Symbol, "_SELL") {
			action = "매도"
		}
		symbol := strings.TrimSuffix(strings.TrimSuffix(r.Symbol, "_SELL"), "_BUY")
		if r.Success {
			fmt.Fprintf(b, ":white_check_mark: *%s* %s 성공\n   주문번호: `%s`\n   가격: $%s x %d주\n", symbol, action, r.OrderNumber, price(r.Price), r.Quantity)
		} else {
			fmt.Fprintf(b, ":x: *%s* %s 실패\n   사유: %s\n", symbol, action, r.ErrorMessage)
		}
	}
	s.deliver(ctx, b.String())
}

// MarketFallback 转市价结果
func (s *Slack) MarketFallback(ctx context.Context, results []orchestrator.FallbackResult) {
	if !s.Enabled() || len(results) == 0 {
		return
	}
	emoji := ":warning:"
	if allOK(len(results), func(i int) bool { return results[i].Success }) {
		emoji = ":arrows_counterclockwise:"
	}
	b := s.header(emoji, "미체결 주문 시장가 전환")
	for _, r := range results {
		if r.Success {
			fmt.Fprintf(b, ":white_check_mark: *%s* 전환 성공\n   취소: `%s`\n   신규: `%s` (%d주)\n", r.Symbol, r.CancelledOrderNumber, r.NewOrderNumber, r.Quantity)
		} else {
			fmt.Fprintf(b, ":x: *%s* 전환 실패\n   사유: %s\n", r.Symbol, r.ErrorMessage)
		}
	}
	s.deliver(ctx, b.String())
}

// Balance 余额通知
func (s *Slack) Balance(ctx context.Context, bal orchestrator.BalanceSummary) {
	if !s.Enabled() {
		return
	}
	b := s.header(":bank:", "주간 잔액 알림")
	fmt.Fprintf(b, ":kr: *원화 잔액*: %s원\n", won(bal.KRW))
	fmt.Fprintf(b, ":us: *달러 잔액*: $%s\n", humanize.FormatFloat("#,###.##", bal.USD.InexactFloat64()))
	fmt.Fprintf(b, ":currency_exchange: *현재 환율*: %s원/$\n\n", humanize.FormatFloat("#,###.##", bal.ExchangeRate.InexactFloat64()))
	fmt.Fprintf(b, ":moneybag: *원화 환산 총액*: %s원\n", won(bal.TotalKRW))
	fmt.Fprintf(b, "   (달러 환산: %s원)", won(bal.USDInKRW))
	s.deliver(ctx, b.String())
}

// BalanceFailure 余额查询失败
func (s *Slack) BalanceFailure(ctx context.Context, err error) {
	s.Custom(ctx, ":warning: *잔액 조회 실패*\n"+err.Error())
}

// Error 错误告警
func (s *Slack) Error(ctx context.Context, title, message string) {
	if !s.Enabled() {
		return
	}
	b := s.header(":rotating_light:", title)
	fmt.Fprintf(b, "```%s```", message)
	s.deliver(ctx, b.String())
}

// Custom 自定义消息
func (s *Slack) Custom(ctx context.Context, text string) {
	s.deliver(ctx, text)
}

func won(d decimal.Decimal) string {
	return humanize.Comma(d.Floor().IntPart())
}
