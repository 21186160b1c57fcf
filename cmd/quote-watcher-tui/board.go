package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/betbot/kisbot/internal/kis/realtime"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	upStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("2")) // 绿色

	downStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")) // 红色

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238"))
)

// watch 一个监控的代码
type watch struct {
	Exchange string // 行情代码 NAS/NYS/...
	Symbol   string
}

// parseWatches 解析 "NAS:QQQ,NYS:SPY"，缺省交易所为 NAS
func parseWatches(s string) []watch {
	var out []watch
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		ex, sym := "NAS", part
		if i := strings.Index(part, ":"); i >= 0 {
			ex, sym = strings.ToUpper(strings.TrimSpace(part[:i])), strings.TrimSpace(part[i+1:])
		}
		if sym == "" {
			continue
		}
		out = append(out, watch{Exchange: ex, Symbol: strings.ToUpper(sym)})
	}
	return out
}

func colorize(q realtime.OverseasQuote, s string) string {
	switch {
	case q.Up():
		return upStyle.Render(s)
	case q.Down():
		return downStyle.Render(s)
	}
	return s
}

// renderBoard 渲染报价表；没有数据的代码显示占位
func renderBoard(watches []watch, quotes map[string]realtime.OverseasQuote, state realtime.State, subs int, now time.Time) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("KIS 海外实时行情"))
	b.WriteString("  ")
	b.WriteString(dimStyle.Render(fmt.Sprintf("%s | 连接: %s | 订阅: %d", now.Format("15:04:05"), state, subs)))
	b.WriteString("\n\n")

	var rows strings.Builder
	rows.WriteString(titleStyle.Render(fmt.Sprintf("%-8s %-5s %12s %10s %8s %12s %12s %12s %8s", "代码", "市场", "现价", "涨跌", "幅度%", "买价", "卖价", "成交量", "时间")))
	rows.WriteString("\n")
	for _, w := range watches {
		q, ok := quotes[w.Symbol]
		if !ok {
			rows.WriteString(dimStyle.Render(fmt.Sprintf("%-8s %-5s %12s", w.Symbol, w.Exchange, "等待数据...")))
			rows.WriteString("\n")
			continue
		}
		line := fmt.Sprintf("%-8s %-5s %12s %10s %8s %12s %12s %12d %8s",
			q.Symbol, w.Exchange,
			q.Last.StringFixed(int32(max(q.Decimals, 2))),
			q.Diff.StringFixed(2),
			q.Rate.StringFixed(2),
			q.Bid.StringFixed(2),
			q.Ask.StringFixed(2),
			q.TotalVolume,
			q.KoreaTime,
		)
		rows.WriteString(colorize(q, line))
		rows.WriteString("\n")
	}
	b.WriteString(borderStyle.Render(strings.TrimRight(rows.String(), "\n")))
	b.WriteString("\n\n")
	b.WriteString(dimStyle.Render("按 q 退出，r 重新连接"))
	return b.String()
}
