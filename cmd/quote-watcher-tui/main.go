// quote-watcher-tui 订阅海外延迟成交（HDFSCNT0），在终端显示实时报价。
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/betbot/kisbot/internal/kis"
	"github.com/betbot/kisbot/internal/kis/credential"
	"github.com/betbot/kisbot/internal/kis/realtime"
	"github.com/betbot/kisbot/pkg/config"
)

type tickMsg time.Time

type errMsg struct{ err error }

type model struct {
	ctx     context.Context
	cancel  context.CancelFunc
	client  *realtime.Client
	quotes  *realtime.QuoteBook
	watches []watch
	now     time.Time
	err     error
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), subscribeCmd(m.ctx, m.client, m.watches))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.cancel()
			m.client.Close()
			m.quotes.Close()
			return m, tea.Quit
		case "r":
			m.err = nil
			return m, connectCmd(m.ctx, m.client)
		}
	case tickMsg:
		m.now = time.Time(msg)
		return m, tickCmd()
	case errMsg:
		m.err = msg.err
	}
	return m, nil
}

func (m model) View() string {
	view := renderBoard(m.watches, m.quotes.Snapshot(), m.client.State(), m.client.SubscriptionCount(), m.now)
	if m.err != nil {
		view += "\n" + downStyle.Render(fmt.Sprintf("错误: %v", m.err))
	}
	return view
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func connectCmd(ctx context.Context, c *realtime.Client) tea.Cmd {
	return func() tea.Msg {
		if err := c.Connect(ctx); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func subscribeCmd(ctx context.Context, c *realtime.Client, watches []watch) tea.Cmd {
	return func() tea.Msg {
		for _, w := range watches {
			key := realtime.OverseasKey(w.Exchange, w.Symbol)
			if key == "" {
				return errMsg{fmt.Errorf("不支持的交易所: %s", w.Exchange)}
			}
			if err := c.Subscribe(ctx, realtime.OverseasTrade, key); err != nil {
				return errMsg{err}
			}
		}
		return nil
	}
}

// redirectLogs logrus 写文件，避免干扰界面
func redirectLogs() {
	logDir := "logs"
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		logDir = os.TempDir()
	}
	file, err := os.OpenFile(filepath.Join(logDir, "quote-watcher-tui.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		return
	}
	logrus.SetOutput(file)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		DisableColors:   true,
	})
}

func main() {
	configPath := flag.String("config", "", "配置文件路径（支持 .yaml, .yml, .json）")
	envFile := flag.String("env-file", "", ".env 文件路径")
	envName := flag.String("env", "", "交易环境 demo/live，默认取配置")
	symbols := flag.String("symbols", "NAS:QQQ,NAS:QLD,NAS:JEPQ", "监控代码，格式 交易所:代码，逗号分隔")
	flag.Parse()

	redirectLogs()

	cfg, err := config.Load(*configPath, config.LoadOptions{EnvFile: *envFile})
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	env := cfg.Environment()
	if *envName != "" {
		if env, err = kis.ParseEnvironment(*envName); err != nil {
			log.Fatal(err)
		}
	}
	watches := parseWatches(*symbols)
	if len(watches) == 0 {
		log.Fatal("没有要监控的代码")
	}

	store := credential.NewStore(cfg.Profiles())
	rc := realtime.DefaultConfig(cfg.Profiles().For(env).WebSocketURL)
	rc.MaxReconnectAttempts = cfg.Realtime.MaxReconnectAttempts
	rc.ReconnectDelay = time.Duration(cfg.Realtime.ReconnectDelaySecs) * time.Second
	client, err := realtime.NewClient(rc, func(ctx context.Context) (string, error) {
		c, err := store.StreamKey(ctx, env)
		if err != nil {
			return "", err
		}
		return c.Value, nil
	})
	if err != nil {
		log.Fatal(err)
	}
	quotes := realtime.NewQuoteBook(time.Duration(cfg.Realtime.QuoteTTLSeconds) * time.Second)
	client.OnTick(quotes.HandleTick)

	ctx, cancel := context.WithCancel(context.Background())
	m := model{ctx: ctx, cancel: cancel, client: client, quotes: quotes, watches: watches, now: time.Now()}

	if len(os.Getenv("DEBUG")) > 0 {
		f, err := tea.LogToFile("debug.log", "debug")
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
	}

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("运行程序失败: %v", err)
	}
}
