package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/kisbot/internal/kis"
)

const sampleYAML = `
kis:
  environment: live
  live:
    app_key: file-key
    account_number: "12345678"
scheduler:
  enabled: true
  default_exchange_rate: "1400"
  stocks:
    - exchange: NASDAQ
      symbol: QQQ
      budget_krw: "700000"
    - exchange: NYSE
      symbol: SPY
      quantity: 2
      order_type: MARKET_ON_CLOSE
      discount_rate: "0"
      market_fallback: false
slack:
  enabled: true
  webhook_url: https://hooks.slack.com/services/T/B/X
realtime:
  subscriptions:
    - channel: HDFSCNT0
      key: DNASQQQ
`

type mapSecrets map[string]string

func (m mapSecrets) GetString(key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

// clearEnv 屏蔽宿主机上可能存在的覆盖变量
func clearEnv(t *testing.T) {
	for _, k := range []string{
		"KIS_ENVIRONMENT", "KIS_APP_KEY", "KIS_APP_SECRET", "KIS_ACCOUNT_NUMBER",
		"KIS_DEMO_APP_KEY", "SLACK_WEBHOOK_URL", "SCHEDULER_ENABLED", "LOG_LEVEL", "SERVER_ADDR",
		"METRICS_ADDR", "METRICS_ENABLED", "SLACK_ENABLED", "REALTIME_ENABLED",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, kis.Demo, cfg.Environment())
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "1450", cfg.Scheduler.DefaultExchangeRate.String())
	assert.Equal(t, DefaultDemoBaseURL, cfg.Profiles().For(kis.Demo).BaseURL)
	assert.Equal(t, DefaultLiveWSURL, cfg.Profiles().For(kis.Live).WebSocketURL)
}

func TestLoadYAMLAppliesPerStockDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeFile(t, "config.yaml", sampleYAML), LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, kis.Live, cfg.Environment())
	assert.Equal(t, "file-key", cfg.Profiles().Live.AppKey)
	assert.Equal(t, "01", cfg.Profiles().Live.AccountProductCode)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "1400", cfg.Scheduler.DefaultExchangeRate.String())

	require.Len(t, cfg.Scheduler.Stocks, 2)
	qqq := cfg.Scheduler.Stocks[0]
	assert.True(t, qqq.BudgetBased())
	assert.Equal(t, "LIMIT", qqq.OrderType)
	assert.Equal(t, "0.03", qqq.DiscountRate.String())
	assert.True(t, qqq.Enabled)
	assert.True(t, qqq.MarketFallback)

	spy := cfg.Scheduler.Stocks[1]
	assert.False(t, spy.BudgetBased())
	assert.Equal(t, int64(2), spy.Quantity)
	assert.Equal(t, "MARKET_ON_CLOSE", spy.OrderType)
	assert.True(t, spy.DiscountRate.IsZero())
	assert.False(t, spy.MarketFallback)

	// 未出现的段保持默认
	assert.Equal(t, "0 30 23 ? * MON#1", cfg.Scheduler.MonthlyCron)
	assert.Equal(t, "QLD", cfg.Scheduler.Rebalance.SourceSymbol)
	assert.Equal(t, []RealtimeSubscription{{Channel: "HDFSCNT0", Key: "DNASQQQ"}}, cfg.Realtime.Subscriptions)
}

func TestLoadJSON(t *testing.T) {
	clearEnv(t)
	body := `{"scheduler":{"monthly_stocks":[{"exchange":"NAS","symbol":"JEPQ","quantity":1}]}}`
	cfg, err := Load(writeFile(t, "config.json", body), LoadOptions{})
	require.NoError(t, err)
	require.Len(t, cfg.Scheduler.MonthlyStocks, 1)
	assert.Equal(t, "0.03", cfg.Scheduler.MonthlyStocks[0].DiscountRate.String())
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeFile(t, "config.toml", "a = 1"), LoadOptions{})
	assert.Error(t, err)
}

func TestOverridesPrecedence(t *testing.T) {
	clearEnv(t)
	t.Setenv("KIS_APP_KEY", "env-key")
	t.Setenv("SCHEDULER_ENABLED", "false")
	t.Setenv("KIS_ENVIRONMENT", "paper")

	secrets := mapSecrets{
		"env/KIS_APP_KEY":       "secret-key",
		"env/KIS_APP_SECRET":    "secret-secret",
		"env/KIS_DEMO_APP_KEY":  "demo-key",
		"env/SLACK_WEBHOOK_URL": "https://hooks.slack.com/services/from-secret",
	}
	cfg, err := Load(writeFile(t, "config.yaml", sampleYAML), LoadOptions{Secrets: secrets})
	require.NoError(t, err)

	// 环境变量 > 密钥存储 > 配置文件
	assert.Equal(t, "env-key", cfg.KIS.Live.AppKey)
	assert.Equal(t, "secret-secret", cfg.KIS.Live.AppSecret)
	assert.Equal(t, "demo-key", cfg.KIS.Demo.AppKey)
	assert.Equal(t, "https://hooks.slack.com/services/from-secret", cfg.Slack.WebhookURL)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, kis.Demo, cfg.Environment())
	assert.Equal(t, "demo", cfg.KIS.Environment)
}

func TestBadBoolOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("SCHEDULER_ENABLED", "sometimes")
	_, err := Load("", LoadOptions{})
	assert.Error(t, err)
}

func TestEnvFile(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("KIS_ACCOUNT_NUMBER")
	p := writeFile(t, ".env", "KIS_ACCOUNT_NUMBER=99990000\n")
	cfg, err := Load("", LoadOptions{EnvFile: p})
	t.Cleanup(func() { os.Unsetenv("KIS_ACCOUNT_NUMBER") })
	require.NoError(t, err)
	assert.Equal(t, "99990000", cfg.KIS.Live.AccountNumber)

	_, err = Load("", LoadOptions{EnvFile: filepath.Join(t.TempDir(), "missing.env")})
	assert.Error(t, err)
}

func TestValidateFailures(t *testing.T) {
	cases := map[string]func(c *Config){
		"bad environment": func(c *Config) { c.KIS.Environment = "prod" },
		"bad cron":        func(c *Config) { c.Scheduler.WeeklyCron = "every monday" },
		"bad exchange": func(c *Config) {
			s := DefaultStockPurchase()
			s.Exchange, s.Symbol = "MOON", "X"
			c.Scheduler.Stocks = []StockPurchaseConfig{s}
		},
		"missing symbol": func(c *Config) {
			s := DefaultStockPurchase()
			s.Exchange = "NASDAQ"
			c.Scheduler.Stocks = []StockPurchaseConfig{s}
		},
		"discount out of range": func(c *Config) {
			s := DefaultStockPurchase()
			s.Exchange, s.Symbol = "NASDAQ", "QQQ"
			s.DiscountRate = decimal.NewFromInt(1)
			c.Scheduler.MonthlyStocks = []StockPurchaseConfig{s}
		},
		"zero exchange rate": func(c *Config) { c.Scheduler.DefaultExchangeRate = decimal.Zero },
		"bad webhook":        func(c *Config) { c.Slack.WebhookURL = "not a url" },
		"zero rate limit":    func(c *Config) { c.KIS.RateLimit.Demo = 0 },
		"empty subscription": func(c *Config) { c.Realtime.Subscriptions = []RealtimeSubscription{{Channel: "HDFSCNT0"}} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestStripNthWeekday(t *testing.T) {
	assert.Equal(t, "0 30 23 ? * MON", StripNthWeekday("0 30 23 ? * MON#1"))
	assert.Equal(t, "0 0 5 * * MON-FRI", StripNthWeekday("0 0 5 * * MON-FRI"))
	assert.Equal(t, "@daily", StripNthWeekday("@daily"))
}

func TestExampleConfigLoads(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join("..", "..", "yml", "config.example.yaml"), LoadOptions{})
	require.NoError(t, err)
	assert.Len(t, cfg.Scheduler.Stocks, 2)
	assert.True(t, cfg.Scheduler.Rebalance.Enabled)
	assert.Empty(t, cfg.Metrics.Addr)
}
