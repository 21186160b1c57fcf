package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/betbot/kisbot/internal/kis"
	"github.com/betbot/kisbot/internal/kis/overseas"
)

// 默认端点
const (
	DefaultLiveBaseURL = "https://openapi.koreainvestment.com:9443"
	DefaultDemoBaseURL = "https://openapivts.koreainvestment.com:29443"
	DefaultLiveWSURL   = "ws://ops.koreainvestment.com:21000"
	DefaultDemoWSURL   = "ws://ops.koreainvestment.com:31000"
)

// CredentialsConfig 单个环境的接入信息
type CredentialsConfig struct {
	BaseURL            string `yaml:"base_url" json:"base_url" validate:"required,url"`
	WebSocketURL       string `yaml:"websocket_url" json:"websocket_url" validate:"required"`
	AppKey             string `yaml:"app_key" json:"app_key"`
	AppSecret          string `yaml:"app_secret" json:"app_secret"`
	AccountNumber      string `yaml:"account_number" json:"account_number"`
	AccountProductCode string `yaml:"account_product_code" json:"account_product_code"`
}

// RateLimitConfig 每个环境的 REST 请求速率（次/秒）
type RateLimitConfig struct {
	Live  float64 `yaml:"live" json:"live" validate:"gt=0"`
	Demo  float64 `yaml:"demo" json:"demo" validate:"gt=0"`
	Burst int     `yaml:"burst" json:"burst" validate:"gte=1"`
}

// KISConfig 券商接入配置
type KISConfig struct {
	Environment    string            `yaml:"environment" json:"environment" validate:"oneof=demo live"`
	Live           CredentialsConfig `yaml:"live" json:"live"`
	Demo           CredentialsConfig `yaml:"demo" json:"demo"`
	RateLimit      RateLimitConfig   `yaml:"rate_limit" json:"rate_limit"`
	TimeoutSeconds int               `yaml:"timeout_seconds" json:"timeout_seconds" validate:"gte=1"`
	// RetryCount 仅用于令牌签发，交易请求从不重试
	RetryCount     int               `yaml:"retry_count" json:"retry_count" validate:"gte=0"`
}

// StockPurchaseConfig 单个定投标的
type StockPurchaseConfig struct {
	Exchange string `yaml:"exchange" json:"exchange" validate:"required"`
	Symbol   string `yaml:"symbol" json:"symbol" validate:"required"`
	// 未设置 BudgetKRW 时使用固定数量
	Quantity int64 `yaml:"quantity" json:"quantity" validate:"gte=0"`
	// 韩元预算，大于 0 时按预算计算数量
	BudgetKRW      decimal.Decimal `yaml:"budget_krw" json:"budget_krw"`
	OrderType      string          `yaml:"order_type" json:"order_type"`
	DiscountRate   decimal.Decimal `yaml:"discount_rate" json:"discount_rate"`
	Enabled        bool            `yaml:"enabled" json:"enabled"`
	MarketFallback bool            `yaml:"market_fallback" json:"market_fallback"`
}

// DefaultStockPurchase 单个标的的默认值
func DefaultStockPurchase() StockPurchaseConfig {
	return StockPurchaseConfig{
		OrderType:      string(overseas.Limit),
		DiscountRate:   decimal.RequireFromString("0.03"),
		Enabled:        true,
		MarketFallback: true,
	}
}

// BudgetBased 是否按预算下单
func (s StockPurchaseConfig) BudgetBased() bool {
	return s.BudgetKRW.IsPositive()
}

// UnmarshalYAML 先填默认值再解码，未出现的字段保持默认
func (s *StockPurchaseConfig) UnmarshalYAML(n *yaml.Node) error {
	type plain StockPurchaseConfig
	p := plain(DefaultStockPurchase())
	if err := n.Decode(&p); err != nil {
		return err
	}
	*s = StockPurchaseConfig(p)
	return nil
}

// UnmarshalJSON 同 UnmarshalYAML
func (s *StockPurchaseConfig) UnmarshalJSON(b []byte) error {
	type plain StockPurchaseConfig
	p := plain(DefaultStockPurchase())
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*s = StockPurchaseConfig(p)
	return nil
}

// RebalanceConfig 月度再平衡
type RebalanceConfig struct {
	Enabled        bool   `yaml:"enabled" json:"enabled"`
	SourceSymbol   string `yaml:"source_symbol" json:"source_symbol" validate:"required"`
	SourceExchange string `yaml:"source_exchange" json:"source_exchange" validate:"required"`
	TargetSymbol   string `yaml:"target_symbol" json:"target_symbol" validate:"required"`
	TargetExchange string `yaml:"target_exchange" json:"target_exchange" validate:"required"`
	// 小数，0.25 即 25%
	TriggerProfitRate decimal.Decimal `yaml:"trigger_profit_rate" json:"trigger_profit_rate"`
	SellRate          decimal.Decimal `yaml:"sell_rate" json:"sell_rate"`
	DiscountRate      decimal.Decimal `yaml:"discount_rate" json:"discount_rate"`
}

// SchedulerConfig 定时任务与策略参数
type SchedulerConfig struct {
	Enabled             bool                  `yaml:"enabled" json:"enabled"`
	Timezone            string                `yaml:"timezone" json:"timezone" validate:"required"`
	WeeklyCron          string                `yaml:"weekly_cron" json:"weekly_cron" validate:"required"`
	MonthlyCron         string                `yaml:"monthly_cron" json:"monthly_cron" validate:"required"`
	FallbackCron        string                `yaml:"fallback_cron" json:"fallback_cron" validate:"required"`
	BalanceCron         string                `yaml:"balance_cron" json:"balance_cron" validate:"required"`
	DefaultExchangeRate decimal.Decimal       `yaml:"default_exchange_rate" json:"default_exchange_rate"`
	Stocks              []StockPurchaseConfig `yaml:"stocks" json:"stocks" validate:"dive"`
	MonthlyStocks       []StockPurchaseConfig `yaml:"monthly_stocks" json:"monthly_stocks" validate:"dive"`
	Rebalance           RebalanceConfig       `yaml:"rebalance" json:"rebalance"`
}

// SlackConfig 通知
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	WebhookURL string `yaml:"webhook_url" json:"webhook_url" validate:"omitempty,url"`
	Channel    string `yaml:"channel" json:"channel"`
	Username   string `yaml:"username" json:"username"`
	IconEmoji  string `yaml:"icon_emoji" json:"icon_emoji"`
}

// ServerConfig 控制面 HTTP
type ServerConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr" validate:"required_if=Enabled true"`
	Mode    string `yaml:"mode" json:"mode" validate:"omitempty,oneof=debug release test"`
}

// MetricsConfig Prometheus
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	// 非空时在独立端口上提供 metrics 和 pprof，否则挂到控制面
	Addr string `yaml:"addr" json:"addr"`
}

// LogConfig 日志
type LogConfig struct {
	Level      string `yaml:"level" json:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
	File       string `yaml:"file" json:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
	Compress   bool   `yaml:"compress" json:"compress"`
	ByDay      bool   `yaml:"by_day" json:"by_day"`
}

// SecretsConfig badger 加密存储
type SecretsConfig struct {
	// 为空表示不使用
	Path string `yaml:"path" json:"path"`
	// 存放加密 key 的环境变量名
	KeyEnv string `yaml:"key_env" json:"key_env"`
	Prefix string `yaml:"prefix" json:"prefix"`
}

// RealtimeSubscription 启动时的默认订阅
type RealtimeSubscription struct {
	Channel string `yaml:"channel" json:"channel" validate:"required"`
	Key     string `yaml:"key" json:"key" validate:"required"`
}

// RealtimeConfig 实时行情
type RealtimeConfig struct {
	Enabled              bool                   `yaml:"enabled" json:"enabled"`
	MaxReconnectAttempts int                    `yaml:"max_reconnect_attempts" json:"max_reconnect_attempts" validate:"gte=1"`
	ReconnectDelaySecs   int                    `yaml:"reconnect_delay_seconds" json:"reconnect_delay_seconds" validate:"gte=1"`
	QuoteTTLSeconds      int                    `yaml:"quote_ttl_seconds" json:"quote_ttl_seconds" validate:"gte=1"`
	Subscriptions        []RealtimeSubscription `yaml:"subscriptions" json:"subscriptions" validate:"dive"`
}

// Config 应用配置
type Config struct {
	KIS       KISConfig       `yaml:"kis" json:"kis"`
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`
	Slack     SlackConfig     `yaml:"slack" json:"slack"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
	Log       LogConfig       `yaml:"log" json:"log"`
	Secrets   SecretsConfig   `yaml:"secrets" json:"secrets"`
	Realtime  RealtimeConfig  `yaml:"realtime" json:"realtime"`
}

// Default 全部默认值
func Default() *Config {
	return &Config{
		KIS: KISConfig{
			Environment: string(kis.Demo),
			Live: CredentialsConfig{
				BaseURL:            DefaultLiveBaseURL,
				WebSocketURL:       DefaultLiveWSURL,
				AccountProductCode: "01",
			},
			Demo: CredentialsConfig{
				BaseURL:            DefaultDemoBaseURL,
				WebSocketURL:       DefaultDemoWSURL,
				AccountProductCode: "01",
			},
			RateLimit:      RateLimitConfig{Live: 18, Demo: 2, Burst: 1},
			TimeoutSeconds: 10,
		},
		Scheduler: SchedulerConfig{
			Timezone:            "Asia/Seoul",
			WeeklyCron:          "0 30 23 * * MON",
			MonthlyCron:         "0 30 23 ? * MON#1",
			FallbackCron:        "0 0 5 * * MON-FRI",
			BalanceCron:         "0 0 10 * * MON",
			DefaultExchangeRate: decimal.NewFromInt(1450),
			Rebalance: RebalanceConfig{
				SourceSymbol:      "QLD",
				SourceExchange:    string(overseas.NASDAQ),
				TargetSymbol:      "JEPQ",
				TargetExchange:    string(overseas.NASDAQ),
				TriggerProfitRate: decimal.RequireFromString("0.25"),
				SellRate:          decimal.RequireFromString("0.10"),
				DiscountRate:      decimal.RequireFromString("0.02"),
			},
		},
		Slack: SlackConfig{
			Username:  "Stock Trade Bot",
			IconEmoji: ":chart_with_upwards_trend:",
		},
		Server:  ServerConfig{Enabled: true, Addr: ":8080", Mode: "release"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
		Log: LogConfig{
			Level:      "info",
			File:       "logs/kisbot.log",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
		},
		Secrets: SecretsConfig{KeyEnv: "KISBOT_SECRET_KEY", Prefix: "env/"},
		Realtime: RealtimeConfig{
			MaxReconnectAttempts: 10,
			ReconnectDelaySecs:   5,
			QuoteTTLSeconds:      600,
		},
	}
}

// Environment 默认交易环境
func (c *Config) Environment() kis.Environment {
	env, err := kis.ParseEnvironment(c.KIS.Environment)
	if err != nil {
		return kis.Demo
	}
	return env
}

// Profiles 转换为 kis.Profiles
func (c *Config) Profiles() kis.Profiles {
	conv := func(cc CredentialsConfig) kis.Profile {
		return kis.Profile{
			BaseURL:            cc.BaseURL,
			WebSocketURL:       cc.WebSocketURL,
			AppKey:             cc.AppKey,
			AppSecret:          cc.AppSecret,
			AccountNumber:      cc.AccountNumber,
			AccountProductCode: cc.AccountProductCode,
		}
	}
	return kis.Profiles{Live: conv(c.KIS.Live), Demo: conv(c.KIS.Demo)}
}

// SecretSource 按名字查询密钥，找不到返回 false
type SecretSource interface {
	GetString(key string) (string, bool, error)
}

// LoadOptions 加载选项
type LoadOptions struct {
	// .env 文件路径，为空时尝试当前目录的 .env
	EnvFile string
	// 非空时从中读取 env/<NAME> 形式的密钥，优先级低于环境变量
	Secrets SecretSource
}

// Load 读取配置文件（可为空）、.env、密钥存储和环境变量，并做校验
func Load(path string, opts LoadOptions) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil {
			return nil, errors.Wrapf(err, "加载 env 文件失败 %s", opts.EnvFile)
		}
	} else {
		// 当前目录没有 .env 时忽略
		_ = godotenv.Load()
	}

	cfg := Default()
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, errors.Wrapf(err, "加载配置文件失败 %s", path)
		}
	}

	prefix := cfg.Secrets.Prefix
	if err := applyOverrides(cfg, lookup(opts.Secrets, prefix)); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "配置验证失败")
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "读取配置文件失败")
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return errors.Wrap(err, "解析 YAML 配置文件失败")
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return errors.Wrap(err, "解析 JSON 配置文件失败")
		}
	default:
		return errors.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}
	return nil
}

// lookup 环境变量优先，其次密钥存储
func lookup(secrets SecretSource, prefix string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v, true
		}
		if secrets == nil {
			return "", false
		}
		v, ok, err := secrets.GetString(prefix + name)
		if err != nil || !ok || strings.TrimSpace(v) == "" {
			return "", false
		}
		return strings.TrimSpace(v), true
	}
}

func applyOverrides(cfg *Config, get func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := get(name); ok {
			*dst = v
		}
	}
	str("KIS_ENVIRONMENT", &cfg.KIS.Environment)
	str("KIS_BASE_URL", &cfg.KIS.Live.BaseURL)
	str("KIS_WEBSOCKET_URL", &cfg.KIS.Live.WebSocketURL)
	str("KIS_APP_KEY", &cfg.KIS.Live.AppKey)
	str("KIS_APP_SECRET", &cfg.KIS.Live.AppSecret)
	str("KIS_ACCOUNT_NUMBER", &cfg.KIS.Live.AccountNumber)
	str("KIS_ACCOUNT_PRODUCT_CODE", &cfg.KIS.Live.AccountProductCode)
	str("KIS_DEMO_BASE_URL", &cfg.KIS.Demo.BaseURL)
	str("KIS_DEMO_WEBSOCKET_URL", &cfg.KIS.Demo.WebSocketURL)
	str("KIS_DEMO_APP_KEY", &cfg.KIS.Demo.AppKey)
	str("KIS_DEMO_APP_SECRET", &cfg.KIS.Demo.AppSecret)
	str("KIS_DEMO_ACCOUNT_NUMBER", &cfg.KIS.Demo.AccountNumber)
	str("KIS_DEMO_ACCOUNT_PRODUCT_CODE", &cfg.KIS.Demo.AccountProductCode)
	str("SLACK_WEBHOOK_URL", &cfg.Slack.WebhookURL)
	str("SLACK_CHANNEL", &cfg.Slack.Channel)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FILE", &cfg.Log.File)
	str("SERVER_ADDR", &cfg.Server.Addr)
	str("METRICS_ADDR", &cfg.Metrics.Addr)

	boolean := func(name string, dst *bool) error {
		v, ok := get(name)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "环境变量 %s 不是合法的布尔值", name)
		}
		*dst = b
		return nil
	}
	for name, dst := range map[string]*bool{
		"SCHEDULER_ENABLED": &cfg.Scheduler.Enabled,
		"SLACK_ENABLED":     &cfg.Slack.Enabled,
		"REALTIME_ENABLED":  &cfg.Realtime.Enabled,
		"METRICS_ENABLED":   &cfg.Metrics.Enabled,
	} {
		if err := boolean(name, dst); err != nil {
			return err
		}
	}

	if env, err := kis.ParseEnvironment(cfg.KIS.Environment); err == nil {
		cfg.KIS.Environment = string(env)
	}
	return nil
}

var validate = validator.New()

// cron 表达式带秒；DOW#N 由 scheduler 处理，这里去掉后再校验
var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate 校验配置
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	for name, spec := range map[string]string{
		"weekly_cron":   c.Scheduler.WeeklyCron,
		"monthly_cron":  c.Scheduler.MonthlyCron,
		"fallback_cron": c.Scheduler.FallbackCron,
		"balance_cron":  c.Scheduler.BalanceCron,
	} {
		if _, err := cronParser.Parse(StripNthWeekday(spec)); err != nil {
			return errors.Wrapf(err, "scheduler.%s 无效: %q", name, spec)
		}
	}

	checkStocks := func(field string, stocks []StockPurchaseConfig) error {
		for i, s := range stocks {
			if _, err := overseas.ParseExchange(s.Exchange); err != nil {
				return errors.Wrapf(err, "%s[%d] 交易所无效", field, i)
			}
			if !validRate(s.DiscountRate) {
				return errors.Errorf("%s[%d].discount_rate 必须在 [0,1) 之间", field, i)
			}
			if s.BudgetKRW.IsNegative() {
				return errors.Errorf("%s[%d].budget_krw 不能为负数", field, i)
			}
		}
		return nil
	}
	if err := checkStocks("scheduler.stocks", c.Scheduler.Stocks); err != nil {
		return err
	}
	if err := checkStocks("scheduler.monthly_stocks", c.Scheduler.MonthlyStocks); err != nil {
		return err
	}

	r := c.Scheduler.Rebalance
	for _, ex := range []string{r.SourceExchange, r.TargetExchange} {
		if _, err := overseas.ParseExchange(ex); err != nil {
			return errors.Wrap(err, "scheduler.rebalance 交易所无效")
		}
	}
	if !validRate(r.DiscountRate) || !validRate(r.SellRate) || r.TriggerProfitRate.IsNegative() {
		return errors.New("scheduler.rebalance 比例参数超出范围")
	}
	if !c.Scheduler.DefaultExchangeRate.IsPositive() {
		return errors.New("scheduler.default_exchange_rate 必须大于 0")
	}
	return nil
}

func validRate(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThan(decimal.NewFromInt(1))
}

// StripNthWeekday 去掉 DOW 字段中的 #N 部分，例如 "MON#1" -> "MON"
func StripNthWeekday(spec string) string {
	fields := strings.Fields(spec)
	if len(fields) != 6 {
		return spec
	}
	if i := strings.Index(fields[5], "#"); i >= 0 {
		fields[5] = fields[5][:i]
	}
	return strings.Join(fields, " ")
}
