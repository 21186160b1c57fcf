// kisbot 海外股票定投服务：定时任务、手动控制面、实时行情与指标。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/kisbot/internal/controlplane/server"
	"github.com/betbot/kisbot/internal/kis"
	"github.com/betbot/kisbot/internal/kis/credential"
	"github.com/betbot/kisbot/internal/kis/domestic"
	"github.com/betbot/kisbot/internal/kis/overseas"
	"github.com/betbot/kisbot/internal/kis/realtime"
	"github.com/betbot/kisbot/internal/metrics"
	"github.com/betbot/kisbot/internal/notify"
	"github.com/betbot/kisbot/internal/orchestrator"
	"github.com/betbot/kisbot/internal/scheduler"
	"github.com/betbot/kisbot/pkg/config"
	"github.com/betbot/kisbot/pkg/logger"
	"github.com/betbot/kisbot/pkg/ratelimit"
	sdkhttp "github.com/betbot/kisbot/pkg/sdk/http"
	"github.com/betbot/kisbot/pkg/secretstore"
	"github.com/betbot/kisbot/pkg/shutdown"
)

func firstExistingFile(paths ...string) (string, bool) {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func main() {
	configPath := flag.String("config", "", "配置文件路径（支持 .yaml, .yml, .json）")
	envFile := flag.String("env-file", "", ".env 文件路径（默认当前目录 .env）")
	addr := flag.String("addr", "", "控制面监听地址，覆盖 server.addr")
	secretsPath := flag.String("secrets", getenv("KISBOT_SECRET_DB", ""), "badger 密钥库路径，覆盖 secrets.path")
	flag.Parse()

	if err := logger.InitDefault(); err != nil {
		panic(fmt.Sprintf("初始化日志失败: %v", err))
	}

	if err := run(*configPath, *envFile, *addr, *secretsPath); err != nil {
		logrus.Errorf("kisbot 退出: %v", err)
		os.Exit(1)
	}
}

func run(configPath, envFile, addr, secretsPath string) error {
	if configPath == "" {
		if p, ok := firstExistingFile("yml/config.yaml", "config.yaml", "config.yml"); ok {
			configPath = p
			logrus.Infof("使用默认配置文件: %s", p)
		} else {
			logrus.Warn("未指定配置文件，将使用环境变量和默认值")
		}
	}

	var secrets config.SecretSource
	if secretsPath != "" {
		ss, err := openSecrets(secretsPath, "")
		if err != nil {
			return err
		}
		defer ss.Close()
		secrets = ss
	}

	cfg, err := config.Load(configPath, config.LoadOptions{EnvFile: envFile, Secrets: secrets})
	if err != nil {
		return errors.Wrap(err, "加载配置失败")
	}
	// 配置文件里指定了密钥库时打开后重新加载一次
	if secrets == nil && cfg.Secrets.Path != "" {
		ss, err := openSecrets(cfg.Secrets.Path, cfg.Secrets.KeyEnv)
		if err != nil {
			return err
		}
		defer ss.Close()
		if cfg, err = config.Load(configPath, config.LoadOptions{EnvFile: envFile, Secrets: ss}); err != nil {
			return errors.Wrap(err, "加载配置失败")
		}
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
		LogByDay:   cfg.Log.ByDay,
	}); err != nil {
		return errors.Wrap(err, "初始化日志失败")
	}
	logDone := make(chan struct{})
	defer close(logDone)
	if cfg.Log.ByDay {
		logger.StartRotationChecker(logDone)
	}

	env := cfg.Environment()
	logrus.Infof("默认交易环境: %s", env)

	m := metrics.New()
	httpOpts := sdkhttp.DefaultOptions()
	httpOpts.Timeout = time.Duration(cfg.KIS.TimeoutSeconds) * time.Second

	// 只有令牌签发允许重试；交易请求不重试
	tokenOpts := httpOpts
	tokenOpts.RetryCount = cfg.KIS.RetryCount

	profiles := cfg.Profiles()
	store := credential.NewStore(profiles,
		credential.WithObserver(m.CredentialObserver()),
		credential.WithHTTPOptions(tokenOpts),
	)

	rl := cfg.KIS.RateLimit
	limits := ratelimit.NewRegistry(func(name string) ratelimit.RateLimiter {
		if name == kis.Live.String() {
			return ratelimit.NewTokenBucket(rl.Live, rl.Burst)
		}
		return ratelimit.NewTokenBucket(rl.Demo, rl.Burst)
	})
	client := kis.NewClient(profiles, store, limits, httpOpts)

	ov := overseas.NewGateway(client)
	ov.SetOrderObserver(m.OrderObserver())
	dom := domestic.NewGateway(client)

	orch := orchestrator.New(ov, cfg.Scheduler)
	slack := notify.NewSlack(cfg.Slack, sdkhttp.DefaultOptions())
	history := scheduler.NewHistory()
	runner := scheduler.NewRunner(orch, slack, scheduler.Recorders{m, history})

	sd := shutdown.NewManager()

	var (
		feed   *realtime.Client
		quotes *realtime.QuoteBook
	)
	if cfg.Realtime.Enabled {
		feed, quotes, err = startFeed(cfg, env, store, m)
		if err != nil {
			return err
		}
		sd.OnShutdown("realtime", func(context.Context) error {
			feed.Close()
			quotes.Close()
			return nil
		})
	}

	sched, err := scheduler.New(cfg.Scheduler.Timezone)
	if err != nil {
		return err
	}
	if err := runner.Register(sched, cfg.Scheduler, env); err != nil {
		return err
	}
	sched.Start()
	sd.OnShutdown("scheduler", func(ctx context.Context) error {
		sched.Stop(ctx)
		return nil
	})

	if cfg.Metrics.Enabled && cfg.Metrics.Addr != "" {
		metricsCtx, stopMetrics := context.WithCancel(context.Background())
		if _, err := m.StartAsync(metricsCtx, cfg.Metrics.Addr, cfg.Metrics.Path); err != nil {
			stopMetrics()
			return errors.Wrap(err, "启动 metrics 服务失败")
		}
		logrus.Infof("metrics 服务已启动: %s%s", cfg.Metrics.Addr, cfg.Metrics.Path)
		sd.OnShutdown("metrics", func(context.Context) error {
			stopMetrics()
			return nil
		})
	}

	if cfg.Server.Enabled {
		scfg := server.Config{
			Runner:   runner,
			Env:      env,
			Overseas: ov,
			Domestic: dom,
			Slack:    slack,
			Jobs:     sched.Entries,
			History:  history.Snapshot,
			Mode:     cfg.Server.Mode,
		}
		if feed != nil {
			scfg.Feed = feed
			scfg.Quotes = quotes
		}
		if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
			scfg.Metrics = m.Handler()
			scfg.MetricsPath = cfg.Metrics.Path
		}
		srv, err := server.New(scfg)
		if err != nil {
			return err
		}
		if err := srv.Start(cfg.Server.Addr); err != nil {
			return err
		}
		sd.OnShutdown("controlplane", srv.Shutdown)
	}

	if cfg.Slack.Enabled {
		slack.Custom(context.Background(), fmt.Sprintf(":rocket: *kisbot 시작*\n환경: %s", env))
	}

	shutdown.WaitForSignal(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return sd.Shutdown(ctx)
}

// openSecrets keyEnv 为存放加密 key 的环境变量名
func openSecrets(path, keyEnv string) (*secretstore.Store, error) {
	if keyEnv == "" {
		keyEnv = "KISBOT_SECRET_KEY"
	}
	key, err := secretstore.ParseKey(os.Getenv(keyEnv))
	if err != nil {
		return nil, errors.Wrap(err, "解析密钥库 key 失败")
	}
	ss, err := secretstore.Open(secretstore.OpenOptions{Path: path, EncryptionKey: key, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	logrus.Infof("已打开密钥库: %s", path)
	return ss, nil
}

func startFeed(cfg *config.Config, env kis.Environment, store *credential.Store, m *metrics.Metrics) (*realtime.Client, *realtime.QuoteBook, error) {
	profile := cfg.Profiles().For(env)
	rc := realtime.DefaultConfig(profile.WebSocketURL)
	rc.MaxReconnectAttempts = cfg.Realtime.MaxReconnectAttempts
	rc.ReconnectDelay = time.Duration(cfg.Realtime.ReconnectDelaySecs) * time.Second

	feed, err := realtime.NewClient(rc, func(ctx context.Context) (string, error) {
		c, err := store.StreamKey(ctx, env)
		if err != nil {
			return "", err
		}
		return c.Value, nil
	})
	if err != nil {
		return nil, nil, err
	}
	m.AttachFeed(feed)

	quotes := realtime.NewQuoteBook(time.Duration(cfg.Realtime.QuoteTTLSeconds) * time.Second)
	feed.OnTick(quotes.HandleTick)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		for _, sub := range cfg.Realtime.Subscriptions {
			if err := feed.Subscribe(ctx, sub.Channel, sub.Key); err != nil {
				logrus.WithError(err).Warnf("默认订阅 %s %s 失败", sub.Channel, sub.Key)
			}
		}
	}()
	return feed, quotes, nil
}
