// Package credential 管理 KIS 的两类凭证：REST access token 与 WebSocket approval key。
//
// 两类凭证各自过期、各自刷新；同一环境同一类凭证任意时刻最多只有一个刷新请求在途。
package credential

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/kisbot/internal/kis"
	sdkhttp "github.com/betbot/kisbot/pkg/sdk/http"
)

const (
	tokenPath    = "/oauth2/tokenP"
	approvalPath = "/oauth2/Approval"

	// 距离过期不足该时长即视为失效
	expiryMargin = time.Hour
	// approval key 固定按 24 小时计算，不看服务端返回
	approvalLifetime = 24 * time.Hour
)

// Kind 凭证类型
type Kind string

const (
	KindRestToken Kind = "rest_token"
	KindStreamKey Kind = "stream_key"
)

// Credential 一份凭证及其过期时间。刷新时整体替换，不做局部修改。
type Credential struct {
	Value     string
	ExpiresAt time.Time
}

// ValidAt now + 1h < ExpiresAt
func (c *Credential) ValidAt(now time.Time) bool {
	if c == nil || c.Value == "" {
		return false
	}
	return now.Add(expiryMargin).Before(c.ExpiresAt)
}

type tokenRequest struct {
	GrantType string `json:"grant_type"`
	AppKey    string `json:"appkey"`
	AppSecret string `json:"appsecret"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type approvalRequest struct {
	GrantType string `json:"grant_type"`
	AppKey    string `json:"appkey"`
	SecretKey string `json:"secretkey"`
}

type approvalResponse struct {
	ApprovalKey string `json:"approval_key"`
}

// RefreshObserver 每次真正发起签发请求时回调（用于指标）
type RefreshObserver func(kind Kind, env kis.Environment, err error)

// slot 一个环境下一类凭证的缓存与刷新锁
type slot struct {
	refreshMu sync.Mutex
	current   *Credential
	mu        sync.RWMutex
}

func (s *slot) load() *Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *slot) store(c *Credential) {
	s.mu.Lock()
	s.current = c
	s.mu.Unlock()
}

// Store 凭证缓存
type Store struct {
	profiles kis.Profiles
	opts     sdkhttp.Options
	now      func() time.Time
	observer RefreshObserver

	mu      sync.Mutex
	slots   map[string]*slot
	clients map[kis.Environment]*sdkhttp.Client

	log *logrus.Entry
}

// Option 配置 Store
type Option func(*Store)

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithObserver 注册刷新回调
func WithObserver(o RefreshObserver) Option {
	return func(s *Store) { s.observer = o }
}

// WithHTTPOptions 覆盖 HTTP 客户端选项
func WithHTTPOptions(o sdkhttp.Options) Option {
	return func(s *Store) { s.opts = o }
}

// NewStore 创建凭证缓存
func NewStore(profiles kis.Profiles, opts ...Option) *Store {
	s := &Store{
		profiles: profiles,
		opts:     sdkhttp.DefaultOptions(),
		now:      time.Now,
		slots:    make(map[string]*slot),
		clients:  make(map[kis.Environment]*sdkhttp.Client),
		log:      logrus.WithField("component", "credential"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) slot(kind Kind, env kis.Environment) *slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := string(kind) + "/" + env.String()
	sl, ok := s.slots[key]
	if !ok {
		sl = &slot{}
		s.slots[key] = sl
	}
	return sl
}

func (s *Store) http(env kis.Environment) *sdkhttp.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[env]
	if !ok {
		c = sdkhttp.NewClientWithOptions(s.profiles.For(env).BaseURL, s.opts)
		s.clients[env] = c
	}
	return c
}

// RestToken 返回有效的 REST access token，必要时刷新
func (s *Store) RestToken(ctx context.Context, env kis.Environment) (Credential, error) {
	return s.get(ctx, KindRestToken, env, false)
}

// StreamKey 返回有效的 WebSocket approval key，必要时刷新
func (s *Store) StreamKey(ctx context.Context, env kis.Environment) (Credential, error) {
	return s.get(ctx, KindStreamKey, env, false)
}

// BearerHeader "Bearer " + token
func (s *Store) BearerHeader(ctx context.Context, env kis.Environment) (string, error) {
	c, err := s.RestToken(ctx, env)
	if err != nil {
		return "", err
	}
	return "Bearer " + c.Value, nil
}

// ForceRefresh 忽略有效期强制刷新两类凭证
func (s *Store) ForceRefresh(ctx context.Context, env kis.Environment) error {
	if _, err := s.get(ctx, KindRestToken, env, true); err != nil {
		return err
	}
	_, err := s.get(ctx, KindStreamKey, env, true)
	return err
}

func (s *Store) get(ctx context.Context, kind Kind, env kis.Environment, force bool) (Credential, error) {
	sl := s.slot(kind, env)

	if !force {
		if c := sl.load(); c.ValidAt(s.now()) {
			return *c, nil
		}
	}

	sl.refreshMu.Lock()
	defer sl.refreshMu.Unlock()

	// 等锁期间可能已被其他调用方刷新
	if !force {
		if c := sl.load(); c.ValidAt(s.now()) {
			return *c, nil
		}
	}

	c, err := s.issue(ctx, kind, env)
	if s.observer != nil {
		s.observer(kind, env, err)
	}
	if err != nil {
		return Credential{}, &kis.CredentialError{Kind: string(kind), Env: env, Err: err}
	}
	sl.store(c)
	s.log.Infof("%s 凭证已刷新 (%s)，过期时间 %s", kind, env, c.ExpiresAt.Format(time.RFC3339))
	return *c, nil
}

func (s *Store) issue(ctx context.Context, kind Kind, env kis.Environment) (*Credential, error) {
	profile := s.profiles.For(env)
	if strings.TrimSpace(profile.AppKey) == "" || strings.TrimSpace(profile.AppSecret) == "" {
		return nil, errors.New("app key/secret not configured")
	}

	switch kind {
	case KindRestToken:
		var out tokenResponse
		resp, err := s.http(env).DoRequest(ctx, http.MethodPost, tokenPath, &sdkhttp.RequestOptions{
			Data: tokenRequest{GrantType: "client_credentials", AppKey: profile.AppKey, AppSecret: profile.AppSecret},
		}, &out)
		if err := sdkhttp.ParseHTTPError(resp, err); err != nil {
			return nil, errors.Wrap(err, "issue access token")
		}
		if out.AccessToken == "" {
			return nil, errors.New("issue access token: empty response")
		}
		return &Credential{
			Value:     out.AccessToken,
			ExpiresAt: s.now().Add(time.Duration(out.ExpiresIn) * time.Second),
		}, nil

	case KindStreamKey:
		var out approvalResponse
		resp, err := s.http(env).DoRequest(ctx, http.MethodPost, approvalPath, &sdkhttp.RequestOptions{
			Data: approvalRequest{GrantType: "client_credentials", AppKey: profile.AppKey, SecretKey: profile.AppSecret},
		}, &out)
		if err := sdkhttp.ParseHTTPError(resp, err); err != nil {
			return nil, errors.Wrap(err, "issue approval key")
		}
		if out.ApprovalKey == "" {
			return nil, errors.New("issue approval key: empty response")
		}
		return &Credential{Value: out.ApprovalKey, ExpiresAt: s.now().Add(approvalLifetime)}, nil
	}
	return nil, errors.Errorf("unknown credential kind %q", kind)
}
