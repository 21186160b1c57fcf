package kis

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	sdkhttp "github.com/betbot/kisbot/pkg/sdk/http"
	"github.com/betbot/kisbot/pkg/ratelimit"
)

// ResponseStatus 所有 KIS REST 响应共有的结果字段
type ResponseStatus struct {
	RtCd  string `json:"rt_cd"`
	MsgCd string `json:"msg_cd"`
	Msg1  string `json:"msg1"`
}

// Status 返回结果字段，供 Client 统一判断
func (s *ResponseStatus) Status() *ResponseStatus { return s }

// OK rt_cd == "0"
func (s *ResponseStatus) OK() bool { return s.RtCd == "0" }

// Envelope 能暴露结果字段的响应体
type Envelope interface {
	Status() *ResponseStatus
}

// TokenSource 提供 authorization 头
type TokenSource interface {
	BearerHeader(ctx context.Context, env Environment) (string, error)
}

// Client KIS REST 调用的公共部分：鉴权头、限流、错误归类。各业务网关基于它实现。
type Client struct {
	profiles Profiles
	tokens   TokenSource
	limits   *ratelimit.Registry
	opts     sdkhttp.Options

	mu      sync.Mutex
	clients map[Environment]*sdkhttp.Client

	log *logrus.Entry
}

// NewClient 创建客户端。limits 可以为 nil。
// 下单、撤单都走这里，重试可能重复提交，因此忽略 opts.RetryCount。
func NewClient(profiles Profiles, tokens TokenSource, limits *ratelimit.Registry, opts sdkhttp.Options) *Client {
	opts.RetryCount = 0
	return &Client{
		profiles: profiles,
		tokens:   tokens,
		limits:   limits,
		opts:     opts,
		clients:  make(map[Environment]*sdkhttp.Client),
		log:      logrus.WithField("component", "kis-client"),
	}
}

// Profile 返回环境参数
func (c *Client) Profile(env Environment) Profile {
	return c.profiles.For(env)
}

func (c *Client) http(env Environment) *sdkhttp.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	hc, ok := c.clients[env]
	if !ok {
		hc = sdkhttp.NewClientWithOptions(c.profiles.For(env).BaseURL, c.opts)
		c.clients[env] = hc
	}
	return hc
}

// Call 描述一次 REST 调用
type Call struct {
	Op     string // 日志与错误里使用的操作名
	Method string
	Path   string
	TRID   string
	Params map[string]any
	Body   any
}

// Do 执行调用并把结果写入 out。
// 网络错误/非 2xx -> *GatewayError；rt_cd != "0" -> *BusinessRejection；鉴权失败原样返回 *CredentialError。
func (c *Client) Do(ctx context.Context, env Environment, call Call, out Envelope) error {
	if c.limits != nil {
		if err := c.limits.Wait(ctx, env.String()); err != nil {
			return &GatewayError{Op: call.Op, Err: err}
		}
	}

	auth, err := c.tokens.BearerHeader(ctx, env)
	if err != nil {
		return err
	}
	profile := c.profiles.For(env)

	opt := &sdkhttp.RequestOptions{
		Headers: map[string]string{
			"authorization": auth,
			"appkey":        profile.AppKey,
			"appsecret":     profile.AppSecret,
			"tr_id":         call.TRID,
			"custtype":      "P",
		},
		Params: call.Params,
		Data:   call.Body,
	}
	method := call.Method
	if method == "" {
		method = http.MethodGet
	}

	resp, err := c.http(env).DoRequest(ctx, method, call.Path, opt, out)
	if err != nil {
		c.log.WithError(err).Errorf("%s 请求失败 tr_id=%s", call.Op, call.TRID)
		return &GatewayError{Op: call.Op, Err: err}
	}
	if !resp.IsSuccess() {
		body := strings.TrimSpace(string(resp.Body()))
		c.log.Errorf("%s 返回非 2xx: status=%d body=%s", call.Op, resp.StatusCode(), body)
		return &GatewayError{Op: call.Op, Status: resp.StatusCode(), Body: body}
	}

	st := out.Status()
	if !st.OK() {
		msg := st.Msg1
		if msg == "" && st.RtCd == "" {
			msg = "empty response"
		}
		c.log.Warnf("%s 被拒绝: [%s] %s", call.Op, st.MsgCd, msg)
		return &BusinessRejection{Op: call.Op, Code: st.MsgCd, Message: msg}
	}
	return nil
}
