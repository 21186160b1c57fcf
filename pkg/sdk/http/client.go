package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

const defaultUserAgent = "kisbot/1.0"

// Options 客户端选项
type Options struct {
	Timeout       time.Duration
	RetryCount    int // 下单等非幂等请求应为 0
	RetryWait     time.Duration
	RetryMaxWait  time.Duration
	UserAgent     string
	HTTPTransport http.RoundTripper
}

// DefaultOptions 默认选项
func DefaultOptions() Options {
	return Options{
		Timeout:      30 * time.Second,
		RetryCount:   0,
		RetryWait:    time.Second,
		RetryMaxWait: 10 * time.Second,
		UserAgent:    defaultUserAgent,
	}
}

type Client struct {
	client    *resty.Client
	userAgent string
}

func NewClient(host string) *Client {
	return NewClientWithOptions(host, DefaultOptions())
}

func NewClientWithOptions(host string, opts Options) *Client {
	host = strings.TrimSuffix(host, "/")
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	// resty 会自动从环境变量读取代理配置（HTTP_PROXY, HTTPS_PROXY）
	client := resty.New().
		SetBaseURL(host).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(opts.RetryMaxWait).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			// 429 限流时优先使用 Retry-After 头
			if resp != nil && resp.StatusCode() == http.StatusTooManyRequests {
				if v := resp.Header().Get("Retry-After"); v != "" {
					if seconds, err := strconv.Atoi(v); err == nil {
						return time.Duration(seconds) * time.Second, nil
					}
				}
				return 10 * time.Second, nil
			}
			return 0, nil
		})
	if opts.HTTPTransport != nil {
		client.SetTransport(opts.HTTPTransport)
	}

	return &Client{client: client, userAgent: opts.UserAgent}
}

// BaseURL 返回客户端的基础地址
func (c *Client) BaseURL() string {
	return c.client.BaseURL
}

type RequestOptions struct {
	Headers map[string]string
	Data    any
	Params  map[string]any
}

// 仅设置本次请求的默认 Header（不要再改 client 级 Header）
func (c *Client) newRequest(ctx context.Context) *resty.Request {
	r := c.client.R()
	if ctx != nil {
		r.SetContext(ctx)
	}
	r.SetHeader("Accept", "application/json")
	r.SetHeader("User-Agent", c.userAgent)
	return r
}

func (c *Client) DoRequest(ctx context.Context, method, endpoint string, opt *RequestOptions, out any) (*resty.Response, error) {
	rc := c.newRequest(ctx)
	if opt != nil {
		for k, v := range opt.Headers {
			rc.SetHeader(k, v)
		}
		if opt.Params != nil {
			rc.SetQueryParamsFromValues(toValues(opt.Params))
		}
		if opt.Data != nil {
			rc.SetHeader("Content-Type", "application/json; charset=utf-8")
			rc.SetBody(opt.Data)
		}
	}
	if out != nil {
		rc.SetResult(out)
	}

	switch strings.ToUpper(method) {
	case http.MethodGet:
		return rc.Get(endpoint)
	case http.MethodPost:
		return rc.Post(endpoint)
	case http.MethodDelete:
		return rc.Delete(endpoint)
	case http.MethodPut:
		return rc.Put(endpoint)
	default:
		return nil, fmt.Errorf("unsupported method: %s", method)
	}
}

func toValues(m map[string]any) map[string][]string {
	v := make(map[string][]string, len(m))
	for k, val := range m {
		switch t := val.(type) {
		case []string:
			v[k] = t
		default:
			v[k] = []string{fmt.Sprint(val)}
		}
	}
	return v
}

// ParseHTTPError 把非 2xx 响应转换成错误
func ParseHTTPError(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.IsSuccess() {
		return nil
	}
	var body any
	b := resp.Body()
	_ = json.Unmarshal(b, &body)
	if body == nil {
		body = string(b)
	}
	return errors.Errorf("http non-2xx: %d %v", resp.StatusCode(), body)
}
