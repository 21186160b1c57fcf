package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter 速率限制器接口
type RateLimiter interface {
	Wait(ctx context.Context) error
	Allow() bool
	GetRemaining() int
	GetResetTime() time.Time
}

// TokenBucket 令牌桶速率限制器（基于 x/time/rate）
type TokenBucket struct {
	limiter *rate.Limiter
	perSec  float64
}

// NewTokenBucket 创建令牌桶，perSecond 为每秒补充的令牌数，burst 为桶容量
func NewTokenBucket(perSecond float64, burst int) *TokenBucket {
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucket{
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		perSec:  perSecond,
	}
}

// Allow 检查是否允许请求
func (tb *TokenBucket) Allow() bool {
	return tb.limiter.Allow()
}

// Wait 阻塞直到拿到令牌或 ctx 结束
func (tb *TokenBucket) Wait(ctx context.Context) error {
	return tb.limiter.Wait(ctx)
}

// GetRemaining 当前可用令牌数
func (tb *TokenBucket) GetRemaining() int {
	n := int(tb.limiter.Tokens())
	if n < 0 {
		return 0
	}
	return n
}

// GetResetTime 下一个令牌可用的时间
func (tb *TokenBucket) GetResetTime() time.Time {
	if tb.GetRemaining() > 0 || tb.perSec <= 0 {
		return time.Now()
	}
	missing := 1 - tb.limiter.Tokens()
	return time.Now().Add(time.Duration(missing / tb.perSec * float64(time.Second)))
}

// Registry 按名字（例如环境）管理多个限流器
type Registry struct {
	mu       sync.Mutex
	limiters map[string]RateLimiter
	factory  func(name string) RateLimiter
}

// NewRegistry 创建注册表，未登记的名字会通过 factory 懒创建
func NewRegistry(factory func(name string) RateLimiter) *Registry {
	return &Registry{
		limiters: make(map[string]RateLimiter),
		factory:  factory,
	}
}

// Set 登记指定名字的限流器
func (r *Registry) Set(name string, l RateLimiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters[name] = l
}

// Get 获取限流器
func (r *Registry) Get(name string) RateLimiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[name]; ok {
		return l
	}
	if r.factory == nil {
		return nil
	}
	l := r.factory(name)
	r.limiters[name] = l
	return l
}

// Wait 在指定名字的限流器上等待；没有限流器时直接放行
func (r *Registry) Wait(ctx context.Context, name string) error {
	l := r.Get(name)
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}
