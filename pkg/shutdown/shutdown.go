// Package shutdown 优雅关闭：按名字注册回调，收到信号后在超时内并发执行。
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/betbot/kisbot/pkg/logger"
)

// Handler 关闭回调
type Handler func(ctx context.Context) error

type entry struct {
	name string
	fn   Handler
}

// Manager 优雅关闭管理器
type Manager struct {
	mu        sync.Mutex
	callbacks []entry
	once      sync.Once
}

// NewManager 创建关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, handler Handler) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, entry{name: name, fn: handler})
}

// Shutdown 并发执行所有回调，阻塞到全部完成或 ctx 到期。只执行一次。
// 返回第一个出错回调的错误。
func (m *Manager) Shutdown(ctx context.Context) error {
	var result error
	m.once.Do(func() {
		m.mu.Lock()
		callbacks := append([]entry(nil), m.callbacks...)
		m.mu.Unlock()

		if len(callbacks) == 0 {
			logger.Info("没有注册的关闭回调")
			return
		}
		logger.Infof("开始优雅关闭，共 %d 个回调", len(callbacks))

		var (
			wg    sync.WaitGroup
			errM  sync.Mutex
			first error
		)
		for _, cb := range callbacks {
			wg.Add(1)
			go func(e entry) {
				defer wg.Done()
				start := time.Now()
				if err := e.fn(ctx); err != nil {
					logger.Errorf("关闭 %s 失败: %v", e.name, err)
					errM.Lock()
					if first == nil {
						first = errors.Wrapf(err, "shutdown %s", e.name)
					}
					errM.Unlock()
					return
				}
				logger.Debugf("已关闭 %s（%s）", e.name, time.Since(start).Round(time.Millisecond))
			}(cb)
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			logger.Info("所有关闭回调已完成")
		case <-ctx.Done():
			logger.Warnf("关闭超时: %v", ctx.Err())
			errM.Lock()
			if first == nil {
				first = ctx.Err()
			}
			errM.Unlock()
		}
		errM.Lock()
		result = first
		errM.Unlock()
	})
	return result
}

// WaitForSignal 阻塞到收到 SIGINT/SIGTERM 或 ctx 结束
func WaitForSignal(ctx context.Context) os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(ch)
	select {
	case sig := <-ch:
		logger.Infof("收到信号 %s", sig)
		return sig
	case <-ctx.Done():
		return nil
	}
}
