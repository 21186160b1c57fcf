// Package scheduler 基于 cron 的定时触发。
//
// 表达式为 6 段（含秒），支持 ? 和 DOW#N（当月第 N 个星期几）。
// 同一任务上一次尚未结束时，本次触发直接跳过。
package scheduler

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/betbot/kisbot/pkg/config"
)

var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Entry 已注册任务的信息
type Entry struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev"`
}

// Scheduler cron 调度器
type Scheduler struct {
	cron *cron.Cron
	loc  *time.Location

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[cron.EntryID]Entry

	log *logrus.Entry
}

// New 创建调度器，timezone 为空时使用 Asia/Seoul
func New(timezone string) (*Scheduler, error) {
	if timezone == "" {
		timezone = "Asia/Seoul"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "无效时区 %s", timezone)
	}
	log := logrus.WithField("component", "scheduler")
	ctx, cancel := context.WithCancel(context.Background())
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithParser(parser),
		cron.WithChain(
			cron.Recover(cron.PrintfLogger(log)),
			cron.SkipIfStillRunning(cron.PrintfLogger(log)),
		),
	)
	return &Scheduler{
		cron:    c,
		loc:     loc,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[cron.EntryID]Entry),
		log:     log,
	}, nil
}

// Location 调度使用的时区
func (s *Scheduler) Location() *time.Location { return s.loc }

// Add 注册任务
func (s *Scheduler) Add(name, spec string, fn func(ctx context.Context)) error {
	base, nth, err := splitNth(spec)
	if err != nil {
		return errors.Wrapf(err, "任务 %s 表达式无效: %q", name, spec)
	}
	if _, err := parser.Parse(base); err != nil {
		return errors.Wrapf(err, "任务 %s 表达式无效: %q", name, spec)
	}

	job := func() {
		now := time.Now().In(s.loc)
		if nth > 0 && !isNthWeekday(now, nth) {
			s.log.Debugf("任务 %s 跳过：今天不是当月第 %d 个", name, nth)
			return
		}
		start := time.Now()
		s.log.Infof("任务 %s 开始", name)
		fn(s.ctx)
		s.log.Infof("任务 %s 结束，耗时 %s", name, time.Since(start).Round(time.Millisecond))
	}

	id, err := s.cron.AddFunc(base, job)
	if err != nil {
		return errors.Wrapf(err, "注册任务 %s 失败", name)
	}
	s.mu.Lock()
	s.entries[id] = Entry{Name: name, Spec: spec}
	s.mu.Unlock()
	s.log.Infof("已注册任务 %s: %s (%s)", name, spec, s.loc)
	return nil
}

// Start 启动调度
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop 停止调度并等待运行中的任务结束（或 ctx 超时）
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("等待定时任务结束超时")
	}
	s.cancel()
}

// Entries 已注册任务及下次触发时间
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, ce := range s.cron.Entries() {
		e, ok := s.entries[ce.ID]
		if !ok {
			continue
		}
		e.Next = ce.Next
		e.Prev = ce.Prev
		out = append(out, e)
	}
	return out
}

// splitNth 拆出 DOW 字段里的 #N，返回去掉 #N 的表达式
func splitNth(spec string) (string, int, error) {
	fields := strings.Fields(spec)
	if len(fields) != 6 {
		return spec, 0, nil
	}
	dow := fields[5]
	i := strings.Index(dow, "#")
	if i < 0 {
		return spec, 0, nil
	}
	n, err := strconv.Atoi(dow[i+1:])
	if err != nil || n < 1 || n > 5 {
		return "", 0, errors.Errorf("无效的 #N: %s", dow)
	}
	return config.StripNthWeekday(spec), n, nil
}

// isNthWeekday t 是否为当月第 n 个同星期的日子
func isNthWeekday(t time.Time, n int) bool {
	return (t.Day()-1)/7+1 == n
}
