package scheduler

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/betbot/kisbot/internal/kis"
	"github.com/betbot/kisbot/internal/orchestrator"
	"github.com/betbot/kisbot/pkg/config"
)

// 任务名
const (
	JobWeekly   = "weekly"
	JobMonthly  = "monthly"
	JobFallback = "fallback"
	JobBalance  = "balance"
)

// Notifier 结果通知
type Notifier interface {
	WeeklyPurchase(ctx context.Context, results []orchestrator.PurchaseResult)
	MonthlyRebalance(ctx context.Context, results []orchestrator.PurchaseResult)
	MarketFallback(ctx context.Context, results []orchestrator.FallbackResult)
	Balance(ctx context.Context, bal orchestrator.BalanceSummary)
	BalanceFailure(ctx context.Context, err error)
}

// Recorder 任务执行记录
type Recorder interface {
	JobDone(job string, ok bool)
}

type nopNotifier struct{}

func (nopNotifier) WeeklyPurchase(context.Context, []orchestrator.PurchaseResult)   {}
func (nopNotifier) MonthlyRebalance(context.Context, []orchestrator.PurchaseResult) {}
func (nopNotifier) MarketFallback(context.Context, []orchestrator.FallbackResult)   {}
func (nopNotifier) Balance(context.Context, orchestrator.BalanceSummary)            {}
func (nopNotifier) BalanceFailure(context.Context, error)                           {}

type nopRecorder struct{}

func (nopRecorder) JobDone(string, bool) {}

// Runner 执行编排任务并把结果交给通知器。定时任务和手动触发共用。
type Runner struct {
	orch   *orchestrator.Orchestrator
	notify Notifier
	rec    Recorder
}

// NewRunner notify、rec 可为 nil
func NewRunner(orch *orchestrator.Orchestrator, notify Notifier, rec Recorder) *Runner {
	if notify == nil {
		notify = nopNotifier{}
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Runner{orch: orch, notify: notify, rec: rec}
}

// Orchestrator 底层编排器
func (r *Runner) Orchestrator() *orchestrator.Orchestrator { return r.orch }

func purchasesOK(results []orchestrator.PurchaseResult) bool {
	for _, res := range results {
		if !res.Success {
			return false
		}
	}
	return true
}

// Weekly 每周定投
func (r *Runner) Weekly(ctx context.Context, env kis.Environment) []orchestrator.PurchaseResult {
	results := r.orch.WeeklyPurchase(ctx, env)
	r.notify.WeeklyPurchase(ctx, results)
	r.rec.JobDone(JobWeekly, purchasesOK(results))
	return results
}

// Monthly 月度再平衡
func (r *Runner) Monthly(ctx context.Context, env kis.Environment) []orchestrator.PurchaseResult {
	results := r.orch.MonthlyRebalance(ctx, env)
	r.notify.MonthlyRebalance(ctx, results)
	r.rec.JobDone(JobMonthly, purchasesOK(results))
	return results
}

// All 先每周定投再月度再平衡，各自通知
func (r *Runner) All(ctx context.Context, env kis.Environment) []orchestrator.PurchaseResult {
	out := r.Weekly(ctx, env)
	return append(out, r.Monthly(ctx, env)...)
}

// Fallback 未成交限价单转市价
func (r *Runner) Fallback(ctx context.Context, env kis.Environment) []orchestrator.FallbackResult {
	results := r.orch.MarketFallback(ctx, env)
	r.notify.MarketFallback(ctx, results)
	ok := true
	for _, res := range results {
		ok = ok && res.Success
	}
	r.rec.JobDone(JobFallback, ok)
	return results
}

// Balance 查询余额并通知；失败时发送失败通知
func (r *Runner) Balance(ctx context.Context, env kis.Environment) (orchestrator.BalanceSummary, error) {
	bal, err := r.orch.BalanceSummary(ctx, env)
	if err != nil {
		logrus.WithError(err).Errorf("[%s] 余额查询失败", env)
		r.notify.BalanceFailure(ctx, err)
		r.rec.JobDone(JobBalance, false)
		return bal, err
	}
	r.notify.Balance(ctx, bal)
	r.rec.JobDone(JobBalance, true)
	return bal, nil
}

// Register 按配置注册四个定时任务，env 为定时任务使用的环境
func (r *Runner) Register(s *Scheduler, cfg config.SchedulerConfig, env kis.Environment) error {
	jobs := []struct {
		name string
		spec string
		fn   func(ctx context.Context)
	}{
		{JobWeekly, cfg.WeeklyCron, func(ctx context.Context) { r.Weekly(ctx, env) }},
		{JobMonthly, cfg.MonthlyCron, func(ctx context.Context) { r.Monthly(ctx, env) }},
		{JobFallback, cfg.FallbackCron, func(ctx context.Context) { r.Fallback(ctx, env) }},
		{JobBalance, cfg.BalanceCron, func(ctx context.Context) {
			if !r.orch.Enabled() {
				logrus.Info("调度已关闭，跳过余额通知")
				return
			}
			_, _ = r.Balance(ctx, env)
		}},
	}
	for _, j := range jobs {
		if j.spec == "" {
			logrus.Warnf("任务 %s 未配置表达式，跳过", j.name)
			continue
		}
		if err := s.Add(j.name, j.spec, j.fn); err != nil {
			return err
		}
	}
	return nil
}
