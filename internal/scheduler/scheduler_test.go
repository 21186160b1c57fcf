package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/kisbot/internal/kis"
	"github.com/betbot/kisbot/internal/kis/overseas"
	"github.com/betbot/kisbot/internal/orchestrator"
	"github.com/betbot/kisbot/pkg/config"
)

func TestSplitNth(t *testing.T) {
	cases := []struct {
		spec string
		base string
		nth  int
		err  bool
	}{
		{"0 30 23 ? * MON#1", "0 30 23 ? * MON", 1, false},
		{"0 30 23 * * MON", "0 30 23 * * MON", 0, false},
		{"0 0 5 * * MON-FRI", "0 0 5 * * MON-FRI", 0, false},
		{"0 0 5 * * MON#9", "", 0, true},
		{"@daily", "@daily", 0, false},
	}
	for _, c := range cases {
		t.Run(c.spec, func(t *testing.T) {
			base, nth, err := splitNth(c.spec)
			if c.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.base, base)
			assert.Equal(t, c.nth, nth)
		})
	}
}

func TestIsNthWeekday(t *testing.T) {
	loc := time.UTC
	// 2026-10-05 为当月第一个周一
	assert.True(t, isNthWeekday(time.Date(2026, 10, 5, 23, 30, 0, 0, loc), 1))
	assert.False(t, isNthWeekday(time.Date(2026, 10, 12, 23, 30, 0, 0, loc), 1))
	assert.True(t, isNthWeekday(time.Date(2026, 10, 12, 23, 30, 0, 0, loc), 2))
	assert.True(t, isNthWeekday(time.Date(2026, 10, 7, 0, 0, 0, 0, loc), 1))
	assert.True(t, isNthWeekday(time.Date(2026, 10, 29, 0, 0, 0, 0, loc), 5))
}

func TestNewRejectsUnknownTimezone(t *testing.T) {
	_, err := New("Mars/Olympus")
	assert.Error(t, err)

	s, err := New("")
	require.NoError(t, err)
	assert.Equal(t, "Asia/Seoul", s.Location().String())
}

func TestAddAndEntries(t *testing.T) {
	s, err := New("Asia/Seoul")
	require.NoError(t, err)

	assert.Error(t, s.Add("bad", "not a cron", func(context.Context) {}))
	require.NoError(t, s.Add(JobMonthly, "0 30 23 ? * MON#1", func(context.Context) {}))

	s.Start()
	defer s.Stop(context.Background())

	require.Eventually(t, func() bool {
		es := s.Entries()
		return len(es) == 1 && !es[0].Next.IsZero()
	}, time.Second, 10*time.Millisecond)

	e := s.Entries()[0]
	assert.Equal(t, JobMonthly, e.Name)
	assert.Equal(t, "0 30 23 ? * MON#1", e.Spec)
	assert.Equal(t, time.Monday, e.Next.In(s.Location()).Weekday())
}

func TestOverlappingRunsAreSkipped(t *testing.T) {
	s, err := New("UTC")
	require.NoError(t, err)

	var starts atomic.Int32
	release := make(chan struct{})
	require.NoError(t, s.Add("slow", "* * * * * *", func(ctx context.Context) {
		starts.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
	}))

	s.Start()
	time.Sleep(2500 * time.Millisecond)
	assert.Equal(t, int32(1), starts.Load())

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
}

// marginGateway 只实现余额查询，其他方法不应被调用
type marginGateway struct {
	orchestrator.Gateway
	margins []overseas.ForeignMargin
	err     error
}

func (g *marginGateway) ForeignMargin(context.Context, kis.Environment) ([]overseas.ForeignMargin, error) {
	return g.margins, g.err
}

type recordingNotifier struct {
	mu        sync.Mutex
	weekly    int
	monthly   int
	fallback  int
	balances  []orchestrator.BalanceSummary
	balanceFx []error
}

func (n *recordingNotifier) WeeklyPurchase(context.Context, []orchestrator.PurchaseResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.weekly++
}

func (n *recordingNotifier) MonthlyRebalance(context.Context, []orchestrator.PurchaseResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.monthly++
}

func (n *recordingNotifier) MarketFallback(context.Context, []orchestrator.FallbackResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fallback++
}

func (n *recordingNotifier) Balance(_ context.Context, b orchestrator.BalanceSummary) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.balances = append(n.balances, b)
}

func (n *recordingNotifier) BalanceFailure(_ context.Context, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.balanceFx = append(n.balanceFx, err)
}

type recordingRecorder struct {
	mu   sync.Mutex
	runs map[string][]bool
}

func (r *recordingRecorder) JobDone(job string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runs == nil {
		r.runs = map[string][]bool{}
	}
	r.runs[job] = append(r.runs[job], ok)
}

func newRunner(gw orchestrator.Gateway, enabled bool) (*Runner, *recordingNotifier, *recordingRecorder) {
	cfg := config.Default().Scheduler
	cfg.Enabled = enabled
	n := &recordingNotifier{}
	rec := &recordingRecorder{}
	return NewRunner(orchestrator.New(gw, cfg), n, rec), n, rec
}

func TestRunnerDisabledJobsNotify(t *testing.T) {
	r, n, rec := newRunner(&marginGateway{}, false)
	ctx := context.Background()

	assert.Empty(t, r.All(ctx, kis.Demo))
	assert.Empty(t, r.Fallback(ctx, kis.Demo))

	assert.Equal(t, 1, n.weekly)
	assert.Equal(t, 1, n.monthly)
	assert.Equal(t, 1, n.fallback)
	assert.Equal(t, []bool{true}, rec.runs[JobWeekly])
	assert.Equal(t, []bool{true}, rec.runs[JobMonthly])
	assert.Equal(t, []bool{true}, rec.runs[JobFallback])
}

func TestRunnerBalance(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		gw := &marginGateway{margins: []overseas.ForeignMargin{
			{Currency: "KRW", Deposit: kis.NumberFromString("1000000")},
			{Currency: "USD", Deposit: kis.NumberFromString("100.5"), ExchangeRate: kis.NumberFromString("1400.7")},
		}}
		r, n, rec := newRunner(gw, true)

		bal, err := r.Balance(context.Background(), kis.Live)
		require.NoError(t, err)
		assert.Equal(t, "140770", bal.USDInKRW.String())
		assert.Equal(t, "1140770", bal.TotalKRW.String())
		require.Len(t, n.balances, 1)
		assert.Empty(t, n.balanceFx)
		assert.Equal(t, []bool{true}, rec.runs[JobBalance])
	})

	t.Run("failure", func(t *testing.T) {
		r, n, rec := newRunner(&marginGateway{err: errors.New("boom")}, true)

		_, err := r.Balance(context.Background(), kis.Live)
		require.Error(t, err)
		assert.Empty(t, n.balances)
		require.Len(t, n.balanceFx, 1)
		assert.Equal(t, []bool{false}, rec.runs[JobBalance])
	})
}

func TestRegister(t *testing.T) {
	s, err := New("Asia/Seoul")
	require.NoError(t, err)
	r, _, _ := newRunner(&marginGateway{}, true)

	cfg := config.Default().Scheduler
	cfg.BalanceCron = ""
	require.NoError(t, r.Register(s, cfg, kis.Demo))

	names := map[string]bool{}
	for _, e := range s.Entries() {
		names[e.Name] = true
	}
	assert.Equal(t, map[string]bool{JobWeekly: true, JobMonthly: true, JobFallback: true}, names)

	cfg.WeeklyCron = "nope"
	assert.Error(t, r.Register(s, cfg, kis.Demo))
}
