package scheduler

import (
	"sort"
	"sync"
	"time"
)

// JobRun 单个任务的累计执行记录，进程重启后清零
type JobRun struct {
	Job        string    `json:"job"`
	LastRun    time.Time `json:"lastRun"`
	LastOK     bool      `json:"lastOk"`
	Runs       int       `json:"runs"`
	Failures   int       `json:"failures"`
	LastFailed time.Time `json:"lastFailed,omitempty"`
}

// History 记录每个任务最近一次执行结果
type History struct {
	mu   sync.Mutex
	runs map[string]*JobRun
	now  func() time.Time
}

// NewHistory 创建空记录
func NewHistory() *History {
	return &History{runs: make(map[string]*JobRun), now: time.Now}
}

// JobDone 实现 Recorder
func (h *History) JobDone(job string, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.runs[job]
	if r == nil {
		r = &JobRun{Job: job}
		h.runs[job] = r
	}
	now := h.now()
	r.LastRun = now
	r.LastOK = ok
	r.Runs++
	if !ok {
		r.Failures++
		r.LastFailed = now
	}
}

// Snapshot 按任务名排序
func (h *History) Snapshot() []JobRun {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]JobRun, 0, len(h.runs))
	for _, r := range h.runs {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}

// Recorders 把多个 Recorder 合成一个
type Recorders []Recorder

// JobDone 依次调用
func (rs Recorders) JobDone(job string, ok bool) {
	for _, r := range rs {
		if r != nil {
			r.JobDone(job, ok)
		}
	}
}
