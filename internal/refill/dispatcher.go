package refill

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/modmirror/modmirror/internal/store"
)

// Dispatcher 维护每个类别的在途集合，保证同一 (class, id) 同时至多
// 一次上游抓取。Request 对调用方是 fire-and-forget：立即返回，绝不抛错。
type Dispatcher struct {
	logger *logrus.Logger
	pool   Submitter
	chunk  int
	now    func() time.Time

	mu       sync.Mutex
	inflight map[store.Class]map[string]struct{}
}

// NewDispatcher 构建调度器。chunkSize 决定批量请求拆分为多大的抓取任务，
// 以适配上游的 multi-fetch 接口。
func NewDispatcher(logger *logrus.Logger, pool Submitter, chunkSize int) *Dispatcher {
	if chunkSize <= 0 {
		chunkSize = 50
	}
	return &Dispatcher{
		logger:   logger,
		pool:     pool,
		chunk:    chunkSize,
		now:      time.Now,
		inflight: make(map[store.Class]map[string]struct{}),
	}
}

// Request 为尚未在途的 id 提交回填任务。重复请求直接丢弃而不是排队两次；
// 单个分片投递失败（队列饱和）不影响其余分片继续提交。
func (d *Dispatcher) Request(class store.Class, ids []string) {
	fresh := d.claim(class, ids)
	if len(fresh) == 0 {
		return
	}

	for start := 0; start < len(fresh); start += d.chunk {
		end := start + d.chunk
		if end > len(fresh) {
			end = len(fresh)
		}
		chunk := fresh[start:end]

		job := Job{
			Class:       class,
			IDs:         chunk,
			RequestedAt: d.now(),
			Done: func() {
				d.release(class, chunk)
			},
		}
		if !d.pool.Submit(job) {
			d.release(class, chunk)
			d.logger.WithFields(logrus.Fields{
				"action": "refill_dropped",
				"class":  class,
				"count":  len(chunk),
			}).Warn("refill_queue_full")
		}
	}
}

// claim 过滤掉已在途的 id 并为其余 id 打上在途标记，返回实际认领的集合。
func (d *Dispatcher) claim(class store.Class, ids []string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	set := d.inflight[class]
	if set == nil {
		set = make(map[string]struct{})
		d.inflight[class] = set
	}

	fresh := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, busy := set[id]; busy {
			continue
		}
		set[id] = struct{}{}
		fresh = append(fresh, id)
	}
	return fresh
}

func (d *Dispatcher) release(class store.Class, ids []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	set := d.inflight[class]
	if set == nil {
		return
	}
	for _, id := range ids {
		delete(set, id)
	}
}

// InFlight 报告某 id 是否有在途抓取，主要供诊断接口与测试使用。
func (d *Dispatcher) InFlight(class store.Class, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	set := d.inflight[class]
	if set == nil {
		return false
	}
	_, busy := set[id]
	return busy
}

// Stats 返回每个类别当前的在途数量快照。
func (d *Dispatcher) Stats() map[store.Class]int {
	d.mu.Lock()
	defer d.mu.Unlock()

	snapshot := make(map[store.Class]int, len(d.inflight))
	for class, set := range d.inflight {
		if len(set) > 0 {
			snapshot[class] = len(set)
		}
	}
	return snapshot
}
