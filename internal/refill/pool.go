package refill

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/modmirror/modmirror/internal/logging"
	"github.com/modmirror/modmirror/internal/store"
	"github.com/modmirror/modmirror/internal/upstream"
)

// Pool 是同步引擎：有限并发地消费回填任务，访问上游并把结果
// 幂等写回存储。它是 synced 记录的唯一写入方。
//
// 每个上游目录各建一个 Pool，限流冷却只暂停本池的任务消费，
// 不影响读路径与其他池。
type Pool struct {
	name     string
	logger   *logrus.Logger
	store    store.Store
	fetchers map[store.Class]upstream.Fetcher
	policy   upstream.RetryPolicy
	cooldown time.Duration
	now      func() time.Time

	sem  *semaphore.Weighted
	jobs chan Job
	wg   sync.WaitGroup

	mu            sync.Mutex
	cooldownUntil time.Time
}

// PoolOptions 汇总构建 Pool 所需的全部依赖。
type PoolOptions struct {
	Name        string
	Logger      *logrus.Logger
	Store       store.Store
	Fetchers    map[store.Class]upstream.Fetcher
	Concurrency int
	QueueSize   int
	Retry       upstream.RetryPolicy
	Cooldown    time.Duration

	// Now 可注入假时钟，默认 time.Now。
	Now func() time.Time
}

// NewPool 构建同步引擎实例。
func NewPool(opts PoolOptions) *Pool {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Pool{
		name:     opts.Name,
		logger:   opts.Logger,
		store:    opts.Store,
		fetchers: opts.Fetchers,
		policy:   opts.Retry,
		cooldown: opts.Cooldown,
		now:      now,
		sem:      semaphore.NewWeighted(int64(concurrency)),
		jobs:     make(chan Job, queueSize),
	}
}

// Submit 非阻塞投递任务，队列已满时返回 false。
func (p *Pool) Submit(job Job) bool {
	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

// Run 持续消费任务直到上下文取消。取消时在途任务被放弃，
// 写入的原子性由存储层保证（见 store.Upsert），不会留下半条记录。
func (p *Pool) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			return
		case job := <-p.jobs:
			if !p.waitCooldown(ctx) {
				p.finish(job)
				p.wg.Wait()
				return
			}
			if err := p.sem.Acquire(ctx, 1); err != nil {
				p.finish(job)
				p.wg.Wait()
				return
			}
			p.wg.Add(1)
			go func(job Job) {
				defer p.wg.Done()
				defer p.sem.Release(1)
				p.process(ctx, job)
				p.finish(job)
			}(job)
		}
	}
}

func (p *Pool) finish(job Job) {
	if job.Done != nil {
		job.Done()
	}
}

// waitCooldown 在冷却窗口内暂停本池的任务消费。只阻塞 Run 循环本身，
// 其他池与读路径不受影响。返回 false 表示上下文已取消。
func (p *Pool) waitCooldown(ctx context.Context) bool {
	for {
		p.mu.Lock()
		remaining := p.cooldownUntil.Sub(p.now())
		p.mu.Unlock()

		if remaining <= 0 {
			return true
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

// triggerCooldown 在限流结局后把整池冷却到 now + cooldown。
// 上游限流是账号级的，因此这里按池而非按条目退避。
func (p *Pool) triggerCooldown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	until := p.now().Add(p.cooldown)
	if until.After(p.cooldownUntil) {
		p.cooldownUntil = until
	}
}

// CooldownUntil 返回当前冷却截止时间（零值表示未冷却），供诊断接口使用。
func (p *Pool) CooldownUntil() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cooldownUntil
}

// QueueLength 返回排队中的任务数快照。
func (p *Pool) QueueLength() int {
	return len(p.jobs)
}

func (p *Pool) process(ctx context.Context, job Job) {
	fetcher, ok := p.fetchers[job.Class]
	if !ok {
		p.logger.WithFields(logrus.Fields{
			"action": "sync",
			"pool":   p.name,
			"class":  job.Class,
		}).Error("sync_no_fetcher")
		return
	}

	outcomes := upstream.FetchWithRetry(ctx, p.policy, fetcher, job.IDs)
	for _, out := range outcomes {
		p.applyOutcome(ctx, job.Class, out)
	}
}

// applyOutcome 按结局类别分支。除 Success 外的每种结局也都有明确归宿：
// 负缓存写入、冷却、或记录后跳过，绝不静默丢弃。
func (p *Pool) applyOutcome(ctx context.Context, class store.Class, out upstream.Outcome) {
	fields := logging.SyncFields(p.name, class, out.ID)

	switch out.Kind {
	case upstream.KindSuccess:
		if err := p.persistSuccess(ctx, class, out); err != nil {
			fields["error"] = err.Error()
			p.logger.WithFields(fields).Error("sync_write_failed")
			return
		}
		p.logger.WithFields(fields).Info("sync_complete")

	case upstream.KindNotFound:
		if err := p.persistMarker(ctx, class, out.ID, out.Status); err != nil {
			fields["error"] = err.Error()
			p.logger.WithFields(fields).Error("sync_write_failed")
			return
		}
		fields["upstream_status"] = out.Status
		p.logger.WithFields(fields).Info("sync_not_found")

	case upstream.KindRateLimited:
		if err := p.persistMarker(ctx, class, out.ID, out.Status); err != nil {
			fields["error"] = err.Error()
			p.logger.WithFields(fields).Error("sync_write_failed")
		}
		p.triggerCooldown()
		fields["upstream_status"] = out.Status
		fields["cooldown"] = p.cooldown.String()
		p.logger.WithFields(fields).Warn("pool_cooldown")

	case upstream.KindTransient:
		// 重试已在抓取层耗尽，状态 0 表示超时/解码类故障
		if err := p.persistMarker(ctx, class, out.ID, 0); err != nil {
			fields["error"] = err.Error()
			p.logger.WithFields(fields).Error("sync_write_failed")
			return
		}
		if out.Err != nil {
			fields["error"] = out.Err.Error()
		}
		p.logger.WithFields(fields).Error("sync_transient_failed")

	case upstream.KindFatal:
		if out.Err != nil {
			fields["error"] = out.Err.Error()
		}
		p.logger.WithFields(fields).Error("sync_failed")
	}
}

func (p *Pool) persistSuccess(ctx context.Context, class store.Class, out upstream.Outcome) error {
	if class.Blob() {
		return p.store.SetBlob(ctx, class.Namespace(), out.ID, out.Payload)
	}
	return p.store.Upsert(ctx, store.Record{
		Class:    class,
		ID:       out.ID,
		Status:   out.Status,
		Payload:  out.Payload,
		SyncedAt: p.now().UTC(),
	})
}

// persistMarker 写入无正文的负缓存标记。Tag blob 不落标记：
// 整包数据宁缺毋滥，下一次未命中会再次触发刷新。
func (p *Pool) persistMarker(ctx context.Context, class store.Class, id string, status int) error {
	if class.Blob() {
		return nil
	}
	return p.store.Upsert(ctx, store.Record{
		Class:    class,
		ID:       id,
		Status:   status,
		SyncedAt: p.now().UTC(),
	})
}
