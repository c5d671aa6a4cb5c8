package upstream

import (
	"context"
	"time"
)

// RetryPolicy 声明重试上限与退避间隔。只有 Transient 结局会被重试，
// NotFound/RateLimited/Fatal 都是确定性结论，重试没有意义。
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// FetchWithRetry 对一批 id 执行抓取，并对其中的 Transient 结局按策略重试。
// 非 Transient 的结局在首次出现时即固定；重试只针对仍为 Transient 的子集。
// 返回值保证与 ids 等长且按原始顺序对应。
func FetchWithRetry(ctx context.Context, policy RetryPolicy, fetcher Fetcher, ids []string) []Outcome {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	settled := make(map[string]Outcome, len(ids))
	pending := ids

	for attempt := 0; attempt < attempts && len(pending) > 0; attempt++ {
		if attempt > 0 && policy.Backoff > 0 {
			if !sleepContext(ctx, policy.Backoff) {
				break
			}
		}

		outcomes := fetcher.Fetch(ctx, pending)
		next := pending[:0:0]
		for _, out := range outcomes {
			if out.Kind == KindTransient && attempt < attempts-1 {
				// 最后一轮之前的 Transient 保留重试资格
				settled[out.ID] = out
				next = append(next, out.ID)
				continue
			}
			settled[out.ID] = out
		}
		pending = next

		if ctx.Err() != nil {
			break
		}
	}

	result := make([]Outcome, 0, len(ids))
	for _, id := range ids {
		if out, ok := settled[id]; ok {
			result = append(result, out)
			continue
		}
		result = append(result, Transient(id, ctx.Err()))
	}
	return result
}

// sleepContext 等待指定时长，上下文取消时提前返回 false。
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
