// Package freshness 是纯决策逻辑：给定请求 id 集合与已存记录，
// 判定哪些缺失、哪些过期、整体应答是否可信。无任何副作用，
// 结论仅供调度器与响应封装参考。
package freshness

import (
	"time"

	"github.com/modmirror/modmirror/internal/store"
)

// TTLFunc 返回单条记录生效的 TTL；0 表示永不自动过期。
type TTLFunc func(rec store.Record) time.Duration

// Result 汇总一次评估的结论。Missing 与 Expired 互不重叠：
// 缺失的 id 根本没有记录，过期的 id 有记录但超出 TTL。
type Result struct {
	Trustable bool
	Missing   []string
	Expired   []string
}

// NeedsRefill 返回需要提交给调度器的 id 全集（缺失 + 过期）。
func (r Result) NeedsRefill() []string {
	if len(r.Missing) == 0 {
		return r.Expired
	}
	if len(r.Expired) == 0 {
		return r.Missing
	}
	merged := make([]string, 0, len(r.Missing)+len(r.Expired))
	merged = append(merged, r.Missing...)
	merged = append(merged, r.Expired...)
	return merged
}

// Evaluate 按去重后的请求集合计算缺失/过期 id。
// 过期判定为 now - synced_at >= ttl，边界值按过期处理。
func Evaluate(requested []string, stored []store.Record, ttl TTLFunc, now time.Time) Result {
	distinct := make([]string, 0, len(requested))
	seen := make(map[string]struct{}, len(requested))
	for _, id := range requested {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		distinct = append(distinct, id)
	}

	byID := make(map[string]store.Record, len(stored))
	for _, rec := range stored {
		byID[rec.ID] = rec
	}

	result := Result{}
	for _, id := range distinct {
		rec, ok := byID[id]
		if !ok {
			result.Missing = append(result.Missing, id)
			continue
		}
		if limit := ttl(rec); limit > 0 && now.Sub(rec.SyncedAt) >= limit {
			result.Expired = append(result.Expired, id)
		}
	}

	result.Trustable = len(result.Missing) == 0 && len(result.Expired) == 0
	return result
}

// EvaluateAbsence 服务于指纹这类“确认不存在也是答案”的查询：
// 非空请求命中零条记录时强制不可信，因为空结果可能只是从未查询过，
// 而非上游确认不存在。
func EvaluateAbsence(requested []string, stored []store.Record, ttl TTLFunc, now time.Time) Result {
	result := Evaluate(requested, stored, ttl, now)
	if len(requested) > 0 && len(stored) == 0 {
		result.Trustable = false
	}
	return result
}
