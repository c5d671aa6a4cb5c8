// Package upstream 封装对 CurseForge / Modrinth 两个上游目录的访问。
// 每次抓取以带类型的 Outcome 返回，由同步引擎按类别分支处理，
// 而不是在调用链上抛错误。
package upstream

import (
	"context"
	"encoding/json"
	"net/http"
)

// Kind 标识一次上游抓取的结局类别。
type Kind int

const (
	KindSuccess Kind = iota
	KindNotFound
	KindRateLimited
	KindTransient
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	}
	return "unknown"
}

// Outcome 是一次抓取的完整结论。Status 对非成功结局保留上游应答码，
// 用于写入负缓存标记；Err 仅在 Transient/Fatal 时存在。
type Outcome struct {
	Kind    Kind
	ID      string
	Status  int
	Payload json.RawMessage
	Err     error
}

// Success 构建成功结局，payload 为上游返回的不透明记录。
func Success(id string, payload json.RawMessage) Outcome {
	return Outcome{Kind: KindSuccess, ID: id, Status: http.StatusOK, Payload: payload}
}

// NotFound 表示上游确认该 id 不存在。
func NotFound(id string, status int) Outcome {
	if status == 0 {
		status = http.StatusNotFound
	}
	return Outcome{Kind: KindNotFound, ID: id, Status: status}
}

// RateLimited 表示上游触发限流（403/429），整池需要进入冷却。
func RateLimited(id string, status int) Outcome {
	return Outcome{Kind: KindRateLimited, ID: id, Status: status}
}

// Transient 表示可重试的临时故障：超时、网络错误、解码失败。
func Transient(id string, err error) Outcome {
	return Outcome{Kind: KindTransient, ID: id, Err: err}
}

// Fatal 表示未预期的错误，跳过该条目但不中断池运行。
func Fatal(id string, err error) Outcome {
	return Outcome{Kind: KindFatal, ID: id, Err: err}
}

// Fetcher 按类别抓取一批 id。实现必须为每个请求的 id 恰好返回一个 Outcome，
// 不得静默丢弃任何条目。
type Fetcher interface {
	Fetch(ctx context.Context, ids []string) []Outcome
}

// FetcherFunc 将函数适配为 Fetcher。
type FetcherFunc func(ctx context.Context, ids []string) []Outcome

// Fetch 使 FetcherFunc 满足 Fetcher。
func (f FetcherFunc) Fetch(ctx context.Context, ids []string) []Outcome {
	return f(ctx, ids)
}

// Page 是一次分页列举的结果。
type Page struct {
	IDs   []string
	Total int
}

// Pager 抽象支持 search/browse 的上游目录，供全量回填任务驱动。
type Pager interface {
	Page(ctx context.Context, offset, limit int) (Page, error)
}
