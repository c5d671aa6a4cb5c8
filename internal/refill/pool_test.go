package refill

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/modmirror/modmirror/internal/store"
	"github.com/modmirror/modmirror/internal/upstream"
)

// scriptedFetcher 按 id 返回预设结局，并记录每个 id 被抓取的次数。
type scriptedFetcher struct {
	mu       sync.Mutex
	outcomes map[string]upstream.Outcome
	calls    map[string]int
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		outcomes: make(map[string]upstream.Outcome),
		calls:    make(map[string]int),
	}
}

func (f *scriptedFetcher) set(id string, out upstream.Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes[id] = out
}

func (f *scriptedFetcher) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *scriptedFetcher) Fetch(ctx context.Context, ids []string) []upstream.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := make([]upstream.Outcome, 0, len(ids))
	for _, id := range ids {
		f.calls[id]++
		if out, ok := f.outcomes[id]; ok {
			result = append(result, out)
			continue
		}
		result = append(result, upstream.Fatal(id, errors.New("unscripted id")))
	}
	return result
}

// startPool 启动池并返回投递函数与停止函数。投递函数阻塞至任务完成。
func startPool(t *testing.T, s store.Store, fetchers map[store.Class]upstream.Fetcher, cooldown time.Duration) (func(Job) time.Time, func()) {
	t.Helper()

	pool := NewPool(PoolOptions{
		Name:        "test",
		Logger:      quietLogger(),
		Store:       s,
		Fetchers:    fetchers,
		Concurrency: 2,
		QueueSize:   16,
		Retry:       upstream.RetryPolicy{MaxAttempts: 3},
		Cooldown:    cooldown,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	runJob := func(job Job) time.Time {
		finished := make(chan struct{})
		job.Done = func() { close(finished) }
		if !pool.Submit(job) {
			t.Fatalf("任务投递失败")
		}
		select {
		case <-finished:
		case <-time.After(5 * time.Second):
			t.Fatalf("任务超时未完成")
		}
		return time.Now()
	}

	stop := func() {
		cancel()
		<-done
	}
	return runJob, stop
}

func TestPoolWritesSuccessRecord(t *testing.T) {
	s := store.NewMemStore()
	fetcher := newScriptedFetcher()
	fetcher.set("1010", upstream.Success("1010", json.RawMessage(`{"name":"sample"}`)))

	runJob, stop := startPool(t, s, map[store.Class]upstream.Fetcher{store.ClassCurseforgeMod: fetcher}, time.Minute)
	defer stop()

	runJob(Job{Class: store.ClassCurseforgeMod, IDs: []string{"1010"}})

	rec, err := s.FindByID(context.Background(), store.ClassCurseforgeMod, "1010")
	if err != nil {
		t.Fatalf("记录未写入: %v", err)
	}
	if rec.Status != 200 || string(rec.Payload) != `{"name":"sample"}` {
		t.Fatalf("记录内容错误: %+v", rec)
	}
	if rec.SyncedAt.IsZero() {
		t.Fatalf("synced_at 未设置")
	}
}

func TestPoolWritesNegativeMarkerOnNotFound(t *testing.T) {
	s := store.NewMemStore()
	fetcher := newScriptedFetcher()
	fetcher.set("404", upstream.NotFound("404", 404))

	runJob, stop := startPool(t, s, map[store.Class]upstream.Fetcher{store.ClassCurseforgeMod: fetcher}, time.Minute)
	defer stop()

	runJob(Job{Class: store.ClassCurseforgeMod, IDs: []string{"404"}})

	rec, err := s.FindByID(context.Background(), store.ClassCurseforgeMod, "404")
	if err != nil {
		t.Fatalf("负缓存标记未写入: %v", err)
	}
	if !rec.Negative() || rec.Status != 404 || len(rec.Payload) != 0 {
		t.Fatalf("负缓存标记内容错误: %+v", rec)
	}
}

func TestPoolRetriesTransientThenRecordsFailure(t *testing.T) {
	s := store.NewMemStore()
	fetcher := newScriptedFetcher()
	fetcher.set("9", upstream.Transient("9", errors.New("timeout")))

	runJob, stop := startPool(t, s, map[store.Class]upstream.Fetcher{store.ClassCurseforgeMod: fetcher}, time.Minute)
	defer stop()

	runJob(Job{Class: store.ClassCurseforgeMod, IDs: []string{"9"}})

	if got := fetcher.callCount("9"); got != 3 {
		t.Fatalf("Transient 应重试到上限 3 次，实际 %d 次", got)
	}
	rec, err := s.FindByID(context.Background(), store.ClassCurseforgeMod, "9")
	if err != nil {
		t.Fatalf("失败标记未写入: %v", err)
	}
	if rec.Status != 0 {
		t.Fatalf("临时失败标记应记为状态 0: %+v", rec)
	}
}

func TestPoolSkipsFatalWithoutWrite(t *testing.T) {
	s := store.NewMemStore()
	fetcher := newScriptedFetcher()
	fetcher.set("bad", upstream.Fatal("bad", errors.New("boom")))
	fetcher.set("good", upstream.Success("good", json.RawMessage(`{}`)))

	runJob, stop := startPool(t, s, map[store.Class]upstream.Fetcher{store.ClassModrinthProject: fetcher}, time.Minute)
	defer stop()

	runJob(Job{Class: store.ClassModrinthProject, IDs: []string{"bad", "good"}})

	if _, err := s.FindByID(context.Background(), store.ClassModrinthProject, "bad"); err != store.ErrNotFound {
		t.Fatalf("Fatal 条目不应写入存储: %v", err)
	}
	if _, err := s.FindByID(context.Background(), store.ClassModrinthProject, "good"); err != nil {
		t.Fatalf("一个条目失败不应拖累其他条目: %v", err)
	}
}

func TestPoolWritesBlobClasses(t *testing.T) {
	s := store.NewMemStore()
	fetcher := newScriptedFetcher()
	fetcher.set("loader", upstream.Success("loader", json.RawMessage(`[{"name":"fabric"}]`)))

	runJob, stop := startPool(t, s, map[store.Class]upstream.Fetcher{store.ClassModrinthTag: fetcher}, time.Minute)
	defer stop()

	runJob(Job{Class: store.ClassModrinthTag, IDs: []string{"loader"}})

	blob, err := s.GetBlob(context.Background(), "modrinth", "loader")
	if err != nil {
		t.Fatalf("Tag blob 未写入: %v", err)
	}
	if string(blob) != `[{"name":"fabric"}]` {
		t.Fatalf("blob 内容错误: %s", blob)
	}
}

func TestPoolRateLimitPausesOnlyOwnIntake(t *testing.T) {
	const cooldown = 150 * time.Millisecond

	s := store.NewMemStore()
	limited := newScriptedFetcher()
	limited.set("rl", upstream.RateLimited("rl", 403))
	limited.set("after", upstream.Success("after", json.RawMessage(`{}`)))

	runJob, stop := startPool(t, s, map[store.Class]upstream.Fetcher{store.ClassCurseforgeMod: limited}, cooldown)
	defer stop()

	first := runJob(Job{Class: store.ClassCurseforgeMod, IDs: []string{"rl"}})
	second := runJob(Job{Class: store.ClassCurseforgeMod, IDs: []string{"after"}})

	if elapsed := second.Sub(first); elapsed < cooldown-20*time.Millisecond {
		t.Fatalf("冷却期间不应消费后续任务，间隔仅 %v", elapsed)
	}

	// 其他池不受影响
	other := newScriptedFetcher()
	other.set("free", upstream.Success("free", json.RawMessage(`{}`)))
	runOther, stopOther := startPool(t, s, map[store.Class]upstream.Fetcher{store.ClassModrinthProject: other}, cooldown)
	defer stopOther()

	start := time.Now()
	runOther(Job{Class: store.ClassModrinthProject, IDs: []string{"free"}})
	if elapsed := time.Since(start); elapsed > cooldown {
		t.Fatalf("独立池不应被其他池的冷却拖慢: %v", elapsed)
	}
}

func TestPoolSubmitRejectsWhenQueueFull(t *testing.T) {
	pool := NewPool(PoolOptions{
		Name:      "full",
		Logger:    quietLogger(),
		Store:     store.NewMemStore(),
		Fetchers:  nil,
		QueueSize: 1,
	})

	if !pool.Submit(Job{Class: store.ClassCurseforgeMod, IDs: []string{"1"}}) {
		t.Fatalf("首个任务应投递成功")
	}
	if pool.Submit(Job{Class: store.ClassCurseforgeMod, IDs: []string{"2"}}) {
		t.Fatalf("队列满时应拒绝投递")
	}
}
