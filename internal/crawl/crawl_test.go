package crawl

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/modmirror/modmirror/internal/config"
	"github.com/modmirror/modmirror/internal/store"
	"github.com/modmirror/modmirror/internal/upstream"
)

type recordedRequest struct {
	class store.Class
	ids   []string
}

type fakeRequester struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (f *fakeRequester) Request(class store.Class, ids []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, recordedRequest{class: class, ids: append([]string(nil), ids...)})
}

func (f *fakeRequester) all() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func TestRunIDRangeCoversWholeRange(t *testing.T) {
	requester := &fakeRequester{}
	runner := NewRunner(Options{
		Logger:     quietLogger(),
		Dispatcher: requester,
		Crawl: config.CrawlConfig{
			StartID:   10,
			EndID:     17,
			BatchSize: 3,
		},
		Sleep: noSleep,
	})

	if err := runner.RunIDRange(context.Background()); err != nil {
		t.Fatalf("RunIDRange 出错: %v", err)
	}

	requests := requester.all()
	if len(requests) != 3 {
		t.Fatalf("7 个 id 按 3 分批应为 3 批，得到 %d", len(requests))
	}
	if requests[0].class != store.ClassCurseforgeMod {
		t.Fatalf("类别错误: %v", requests[0].class)
	}

	var got []string
	for _, req := range requests {
		got = append(got, req.ids...)
	}
	want := []string{"10", "11", "12", "13", "14", "15", "16"}
	if len(got) != len(want) {
		t.Fatalf("覆盖范围不完整: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("第 %d 个 id 期望 %s 得到 %s", i, want[i], got[i])
		}
	}
}

func TestRunIDRangePausesBetweenBatches(t *testing.T) {
	var pauses int
	runner := NewRunner(Options{
		Logger:     quietLogger(),
		Dispatcher: &fakeRequester{},
		Crawl: config.CrawlConfig{
			StartID:    0,
			EndID:      9,
			BatchSize:  3,
			BatchPause: config.Duration(10 * time.Minute),
		},
		Sleep: func(ctx context.Context, d time.Duration) error {
			if d != 10*time.Minute {
				t.Fatalf("停顿时长错误: %v", d)
			}
			pauses++
			return nil
		},
	})

	if err := runner.RunIDRange(context.Background()); err != nil {
		t.Fatalf("RunIDRange 出错: %v", err)
	}
	// 3 批之间停顿 2 次，最后一批之后不再等待
	if pauses != 2 {
		t.Fatalf("期望停顿 2 次，实际 %d 次", pauses)
	}
}

func TestRunIDRangeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := NewRunner(Options{
		Logger:     quietLogger(),
		Dispatcher: &fakeRequester{},
		Crawl: config.CrawlConfig{
			StartID:    0,
			EndID:      100,
			BatchSize:  10,
			BatchPause: config.Duration(time.Second),
		},
		Sleep: noSleep,
	})

	if err := runner.RunIDRange(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("取消后应返回 context.Canceled: %v", err)
	}
}

type fakePager struct {
	pages []upstream.Page
	errs  []error
	calls int
}

func (f *fakePager) Page(ctx context.Context, offset, limit int) (upstream.Page, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return upstream.Page{}, f.errs[i]
	}
	if i >= len(f.pages) {
		return upstream.Page{}, nil
	}
	return f.pages[i], nil
}

func TestRunPagedWalksAllPages(t *testing.T) {
	requester := &fakeRequester{}
	pager := &fakePager{
		pages: []upstream.Page{
			{IDs: []string{"a", "b"}, Total: 5},
			{IDs: []string{"c", "d"}, Total: 5},
			{IDs: []string{"e"}, Total: 5},
		},
	}
	runner := NewRunner(Options{
		Logger:     quietLogger(),
		Dispatcher: requester,
		Pager:      pager,
		Crawl:      config.CrawlConfig{PageSize: 2},
		Sleep:      noSleep,
	})

	if err := runner.RunPaged(context.Background()); err != nil {
		t.Fatalf("RunPaged 出错: %v", err)
	}

	requests := requester.all()
	if len(requests) != 3 {
		t.Fatalf("应提交 3 页，得到 %d", len(requests))
	}
	if requests[0].class != store.ClassModrinthProject {
		t.Fatalf("类别错误: %v", requests[0].class)
	}
	if requests[2].ids[0] != "e" {
		t.Fatalf("最后一页内容错误: %v", requests[2].ids)
	}
}

func TestRunPagedRetriesFailedPage(t *testing.T) {
	requester := &fakeRequester{}
	pager := &fakePager{
		errs:  []error{errors.New("upstream 500")},
		pages: []upstream.Page{{}, {IDs: []string{"a"}, Total: 1}},
	}
	runner := NewRunner(Options{
		Logger:     quietLogger(),
		Dispatcher: requester,
		Pager:      pager,
		Crawl:      config.CrawlConfig{PageSize: 10},
		Sleep: func(ctx context.Context, d time.Duration) error {
			return nil
		},
	})

	if err := runner.RunPaged(context.Background()); err != nil {
		t.Fatalf("RunPaged 出错: %v", err)
	}
	if len(requester.all()) != 1 {
		t.Fatalf("失败页重试后应提交 1 页，得到 %d", len(requester.all()))
	}
	if pager.calls != 2 {
		t.Fatalf("应重试同一偏移，调用次数 %d", pager.calls)
	}
}
