// Package crawl 实现全量回填任务：主动遍历上游目录的全部条目，
// 经 Dispatcher 提交给同步引擎。任务只负责枚举 id 并控制节奏，
// 抓取、重试与冷却仍由 Pool 统一处理。
package crawl

import (
	"context"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/modmirror/modmirror/internal/config"
	"github.com/modmirror/modmirror/internal/logging"
	"github.com/modmirror/modmirror/internal/store"
	"github.com/modmirror/modmirror/internal/upstream"
)

// Requester 是回填入口的最小抽象，由 refill.Dispatcher 实现。
type Requester interface {
	Request(class store.Class, ids []string)
}

// Options 汇总全量回填任务的依赖。Pager 为 nil 时跳过分页目录。
type Options struct {
	Logger     *logrus.Logger
	Dispatcher Requester
	Pager      upstream.Pager
	Crawl      config.CrawlConfig

	// Sleep 可注入假睡眠，默认按上下文感知方式等待。
	Sleep func(ctx context.Context, d time.Duration) error
}

// Runner 驱动一次全量回填。
type Runner struct {
	logger     *logrus.Logger
	dispatcher Requester
	pager      upstream.Pager
	cfg        config.CrawlConfig
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewRunner 构建全量回填任务。
func NewRunner(opts Options) *Runner {
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	if opts.Crawl.BatchSize <= 0 {
		opts.Crawl.BatchSize = 950
	}
	if opts.Crawl.PageSize <= 0 {
		opts.Crawl.PageSize = 100
	}
	return &Runner{
		logger:     opts.Logger,
		dispatcher: opts.Dispatcher,
		pager:      opts.Pager,
		cfg:        opts.Crawl,
		sleep:      sleep,
	}
}

// Run 并行驱动两个目录的全量回填，任一目录出错即取消另一个。
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.RunIDRange(ctx)
	})
	if r.pager != nil {
		g.Go(func() error {
			return r.RunPaged(ctx)
		})
	}
	return g.Wait()
}

// RunIDRange 按数字区间遍历 CurseForge 的 mod id 空间。
// 每批提交后停顿一个 BatchPause，避免持续压满上游配额。
func (r *Runner) RunIDRange(ctx context.Context) error {
	batch := 0
	for start := r.cfg.StartID; start < r.cfg.EndID; start += r.cfg.BatchSize {
		end := start + r.cfg.BatchSize
		if end > r.cfg.EndID {
			end = r.cfg.EndID
		}

		ids := make([]string, 0, end-start)
		for id := start; id < end; id++ {
			ids = append(ids, strconv.Itoa(id))
		}

		r.dispatcher.Request(store.ClassCurseforgeMod, ids)
		batch++
		r.logger.WithFields(logging.CrawlFields("curseforge", batch, len(ids))).Info("crawl_batch_submitted")

		if end >= r.cfg.EndID {
			break
		}
		if err := r.sleep(ctx, r.cfg.BatchPause.DurationValue()); err != nil {
			return err
		}
	}

	r.logger.WithFields(logging.CrawlFields("curseforge", batch, 0)).Info("crawl_finished")
	return nil
}

// RunPaged 通过 search 接口分页枚举 Modrinth 的全部项目。
// 上游只返回项目 id，详情抓取仍走常规回填链路。
func (r *Runner) RunPaged(ctx context.Context) error {
	offset := 0
	batch := 0
	for {
		page, err := r.pager.Page(ctx, offset, r.cfg.PageSize)
		if err != nil {
			// 单页失败不放弃整个任务，停顿后重试同一偏移
			r.logger.WithFields(logrus.Fields{
				"action":  "crawl",
				"catalog": "modrinth",
				"offset":  offset,
				"error":   err.Error(),
			}).Warn("crawl_page_failed")
			if err := r.sleep(ctx, r.cfg.BatchPause.DurationValue()); err != nil {
				return err
			}
			continue
		}

		if len(page.IDs) > 0 {
			r.dispatcher.Request(store.ClassModrinthProject, page.IDs)
			batch++
			r.logger.WithFields(logging.CrawlFields("modrinth", batch, len(page.IDs))).Info("crawl_batch_submitted")
		}

		offset += len(page.IDs)
		if len(page.IDs) == 0 || offset >= page.Total {
			break
		}
		if err := r.sleep(ctx, r.cfg.BatchPause.DurationValue()); err != nil {
			return err
		}
	}

	r.logger.WithFields(logging.CrawlFields("modrinth", batch, 0)).Info("crawl_finished")
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
