// Package routes 实现镜像的业务路由。每个读接口遵循同一条链路：
// 查存储 → 评估新鲜度 → 为缺失/过期条目触发回填 → 按可信度封装应答，
// 全程不等待上游网络。
package routes

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/modmirror/modmirror/internal/config"
	"github.com/modmirror/modmirror/internal/freshness"
	"github.com/modmirror/modmirror/internal/server"
	"github.com/modmirror/modmirror/internal/store"
)

// Refiller 是后台回填入口，由 refill.Dispatcher 实现。
type Refiller interface {
	Request(class store.Class, ids []string)
}

// Deps 汇总路由处理器的共享依赖。
type Deps struct {
	Logger    *logrus.Logger
	Store     store.Store
	Refill    Refiller
	TTL       config.TTLConfig
	Responder *server.Responder

	// Now 可注入假时钟，默认 time.Now。
	Now func() time.Time
}

func (d Deps) clock() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) ttlFunc(rec store.Record) time.Duration {
	return d.TTL.ForRecord(rec)
}

func (d Deps) requestContext(c fiber.Ctx) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// singleRead 处理单条实体读取。新鲜的负缓存标记直接按未缓存应答，
// 不再打扰上游；过期标记会触发一次重新抓取。
func (d Deps) singleRead(c fiber.Ctx, class store.Class, id string) error {
	rec, err := d.Store.FindByID(d.requestContext(c), class, id)
	if errors.Is(err, store.ErrNotFound) {
		d.Refill.Request(class, []string{id})
		return d.Responder.Uncached(c)
	}
	if err != nil {
		return d.storageFailure(c, class, err)
	}

	eval := freshness.Evaluate([]string{id}, []store.Record{*rec}, d.ttlFunc, d.clock())
	if need := eval.NeedsRefill(); len(need) > 0 {
		d.Refill.Request(class, need)
	}
	if rec.Negative() {
		return d.Responder.Uncached(c)
	}
	return d.Responder.Trustable(c, rec.Payload, eval.Trustable)
}

// batchRead 处理批量读取。部分命中时仍返回已有数据，但整体标记为不可信；
// 负缓存标记不进入应答正文。
func (d Deps) batchRead(c fiber.Ctx, class store.Class, ids []string) error {
	recs, err := d.Store.FindByIDs(d.requestContext(c), class, ids)
	if err != nil {
		return d.storageFailure(c, class, err)
	}

	eval := freshness.Evaluate(ids, recs, d.ttlFunc, d.clock())
	if need := eval.NeedsRefill(); len(need) > 0 {
		d.Refill.Request(class, need)
	}

	payload, trustable := positivePayloads(recs)
	if len(recs) == 0 {
		return d.Responder.Uncached(c)
	}
	return d.Responder.Trustable(c, payload, trustable && eval.Trustable)
}

// blobRead 处理 Tag 整包读取：blob 只在显式未命中时刷新，命中即视为可信。
func (d Deps) blobRead(c fiber.Ctx, class store.Class, key string) error {
	blob, err := d.Store.GetBlob(d.requestContext(c), class.Namespace(), key)
	if errors.Is(err, store.ErrNotFound) {
		d.Refill.Request(class, []string{key})
		return d.Responder.Uncached(c)
	}
	if err != nil {
		return d.storageFailure(c, class, err)
	}
	return d.Responder.Trustable(c, json.RawMessage(blob), true)
}

func (d Deps) storageFailure(c fiber.Ctx, class store.Class, err error) error {
	d.Logger.WithFields(logrus.Fields{
		"action":     "read",
		"class":      class,
		"request_id": server.RequestID(c),
		"error":      err.Error(),
	}).Error("storage_read_failed")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "storage_failure",
	})
}

// positivePayloads 过滤出带正文的记录，并报告是否全部为正向记录。
func positivePayloads(recs []store.Record) ([]json.RawMessage, bool) {
	payloads := make([]json.RawMessage, 0, len(recs))
	allPositive := true
	for _, rec := range recs {
		if rec.Negative() {
			allPositive = false
			continue
		}
		payloads = append(payloads, rec.Payload)
	}
	return payloads, allPositive
}
