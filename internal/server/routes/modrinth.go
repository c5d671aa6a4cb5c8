package routes

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/modmirror/modmirror/internal/freshness"
	"github.com/modmirror/modmirror/internal/store"
)

// modrinthTagKinds 是 /modrinth/tag/:kind 接受的类别白名单。
var modrinthTagKinds = map[string]struct{}{
	"category":          {},
	"loader":            {},
	"game_version":      {},
	"donation_platform": {},
	"project_type":      {},
	"side_type":         {},
}

// RegisterModrinthRoutes 挂载 /modrinth 路由组。id 与 slug 等价使用，
// 记录按请求时的键存储。
func RegisterModrinthRoutes(app *fiber.App, deps Deps) {
	group := app.Group("/modrinth")

	group.Get("/project/:idslug", func(c fiber.Ctx) error {
		return deps.singleRead(c, store.ClassModrinthProject, c.Params("idslug"))
	})

	group.Get("/projects", func(c fiber.Ctx) error {
		ids, ok := queryIDList(c)
		if !ok {
			return badRequest(c, "invalid_ids_query")
		}
		return deps.batchRead(c, store.ClassModrinthProject, ids)
	})

	group.Get("/project/:idslug/version", func(c fiber.Ctx) error {
		return deps.modrinthProjectVersions(c, c.Params("idslug"))
	})

	group.Get("/version/:id", func(c fiber.Ctx) error {
		return deps.singleRead(c, store.ClassModrinthVersion, c.Params("id"))
	})

	group.Get("/versions", func(c fiber.Ctx) error {
		ids, ok := queryIDList(c)
		if !ok {
			return badRequest(c, "invalid_ids_query")
		}
		return deps.batchRead(c, store.ClassModrinthVersion, ids)
	})

	group.Get("/version_file/:hash", func(c fiber.Ctx) error {
		return deps.modrinthVersionFile(c, c.Params("hash"))
	})

	group.Post("/version_files", func(c fiber.Ctx) error {
		var req struct {
			Hashes    []string `json:"hashes"`
			Algorithm string   `json:"algorithm"`
		}
		if err := json.Unmarshal(c.Body(), &req); err != nil || len(req.Hashes) == 0 {
			return badRequest(c, "invalid_request_body")
		}
		return deps.modrinthVersionFiles(c, req.Hashes)
	})

	group.Get("/tag/:kind", func(c fiber.Ctx) error {
		kind := c.Params("kind")
		if _, ok := modrinthTagKinds[kind]; !ok {
			return badRequest(c, "invalid_tag_kind")
		}
		return deps.blobRead(c, store.ClassModrinthTag, kind)
	})
}

// modrinthProjectVersions 沿项目记录内嵌的 versions 列表展开版本详情。
// 项目缺失时先回填项目本身，版本详情再经常规链路补齐。
func (d Deps) modrinthProjectVersions(c fiber.Ctx, idslug string) error {
	rec, err := d.Store.FindByID(d.requestContext(c), store.ClassModrinthProject, idslug)
	if errors.Is(err, store.ErrNotFound) {
		d.Refill.Request(store.ClassModrinthProject, []string{idslug})
		return d.Responder.Uncached(c)
	}
	if err != nil {
		return d.storageFailure(c, store.ClassModrinthProject, err)
	}

	projectEval := freshness.Evaluate([]string{idslug}, []store.Record{*rec}, d.ttlFunc, d.clock())
	if need := projectEval.NeedsRefill(); len(need) > 0 {
		d.Refill.Request(store.ClassModrinthProject, need)
	}
	if rec.Negative() {
		return d.Responder.Uncached(c)
	}

	var payload struct {
		Versions []string `json:"versions"`
	}
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return d.storageFailure(c, store.ClassModrinthProject, err)
	}
	if len(payload.Versions) == 0 {
		return d.Responder.Trustable(c, []json.RawMessage{}, projectEval.Trustable)
	}

	recs, err := d.Store.FindByIDs(d.requestContext(c), store.ClassModrinthVersion, payload.Versions)
	if err != nil {
		return d.storageFailure(c, store.ClassModrinthVersion, err)
	}
	versionEval := freshness.Evaluate(payload.Versions, recs, d.ttlFunc, d.clock())
	if need := versionEval.NeedsRefill(); len(need) > 0 {
		d.Refill.Request(store.ClassModrinthVersion, need)
	}
	if len(recs) == 0 {
		return d.Responder.Uncached(c)
	}

	versions, allPositive := positivePayloads(recs)
	trustable := projectEval.Trustable && versionEval.Trustable && allPositive
	return d.Responder.Trustable(c, versions, trustable)
}

// modrinthVersionFile 按文件哈希返回对应版本。哈希记录本身永不过期，
// 可信度跟随链上的版本记录：版本缺失按未缓存应答，版本陈旧则标记不可信。
func (d Deps) modrinthVersionFile(c fiber.Ctx, hash string) error {
	rec, err := d.Store.FindByID(d.requestContext(c), store.ClassModrinthFileHash, hash)
	if errors.Is(err, store.ErrNotFound) {
		d.Refill.Request(store.ClassModrinthFileHash, []string{hash})
		return d.Responder.Uncached(c)
	}
	if err != nil {
		return d.storageFailure(c, store.ClassModrinthFileHash, err)
	}
	if rec.Negative() {
		eval := freshness.Evaluate([]string{hash}, []store.Record{*rec}, d.ttlFunc, d.clock())
		if need := eval.NeedsRefill(); len(need) > 0 {
			d.Refill.Request(store.ClassModrinthFileHash, need)
		}
		return d.Responder.Uncached(c)
	}

	trustable := true
	var version struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Payload, &version); err == nil && version.ID != "" {
		vrec, err := d.Store.FindByID(d.requestContext(c), store.ClassModrinthVersion, version.ID)
		if errors.Is(err, store.ErrNotFound) {
			d.Refill.Request(store.ClassModrinthVersion, []string{version.ID})
			return d.Responder.Uncached(c)
		}
		if err != nil {
			return d.storageFailure(c, store.ClassModrinthVersion, err)
		}
		eval := freshness.Evaluate([]string{version.ID}, []store.Record{*vrec}, d.ttlFunc, d.clock())
		if need := eval.NeedsRefill(); len(need) > 0 {
			d.Refill.Request(store.ClassModrinthVersion, need)
		}
		trustable = eval.Trustable && !vrec.Negative()
	}
	return d.Responder.Trustable(c, rec.Payload, trustable)
}

// modrinthVersionFiles 批量哈希查询，返回 hash → 版本 的映射。
// 全部未命中时按未缓存应答，部分命中时返回已有映射并标记不可信。
func (d Deps) modrinthVersionFiles(c fiber.Ctx, hashes []string) error {
	recs, err := d.Store.FindByIDs(d.requestContext(c), store.ClassModrinthFileHash, hashes)
	if err != nil {
		return d.storageFailure(c, store.ClassModrinthFileHash, err)
	}

	eval := freshness.Evaluate(hashes, recs, d.ttlFunc, d.clock())
	if need := eval.NeedsRefill(); len(need) > 0 {
		d.Refill.Request(store.ClassModrinthFileHash, need)
	}
	if len(recs) == 0 {
		return d.Responder.Uncached(c)
	}

	matched := make(map[string]json.RawMessage, len(recs))
	allPositive := true
	for _, rec := range recs {
		if rec.Negative() {
			allPositive = false
			continue
		}
		matched[rec.ID] = rec.Payload
	}
	return d.Responder.Trustable(c, matched, eval.Trustable && allPositive)
}

// queryIDList 解析 Modrinth 风格的 ids 查询参数（JSON 数组字符串）。
func queryIDList(c fiber.Ctx) ([]string, bool) {
	raw := c.Request().URI().QueryArgs().Peek("ids")
	if len(raw) == 0 {
		return nil, false
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil || len(ids) == 0 {
		return nil, false
	}
	return ids, true
}
