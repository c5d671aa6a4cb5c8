package routes

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/modmirror/modmirror/internal/freshness"
	"github.com/modmirror/modmirror/internal/store"
)

// RegisterCurseforgeRoutes 挂载 /curseforge 路由组。
func RegisterCurseforgeRoutes(app *fiber.App, deps Deps) {
	group := app.Group("/curseforge")

	group.Get("/mods/:modId", func(c fiber.Ctx) error {
		id, ok := numericParam(c, "modId")
		if !ok {
			return badRequest(c, "invalid_mod_id")
		}
		return deps.singleRead(c, store.ClassCurseforgeMod, id)
	})

	group.Post("/mods", func(c fiber.Ctx) error {
		var req struct {
			ModIDs []int64 `json:"modIds"`
		}
		if err := json.Unmarshal(c.Body(), &req); err != nil || len(req.ModIDs) == 0 {
			return badRequest(c, "invalid_request_body")
		}
		return deps.batchRead(c, store.ClassCurseforgeMod, int64sToStrings(req.ModIDs))
	})

	group.Get("/mods/:modId/files", func(c fiber.Ctx) error {
		id, ok := numericParam(c, "modId")
		if !ok {
			return badRequest(c, "invalid_mod_id")
		}
		return deps.curseforgeModFiles(c, id)
	})

	group.Post("/mods/files", func(c fiber.Ctx) error {
		var req struct {
			FileIDs []int64 `json:"fileIds"`
		}
		if err := json.Unmarshal(c.Body(), &req); err != nil || len(req.FileIDs) == 0 {
			return badRequest(c, "invalid_request_body")
		}
		return deps.batchRead(c, store.ClassCurseforgeFile, int64sToStrings(req.FileIDs))
	})

	group.Get("/mods/:modId/files/:fileId", func(c fiber.Ctx) error {
		if _, ok := numericParam(c, "modId"); !ok {
			return badRequest(c, "invalid_mod_id")
		}
		fileID, ok := numericParam(c, "fileId")
		if !ok {
			return badRequest(c, "invalid_file_id")
		}
		return deps.singleRead(c, store.ClassCurseforgeFile, fileID)
	})

	group.Post("/fingerprints", func(c fiber.Ctx) error {
		var req struct {
			Fingerprints []int64 `json:"fingerprints"`
		}
		if err := json.Unmarshal(c.Body(), &req); err != nil || len(req.Fingerprints) == 0 {
			return badRequest(c, "invalid_request_body")
		}
		return deps.curseforgeFingerprints(c, req.Fingerprints)
	})

	group.Get("/categories", func(c fiber.Ctx) error {
		return deps.blobRead(c, store.ClassCurseforgeTag, "categories")
	})
}

// curseforgeModFiles 从 mod 记录内嵌的 latestFiles 返回文件列表，
// 并顺带评估独立的文件记录，让文件类别的缓存保持温热。
func (d Deps) curseforgeModFiles(c fiber.Ctx, modID string) error {
	rec, err := d.Store.FindByID(d.requestContext(c), store.ClassCurseforgeMod, modID)
	if errors.Is(err, store.ErrNotFound) {
		d.Refill.Request(store.ClassCurseforgeMod, []string{modID})
		return d.Responder.Uncached(c)
	}
	if err != nil {
		return d.storageFailure(c, store.ClassCurseforgeMod, err)
	}

	eval := freshness.Evaluate([]string{modID}, []store.Record{*rec}, d.ttlFunc, d.clock())
	if need := eval.NeedsRefill(); len(need) > 0 {
		d.Refill.Request(store.ClassCurseforgeMod, need)
	}
	if rec.Negative() {
		return d.Responder.Uncached(c)
	}

	var payload struct {
		LatestFiles []json.RawMessage `json:"latestFiles"`
	}
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return d.storageFailure(c, store.ClassCurseforgeMod, err)
	}

	if fileIDs := embeddedIDs(payload.LatestFiles); len(fileIDs) > 0 {
		d.refreshStale(c, store.ClassCurseforgeFile, fileIDs)
	}
	if payload.LatestFiles == nil {
		payload.LatestFiles = []json.RawMessage{}
	}
	return d.Responder.Trustable(c, payload.LatestFiles, eval.Trustable)
}

// curseforgeFingerprints 按指纹集合返回匹配结果。确认不存在的指纹
// 进入 unmatchedFingerprints；零记录命中时整体不可信。
func (d Deps) curseforgeFingerprints(c fiber.Ctx, fingerprints []int64) error {
	ids := int64sToStrings(fingerprints)
	recs, err := d.Store.FindByIDs(d.requestContext(c), store.ClassCurseforgeFingerprint, ids)
	if err != nil {
		return d.storageFailure(c, store.ClassCurseforgeFingerprint, err)
	}

	eval := freshness.EvaluateAbsence(ids, recs, d.ttlFunc, d.clock())
	if need := eval.NeedsRefill(); len(need) > 0 {
		d.Refill.Request(store.ClassCurseforgeFingerprint, need)
	}

	exact := make(map[string]struct{}, len(recs))
	matches := fingerprintMatchesPayload{
		IsCacheBuilt:          len(recs) > 0,
		ExactFingerprints:     []int64{},
		ExactMatches:          []json.RawMessage{},
		UnmatchedFingerprints: []int64{},
		InstalledFingerprints: []int64{},
	}
	for _, rec := range recs {
		if rec.Negative() {
			continue
		}
		value, err := strconv.ParseInt(rec.ID, 10, 64)
		if err != nil {
			continue
		}
		exact[rec.ID] = struct{}{}
		matches.ExactFingerprints = append(matches.ExactFingerprints, value)
		matches.ExactMatches = append(matches.ExactMatches, rec.Payload)
	}
	seen := make(map[string]struct{}, len(ids))
	for i, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := exact[id]; !ok {
			matches.UnmatchedFingerprints = append(matches.UnmatchedFingerprints, fingerprints[i])
		}
	}

	return d.Responder.Trustable(c, matches, eval.Trustable)
}

type fingerprintMatchesPayload struct {
	IsCacheBuilt          bool              `json:"isCacheBuilt"`
	ExactFingerprints     []int64           `json:"exactFingerprints"`
	ExactMatches          []json.RawMessage `json:"exactMatches"`
	UnmatchedFingerprints []int64           `json:"unmatchedFingerprints"`
	InstalledFingerprints []int64           `json:"installedFingerprints"`
}

// refreshStale 评估一组衍生记录并只为缺失/过期的部分触发回填。
func (d Deps) refreshStale(c fiber.Ctx, class store.Class, ids []string) {
	recs, err := d.Store.FindByIDs(d.requestContext(c), class, ids)
	if err != nil {
		return
	}
	eval := freshness.Evaluate(ids, recs, d.ttlFunc, d.clock())
	if need := eval.NeedsRefill(); len(need) > 0 {
		d.Refill.Request(class, need)
	}
}

// embeddedIDs 提取内嵌 JSON 对象的数字 id 字段。
func embeddedIDs(items []json.RawMessage) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		var head struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(item, &head); err != nil || head.ID == 0 {
			continue
		}
		ids = append(ids, strconv.FormatInt(head.ID, 10))
	}
	return ids
}

func numericParam(c fiber.Ctx, name string) (string, bool) {
	raw := c.Params(name)
	if _, err := strconv.ParseInt(raw, 10, 64); err != nil {
		return "", false
	}
	return raw, true
}

func badRequest(c fiber.Ctx, reason string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": reason,
	})
}

func int64sToStrings(values []int64) []string {
	result := make([]string, 0, len(values))
	for _, v := range values {
		result = append(result, strconv.FormatInt(v, 10))
	}
	return result
}
