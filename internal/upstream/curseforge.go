package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/modmirror/modmirror/internal/config"
)

// CurseforgeClient 访问 CurseForge 风格的上游目录。
// 认证通过静态 x-api-key 头完成，所有请求共享同一个 http.Client。
type CurseforgeClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewCurseforgeClient 根据上游配置构建客户端。
func NewCurseforgeClient(cfg config.UpstreamConfig) *CurseforgeClient {
	return &CurseforgeClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  NewHTTPClient(cfg),
	}
}

func (c *CurseforgeClient) headers() map[string]string {
	return map[string]string{"x-api-key": c.apiKey}
}

// dataEnvelope 对应 CurseForge 的 {"data": ...} 包装。
type dataEnvelope struct {
	Data json.RawMessage `json:"data"`
}

func (c *CurseforgeClient) get(ctx context.Context, path string) (json.RawMessage, error) {
	raw, err := apiRequest(ctx, c.client, http.MethodGet, c.baseURL+path, c.headers(), nil)
	if err != nil {
		return nil, err
	}
	var envelope dataEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

func (c *CurseforgeClient) post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	raw, err := apiRequest(ctx, c.client, http.MethodPost, c.baseURL+path, c.headers(), body)
	if err != nil {
		return nil, err
	}
	var envelope dataEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

// Mods 返回 Mod 类别的抓取器。单 id 走 GET /v1/mods/{id}，
// 多 id 走 POST /v1/mods 批量接口，响应中缺席的 id 判定为 NotFound。
func (c *CurseforgeClient) Mods() Fetcher {
	return FetcherFunc(func(ctx context.Context, ids []string) []Outcome {
		if len(ids) == 1 {
			return []Outcome{c.fetchOne(ctx, "/v1/mods/", ids[0])}
		}
		return c.fetchBatch(ctx, "/v1/mods", "modIds", ids)
	})
}

// Files 返回 File 类别的抓取器，统一走 POST /v1/mods/files 批量接口。
func (c *CurseforgeClient) Files() Fetcher {
	return FetcherFunc(func(ctx context.Context, ids []string) []Outcome {
		return c.fetchBatch(ctx, "/v1/mods/files", "fileIds", ids)
	})
}

func (c *CurseforgeClient) fetchOne(ctx context.Context, prefix, id string) Outcome {
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return Fatal(id, fmt.Errorf("invalid numeric id: %s", id))
	}
	data, err := c.get(ctx, prefix+id)
	if err != nil {
		return classify(id, err)
	}
	return Success(id, data)
}

// fetchBatch 将数字 id 列表发给批量端点，并按响应中的 "id" 字段回配。
func (c *CurseforgeClient) fetchBatch(ctx context.Context, path, field string, ids []string) []Outcome {
	numeric := make([]int64, 0, len(ids))
	outcomes := make([]Outcome, 0, len(ids))
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			outcomes = append(outcomes, Fatal(id, fmt.Errorf("invalid numeric id: %s", id)))
			continue
		}
		numeric = append(numeric, n)
		valid = append(valid, id)
	}
	if len(valid) == 0 {
		return outcomes
	}

	data, err := c.post(ctx, path, map[string]any{field: numeric})
	if err != nil {
		return append(outcomes, classifyAll(valid, err)...)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return append(outcomes, classifyAll(valid, err)...)
	}

	byID := make(map[string]json.RawMessage, len(items))
	for _, item := range items {
		var head struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(item, &head); err != nil {
			continue
		}
		byID[strconv.FormatInt(head.ID, 10)] = item
	}

	for _, id := range valid {
		if payload, ok := byID[id]; ok {
			outcomes = append(outcomes, Success(id, payload))
			continue
		}
		outcomes = append(outcomes, NotFound(id, http.StatusNotFound))
	}
	return outcomes
}

// Fingerprints 返回指纹类别的抓取器。POST /v1/fingerprints 的应答同时给出
// 命中与未命中集合，未命中指纹直接落为 NotFound，后续同样的查询即可命中负缓存。
func (c *CurseforgeClient) Fingerprints() Fetcher {
	return FetcherFunc(func(ctx context.Context, ids []string) []Outcome {
		numeric := make([]int64, 0, len(ids))
		outcomes := make([]Outcome, 0, len(ids))
		valid := make([]string, 0, len(ids))
		for _, id := range ids {
			n, err := strconv.ParseInt(id, 10, 64)
			if err != nil {
				outcomes = append(outcomes, Fatal(id, fmt.Errorf("invalid fingerprint: %s", id)))
				continue
			}
			numeric = append(numeric, n)
			valid = append(valid, id)
		}
		if len(valid) == 0 {
			return outcomes
		}

		data, err := c.post(ctx, "/v1/fingerprints", map[string]any{"fingerprints": numeric})
		if err != nil {
			return append(outcomes, classifyAll(valid, err)...)
		}

		var result struct {
			ExactMatches []json.RawMessage `json:"exactMatches"`
		}
		if err := json.Unmarshal(data, &result); err != nil {
			return append(outcomes, classifyAll(valid, err)...)
		}

		byFingerprint := make(map[string]json.RawMessage, len(result.ExactMatches))
		for _, match := range result.ExactMatches {
			var head struct {
				File struct {
					FileFingerprint int64 `json:"fileFingerprint"`
				} `json:"file"`
			}
			if err := json.Unmarshal(match, &head); err != nil {
				continue
			}
			byFingerprint[strconv.FormatInt(head.File.FileFingerprint, 10)] = match
		}

		for _, id := range valid {
			if payload, ok := byFingerprint[id]; ok {
				outcomes = append(outcomes, Success(id, payload))
				continue
			}
			outcomes = append(outcomes, NotFound(id, http.StatusNotFound))
		}
		return outcomes
	})
}

// Tags 返回 Tag blob 抓取器，id 即 blob key（当前只有 categories）。
func (c *CurseforgeClient) Tags() Fetcher {
	return FetcherFunc(func(ctx context.Context, ids []string) []Outcome {
		outcomes := make([]Outcome, 0, len(ids))
		for _, key := range ids {
			if key != "categories" {
				outcomes = append(outcomes, Fatal(key, fmt.Errorf("unknown tag key: %s", key)))
				continue
			}
			data, err := c.get(ctx, "/v1/categories?gameId=432")
			if err != nil {
				outcomes = append(outcomes, classify(key, err))
				continue
			}
			outcomes = append(outcomes, Success(key, data))
		}
		return outcomes
	})
}
