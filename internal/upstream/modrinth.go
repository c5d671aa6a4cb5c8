package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/modmirror/modmirror/internal/config"
)

// ModrinthClient 访问 Modrinth 风格的上游目录。
// 该目录不需要 API key，但要求带可识别的 User-Agent。
type ModrinthClient struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

// NewModrinthClient 根据上游配置构建客户端。
func NewModrinthClient(cfg config.UpstreamConfig) *ModrinthClient {
	ua := cfg.UserAgent
	if ua == "" {
		ua = "modmirror/1.0"
	}
	return &ModrinthClient{
		baseURL:   cfg.BaseURL,
		userAgent: ua,
		client:    NewHTTPClient(cfg),
	}
}

func (c *ModrinthClient) headers() map[string]string {
	return map[string]string{"User-Agent": c.userAgent}
}

// Projects 返回 Project 类别的抓取器。id 可以是 project id 或 slug，
// 多 id 时走 GET /v2/projects?ids=[...]，按 id 与 slug 双键回配。
func (c *ModrinthClient) Projects() Fetcher {
	return c.aliasFetcher("/v2/project/", "/v2/projects")
}

// Versions 返回 Version 类别的抓取器。
func (c *ModrinthClient) Versions() Fetcher {
	return c.aliasFetcher("/v2/version/", "/v2/versions")
}

func (c *ModrinthClient) aliasFetcher(singlePrefix, batchPath string) Fetcher {
	return FetcherFunc(func(ctx context.Context, ids []string) []Outcome {
		if len(ids) == 1 {
			id := ids[0]
			raw, err := apiRequest(ctx, c.client, http.MethodGet, c.baseURL+singlePrefix+url.PathEscape(id), c.headers(), nil)
			if err != nil {
				return []Outcome{classify(id, err)}
			}
			return []Outcome{Success(id, raw)}
		}

		encoded, err := json.Marshal(ids)
		if err != nil {
			return classifyAll(ids, err)
		}
		query := url.Values{"ids": []string{string(encoded)}}
		raw, err := apiRequest(ctx, c.client, http.MethodGet, c.baseURL+batchPath+"?"+query.Encode(), c.headers(), nil)
		if err != nil {
			return classifyAll(ids, err)
		}

		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return classifyAll(ids, err)
		}

		byKey := make(map[string]json.RawMessage, len(items)*2)
		for _, item := range items {
			var head struct {
				ID   string `json:"id"`
				Slug string `json:"slug"`
			}
			if err := json.Unmarshal(item, &head); err != nil {
				continue
			}
			if head.ID != "" {
				byKey[head.ID] = item
			}
			if head.Slug != "" {
				byKey[head.Slug] = item
			}
		}

		outcomes := make([]Outcome, 0, len(ids))
		for _, id := range ids {
			if payload, ok := byKey[id]; ok {
				outcomes = append(outcomes, Success(id, payload))
				continue
			}
			outcomes = append(outcomes, NotFound(id, http.StatusNotFound))
		}
		return outcomes
	})
}

// FileHashes 返回文件哈希类别的抓取器。POST /v2/version_files 的应答是
// hash → version 的映射，缺席的 hash 判定为 NotFound 并落负缓存。
func (c *ModrinthClient) FileHashes(algorithm string) Fetcher {
	return FetcherFunc(func(ctx context.Context, ids []string) []Outcome {
		body := map[string]any{"hashes": ids, "algorithm": algorithm}
		raw, err := apiRequest(ctx, c.client, http.MethodPost, c.baseURL+"/v2/version_files", c.headers(), body)
		if err != nil {
			return classifyAll(ids, err)
		}

		var byHash map[string]json.RawMessage
		if err := json.Unmarshal(raw, &byHash); err != nil {
			return classifyAll(ids, err)
		}

		outcomes := make([]Outcome, 0, len(ids))
		for _, hash := range ids {
			if payload, ok := byHash[hash]; ok {
				outcomes = append(outcomes, Success(hash, payload))
				continue
			}
			outcomes = append(outcomes, NotFound(hash, http.StatusNotFound))
		}
		return outcomes
	})
}

// Tags 返回 Tag blob 抓取器，id 即 /v2/tag/ 下的类别名。
func (c *ModrinthClient) Tags() Fetcher {
	return FetcherFunc(func(ctx context.Context, ids []string) []Outcome {
		outcomes := make([]Outcome, 0, len(ids))
		for _, kind := range ids {
			raw, err := apiRequest(ctx, c.client, http.MethodGet, c.baseURL+"/v2/tag/"+url.PathEscape(kind), c.headers(), nil)
			if err != nil {
				outcomes = append(outcomes, classify(kind, err))
				continue
			}
			outcomes = append(outcomes, Success(kind, raw))
		}
		return outcomes
	})
}

// Page 实现 Pager，走 GET /v2/search 分页列举 project id。
func (c *ModrinthClient) Page(ctx context.Context, offset, limit int) (Page, error) {
	query := url.Values{
		"offset": []string{fmt.Sprintf("%d", offset)},
		"limit":  []string{fmt.Sprintf("%d", limit)},
	}
	raw, err := apiRequest(ctx, c.client, http.MethodGet, c.baseURL+"/v2/search?"+query.Encode(), c.headers(), nil)
	if err != nil {
		return Page{}, err
	}

	var result struct {
		Hits []struct {
			ProjectID string `json:"project_id"`
		} `json:"hits"`
		TotalHits int `json:"total_hits"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return Page{}, err
	}

	page := Page{Total: result.TotalHits}
	for _, hit := range result.Hits {
		if hit.ProjectID != "" {
			page.IDs = append(page.IDs, hit.ProjectID)
		}
	}
	return page, nil
}
