package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.UncachedStatus < 100 || g.UncachedStatus > 599 {
		return newFieldError("Global.UncachedStatusCode", "必须是合法 HTTP 状态码")
	}

	if err := validateUpstream("Curseforge", c.Curseforge); err != nil {
		return err
	}
	if err := validateUpstream("Modrinth", c.Modrinth); err != nil {
		return err
	}

	if c.TTL.CurseforgeMod.DurationValue() <= 0 {
		return newFieldError("TTL.CurseforgeMod", "必须大于 0")
	}
	if c.TTL.CurseforgeFile.DurationValue() <= 0 {
		return newFieldError("TTL.CurseforgeFile", "必须大于 0")
	}
	if c.TTL.CurseforgeFingerprint.DurationValue() <= 0 {
		return newFieldError("TTL.CurseforgeFingerprint", "必须大于 0")
	}
	if c.TTL.ModrinthProject.DurationValue() <= 0 {
		return newFieldError("TTL.ModrinthProject", "必须大于 0")
	}
	if c.TTL.ModrinthVersion.DurationValue() <= 0 {
		return newFieldError("TTL.ModrinthVersion", "必须大于 0")
	}
	if c.TTL.NegativeMarker.DurationValue() <= 0 {
		return newFieldError("TTL.NegativeMarker", "必须大于 0")
	}

	p := c.Pool
	if p.Concurrency <= 0 {
		return newFieldError("Pool.Concurrency", "必须大于 0")
	}
	if p.QueueSize <= 0 {
		return newFieldError("Pool.QueueSize", "必须大于 0")
	}
	if p.MaxRetries < 0 {
		return newFieldError("Pool.MaxRetries", "不能为负数")
	}
	if p.RetryBackoff.DurationValue() < 0 {
		return newFieldError("Pool.RetryBackoff", "不能为负数")
	}
	if p.RateLimitCooldown.DurationValue() <= 0 {
		return newFieldError("Pool.RateLimitCooldown", "必须大于 0")
	}
	if p.FetchChunkSize <= 0 {
		return newFieldError("Pool.FetchChunkSize", "必须大于 0")
	}

	cr := c.Crawl
	if cr.StartID < 0 {
		return newFieldError("Crawl.StartID", "不能为负数")
	}
	if cr.EndID <= cr.StartID {
		return newFieldError("Crawl.EndID", "必须大于 StartID")
	}
	if cr.BatchSize <= 0 {
		return newFieldError("Crawl.BatchSize", "必须大于 0")
	}
	if cr.BatchPause.DurationValue() < 0 {
		return newFieldError("Crawl.BatchPause", "不能为负数")
	}
	if cr.PageSize <= 0 {
		return newFieldError("Crawl.PageSize", "必须大于 0")
	}

	return nil
}

func validateUpstream(section string, u UpstreamConfig) error {
	if u.BaseURL == "" {
		return newFieldError(section+".BaseURL", "不能为空")
	}
	parsed, err := url.Parse(u.BaseURL)
	if err != nil {
		return fmt.Errorf("%s.BaseURL: %w", section, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return newFieldError(section+".BaseURL", "仅支持 http/https")
	}
	if parsed.Host == "" {
		return newFieldError(section+".BaseURL", "缺少 Host")
	}
	if u.Proxy != "" {
		proxyURL, err := url.Parse(u.Proxy)
		if err != nil {
			return fmt.Errorf("%s.Proxy: %w", section, err)
		}
		if proxyURL.Scheme == "" || proxyURL.Host == "" {
			return newFieldError(section+".Proxy", "必须是完整 URL")
		}
	}
	if u.Timeout.DurationValue() <= 0 {
		return newFieldError(section+".Timeout", "必须大于 0")
	}
	return nil
}
