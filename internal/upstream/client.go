package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/modmirror/modmirror/internal/config"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewHTTPClient 返回单个上游专用的 http.Client，支持独立代理与超时。
func NewHTTPClient(cfg config.UpstreamConfig) *http.Client {
	transport := defaultTransport.Clone()
	if cfg.Proxy != "" {
		if proxyURL, err := url.Parse(cfg.Proxy); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	timeout := cfg.Timeout.DurationValue()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// apiRequest 执行一次 JSON API 请求并返回原始正文。
// 非 2xx 状态通过 statusError 返回，由各抓取器映射为 Outcome。
func apiRequest(ctx context.Context, client *http.Client, method, rawURL string, headers map[string]string, body any) ([]byte, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{Status: resp.StatusCode, URL: rawURL}
	}
	return data, nil
}

// statusError 保留上游应答码，供 classify 映射结局类别。
type statusError struct {
	Status int
	URL    string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.URL)
}

// classify 把一次请求错误映射为对应 id 的 Outcome：
// 404 → NotFound，403/429 → RateLimited，5xx 与网络/超时/解码 → Transient，
// 其余状态视为未预期错误。
func classify(id string, err error) Outcome {
	var status *statusError
	if errors.As(err, &status) {
		switch {
		case status.Status == http.StatusNotFound:
			return NotFound(id, status.Status)
		case status.Status == http.StatusForbidden || status.Status == http.StatusTooManyRequests:
			return RateLimited(id, status.Status)
		case status.Status >= 500:
			return Transient(id, err)
		default:
			return Fatal(id, err)
		}
	}

	var decodeErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &decodeErr) || errors.As(err, &typeErr) {
		return Transient(id, err)
	}

	// 传输层错误（超时、连接重置等）一律按临时故障处理
	return Transient(id, err)
}

// classifyAll 把同一个错误展开到整批 id 上。
func classifyAll(ids []string, err error) []Outcome {
	outcomes := make([]Outcome, 0, len(ids))
	for _, id := range ids {
		outcomes = append(outcomes, classify(id, err))
	}
	return outcomes
}
