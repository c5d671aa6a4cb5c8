package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/modmirror/modmirror/internal/store"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// GlobalConfig 描述全局运行时行为。
type GlobalConfig struct {
	ListenPort     int    `mapstructure:"ListenPort"`
	LogLevel       string `mapstructure:"LogLevel"`
	LogFilePath    string `mapstructure:"LogFilePath"`
	LogMaxSize     int    `mapstructure:"LogMaxSize"`
	LogMaxBackups  int    `mapstructure:"LogMaxBackups"`
	LogCompress    bool   `mapstructure:"LogCompress"`
	StoragePath    string `mapstructure:"StoragePath"`
	UncachedStatus int    `mapstructure:"UncachedStatusCode"`
}

// UpstreamConfig 决定单个上游目录（CurseForge / Modrinth）如何访问。
type UpstreamConfig struct {
	BaseURL   string   `mapstructure:"BaseURL"`
	APIKey    string   `mapstructure:"APIKey"`
	UserAgent string   `mapstructure:"UserAgent"`
	Proxy     string   `mapstructure:"Proxy"`
	Timeout   Duration `mapstructure:"Timeout"`
}

// TTLConfig 按实体类别枚举过期时长。0 表示永不自动过期（Tag blob、文件哈希）。
type TTLConfig struct {
	CurseforgeMod         Duration `mapstructure:"CurseforgeMod"`
	CurseforgeFile        Duration `mapstructure:"CurseforgeFile"`
	CurseforgeFingerprint Duration `mapstructure:"CurseforgeFingerprint"`
	ModrinthProject       Duration `mapstructure:"ModrinthProject"`
	ModrinthVersion       Duration `mapstructure:"ModrinthVersion"`
	ModrinthFileHash      Duration `mapstructure:"ModrinthFileHash"`
	NegativeMarker        Duration `mapstructure:"NegativeMarker"`
}

// ForClass 返回某实体类别生效的 TTL。
func (t TTLConfig) ForClass(class store.Class) time.Duration {
	switch class {
	case store.ClassCurseforgeMod:
		return t.CurseforgeMod.DurationValue()
	case store.ClassCurseforgeFile:
		return t.CurseforgeFile.DurationValue()
	case store.ClassCurseforgeFingerprint:
		return t.CurseforgeFingerprint.DurationValue()
	case store.ClassModrinthProject:
		return t.ModrinthProject.DurationValue()
	case store.ClassModrinthVersion:
		return t.ModrinthVersion.DurationValue()
	case store.ClassModrinthFileHash:
		return t.ModrinthFileHash.DurationValue()
	}
	return 0
}

// ForRecord 返回单条记录生效的 TTL，负缓存标记使用独立周期。
func (t TTLConfig) ForRecord(rec store.Record) time.Duration {
	if rec.Negative() {
		return t.NegativeMarker.DurationValue()
	}
	return t.ForClass(rec.Class)
}

// PoolConfig 控制同步引擎（Worker Pool）的并发与退避行为。
type PoolConfig struct {
	Concurrency       int      `mapstructure:"Concurrency"`
	QueueSize         int      `mapstructure:"QueueSize"`
	MaxRetries        int      `mapstructure:"MaxRetries"`
	RetryBackoff      Duration `mapstructure:"RetryBackoff"`
	RateLimitCooldown Duration `mapstructure:"RateLimitCooldown"`
	FetchChunkSize    int      `mapstructure:"FetchChunkSize"`
}

// CrawlConfig 控制全量回填任务的范围与节奏。
type CrawlConfig struct {
	StartID    int      `mapstructure:"StartID"`
	EndID      int      `mapstructure:"EndID"`
	BatchSize  int      `mapstructure:"BatchSize"`
	BatchPause Duration `mapstructure:"BatchPause"`
	PageSize   int      `mapstructure:"PageSize"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global     GlobalConfig   `mapstructure:",squash"`
	Curseforge UpstreamConfig `mapstructure:"Curseforge"`
	Modrinth   UpstreamConfig `mapstructure:"Modrinth"`
	TTL        TTLConfig      `mapstructure:"TTL"`
	Pool       PoolConfig     `mapstructure:"Pool"`
	Crawl      CrawlConfig    `mapstructure:"Crawl"`
}
