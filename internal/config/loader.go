package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析存储目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 8080)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("UncachedStatusCode", 404)

	v.SetDefault("Curseforge.BaseURL", "https://api.curseforge.com")
	v.SetDefault("Curseforge.Timeout", "5s")
	v.SetDefault("Modrinth.BaseURL", "https://api.modrinth.com")
	v.SetDefault("Modrinth.Timeout", "5s")

	// TTL 单位为秒；Tag blob 与文件哈希不设自动过期。
	v.SetDefault("TTL.CurseforgeMod", 86400)
	v.SetDefault("TTL.CurseforgeFile", 86400)
	v.SetDefault("TTL.CurseforgeFingerprint", 604800)
	v.SetDefault("TTL.ModrinthProject", 86400)
	v.SetDefault("TTL.ModrinthVersion", 86400)
	v.SetDefault("TTL.ModrinthFileHash", 0)
	v.SetDefault("TTL.NegativeMarker", 86400)

	v.SetDefault("Pool.Concurrency", 16)
	v.SetDefault("Pool.QueueSize", 4096)
	v.SetDefault("Pool.MaxRetries", 3)
	v.SetDefault("Pool.RetryBackoff", "1s")
	v.SetDefault("Pool.RateLimitCooldown", "20m")
	v.SetDefault("Pool.FetchChunkSize", 50)

	v.SetDefault("Crawl.StartID", 10000)
	v.SetDefault("Crawl.EndID", 105000)
	v.SetDefault("Crawl.BatchSize", 950)
	v.SetDefault("Crawl.BatchPause", "10m")
	v.SetDefault("Crawl.PageSize", 100)
}

func applyDefaults(cfg *Config) {
	if cfg.Global.ListenPort == 0 {
		cfg.Global.ListenPort = 8080
	}
	if cfg.Global.UncachedStatus == 0 {
		cfg.Global.UncachedStatus = 404
	}
	if cfg.Curseforge.Timeout.DurationValue() == 0 {
		cfg.Curseforge.Timeout = Duration(5 * time.Second)
	}
	if cfg.Modrinth.Timeout.DurationValue() == 0 {
		cfg.Modrinth.Timeout = Duration(5 * time.Second)
	}
	if cfg.Pool.Concurrency == 0 {
		cfg.Pool.Concurrency = 16
	}
	if cfg.Pool.QueueSize == 0 {
		cfg.Pool.QueueSize = 4096
	}
	if cfg.Pool.FetchChunkSize == 0 {
		cfg.Pool.FetchChunkSize = 50
	}
	if cfg.Crawl.BatchSize == 0 {
		cfg.Crawl.BatchSize = 950
	}
	if cfg.Crawl.PageSize == 0 {
		cfg.Crawl.PageSize = 100
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
