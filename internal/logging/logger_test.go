package logging

import (
	"path/filepath"
	"testing"

	"github.com/modmirror/modmirror/internal/config"
	"github.com/modmirror/modmirror/internal/store"
)

func TestInitLoggerRejectsInvalidLevel(t *testing.T) {
	if _, err := InitLogger(config.GlobalConfig{LogLevel: "nope"}); err == nil {
		t.Fatalf("非法日志级别应返回错误")
	}
}

func TestInitLoggerWithFileOutput(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "app.log")
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "debug", LogFilePath: logFile})
	if err != nil {
		t.Fatalf("初始化日志失败: %v", err)
	}
	logger.WithFields(BaseFields("test", "config.toml")).Info("ok")
}

func TestSyncFields(t *testing.T) {
	fields := SyncFields("curseforge", store.ClassCurseforgeMod, "1010")
	if fields["action"] != "sync" || fields["pool"] != "curseforge" {
		t.Fatalf("字段内容不匹配: %v", fields)
	}
}
