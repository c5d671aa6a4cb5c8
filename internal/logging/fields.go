package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/modmirror/modmirror/internal/store"
)

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// SyncFields 提供 pool/类别/id 字段，供同步引擎日志复用。
func SyncFields(pool string, class store.Class, id string) logrus.Fields {
	return logrus.Fields{
		"action": "sync",
		"pool":   pool,
		"class":  class,
		"id":     id,
	}
}

// CrawlFields 提供全量回填任务的进度字段。
func CrawlFields(catalog string, batch, submitted int) logrus.Fields {
	return logrus.Fields{
		"action":    "crawl",
		"catalog":   catalog,
		"batch":     batch,
		"submitted": submitted,
	}
}
