package store

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Class 标识记录所属的实体类别，同时决定磁盘子目录与 TTL 策略。
type Class string

const (
	ClassCurseforgeMod         Class = "curseforge_mod"
	ClassCurseforgeFile        Class = "curseforge_file"
	ClassCurseforgeFingerprint Class = "curseforge_fingerprint"
	ClassModrinthProject       Class = "modrinth_project"
	ClassModrinthVersion       Class = "modrinth_version"
	ClassModrinthFileHash      Class = "modrinth_file_hash"

	// Tag 类别以不透明 blob 形式整包存储，只在显式刷新时覆盖。
	ClassCurseforgeTag Class = "curseforge_tag"
	ClassModrinthTag   Class = "modrinth_tag"
)

// Catalog 返回类别所属的上游目录名。
func (c Class) Catalog() string {
	if strings.HasPrefix(string(c), "curseforge") {
		return "curseforge"
	}
	return "modrinth"
}

// Blob 表示该类别走 KV blob 通道而非文档通道。
func (c Class) Blob() bool {
	return c == ClassCurseforgeTag || c == ClassModrinthTag
}

// Namespace 返回 blob 类别对应的 KV 命名空间。
func (c Class) Namespace() string {
	switch c {
	case ClassCurseforgeTag:
		return "curseforge"
	case ClassModrinthTag:
		return "modrinth"
	}
	return ""
}

// Record 是同步引擎写入的唯一持久化单元。Payload 对核心逻辑保持不透明，
// Status 记录上游应答码，非 200 即负缓存标记（确认不存在或抓取失败）。
type Record struct {
	Class    Class           `json:"class"`
	ID       string          `json:"id"`
	Status   int             `json:"status"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	SyncedAt time.Time       `json:"synced_at"`
}

// Negative 表示该记录是一条无正文的标记（上游 404、超时等）。
func (r Record) Negative() bool {
	return r.Status != http.StatusOK
}

// Store 抽象文档存储与 KV blob 存储。Upsert 必须按单条记录原子生效，
// 且不得让 SyncedAt 回退到更早的抓取结果。
type Store interface {
	// FindByID 返回单条记录，不存在时返回 ErrNotFound。
	FindByID(ctx context.Context, class Class, id string) (*Record, error)

	// FindByIDs 返回请求集合中实际存在的子集，缺失的 id 直接省略。
	FindByIDs(ctx context.Context, class Class, ids []string) ([]Record, error)

	// Upsert 以 (class, id) 为键写入记录。
	Upsert(ctx context.Context, rec Record) error

	// GetBlob 读取命名空间下的整包数据，不存在时返回 ErrNotFound。
	GetBlob(ctx context.Context, namespace, key string) ([]byte, error)

	// SetBlob 覆盖写入整包数据。
	SetBlob(ctx context.Context, namespace, key string, data []byte) error
}

// ErrNotFound 表示记录或 blob 不存在。
var ErrNotFound = errors.New("record not found")
