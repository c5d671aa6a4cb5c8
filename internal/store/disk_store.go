package store

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// NewDiskStore 以 basePath 为根目录构建文档/blob 存储，整个进程复用一份实例。
// 磁盘布局：
//
//	<basePath>/<class>/<id>.json     # 文档记录
//	<basePath>/blob/<namespace>/<key>  # 不透明 blob
func NewDiskStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &diskStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// diskStore 通过 entryLock 避免同一 (class, id) 并发写入，写入走临时文件 + rename。
type diskStore struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *diskStore) FindByID(ctx context.Context, class Class, id string) (*Record, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	filePath, err := s.recordPath(class, id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s/%s: %w", class, id, err)
	}
	return &rec, nil
}

func (s *diskStore) FindByIDs(ctx context.Context, class Class, ids []string) ([]Record, error) {
	result := make([]Record, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		rec, err := s.FindByID(ctx, class, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, *rec)
	}
	return result, nil
}

func (s *diskStore) Upsert(ctx context.Context, rec Record) error {
	if rec.Class == "" || rec.ID == "" {
		return errors.New("record class and id required")
	}

	unlock := s.lockEntry(string(rec.Class) + "::" + rec.ID)
	defer unlock()

	filePath, err := s.recordPath(rec.Class, rec.ID)
	if err != nil {
		return err
	}

	// SyncedAt 只增不减：并发/重放的旧抓取结果直接丢弃。
	if existing, err := s.FindByID(ctx, rec.Class, rec.ID); err == nil {
		if existing.SyncedAt.After(rec.SyncedAt) {
			return nil
		}
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s/%s: %w", rec.Class, rec.ID, err)
	}
	return atomicWrite(filePath, data)
}

func (s *diskStore) GetBlob(ctx context.Context, namespace, key string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	filePath, err := s.blobPath(namespace, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *diskStore) SetBlob(ctx context.Context, namespace, key string, data []byte) error {
	unlock := s.lockEntry("blob::" + namespace + "::" + key)
	defer unlock()

	filePath, err := s.blobPath(namespace, key)
	if err != nil {
		return err
	}
	return atomicWrite(filePath, data)
}

// atomicWrite 先写临时文件再 rename，保证读者永远不会看到半条记录。
func atomicWrite(filePath string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".record-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, writeErr := tempFile.Write(data)
	closeErr := tempFile.Close()
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tempName)
		return writeErr
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (s *diskStore) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

var safeNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// safeName 把任意 id（modrinth slug、指纹数字等）映射为安全文件名，
// 特殊字符走 sha1 摘要兜底，避免路径穿越。
func safeName(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("empty key")
	}
	if safeNamePattern.MatchString(raw) && !strings.HasPrefix(raw, ".") {
		return raw, nil
	}
	sum := sha1.Sum([]byte(raw))
	return "x" + hex.EncodeToString(sum[:]), nil
}

func (s *diskStore) recordPath(class Class, id string) (string, error) {
	if class == "" {
		return "", errors.New("class required")
	}
	name, err := safeName(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, string(class), name+".json"), nil
}

func (s *diskStore) blobPath(namespace, key string) (string, error) {
	if namespace == "" {
		return "", errors.New("namespace required")
	}
	name, err := safeName(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, "blob", namespace, name), nil
}
