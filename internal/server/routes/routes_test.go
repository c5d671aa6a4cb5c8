package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/modmirror/modmirror/internal/config"
	"github.com/modmirror/modmirror/internal/server"
	"github.com/modmirror/modmirror/internal/store"
)

type fakeRefiller struct {
	mu       sync.Mutex
	requests map[store.Class][]string
}

func newFakeRefiller() *fakeRefiller {
	return &fakeRefiller{requests: make(map[store.Class][]string)}
}

func (f *fakeRefiller) Request(class store.Class, ids []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests[class] = append(f.requests[class], ids...)
}

func (f *fakeRefiller) requested(class store.Class) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests[class]...)
}

type testEnv struct {
	app     *fiber.App
	store   store.Store
	refill  *fakeRefiller
	baseNow time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	app, err := server.NewApp(server.AppOptions{Logger: logger})
	if err != nil {
		t.Fatalf("NewApp 失败: %v", err)
	}

	memStore := store.NewMemStore()
	refill := newFakeRefiller()
	baseNow := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	deps := Deps{
		Logger:    logger,
		Store:     memStore,
		Refill:    refill,
		TTL:       testTTL(),
		Responder: server.NewResponder(fiber.StatusNotFound),
		Now:       func() time.Time { return baseNow },
	}
	RegisterCurseforgeRoutes(app, deps)
	RegisterModrinthRoutes(app, deps)

	return &testEnv{app: app, store: memStore, refill: refill, baseNow: baseNow}
}

func testTTL() config.TTLConfig {
	hour := config.Duration(time.Hour)
	return config.TTLConfig{
		CurseforgeMod:         hour,
		CurseforgeFile:        hour,
		CurseforgeFingerprint: hour,
		ModrinthProject:       hour,
		ModrinthVersion:       hour,
		NegativeMarker:        hour,
	}
}

// seed 写入一条在评估时刻仍然新鲜的记录。
func (env *testEnv) seed(t *testing.T, class store.Class, id string, payload string) {
	t.Helper()
	env.seedAt(t, class, id, payload, env.baseNow.Add(-time.Minute))
}

// seedExpired 写入一条已超出 TTL 的记录。
func (env *testEnv) seedExpired(t *testing.T, class store.Class, id string, payload string) {
	t.Helper()
	env.seedAt(t, class, id, payload, env.baseNow.Add(-2*time.Hour))
}

func (env *testEnv) seedAt(t *testing.T, class store.Class, id string, payload string, syncedAt time.Time) {
	t.Helper()
	rec := store.Record{Class: class, ID: id, Status: 200, SyncedAt: syncedAt}
	if payload != "" {
		rec.Payload = json.RawMessage(payload)
	}
	if err := env.store.Upsert(context.Background(), rec); err != nil {
		t.Fatalf("写入测试记录失败: %v", err)
	}
}

func (env *testEnv) seedNegative(t *testing.T, class store.Class, id string, status int) {
	t.Helper()
	rec := store.Record{Class: class, ID: id, Status: status, SyncedAt: env.baseNow.Add(-time.Minute)}
	if err := env.store.Upsert(context.Background(), rec); err != nil {
		t.Fatalf("写入负缓存标记失败: %v", err)
	}
}

func (env *testEnv) do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("读取应答失败: %v", err)
	}
	return body
}
