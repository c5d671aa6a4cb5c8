package freshness

import (
	"testing"
	"time"

	"github.com/modmirror/modmirror/internal/store"
)

func fixedTTL(d time.Duration) TTLFunc {
	return func(store.Record) time.Duration { return d }
}

func recordAt(id string, syncedAt time.Time) store.Record {
	return store.Record{Class: store.ClassCurseforgeMod, ID: id, Status: 200, SyncedAt: syncedAt}
}

func TestEvaluateAllFresh(t *testing.T) {
	now := time.Now()
	stored := []store.Record{recordAt("1", now), recordAt("2", now)}

	result := Evaluate([]string{"1", "2"}, stored, fixedTTL(time.Hour), now)
	if !result.Trustable {
		t.Fatalf("全部新鲜时应可信: %+v", result)
	}
	if len(result.NeedsRefill()) != 0 {
		t.Fatalf("可信结果不应触发回填: %v", result.NeedsRefill())
	}
}

func TestEvaluateMissing(t *testing.T) {
	now := time.Now()
	stored := []store.Record{recordAt("1", now)}

	result := Evaluate([]string{"1", "2", "3"}, stored, fixedTTL(time.Hour), now)
	if result.Trustable {
		t.Fatalf("存在缺失时不应可信")
	}
	if len(result.Missing) != 2 || result.Missing[0] != "2" || result.Missing[1] != "3" {
		t.Fatalf("缺失集合错误: %v", result.Missing)
	}
	if len(result.Expired) != 0 {
		t.Fatalf("不应有过期项: %v", result.Expired)
	}
}

func TestEvaluateTTLBoundary(t *testing.T) {
	now := time.Now()
	ttl := time.Hour

	// age == ttl 视为过期
	exact := Evaluate([]string{"1"}, []store.Record{recordAt("1", now.Add(-ttl))}, fixedTTL(ttl), now)
	if exact.Trustable || len(exact.Expired) != 1 {
		t.Fatalf("age == ttl 应判定过期: %+v", exact)
	}

	// age == ttl - 1ns 仍然新鲜
	almost := Evaluate([]string{"1"}, []store.Record{recordAt("1", now.Add(-ttl+time.Nanosecond))}, fixedTTL(ttl), now)
	if !almost.Trustable {
		t.Fatalf("未达 ttl 不应过期: %+v", almost)
	}
}

func TestEvaluateZeroTTLNeverExpires(t *testing.T) {
	now := time.Now()
	stored := []store.Record{recordAt("1", now.Add(-24 * 365 * time.Hour))}

	result := Evaluate([]string{"1"}, stored, fixedTTL(0), now)
	if !result.Trustable {
		t.Fatalf("TTL 为 0 的类别不应过期: %+v", result)
	}
}

func TestEvaluateDeduplicatesRequest(t *testing.T) {
	now := time.Now()
	result := Evaluate([]string{"1", "1", "1"}, nil, fixedTTL(time.Hour), now)
	if len(result.Missing) != 1 {
		t.Fatalf("重复 id 不应重复计数: %v", result.Missing)
	}
}

func TestEvaluatePerRecordTTL(t *testing.T) {
	now := time.Now()
	negative := store.Record{Class: store.ClassCurseforgeMod, ID: "2", Status: 404, SyncedAt: now.Add(-2 * time.Hour)}
	stored := []store.Record{recordAt("1", now), negative}

	ttl := func(rec store.Record) time.Duration {
		if rec.Negative() {
			return time.Hour
		}
		return 24 * time.Hour
	}

	result := Evaluate([]string{"1", "2"}, stored, ttl, now)
	if result.Trustable {
		t.Fatalf("过期的负缓存标记应触发刷新")
	}
	if len(result.Expired) != 1 || result.Expired[0] != "2" {
		t.Fatalf("过期集合错误: %v", result.Expired)
	}
}

func TestEvaluateAbsenceForcesUntrusted(t *testing.T) {
	now := time.Now()

	result := EvaluateAbsence([]string{"111", "222"}, nil, fixedTTL(time.Hour), now)
	if result.Trustable {
		t.Fatalf("零命中的非空请求必须不可信")
	}

	// 空请求不受该规则影响
	empty := EvaluateAbsence(nil, nil, fixedTTL(time.Hour), now)
	if !empty.Trustable {
		t.Fatalf("空请求应可信: %+v", empty)
	}
}
