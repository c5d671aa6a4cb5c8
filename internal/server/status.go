package server

import (
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/modmirror/modmirror/internal/store"
)

// PoolSnapshot 暴露同步引擎的运行时指标，由 refill.Pool 实现。
type PoolSnapshot interface {
	QueueLength() int
	CooldownUntil() time.Time
}

// InFlightSource 暴露在途回填统计，由 refill.Dispatcher 实现。
type InFlightSource interface {
	Stats() map[store.Class]int
}

type poolStatusPayload struct {
	QueueLength   int    `json:"queue_length"`
	CooldownUntil string `json:"cooldown_until,omitempty"`
}

// RegisterStatusRoute 注册 /-/status 诊断接口，按目录汇报队列深度、
// 冷却窗口与在途回填数量。
func RegisterStatusRoute(app *fiber.App, pools map[string]PoolSnapshot, dispatchers map[string]InFlightSource) {
	if app == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		poolStatus := make(map[string]poolStatusPayload, len(pools))
		for name, pool := range pools {
			payload := poolStatusPayload{QueueLength: pool.QueueLength()}
			if until := pool.CooldownUntil(); time.Now().Before(until) {
				payload.CooldownUntil = until.UTC().Format(time.RFC3339)
			}
			poolStatus[name] = payload
		}

		inflight := make(map[string]map[string]int, len(dispatchers))
		for name, d := range dispatchers {
			classes := make(map[string]int)
			for class, count := range d.Stats() {
				classes[string(class)] = count
			}
			inflight[name] = classes
		}

		return c.JSON(fiber.Map{
			"pools":    poolStatus,
			"inflight": inflight,
		})
	})
}
