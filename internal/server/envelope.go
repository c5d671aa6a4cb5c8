package server

import (
	"strconv"

	"github.com/gofiber/fiber/v3"
)

// HeaderTrustable 标记应答数据是否全部新鲜。客户端可据此决定
// 是否稍后重试以取得回填后的完整结果。
const HeaderTrustable = "Trustable"

// Responder 统一读路径的两种应答形态：携带可信度标记的镜像数据，
// 或表示"尚未缓存、回填已触发"的占位应答。
type Responder struct {
	uncachedStatus int
}

// NewResponder 构建响应封装器。uncachedStatus 非法时回退到 404。
func NewResponder(uncachedStatus int) *Responder {
	if uncachedStatus < 100 || uncachedStatus > 599 {
		uncachedStatus = fiber.StatusNotFound
	}
	return &Responder{uncachedStatus: uncachedStatus}
}

// Trustable 返回镜像数据，并通过响应头标记其可信度。
// payload 通常是存储层原样保留的上游 JSON。
func (r *Responder) Trustable(c fiber.Ctx, payload any, trustable bool) error {
	c.Set(HeaderTrustable, strconv.FormatBool(trustable))
	return c.JSON(payload)
}

// Uncached 表示请求的数据尚未入库，后台回填已触发，客户端应稍后重试。
func (r *Responder) Uncached(c fiber.Ctx) error {
	c.Set(HeaderTrustable, "false")
	return c.Status(r.uncachedStatus).JSON(fiber.Map{
		"error": "uncached",
	})
}
