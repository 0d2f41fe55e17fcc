package fiber_handle

import (
	"context"

	"certdeploy/pkg/core/consts"

	"github.com/gofiber/fiber/v2"
	uuid "github.com/satori/go.uuid"
)

const TraceHeaderName = "X-Trace-Id"

// NewApiTracer 为每个请求生成或透传 TraceId
func NewApiTracer() fiber.Handler {
	return func(c *fiber.Ctx) error {
		traceID := c.Get(TraceHeaderName)
		if traceID == "" {
			traceID = uuid.NewV4().String()
		}

		c.SetUserContext(context.WithValue(c.UserContext(), consts.TraceKey, traceID))
		c.Locals("traceId", traceID)
		c.Set(TraceHeaderName, traceID)
		return c.Next()
	}
}
