package util

import (
	"context"

	"certdeploy/pkg/core/consts"

	"github.com/gofiber/fiber/v2"
	uuid "github.com/satori/go.uuid"
)

// Context 返回带 TraceId 的请求上下文
func Context(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx.Value(consts.TraceKey) == nil {
		return context.WithValue(ctx, consts.TraceKey, uuid.NewV4().String())
	}
	return ctx
}
