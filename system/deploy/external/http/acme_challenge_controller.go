package http

import (
	"certdeploy/system/deploy/internal/service"

	"github.com/gofiber/fiber/v2"
)

// AcmeChallengeController 响应 http-01 验证请求
type AcmeChallengeController struct {
	provider *service.HTTP01Provider
}

func NewAcmeChallengeController(provider *service.HTTP01Provider) *AcmeChallengeController {
	return &AcmeChallengeController{provider: provider}
}

func (c *AcmeChallengeController) RegisterRoutes(public fiber.Router) {
	public.Get("/.well-known/acme-challenge/:token", c.Challenge)
}

func (c *AcmeChallengeController) Challenge(ctx *fiber.Ctx) error {
	keyAuth, ok := c.provider.KeyAuth(ctx.Params("token"))
	if !ok {
		return fiber.ErrNotFound
	}
	ctx.Set(fiber.HeaderContentType, fiber.MIMETextPlain)
	return ctx.SendString(keyAuth)
}
