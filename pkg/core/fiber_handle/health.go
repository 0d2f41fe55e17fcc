package fiber_handle

import "github.com/gofiber/fiber/v2"

type HealthCheckConfig struct {
	Path string
	// Probe 返回非 nil 时健康检查响应 503
	Probe func() error
}

// HealthCheck 命中 Path 时直接响应，不进入后续中间件
func HealthCheck(config HealthCheckConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Path() != config.Path {
			return c.Next()
		}
		if config.Probe != nil {
			if err := config.Probe(); err != nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "down", "message": err.Error()})
			}
		}
		return c.JSON(fiber.Map{"status": "up"})
	}
}
