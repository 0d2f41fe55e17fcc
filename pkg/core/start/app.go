package start

import (
	"certdeploy/pkg/core/fiber_handle"
	"certdeploy/pkg/core/logger"

	"github.com/gofiber/fiber/v2"
	recover2 "github.com/gofiber/fiber/v2/middleware/recover"
)

// GetApp 创建带统一错误处理、崩溃恢复、健康检查与请求日志的 fiber 实例
func GetApp(log *logger.Log, probe ...func() error) *fiber.App {
	app := fiber.New(
		fiber.Config{
			BodyLimit:    10 * 1024 * 1024,
			ErrorHandler: fiber_handle.ErrHandler,
		})
	app.Use(recover2.New(recover2.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c *fiber.Ctx, e interface{}) {
			log.WithEntryName("Recover").WithField("path", c.Path()).Errorf("请求处理崩溃: %+v", e)
		},
	}))
	health := fiber_handle.HealthCheckConfig{Path: "/health"}
	if len(probe) > 0 {
		health.Probe = probe[0]
	}
	app.Use(fiber_handle.HealthCheck(health))
	app.Use(fiber_handle.NewApiTracer())
	app.Use(logger.NewApiLogger(logger.Config{Logger: log}))
	return app
}
