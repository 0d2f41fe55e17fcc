package router

import (
	"certdeploy/app"
	"certdeploy/system/deploy"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Register 集中注册所有 HTTP 路由，只做分组与绑定
func Register(a *app.App, f *fiber.App) {
	api := f.Group("/api")

	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"msg": "ok"})
	})

	f.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(a.Metrics, promhttp.HandlerOpts{})))

	// 部署组件：ACME 质询挂在根路径，管理接口挂在 /api
	deploy.RegisterRoutes(a.DeployModule, f, api, a.Configures.AdminAuth)
}
