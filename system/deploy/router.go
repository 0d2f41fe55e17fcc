package deploy

import (
	"certdeploy/pkg/core/security"
	controller "certdeploy/system/deploy/external/http"

	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes 注册部署组件的所有 HTTP 路由
func RegisterRoutes(m *Module, public, admin fiber.Router, auth *security.AdminAuth) {
	controller.NewAcmeChallengeController(m.http01).RegisterRoutes(public)
	controller.NewDeployController(m.internalApp, m.Client, m.Credentials, auth).RegisterRoutes(admin)
}
