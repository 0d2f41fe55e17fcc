package security

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireAdminAuth(t *testing.T) {
	auth := NewAdminAuth([]byte("test-secret"), time.Hour)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.SendStatus(fiber.StatusUnauthorized)
		},
	})
	app.Get("/read", auth.RequireAdminAuth(RoleDeployRead), func(c *fiber.Ctx) error {
		return c.SendString(GetAdminAccount(c))
	})

	reader, _, err := auth.CreateAdminToken(&AdminClaims{ID: 1, Account: "ops", Roles: []string{RoleDeployRead}})
	require.NoError(t, err)
	writer, _, err := auth.CreateAdminToken(&AdminClaims{ID: 2, Account: "dev", Roles: []string{RoleDeployWrite}})
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{name: "缺少认证头", header: "", status: fiber.StatusUnauthorized},
		{name: "无效token", header: "Bearer nope", status: fiber.StatusUnauthorized},
		{name: "角色不足", header: "Bearer " + writer, status: fiber.StatusUnauthorized},
		{name: "具备读取角色", header: "Bearer " + reader, status: fiber.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/read", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}
