package security

import (
	"strings"
	"time"

	errorc "certdeploy/pkg/core/err"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleSuper       = "SuperAdmin"
	RoleDeployRead  = "deploy:read"
	RoleDeployWrite = "deploy:write"
)

type adminKey struct{}

type AdminClaims struct {
	jwt.RegisteredClaims
	ID      int64    `json:"id"`
	Account string   `json:"account,omitempty"`
	Roles   []string `json:"roles"`
}

type AdminAuth struct {
	jwtClient *JwtClient
}

func NewAdminAuth(secret []byte, expireTime time.Duration) *AdminAuth {
	return &AdminAuth{
		jwtClient: NewJwtClient(secret, expireTime),
	}
}

// CreateAdminToken 创建管理员token
func (a *AdminAuth) CreateAdminToken(claims *AdminClaims) (string, int64, error) {
	return a.jwtClient.CreateToken(claims)
}

// RequireAdminAuth 管理员权限校验中间件
func (a *AdminAuth) RequireAdminAuth(requiredRoles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		auth := c.Get("Authorization")
		if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
			return errorc.New("authorization header is required", nil).NoAuth()
		}

		claims, err := a.jwtClient.ParseToken(strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			return errorc.New("invalid token", err).NoAuth()
		}

		a.jwtClient.SaveToContext(c, claims)

		if err := a.jwtClient.ValidateRoles(c, requiredRoles); err != nil {
			return errorc.New("permission denied", err).Forbidden()
		}
		return c.Next()
	}
}

func IsAdminSuper(c *fiber.Ctx) bool {
	if c == nil {
		return false
	}
	isSuper, _ := c.Locals("is_super").(bool)
	return isSuper
}

// GetAdminAccount 获取操作人账号，用于部署历史记录
func GetAdminAccount(c *fiber.Ctx) string {
	account, _ := c.Locals("account").(string)
	return account
}
