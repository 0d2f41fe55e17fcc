package security

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

type JwtClient struct {
	secret     []byte
	expireTime time.Duration
}

func NewJwtClient(secret []byte, expireTime time.Duration) *JwtClient {
	if expireTime <= 0 {
		expireTime = 24 * time.Hour
	}
	return &JwtClient{
		secret:     secret,
		expireTime: expireTime,
	}
}

func (c *JwtClient) CreateToken(claims *AdminClaims) (string, int64, error) {
	now := time.Now()
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(c.expireTime))
	claims.IssuedAt = jwt.NewNumericDate(now)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	return signed, claims.ExpiresAt.Unix(), err
}

func (c *JwtClient) ParseToken(tokenString string) (*AdminClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return c.secret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*AdminClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

func (c *JwtClient) SaveToContext(ctx *fiber.Ctx, claims *AdminClaims) {
	ctx.Locals("user_id", claims.ID)
	if claims.Account != "" {
		ctx.Locals("account", claims.Account)
	}
	ctx.Locals("roles", claims.Roles)
	for _, role := range claims.Roles {
		if role == RoleSuper {
			ctx.Locals("is_super", true)
			break
		}
	}

	ctx.SetUserContext(context.WithValue(ctx.UserContext(), adminKey{}, claims))
}

func (c *JwtClient) ValidateRoles(ctx *fiber.Ctx, requiredRoles []string) error {
	if len(requiredRoles) == 0 || IsAdminSuper(ctx) {
		return nil
	}

	userRoles, _ := ctx.Locals("roles").([]string)
	for _, required := range requiredRoles {
		hasRole := false
		for _, userRole := range userRoles {
			if required == userRole {
				hasRole = true
				break
			}
		}
		if !hasRole {
			return fiber.ErrForbidden
		}
	}
	return nil
}
