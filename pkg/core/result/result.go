package result

import (
	"github.com/gofiber/fiber/v2"
)

// OK 统一成功响应 {status: 200, data}
func OK(c *fiber.Ctx, v interface{}) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": fiber.StatusOK, "data": v})
}

// Page 分页响应
func Page(c *fiber.Ctx, list interface{}, total int64) error {
	return OK(c, fiber.Map{"content": list, "total": total})
}

// Once 出错时交给全局 ErrHandler
func Once(c *fiber.Ctx, v interface{}, err error) error {
	if err != nil {
		return err
	}
	return OK(c, v)
}
