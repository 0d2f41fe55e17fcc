package fiber_handle

import (
	"errors"

	errorc "certdeploy/pkg/core/err"

	"github.com/gofiber/fiber/v2"
)

func ErrHandler(ctx *fiber.Ctx, err error) error {
	var e *fiber.Error
	if errors.As(err, &e) {
		return ctx.Status(e.Code).SendString(e.Message)
	}

	cError := errorc.ParseError(err)
	code := errorc.ErrorCodeUnknown
	if cError.ErrorCode != nil {
		code = cError.ErrorCode
	}

	status := fiber.StatusOK
	switch code {
	case errorc.ErrorCodeNoAuth:
		status = fiber.StatusUnauthorized
	case errorc.ErrorCodeForbidden:
		status = fiber.StatusForbidden
	}

	return ctx.Status(status).JSON(fiber.Map{
		"status":    code.Code,
		"message":   cError.RootCause(),
		"retryable": code.Retryable,
	})
}
