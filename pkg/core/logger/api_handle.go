package logger

import (
	"strings"
	"time"

	errorc "certdeploy/pkg/core/err"

	"github.com/gofiber/fiber/v2"
)

type Config struct {
	Logger *Log
}

// NewApiLogger 请求日志中间件
func NewApiLogger(config Config) fiber.Handler {
	log := config.Logger.WithEntryName("API")

	return func(c *fiber.Ctx) (err error) {
		url := strings.SplitN(c.OriginalURL(), "?", 2)[0]
		start := time.Now()

		err = c.Next()

		entry := log.WithField("status", c.Response().StatusCode()).
			WithField("latency", time.Since(start).Round(time.Millisecond)).
			WithField("method", c.Method()).
			WithField("path", url).
			WithField("TraceId", c.Locals("traceId"))
		entry.Debug("请求处理完毕")

		if err != nil {
			errc := errorc.ParseError(err)
			errc.ToLog(entry.WithTrace(c.UserContext()).GetLogger())
		}
		return err
	}
}
