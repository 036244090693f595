package transport

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/itemize-cloud/campaign-engine/internal/domain"
	"github.com/itemize-cloud/campaign-engine/internal/mailer"
	"github.com/itemize-cloud/campaign-engine/internal/observability"
	"go.uber.org/zap"
)

// ErrorHandler renders every error returned by a route as {"error": ...}.
// Quota rejections also carry the usage figures the caller needs to react.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx, err error) error {
		code := StatusCode(err)
		body := fiber.Map{
			"error": err.Error(),
		}

		var quotaErr *domain.QuotaExceededError
		if errors.As(err, &quotaErr) {
			body["resource"] = quotaErr.Resource.String()
			body["current"] = quotaErr.Current
			body["limit"] = quotaErr.Limit
			body["requested"] = quotaErr.Requested
			body["remaining"] = quotaErr.Remaining
		}

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err),
		}
		reqLogger := observability.WithContextLogger(logger, c.UserContext())
		if code >= fiber.StatusInternalServerError {
			reqLogger.Error("request error", fields...)
		} else {
			reqLogger.Warn("request rejected", fields...)
		}

		return c.Status(code).JSON(body)
	}
}

// StatusCode maps an error to its HTTP status.
func StatusCode(err error) int {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code
	}

	var quotaErr *domain.QuotaExceededError
	var mailerErr *mailer.MailerError
	switch {
	case errors.As(err, &quotaErr):
		return fiber.StatusTooManyRequests
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrNoRecipients):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return fiber.StatusConflict
	case errors.As(err, &mailerErr):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
