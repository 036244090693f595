package handler

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/itemize-cloud/campaign-engine/internal/domain"
	"github.com/itemize-cloud/campaign-engine/internal/observability"
)

const (
	HeaderOrganizationID = "X-Organization-ID"
	organizationLocalKey = "organizationId"
)

// CorrelationMiddleware carries the request id on the user context so that
// services log it and send jobs inherit it.
func CorrelationMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if id := requestCorrelationID(c); id != "" {
			c.SetUserContext(observability.WithCorrelationID(c.UserContext(), id))
		}
		return c.Next()
	}
}

// RequireOrganization rejects requests without an organization header and
// tags the user context with the organization for request logs.
func RequireOrganization() fiber.Handler {
	return func(c *fiber.Ctx) error {
		orgID := strings.TrimSpace(c.Get(HeaderOrganizationID))
		if orgID == "" {
			return fmt.Errorf("%w: %s header is required", domain.ErrValidation, HeaderOrganizationID)
		}
		c.Locals(organizationLocalKey, orgID)
		c.SetUserContext(observability.WithOrganizationID(c.UserContext(), orgID))
		return c.Next()
	}
}

func organizationID(c *fiber.Ctx) string {
	if value, ok := c.Locals(organizationLocalKey).(string); ok {
		return value
	}
	return strings.TrimSpace(c.Get(HeaderOrganizationID))
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}
