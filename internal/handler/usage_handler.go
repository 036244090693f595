package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/itemize-cloud/campaign-engine/internal/domain"
)

type UsageChecker interface {
	Check(ctx context.Context, orgID string, resource domain.ResourceType, requested int64) (domain.UsageCheck, error)
}

type SubscriptionInvalidator interface {
	Invalidate(ctx context.Context, orgID string) error
}

type UsageHandler struct {
	usage         UsageChecker
	subscriptions SubscriptionInvalidator
}

func NewUsageHandler(usage UsageChecker, subscriptions SubscriptionInvalidator) (*UsageHandler, error) {
	if usage == nil {
		return nil, fmt.Errorf("usage checker is required")
	}
	if subscriptions == nil {
		return nil, fmt.Errorf("subscription invalidator is required")
	}
	return &UsageHandler{usage: usage, subscriptions: subscriptions}, nil
}

func RegisterUsageRoutes(router fiber.Router, usage UsageChecker, subscriptions SubscriptionInvalidator) error {
	h, err := NewUsageHandler(usage, subscriptions)
	if err != nil {
		return err
	}

	router.Get("/v1/usage/:resource", RequireOrganization(), h.CheckUsage)
	router.Post("/v1/subscriptions/:orgId/invalidate", h.InvalidateSubscription)

	return nil
}

type usageCheckResponse struct {
	OrganizationID string `json:"organizationId"`
	Resource       string `json:"resource"`
	WithinLimits   bool   `json:"withinLimits"`
	Current        int64  `json:"current"`
	Limit          int64  `json:"limit"`
	Requested      int64  `json:"requested"`
	Remaining      int64  `json:"remaining"`
}

// CheckUsage reports whether amount more units fit; it never consumes quota.
func (h *UsageHandler) CheckUsage(c *fiber.Ctx) error {
	resource, err := domain.ParseResourceTypeFromString(c.Params("resource"))
	if err != nil {
		return err
	}

	amount := c.QueryInt("amount", 1)
	if amount < 0 {
		return fmt.Errorf("%w: amount must not be negative", domain.ErrValidation)
	}

	orgID := organizationID(c)
	check, err := h.usage.Check(c.UserContext(), orgID, resource, int64(amount))
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(usageCheckResponse{
		OrganizationID: orgID,
		Resource:       check.Resource.String(),
		WithinLimits:   check.WithinLimits,
		Current:        check.Current,
		Limit:          check.Limit,
		Requested:      check.Requested,
		Remaining:      check.Remaining,
	})
}

func (h *UsageHandler) InvalidateSubscription(c *fiber.Ctx) error {
	orgID := strings.TrimSpace(c.Params("orgId"))
	if orgID == "" {
		return fmt.Errorf("%w: organization is required", domain.ErrValidation)
	}

	if err := h.subscriptions.Invalidate(c.UserContext(), orgID); err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"organizationId": orgID,
		"invalidated":    true,
	})
}
