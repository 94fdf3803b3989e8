// handlers/referral.go
package handlers

import (
	"referral-program-service/middleware"
	"referral-program-service/services"

	"github.com/gofiber/fiber/v2"
)

// SetupReferralRoutes registers the public signup path and the end-client
// dashboard. Everything still passes the global gateway auth.
func SetupReferralRoutes(app *fiber.App, clients *services.ClientService, dashboards *services.DashboardService) {
	// 🔓 Public routes — no user context, but still gateway-authed.
	app.Post("/signup", func(c *fiber.Ctx) error {
		var req struct {
			ReferralCode string `json:"referral_code"`
			ExternalID   string `json:"external_id"`
			Name         string `json:"name"`
			Email        string `json:"email"`
			Phone        string `json:"phone"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		client, err := clients.SignupWithReferralCode(c.Context(), services.SignupInput{
			ReferralCode: req.ReferralCode,
			ExternalID:   req.ExternalID,
			Name:         req.Name,
			Email:        req.Email,
			Phone:        req.Phone,
		})
		if err != nil {
			return c.Status(services.StatusForError(err)).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusCreated).JSON(client)
	})

	// Referral-link landing lookup: who owns this code.
	app.Get("/referral-codes/:code", func(c *fiber.Ctx) error {
		client, err := clients.FindByReferralCode(c.Context(), c.Params("code"))
		if err != nil {
			return c.Status(services.StatusForError(err)).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{
			"name":          client.Name,
			"referral_code": client.ReferralCode,
			"share_url":     client.ShareURL,
		})
	})

	// 🔐 Secured routes — require user context from the Gateway.
	secured := app.Group("/s", middleware.UserContextMiddleware())

	// The caller's own dashboard; X-User-ID is the billing subscriber id.
	secured.Get("/referrals/me", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		client, err := clients.GetByExternalID(c.Context(), userID)
		if err != nil {
			return c.Status(services.StatusForError(err)).JSON(fiber.Map{"error": err.Error()})
		}
		summary, err := dashboards.Summary(c.Context(), client.ID)
		if err != nil {
			return c.Status(services.StatusForError(err)).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(summary)
	})
}
