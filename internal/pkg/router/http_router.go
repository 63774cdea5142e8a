package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/draftmint/creditledger/app/controllers"
	"github.com/draftmint/creditledger/internal/pkg/database"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Gateway-facing webhook endpoint. Authenticated by payload signature,
	// not by session or API key.
	app.Post("/webhooks/billing", controllers.HandleBillingWebhook)

	app.Get("/healthz", func(c *fiber.Ctx) error {
		if err := database.Ping(); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "down"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
