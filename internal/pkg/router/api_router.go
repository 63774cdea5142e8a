package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"

	apiv1 "github.com/draftmint/creditledger/internal/api/v1"
	"github.com/draftmint/creditledger/internal/pkg/env"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api")
	v1 := api.Group("/v1")

	apiServer := apiv1.NewAPIServer()
	v1.Post("/credits/check", apiServer.PostCreditsCheck)
	v1.Post("/credits/deduct", apiServer.PostCreditsDeduct)
	v1.Post("/credits/refund", apiServer.PostCreditsRefund)

	// Operator-only queue introspection
	v1.Get("/queue/stats", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("ADMIN_USER", "admin"): env.GetEnv("ADMIN_PASSWORD", "admin"),
		},
	}), apiServer.GetQueueStats)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
