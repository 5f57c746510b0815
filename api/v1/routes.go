package v1

import (
	"ddbridge/api/v1/handlers"

	"github.com/gofiber/fiber/v2"
)

type Deps struct {
	Interactions *handlers.InteractionHandle
	SystemKey    string
	Stats        handlers.Stats
}

func SetupRoutes(app *fiber.App, deps Deps) {
	api := app.Group("/api/v1")

	handlers.RegisterInteractions(api, deps.Interactions)
	handlers.RegisterSystem(api.Group("/system"), deps.SystemKey, deps.Stats)
}
