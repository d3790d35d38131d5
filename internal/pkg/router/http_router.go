package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/LukasBergmann/InvoForge/internal/pkg/middleware"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Resolve bearer tokens into a user context on every request
	app.Use(middleware.TokenAuthMiddleware())

	// The invoice builder is a single-page shell; everything else is API
	app.Get("/", func(c *fiber.Ctx) error {
		return c.Render("index", fiber.Map{})
	})
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
