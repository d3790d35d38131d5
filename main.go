package main

import (
	"fmt"
	"log"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/template/html/v2"

	"github.com/LukasBergmann/InvoForge/app/repository"
	"github.com/LukasBergmann/InvoForge/internal/pkg/cache"
	"github.com/LukasBergmann/InvoForge/internal/pkg/database"
	"github.com/LukasBergmann/InvoForge/internal/pkg/env"
	"github.com/LukasBergmann/InvoForge/internal/pkg/payment"
	"github.com/LukasBergmann/InvoForge/internal/pkg/router"
	"github.com/LukasBergmann/InvoForge/internal/pkg/worker"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()
	repository.InitializeFactory(database.GetDB())
	payment.InitStripe()

	if env.IsTestMode() {
		log.Print("WARNING: TEST_MODE is enabled, payment verification is bypassed")
	}

	worker.GetManager().Start()

	engine := html.New("./views", ".html")
	app := fiber.New(fiber.Config{
		Views: engine,
	})
	app.Use(recover.New(), logger.New())
	app.Get("/metrics", monitor.New())
	app.Static("/", "./public/assets")

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app)

	return app
}
