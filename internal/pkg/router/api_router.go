package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis"

	"github.com/LukasBergmann/InvoForge/app/controllers"
	"github.com/LukasBergmann/InvoForge/internal/pkg/cache"
	"github.com/LukasBergmann/InvoForge/internal/pkg/env"
	"github.com/LukasBergmann/InvoForge/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
		Storage:    limiterStorage(),
	}))

	// Unauthenticated. Status stays open: anonymous callers get the empty
	// entitlement snapshot instead of a 401.
	api.Post("/user/create", controllers.HandleCreateUser)
	api.Post("/stripe-webhook", controllers.HandleStripeWebhook)
	api.Get("/subscription/status", controllers.HandleSubscriptionStatus)

	// Authenticated
	api.Get("/user", middleware.RequireAPIAuth, controllers.HandleGetUser)
	api.Post("/subscription/verify", middleware.RequireAPIAuth, controllers.HandleVerifySubscription)
	api.Post("/subscription/cancel", middleware.RequireAPIAuth, controllers.HandleCancelSubscription)
	api.Post("/credits/verify", middleware.RequireAPIAuth, controllers.HandleVerifyCredits)
	api.Post("/user/consume-generation", middleware.RequireAPIAuth, controllers.HandleConsumeGeneration)
	api.Post("/create-subscription-session", middleware.RequireAPIAuth, controllers.HandleCreateSubscriptionSession)
	api.Post("/create-credits-session", middleware.RequireAPIAuth, controllers.HandleCreateCreditsSession)

	// Test-mode only routes; the handlers 404 again if the flag flips off
	if env.IsTestMode() {
		api.Post("/user/add-credits", middleware.RequireAPIAuth, controllers.HandleAddCredits)
		api.Post("/user/add-subscription", middleware.RequireAPIAuth, controllers.HandleAddSubscription)
	}
}

// limiterStorage backs the rate limiter with Redis so limits hold across
// instances. Database 1 keeps limiter keys apart from the counter hashes.
func limiterStorage() *redisstorage.Storage {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if client := cache.GetClient(); client != nil {
		if h, p, err := net.SplitHostPort(client.Options().Addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := client.Options().Password; p != "" {
			password = p
		}
	}

	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
