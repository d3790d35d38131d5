package controllers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/LukasBergmann/InvoForge/app/models"
	"github.com/LukasBergmann/InvoForge/app/repository"
	"github.com/LukasBergmann/InvoForge/internal/pkg/usercontext"
)

type createUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleCreateUser registers a new account and returns its bearer token.
// The token is shown exactly once; it is the only credential API clients
// hold afterwards.
func HandleCreateUser(c *fiber.Ctx) error {
	var req createUserRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Malformed JSON body"})
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	user, err := models.CreateUser(req.Email, req.Password)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": err.Error()})
	}

	repo := repository.GetGlobalFactory().GetLedgerRepository()
	if existing, err := repo.GetUserByEmail(user.Email); err == nil && existing != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "email_taken", "message": "An account with this email already exists"})
	} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to create user"})
	}

	if err := repo.CreateUser(user); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to create user"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":         user.PublicID,
		"email":      user.Email,
		"token":      user.Token,
		"created_at": user.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// HandleGetUser returns account information for the authenticated user.
func HandleGetUser(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	repo := repository.GetGlobalFactory().GetLedgerRepository()
	user, err := repo.GetUserByID(userCtx.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "User not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user"})
	}

	st, err := getLedgerService().GetStatus(c.Context(), user.ID)
	if err != nil {
		return respondLedgerError(c, err)
	}

	return c.JSON(fiber.Map{
		"id":            user.PublicID,
		"email":         user.Email,
		"status":        user.Status,
		"created_at":    user.CreatedAt.UTC().Format(time.RFC3339),
		"is_subscribed": st.IsSubscribed,
		"subscription":  st.Subscription,
		"generations":   st.Balances,
	})
}
