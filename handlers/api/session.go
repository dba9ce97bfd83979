package api

import (
	"context"
	"errors"

	"followmail/models"
	"followmail/storage"
	"followmail/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
)

// UserLoader loads the account behind a session
type UserLoader interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// SessionMiddleware loads the logged-in user into c.Locals("user"). Requests
// without a valid session are redirected to /login, or get 401 under /api.
func SessionMiddleware(store *session.Store, users UserLoader, secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, err := store.Get(c)
		if err != nil {
			return utils.InternalServerError("Session error", err)
		}

		token, _ := sess.Get("token").(string)
		if token == "" {
			return unauthenticated(c)
		}

		claims, err := ParseToken(token, secret)
		if err != nil {
			utils.Log.Debug("Rejecting session: %v", err)
			_ = sess.Destroy()
			return unauthenticated(c)
		}

		user, err := users.GetUser(c.UserContext(), claims.UserID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				_ = sess.Destroy()
				return unauthenticated(c)
			}
			return utils.InternalServerError("Failed to load user", err)
		}

		c.Locals("user", user)
		return c.Next()
	}
}

func unauthenticated(c *fiber.Ctx) error {
	if IsAPIRequest(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}
	return c.Redirect("/login")
}
