package api

import (
	"strings"

	"followmail/models"

	"github.com/gofiber/fiber/v2"
	"github.com/nicksnyder/go-i18n/v2/i18n"
)

// IsAPIRequest reports whether the response should be JSON
func IsAPIRequest(c *fiber.Ctx) bool {
	if c == nil {
		return false
	}
	return strings.HasPrefix(c.Path(), "/api")
}

// CurrentUser returns the user loaded by SessionMiddleware, or nil.
func CurrentUser(c *fiber.Ctx) *models.User {
	user, _ := c.Locals("user").(*models.User)
	return user
}

// Localizer returns the request localizer set by middleware.LocaleMiddleware.
func Localizer(c *fiber.Ctx) *i18n.Localizer {
	loc, _ := c.Locals("localizer").(*i18n.Localizer)
	return loc
}
