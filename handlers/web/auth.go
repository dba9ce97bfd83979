package web

import (
	"errors"

	"followmail/config"
	"followmail/handlers/api"
	"followmail/models"
	"followmail/storage"
	"followmail/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
)

type AuthHandler struct {
	store  *session.Store
	config *config.Config
	users  UserStore
}

// NewAuthHandler creates a new instance of AuthHandler
func NewAuthHandler(store *session.Store, config *config.Config, users UserStore) *AuthHandler {
	return &AuthHandler{
		store:  store,
		config: config,
		users:  users,
	}
}

// ShowLogin renders the login page
func (h *AuthHandler) ShowLogin(c *fiber.Ctx) error {
	sess, err := h.store.Get(c)
	if err == nil {
		if token, _ := sess.Get("token").(string); token != "" {
			if _, err := api.ParseToken(token, h.config.Server.SecretKey); err == nil {
				return c.Redirect("/dashboard")
			}
		}
	}

	data := fiber.Map{"CSRFToken": c.Locals("csrf")}
	if c.Query("created") != "" {
		data["Notice"] = utils.T(api.Localizer(c), "signup_created")
	}
	return c.Render("login", data)
}

// HandleLogin processes the login form
func (h *AuthHandler) HandleLogin(c *fiber.Ctx) error {
	loc := api.Localizer(c)

	var form LoginForm
	if err := parseForm(c, &form); err != nil {
		return c.Status(fiber.StatusBadRequest).Render("login", fiber.Map{
			"Error":     utils.T(loc, "login_required_fields"),
			"Email":     form.Email,
			"CSRFToken": c.Locals("csrf"),
		})
	}

	user, err := h.users.Authenticate(c.UserContext(), form.Email, form.Password)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidCredentials) {
			utils.Log.Info("Failed login for %s from %s", storage.NormalizeEmail(form.Email), c.IP())
			return c.Status(fiber.StatusUnauthorized).Render("login", fiber.Map{
				"Error":     utils.T(loc, "login_failed"),
				"Email":     form.Email,
				"CSRFToken": c.Locals("csrf"),
			})
		}
		return utils.InternalServerError("Login failed", err)
	}

	if err := h.startSession(c, user); err != nil {
		return err
	}
	return c.Redirect("/dashboard")
}

// ShowSignup renders the signup page
func (h *AuthHandler) ShowSignup(c *fiber.Ctx) error {
	return c.Render("signup", fiber.Map{"CSRFToken": c.Locals("csrf")})
}

// HandleSignup creates an account and sends the user to the login page
func (h *AuthHandler) HandleSignup(c *fiber.Ctx) error {
	loc := api.Localizer(c)

	var form SignupForm
	if err := parseForm(c, &form); err != nil {
		data := fiber.Map{
			"Error":     utils.T(loc, "signup_invalid"),
			"Email":     form.Email,
			"CSRFToken": c.Locals("csrf"),
		}
		var verr *utils.ValidationError
		if errors.As(err, &verr) {
			data["Errors"] = verr.Fields
		}
		return c.Status(fiber.StatusBadRequest).Render("signup", data)
	}

	user, err := h.users.CreateUser(c.UserContext(), form.Email, form.Password)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateEmail) {
			return c.Status(fiber.StatusConflict).Render("signup", fiber.Map{
				"Error":     utils.T(loc, "signup_duplicate"),
				"Email":     form.Email,
				"CSRFToken": c.Locals("csrf"),
			})
		}
		return utils.InternalServerError("Signup failed", err)
	}

	utils.Log.Info("Created user %s", user.ID)
	return c.Redirect("/login?created=1")
}

// HandleLogout ends the session
func (h *AuthHandler) HandleLogout(c *fiber.Ctx) error {
	sess, err := h.store.Get(c)
	if err != nil {
		return c.Redirect("/login")
	}

	if err := sess.Destroy(); err != nil {
		return utils.InternalServerError("Error during logout", err)
	}
	return c.Redirect("/login")
}

func (h *AuthHandler) startSession(c *fiber.Ctx, user *models.User) error {
	sess, err := h.store.Get(c)
	if err != nil {
		return utils.InternalServerError("Session error", err)
	}

	// New session id on login
	if err := sess.Regenerate(); err != nil {
		return utils.InternalServerError("Session error", err)
	}

	expiration := h.config.Session.Expiration.Duration
	token, err := api.GenerateToken(user.ID, user.Email, h.config.Server.SecretKey, expiration)
	if err != nil {
		return utils.InternalServerError("Failed to create authentication token", err)
	}

	sess.Set("token", token)
	sess.Set("userId", user.ID)
	sess.SetExpiry(expiration)

	if err := sess.Save(); err != nil {
		return utils.InternalServerError("Failed to create session", err)
	}
	return nil
}
