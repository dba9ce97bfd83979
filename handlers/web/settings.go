package web

import (
	"errors"

	"followmail/handlers/api"
	"followmail/metrics"
	"followmail/storage"
	"followmail/utils"

	"github.com/gofiber/fiber/v2"
)

// SettingsHandler serves the mail relay settings and the test send
type SettingsHandler struct {
	users  UserStore
	cipher Encrypter
	mailer TestSender
}

func NewSettingsHandler(users UserStore, cipher Encrypter, mailer TestSender) *SettingsHandler {
	return &SettingsHandler{
		users:  users,
		cipher: cipher,
		mailer: mailer,
	}
}

// ShowSettings renders the relay settings form
func (h *SettingsHandler) ShowSettings(c *fiber.Ctx) error {
	user := api.CurrentUser(c)

	return c.Render("email_settings", fiber.Map{
		"User":        user,
		"HasPassword": user.SMTPPassword != "",
		"CSRFToken":   c.Locals("csrf"),
	})
}

// UpdateSettings stores the relay settings and clears verification
func (h *SettingsHandler) UpdateSettings(c *fiber.Ctx) error {
	user := api.CurrentUser(c)
	loc := api.Localizer(c)

	var form RelayForm
	err := parseForm(c, &form)
	var port int
	if err == nil {
		port, err = form.Port()
	}
	if err == nil && form.SMTPPassword == "" && user.SMTPPassword == "" {
		err = utils.NewValidationError("smtp_password", utils.T(loc, "relay_password_required"))
	}
	if err != nil {
		var verr *utils.ValidationError
		if !errors.As(err, &verr) {
			return err
		}
		return c.Status(fiber.StatusBadRequest).Render("email_settings", fiber.Map{
			"User":        user,
			"Form":        form,
			"HasPassword": user.SMTPPassword != "",
			"Error":       utils.T(loc, "validation_failed"),
			"Errors":      verr.Fields,
			"CSRFToken":   c.Locals("csrf"),
		})
	}

	update := storage.RelayUpdate{
		Email: form.SMTPEmail,
		Host:  form.SMTPHost,
		Port:  port,
		TLS:   form.TLS(),
	}
	if form.SMTPPassword != "" {
		update.Password, err = h.cipher.Encrypt(form.SMTPPassword)
		if err != nil {
			return utils.InternalServerError("Failed to secure relay password", err)
		}
	}

	if err := h.users.UpdateRelay(c.UserContext(), user.ID, update); err != nil {
		return utils.InternalServerError("Failed to save settings", err)
	}

	utils.Log.Info("User %s updated relay settings (%s:%d)", user.ID, update.Host, update.Port)
	return c.Redirect("/dashboard?saved=1")
}

// TestEmail sends a message to the relay address. Success marks the relay
// verified; failure is reported as text and leaves it unverified.
func (h *SettingsHandler) TestEmail(c *fiber.Ctx) error {
	user := api.CurrentUser(c)
	loc := api.Localizer(c)

	if err := h.mailer.SendTest(c.UserContext(), user); err != nil {
		metrics.TestEmails.WithLabelValues("failed").Inc()
		utils.Log.Warn("Test email for user %s failed: %v", user.ID, err)
		return c.SendString(utils.TWithData(loc, "test_email_failed", map[string]interface{}{
			"Error": err.Error(),
		}))
	}

	if err := h.users.MarkRelayVerified(c.UserContext(), user.ID, user.Relay()); err != nil {
		if errors.Is(err, storage.ErrRelayChanged) {
			metrics.TestEmails.WithLabelValues("stale").Inc()
			return c.SendString(utils.T(loc, "test_email_stale"))
		}
		return utils.InternalServerError("Failed to mark relay verified", err)
	}

	metrics.TestEmails.WithLabelValues("ok").Inc()
	return c.SendString(utils.T(loc, "test_email_success"))
}
