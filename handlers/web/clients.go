package web

import (
	"errors"
	"time"

	"followmail/handlers/api"
	"followmail/models"
	"followmail/storage"
	"followmail/utils"

	"github.com/gofiber/fiber/v2"
)

// ClientHandler serves the dashboard and the client add, edit and delete pages.
type ClientHandler struct {
	clients ClientStore
	loc     *time.Location
}

func NewClientHandler(clients ClientStore, loc *time.Location) *ClientHandler {
	if loc == nil {
		loc = time.Local
	}
	return &ClientHandler{clients: clients, loc: loc}
}

// Dashboard lists the user's clients
func (h *ClientHandler) Dashboard(c *fiber.Ctx) error {
	user := api.CurrentUser(c)

	clients, err := h.clients.ListClients(c.UserContext(), user.ID)
	if err != nil {
		return utils.InternalServerError("Failed to load clients", err)
	}

	data := fiber.Map{
		"User":      user,
		"Clients":   clients,
		"Today":     models.Today(time.Now(), h.loc).Format(models.DateLayout),
		"CSRFToken": c.Locals("csrf"),
	}
	if c.Query("saved") != "" {
		data["Notice"] = utils.T(api.Localizer(c), "settings_saved")
	}
	return c.Render("dashboard", data)
}

// ShowAdd renders an empty client form
func (h *ClientHandler) ShowAdd(c *fiber.Ctx) error {
	return c.Render("client_form", fiber.Map{
		"Title":     "Add client",
		"Action":    "/add",
		"Form":      ClientForm{},
		"CSRFToken": c.Locals("csrf"),
	})
}

// HandleAdd creates a client for the logged-in user
func (h *ClientHandler) HandleAdd(c *fiber.Ctx) error {
	user := api.CurrentUser(c)

	var form ClientForm
	if err := parseForm(c, &form); err != nil {
		return h.renderFormError(c, "Add client", "/add", form, err)
	}

	client := &models.Client{
		UserID:       user.ID,
		Name:         form.Name,
		Email:        form.Email,
		FollowupDate: form.Date(),
	}
	if err := h.clients.CreateClient(c.UserContext(), client); err != nil {
		return utils.InternalServerError("Failed to save client", err)
	}

	utils.Log.Debug("User %s added client %s", user.ID, client.ID)
	return c.Redirect("/dashboard")
}

// ShowEdit renders the form for one of the user's clients
func (h *ClientHandler) ShowEdit(c *fiber.Ctx) error {
	client, err := h.ownedClient(c)
	if err != nil {
		return err
	}

	return c.Render("client_form", fiber.Map{
		"Title":  "Edit client",
		"Action": "/edit/" + client.ID,
		"Form": ClientForm{
			Name:         client.Name,
			Email:        client.Email,
			FollowupDate: client.FormatDate(),
		},
		"Client":    client,
		"CSRFToken": c.Locals("csrf"),
	})
}

// HandleEdit saves one of the user's clients
func (h *ClientHandler) HandleEdit(c *fiber.Ctx) error {
	client, err := h.ownedClient(c)
	if err != nil {
		return err
	}

	var form ClientForm
	if err := parseForm(c, &form); err != nil {
		return h.renderFormError(c, "Edit client", "/edit/"+client.ID, form, err)
	}

	client.Name = form.Name
	client.Email = form.Email
	client.FollowupDate = form.Date()

	if err := h.clients.UpdateClient(c.UserContext(), client); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return utils.NotFoundError("Client not found", err)
		}
		return utils.InternalServerError("Failed to save client", err)
	}
	return c.Redirect("/dashboard")
}

// HandleDelete removes one of the user's clients
func (h *ClientHandler) HandleDelete(c *fiber.Ctx) error {
	user := api.CurrentUser(c)

	if err := h.clients.DeleteClient(c.UserContext(), user.ID, c.Params("id")); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return utils.NotFoundError("Client not found", err)
		}
		return utils.InternalServerError("Failed to delete client", err)
	}
	return c.Redirect("/dashboard")
}

// ownedClient loads :id for the current user; another owner's client is a 404.
func (h *ClientHandler) ownedClient(c *fiber.Ctx) (*models.Client, error) {
	user := api.CurrentUser(c)

	client, err := h.clients.GetClient(c.UserContext(), user.ID, c.Params("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, utils.NotFoundError("Client not found", err)
		}
		return nil, utils.InternalServerError("Failed to load client", err)
	}
	return client, nil
}

func (h *ClientHandler) renderFormError(c *fiber.Ctx, title, action string, form ClientForm, err error) error {
	var verr *utils.ValidationError
	if !errors.As(err, &verr) {
		return err
	}
	return c.Status(fiber.StatusBadRequest).Render("client_form", fiber.Map{
		"Title":     title,
		"Action":    action,
		"Form":      form,
		"Error":     utils.T(api.Localizer(c), "validation_failed"),
		"Errors":    verr.Fields,
		"CSRFToken": c.Locals("csrf"),
	})
}
