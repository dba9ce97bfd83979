package api

import (
	"context"
	"errors"

	"followmail/models"
	"followmail/storage"
	"followmail/utils"

	"github.com/gofiber/fiber/v2"
)

// ClientReader is the read side of storage.ClientStorage
type ClientReader interface {
	ListClients(ctx context.Context, userID string) ([]*models.Client, error)
	GetClient(ctx context.Context, userID, id string) (*models.Client, error)
}

// ClientHandler serves the logged-in user's clients as JSON
type ClientHandler struct {
	clients ClientReader
}

func NewClientHandler(clients ClientReader) *ClientHandler {
	return &ClientHandler{clients: clients}
}

// ListClients handles GET /api/clients
func (h *ClientHandler) ListClients(c *fiber.Ctx) error {
	user := CurrentUser(c)
	if user == nil {
		return utils.UnauthorizedError("Unauthorized", nil)
	}

	clients, err := h.clients.ListClients(c.UserContext(), user.ID)
	if err != nil {
		return utils.InternalServerError("Failed to load clients", err)
	}

	return c.JSON(fiber.Map{
		"clients": clients,
		"count":   len(clients),
	})
}

// GetClient handles GET /api/clients/:id
func (h *ClientHandler) GetClient(c *fiber.Ctx) error {
	user := CurrentUser(c)
	if user == nil {
		return utils.UnauthorizedError("Unauthorized", nil)
	}

	client, err := h.clients.GetClient(c.UserContext(), user.ID, c.Params("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return utils.NotFoundError("Client not found", err)
		}
		return utils.InternalServerError("Failed to load client", err)
	}
	return c.JSON(client)
}
