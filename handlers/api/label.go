package api

import (
	"postbox/models"
	"postbox/services"
	"postbox/utils"

	"github.com/gofiber/fiber/v2"
)

// LabelHandler handles label management requests
type LabelHandler struct {
	labels *services.LabelService
}

// NewLabelHandler creates a new label handler
func NewLabelHandler(labels *services.LabelService) *LabelHandler {
	return &LabelHandler{labels: labels}
}

type labelRequest struct {
	Name  *string `json:"name"`
	Color *string `json:"color"`
}

// CreateLabel creates a new label
func (h *LabelHandler) CreateLabel(c *fiber.Ctx) error {
	username, err := currentUser(c)
	if err != nil {
		return err
	}

	var req labelRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid request", err)
	}
	if req.Name == nil {
		return utils.BadRequestError("Label name required", nil)
	}
	color := ""
	if req.Color != nil {
		color = *req.Color
	}

	label, err := h.labels.AddLabel(username, *req.Name, color)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"label":   label.Public(),
	})
}

// GetLabels retrieves all labels for the current user
func (h *LabelHandler) GetLabels(c *fiber.Ctx) error {
	username, err := currentUser(c)
	if err != nil {
		return err
	}

	labels, err := h.labels.ListLabels(username)
	if err != nil {
		return err
	}

	public := make([]models.PublicLabel, 0, len(labels))
	for _, l := range labels {
		public = append(public, l.Public())
	}
	return c.JSON(fiber.Map{
		"success": true,
		"labels":  public,
	})
}

// UpdateLabel renames and/or recolours a label
func (h *LabelHandler) UpdateLabel(c *fiber.Ctx) error {
	username, err := currentUser(c)
	if err != nil {
		return err
	}

	var req labelRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid request", err)
	}
	if req.Name == nil && req.Color == nil {
		return utils.BadRequestError("Nothing to update", nil)
	}

	id := c.Params("id")
	var label *models.Label
	if req.Name != nil {
		if label, err = h.labels.RenameLabel(username, id, *req.Name); err != nil {
			return err
		}
	}
	if req.Color != nil {
		if label, err = h.labels.SetLabelColor(username, id, *req.Color); err != nil {
			return err
		}
	}

	return c.JSON(fiber.Map{
		"success": true,
		"label":   label.Public(),
	})
}

// DeleteLabel deletes a label and detaches it from every mail
func (h *LabelHandler) DeleteLabel(c *fiber.Ctx) error {
	username, err := currentUser(c)
	if err != nil {
		return err
	}

	if err := h.labels.DeleteLabel(username, c.Params("id")); err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Label deleted",
	})
}
