package api

import (
	"postbox/models"
	"postbox/services"
	"postbox/utils"

	"github.com/gofiber/fiber/v2"
)

// MailHandler exposes the mail lifecycle over HTTP
type MailHandler struct {
	mails *services.MailService
}

// NewMailHandler creates a new mail handler
func NewMailHandler(mails *services.MailService) *MailHandler {
	return &MailHandler{mails: mails}
}

type mailRequest struct {
	To    []string `json:"to"`
	Title string   `json:"title"`
	Body  string   `json:"body"`
	Draft bool     `json:"draft"`
}

type mailPatchRequest struct {
	To    *[]string `json:"to"`
	Title *string   `json:"title"`
	Body  *string   `json:"body"`
	Draft *bool     `json:"draft"`
}

// CreateMail sends a mail or saves a draft
func (h *MailHandler) CreateMail(c *fiber.Ctx) error {
	username, err := currentUser(c)
	if err != nil {
		return err
	}

	var req mailRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid request", err)
	}

	mail, err := h.mails.CreateMail(c.UserContext(), username, services.MailInput{
		To:    req.To,
		Title: req.Title,
		Body:  req.Body,
		Draft: req.Draft,
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"mail":    mail.PublicFor(username),
	})
}

// ListMails returns one page of a view
func (h *MailHandler) ListMails(c *fiber.Ctx) error {
	username, err := currentUser(c)
	if err != nil {
		return err
	}

	mails, err := h.mails.ListMails(username, c.Query("view"))
	if err != nil {
		return err
	}

	page, pageSize := pageParams(c)
	return c.JSON(models.NewPaginatedMails(models.PublicMails(mails, username), page, pageSize))
}

// SearchMails returns one page of search results
func (h *MailHandler) SearchMails(c *fiber.Ctx) error {
	username, err := currentUser(c)
	if err != nil {
		return err
	}

	mails, err := h.mails.SearchMails(username, c.Query("q"))
	if err != nil {
		return err
	}

	page, pageSize := pageParams(c)
	return c.JSON(models.NewPaginatedMails(models.PublicMails(mails, username), page, pageSize))
}

// GetMail returns a single mail
func (h *MailHandler) GetMail(c *fiber.Ctx) error {
	username, err := currentUser(c)
	if err != nil {
		return err
	}

	mail, err := h.mails.GetMail(username, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"mail": mail.PublicFor(username)})
}

// EditMail edits a mail; clearing "draft" sends it
func (h *MailHandler) EditMail(c *fiber.Ctx) error {
	username, err := currentUser(c)
	if err != nil {
		return err
	}

	var req mailPatchRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid request", err)
	}

	mail, err := h.mails.EditMail(c.UserContext(), username, c.Params("id"), services.MailPatch{
		To:    req.To,
		Title: req.Title,
		Body:  req.Body,
		Draft: req.Draft,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success": true,
		"mail":    mail.PublicFor(username),
	})
}

// DeleteMail trashes a mail, or removes it when already trashed
func (h *MailHandler) DeleteMail(c *fiber.Ctx) error {
	username, err := currentUser(c)
	if err != nil {
		return err
	}

	if err := h.mails.DeleteMail(c.UserContext(), username, c.Params("id")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Mail deleted",
	})
}

// AttachLabel adds one of the caller's labels to a mail
func (h *MailHandler) AttachLabel(c *fiber.Ctx) error {
	username, err := currentUser(c)
	if err != nil {
		return err
	}

	mail, err := h.mails.AttachLabel(c.UserContext(), username, c.Params("id"), c.Params("labelId"))
	if err != nil {
		return err
	}
	if mail == nil {
		return c.JSON(fiber.Map{
			"success": true,
			"deleted": true,
			"message": "Mail deleted",
		})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"mail":    mail.PublicFor(username),
	})
}

// DetachLabel removes one of the caller's labels from a mail
func (h *MailHandler) DetachLabel(c *fiber.Ctx) error {
	username, err := currentUser(c)
	if err != nil {
		return err
	}

	mail, err := h.mails.DetachLabel(c.UserContext(), username, c.Params("id"), c.Params("labelId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success": true,
		"mail":    mail.PublicFor(username),
	})
}
