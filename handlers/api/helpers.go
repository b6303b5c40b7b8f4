package api

import (
	"errors"

	"postbox/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/nicksnyder/go-i18n/v2/i18n"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// currentUser returns the username the auth middleware stored
func currentUser(c *fiber.Ctx) (string, error) {
	username, ok := c.Locals("username").(string)
	if !ok || username == "" {
		return "", utils.UnauthorizedError("User not authenticated", nil)
	}
	return username, nil
}

// pageParams reads page and page_size from the query string
func pageParams(c *fiber.Ctx) (uint32, uint32) {
	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	size := c.QueryInt("page_size", defaultPageSize)
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return uint32(page), uint32(size)
}

// ErrorHandler renders every error as {error, kind, title}
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	kind := utils.KindInternal
	message := "Internal server error"

	var appErr *utils.AppError
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &appErr):
		code, kind, message = appErr.Code, appErr.Kind, appErr.Message
		if code >= fiber.StatusInternalServerError {
			utils.Log.Error("Application error on %s %s: %v", c.Method(), c.Path(), appErr)
		} else {
			utils.Log.Debug("Request rejected on %s %s: %v", c.Method(), c.Path(), appErr)
		}
	case errors.As(err, &fiberErr):
		code, message = fiberErr.Code, fiberErr.Message
		kind = kindForStatus(code)
	default:
		utils.Log.Error("Unhandled error on %s %s: %v", c.Method(), c.Path(), err)
	}

	localizer, _ := c.Locals("localizer").(*i18n.Localizer)
	return c.Status(code).JSON(fiber.Map{
		"error": message,
		"kind":  kind,
		"title": utils.KindTitle(localizer, kind),
	})
}

// NotFound answers requests no route matched
func NotFound(c *fiber.Ctx) error {
	localizer, _ := c.Locals("localizer").(*i18n.Localizer)
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": utils.T(localizer, "error_404"),
		"kind":  utils.KindNotFound,
		"title": utils.KindTitle(localizer, utils.KindNotFound),
	})
}

func kindForStatus(code int) utils.ErrorKind {
	switch code {
	case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity:
		return utils.KindValidation
	case fiber.StatusUnauthorized:
		return utils.KindUnauthorized
	case fiber.StatusForbidden:
		return utils.KindForbidden
	case fiber.StatusNotFound, fiber.StatusMethodNotAllowed:
		return utils.KindNotFound
	case fiber.StatusBadGateway:
		return utils.KindNetwork
	}
	if code < fiber.StatusInternalServerError {
		return utils.KindValidation
	}
	return utils.KindInternal
}
