package api

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"postbox/middleware"
	"postbox/models"
	"postbox/services"
	"postbox/storage"
	"postbox/utils"

	"github.com/gofiber/fiber/v2"
)

const minPasswordLength = 8

var (
	usernamePattern      = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,63}$`)
	emailUsernamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._+-]{0,63}@[a-z0-9.-]+\.[a-z]{2,}$`)
)

// AuthHandler handles registration, login and the current user
type AuthHandler struct {
	users           *storage.UserStorage
	labels          *services.LabelService
	tokens          *middleware.TokenIssuer
	usernameIsEmail bool
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(users *storage.UserStorage, labels *services.LabelService, tokens *middleware.TokenIssuer, usernameIsEmail bool) *AuthHandler {
	return &AuthHandler{
		users:           users,
		labels:          labels,
		tokens:          tokens,
		usernameIsEmail: usernameIsEmail,
	}
}

type registerRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ValidateUsername normalizes and checks a username for registration
func ValidateUsername(username string, usernameIsEmail bool) (string, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	pattern := usernamePattern
	if usernameIsEmail {
		pattern = emailUsernamePattern
	}
	if !pattern.MatchString(username) {
		return "", utils.ValidationError("invalid username", nil)
	}
	return username, nil
}

// Register creates a user and provisions their default labels
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid request", err)
	}

	username, err := ValidateUsername(req.Username, h.usernameIsEmail)
	if err != nil {
		return err
	}
	if len(req.Password) < minPasswordLength {
		return utils.ValidationError("password must be at least 8 characters", nil)
	}

	user, err := createUser(h.users, username, req.Password, utils.StripHTML(req.DisplayName))
	if err != nil {
		return err
	}
	if _, err := h.labels.Defaults(user.Username); err != nil {
		return err
	}

	utils.Log.Info("User registered: %s", user.Username)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"user":    user.Public(),
	})
}

// Login verifies credentials and returns a bearer token
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid request", err)
	}
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" || req.Password == "" {
		return utils.ValidationError("username and password are required", nil)
	}

	user, err := h.users.VerifyPassword(username, req.Password)
	switch {
	case errors.Is(err, storage.ErrUserNotFound), errors.Is(err, storage.ErrBadPassword):
		// Don't reveal whether the user exists
		return utils.UnauthorizedError("Invalid credentials", nil)
	case err != nil:
		return utils.InternalServerError("Authentication failed", err)
	}

	token, expiresAt, err := h.tokens.Issue(user.Username)
	if err != nil {
		return utils.InternalServerError("Token generation failed", err)
	}
	if err := h.users.UpdateLastLogin(user.Username); err != nil {
		utils.Log.Warn("Failed to record login for %s: %v", user.Username, err)
	}

	return c.JSON(fiber.Map{
		"token":      token,
		"expires_at": expiresAt.Format(time.RFC3339),
		"user":       user.Public(),
	})
}

// Me returns the authenticated user
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	username, err := currentUser(c)
	if err != nil {
		return err
	}
	user, err := h.users.GetUserByUsername(username)
	if err != nil {
		return utils.NotFoundError("User not found", err)
	}
	return c.JSON(fiber.Map{
		"user": user.Public(),
	})
}

func createUser(users *storage.UserStorage, username, password, displayName string) (*models.User, error) {
	user := &models.User{Username: username, DisplayName: displayName}
	if err := users.CreateUser(user, password); err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			return nil, utils.ValidationError("username already taken", err)
		}
		return nil, utils.InternalServerError("Failed to create user", err)
	}
	return user, nil
}
