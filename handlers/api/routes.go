package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"
)

// Handlers bundles the API handlers for route registration
type Handlers struct {
	Auth          *AuthHandler
	Mails         *MailHandler
	Labels        *LabelHandler
	Notifications *NotificationHandler
	I18n          *I18nHandler

	// RequestTimeout bounds mail operations. Their blacklist calls see the
	// deadline through the request's user context. Zero disables it.
	RequestTimeout time.Duration
}

func withDeadline(handler fiber.Handler, d time.Duration) fiber.Handler {
	if d <= 0 {
		return handler
	}
	return timeout.NewWithContext(handler, d)
}

// SetupRoutes registers every API route. auth guards everything except
// registration, login, translations and the health check.
func SetupRoutes(app *fiber.App, h *Handlers, auth fiber.Handler) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", auth, websocket.New(h.Notifications.HandleWebSocket))

	apiRoutes := app.Group("/api")
	apiRoutes.Post("/users", h.Auth.Register)
	apiRoutes.Post("/login", h.Auth.Login)
	apiRoutes.Get("/i18n/:lang", h.I18n.GetTranslations)

	protected := apiRoutes.Group("", auth)
	{
		protected.Get("/me", h.Auth.Me)
		protected.Get("/events", h.Notifications.HandleSSE)

		// Mail routes
		protected.Post("/mails", withDeadline(h.Mails.CreateMail, h.RequestTimeout))
		protected.Get("/mails", withDeadline(h.Mails.ListMails, h.RequestTimeout))
		protected.Get("/mails/search", withDeadline(h.Mails.SearchMails, h.RequestTimeout))
		protected.Get("/mails/:id", withDeadline(h.Mails.GetMail, h.RequestTimeout))
		protected.Patch("/mails/:id", withDeadline(h.Mails.EditMail, h.RequestTimeout))
		protected.Delete("/mails/:id", withDeadline(h.Mails.DeleteMail, h.RequestTimeout))
		protected.Put("/mails/:id/labels/:labelId", withDeadline(h.Mails.AttachLabel, h.RequestTimeout))
		protected.Delete("/mails/:id/labels/:labelId", withDeadline(h.Mails.DetachLabel, h.RequestTimeout))

		// Label routes
		protected.Get("/labels", h.Labels.GetLabels)
		protected.Post("/labels", h.Labels.CreateLabel)
		protected.Patch("/labels/:id", h.Labels.UpdateLabel)
		protected.Delete("/labels/:id", h.Labels.DeleteLabel)
	}
}
