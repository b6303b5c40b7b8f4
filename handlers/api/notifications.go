package api

import (
	"bufio"
	"encoding/json"
	"sync"
	"time"

	"postbox/models"
	"postbox/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

const keepAliveInterval = 30 * time.Second

// Notification represents a real-time notification
type Notification struct {
	ID      string                 `json:"id"`
	Type    string                 `json:"type"` // "new_mail", "deleted"
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data"`
	Time    time.Time              `json:"time"`
}

// NotificationHandler fans delivery events out to each user's open SSE and
// WebSocket connections
type NotificationHandler struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Notification // username -> subscriber id -> channel
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler() *NotificationHandler {
	return &NotificationHandler{
		subscribers: make(map[string]map[string]chan Notification),
	}
}

func (h *NotificationHandler) subscribe(username string) (string, chan Notification) {
	id := uuid.New().String()
	ch := make(chan Notification, 10)

	h.mu.Lock()
	if h.subscribers[username] == nil {
		h.subscribers[username] = make(map[string]chan Notification)
	}
	h.subscribers[username][id] = ch
	h.mu.Unlock()

	utils.Log.Debug("Subscriber %s connected for %s", id, username)
	return id, ch
}

func (h *NotificationHandler) unsubscribe(username, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[username]
	if ch, ok := subs[id]; ok {
		delete(subs, id)
		close(ch)
	}
	if len(subs) == 0 {
		delete(h.subscribers, username)
	}
	utils.Log.Debug("Subscriber %s disconnected for %s", id, username)
}

// Subscribers returns how many connections username has open
func (h *NotificationHandler) Subscribers(username string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[username])
}

// HandleSSE streams notifications as Server-Sent Events
func (h *NotificationHandler) HandleSSE(c *fiber.Ctx) error {
	username, err := currentUser(c)
	if err != nil {
		return err
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Transfer-Encoding", "chunked")

	id, messages := h.subscribe(username)
	done := c.Context().Done()

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer h.unsubscribe(username, id)

		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()

		// tell the client the stream is live
		if _, err := w.WriteString(": connected\n\n"); err != nil || w.Flush() != nil {
			return
		}

		for {
			select {
			case n, ok := <-messages:
				if !ok {
					return
				}
				data, err := json.Marshal(n)
				if err != nil {
					utils.Log.Error("Failed to encode notification: %v", err)
					continue
				}
				w.WriteString("event: " + n.Type + "\n")
				w.WriteString("data: " + string(data) + "\n\n")
				if err := w.Flush(); err != nil {
					return
				}

			case <-ticker.C:
				w.WriteString(": keepalive\n\n")
				if err := w.Flush(); err != nil {
					return
				}

			case <-done:
				return
			}
		}
	}))

	return nil
}

// HandleWebSocket pushes notifications over a WebSocket connection
func (h *NotificationHandler) HandleWebSocket(c *websocket.Conn) {
	username, _ := c.Locals("username").(string)
	if username == "" {
		c.Close()
		return
	}

	id, messages := h.subscribe(username)
	defer func() {
		h.unsubscribe(username, id)
		c.Close()
	}()

	// the read side only exists to notice the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case n, ok := <-messages:
			if !ok {
				return
			}
			if err := c.WriteJSON(n); err != nil {
				utils.Log.Warn("Failed to send WebSocket notification to %s: %v", username, err)
				return
			}
		case <-closed:
			return
		}
	}
}

// notify sends a notification to every connection of username
func (h *NotificationHandler) notify(username string, n Notification) {
	n.ID = uuid.New().String()
	n.Time = time.Now()

	h.mu.RLock()
	defer h.mu.RUnlock()

	for subscriberID, ch := range h.subscribers[username] {
		select {
		case ch <- n:
		default:
			// Channel full, skip this subscriber
			utils.Log.Warn("Notification channel full for subscriber %s", subscriberID)
		}
	}
}

// NotifyNewMail tells a recipient that a mail arrived in their Inbox
func (h *NotificationHandler) NotifyNewMail(username string, mail *models.Mail) {
	h.notify(username, Notification{
		Type:    "new_mail",
		Message: "New mail received",
		Data: map[string]interface{}{
			"mail_id": mail.ID,
			"from":    mail.From,
			"title":   mail.Title,
		},
	})
}

// NotifyMailDeleted tells a participant that a mail is gone for good
func (h *NotificationHandler) NotifyMailDeleted(username, mailID string) {
	h.notify(username, Notification{
		Type:    "deleted",
		Message: "Mail deleted",
		Data: map[string]interface{}{
			"mail_id": mailID,
		},
	})
}
