package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"postbox/blacklist"
	"postbox/middleware"
	"postbox/models"
	"postbox/services"
	"postbox/spam"
	"postbox/storage"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBlacklist struct {
	mu     sync.Mutex
	listed map[string]bool
	hang   bool // block every call until the caller gives up
}

func (m *memBlacklist) wait(ctx context.Context) error {
	if !m.hang {
		return nil
	}
	<-ctx.Done()
	return fmt.Errorf("%w: %v", blacklist.ErrNetwork, ctx.Err())
}

func (m *memBlacklist) CheckURL(ctx context.Context, url string) (bool, error) {
	if err := m.wait(ctx); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listed[url], nil
}

func (m *memBlacklist) AnyBlacklisted(ctx context.Context, urls []string) (bool, error) {
	if err := m.wait(ctx); err != nil {
		return false, err
	}
	for _, u := range urls {
		if hit, _ := m.CheckURL(ctx, u); hit {
			return true, nil
		}
	}
	return false, nil
}

func (m *memBlacklist) AddURLs(ctx context.Context, urls []string) (int, error) {
	if err := m.wait(ctx); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range urls {
		m.listed[u] = true
	}
	return len(urls), nil
}

func (m *memBlacklist) RemoveURLs(ctx context.Context, urls []string) (int, error) {
	if err := m.wait(ctx); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range urls {
		delete(m.listed, u)
	}
	return len(urls), nil
}

type testServer struct {
	app *fiber.App
	hub *NotificationHandler
	bl  *memBlacklist
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, &memBlacklist{listed: make(map[string]bool)}, spam.FailOpen, 0)
}

func newTestServerWith(t *testing.T, bl *memBlacklist, policy spam.Policy, requestTimeout time.Duration) *testServer {
	t.Helper()
	db, err := storage.InitDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	users := storage.NewUserStorage(db)
	mailStore := storage.NewMailStorage(db)
	labels := services.NewLabelService(storage.NewLabelStorage(db), mailStore)
	mails := services.NewMailService(mailStore, labels, users, spam.NewScanner(bl, policy),
		services.Addressing{Domain: "postbox.local"})

	hub := NewNotificationHandler()
	mails.SetNotifier(hub)
	tokens := middleware.NewTokenIssuer("test-secret", time.Hour)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Use(middleware.LocaleMiddleware())
	SetupRoutes(app, &Handlers{
		Auth:          NewAuthHandler(users, labels, tokens, false),
		Mails:         NewMailHandler(mails),
		Labels:        NewLabelHandler(labels),
		Notifications: hub,
		I18n:          &I18nHandler{},

		RequestTimeout: requestTimeout,
	}, middleware.JWTAuth(tokens))
	app.Use(NotFound)

	return &testServer{app: app, hub: hub, bl: bl}
}

type response struct {
	status int
	body   map[string]interface{}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}, headers ...string) response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := response{status: resp.StatusCode}
	_ = json.NewDecoder(resp.Body).Decode(&out.body)
	return out
}

func (s *testServer) signup(t *testing.T, username string) string {
	t.Helper()
	r := s.do(t, "POST", "/api/users", "", fiber.Map{"username": username, "password": "correct horse"})
	require.Equal(t, fiber.StatusCreated, r.status, r.body)

	r = s.do(t, "POST", "/api/login", "", fiber.Map{"username": username, "password": "correct horse"})
	require.Equal(t, fiber.StatusOK, r.status, r.body)
	return r.body["token"].(string)
}

func (s *testServer) labelID(t *testing.T, token, name string) string {
	t.Helper()
	r := s.do(t, "GET", "/api/labels", token, nil)
	require.Equal(t, fiber.StatusOK, r.status)
	for _, l := range r.body["labels"].([]interface{}) {
		label := l.(map[string]interface{})
		if label["name"] == name {
			return label["id"].(string)
		}
	}
	t.Fatalf("label %s not found", name)
	return ""
}

func mailIDs(t *testing.T, r response) []string {
	t.Helper()
	require.Equal(t, fiber.StatusOK, r.status, r.body)
	var ids []string
	for _, m := range r.body["mails"].([]interface{}) {
		ids = append(ids, m.(map[string]interface{})["id"].(string))
	}
	return ids
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t)
	token := s.signup(t, "Alice")

	r := s.do(t, "GET", "/api/me", token, nil)
	require.Equal(t, fiber.StatusOK, r.status)
	user := r.body["user"].(map[string]interface{})
	assert.Equal(t, "alice", user["username"])
	assert.NotContains(t, user, "password_hash")

	r = s.do(t, "POST", "/api/users", "", fiber.Map{"username": "alice", "password": "another one"})
	assert.Equal(t, fiber.StatusBadRequest, r.status)

	r = s.do(t, "POST", "/api/login", "", fiber.Map{"username": "alice", "password": "wrong password"})
	assert.Equal(t, fiber.StatusUnauthorized, r.status)
	assert.Equal(t, "UNAUTHORIZED", r.body["kind"])

	r = s.do(t, "GET", "/api/me", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, r.status)
}

func TestSendSpamEndToEnd(t *testing.T) {
	s := newTestServer(t)
	alice := s.signup(t, "alice")
	bob := s.signup(t, "bob")
	s.bl.listed["phish.example.com"] = true

	r := s.do(t, "POST", "/api/mails", alice, fiber.Map{
		"to": []string{"bob@postbox.local"}, "title": "Invoice", "body": "pay at phish.example.com",
	})
	require.Equal(t, fiber.StatusCreated, r.status, r.body)
	mail := r.body["mail"].(map[string]interface{})
	id := mail["id"].(string)
	assert.NotContains(t, mail, "deleted_by_recipient")
	assert.Len(t, mail["labels"], 2) // alice's Sent and Spam only

	assert.NotContains(t, mailIDs(t, s.do(t, "GET", "/api/mails", alice, nil)), id)
	assert.Contains(t, mailIDs(t, s.do(t, "GET", "/api/mails?view=spam", alice, nil)), id)
	assert.Contains(t, mailIDs(t, s.do(t, "GET", "/api/mails?view=Inbox", bob, nil)), id)

	r = s.do(t, "GET", "/api/mails/"+id, bob, nil)
	require.Equal(t, fiber.StatusOK, r.status)
	assert.Len(t, r.body["mail"].(map[string]interface{})["labels"], 1)

	assert.Contains(t, mailIDs(t, s.do(t, "GET", "/api/mails/search?q=invoice", bob, nil)), id)
}

func TestMailLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	alice := s.signup(t, "alice")
	bob := s.signup(t, "bob")
	s.signup(t, "carol")

	r := s.do(t, "POST", "/api/mails", alice, fiber.Map{"title": "draft", "draft": true})
	require.Equal(t, fiber.StatusCreated, r.status)
	id := r.body["mail"].(map[string]interface{})["id"].(string)

	r = s.do(t, "PATCH", "/api/mails/"+id, alice, fiber.Map{"draft": false})
	assert.Equal(t, fiber.StatusBadRequest, r.status)
	assert.Equal(t, "VALIDATION", r.body["kind"])

	r = s.do(t, "PATCH", "/api/mails/"+id, alice, fiber.Map{"to": []string{"bob"}, "body": "hi", "draft": false})
	require.Equal(t, fiber.StatusOK, r.status, r.body)
	assert.Equal(t, false, r.body["mail"].(map[string]interface{})["draft"])

	r = s.do(t, "PATCH", "/api/mails/"+id, bob, fiber.Map{"title": "x"})
	assert.Equal(t, fiber.StatusForbidden, r.status)

	starred := s.labelID(t, bob, models.LabelStarred)
	r = s.do(t, "PUT", "/api/mails/"+id+"/labels/"+starred, bob, nil)
	require.Equal(t, fiber.StatusOK, r.status, r.body)
	assert.Contains(t, mailIDs(t, s.do(t, "GET", "/api/mails?view=starred", bob, nil)), id)

	r = s.do(t, "PUT", "/api/mails/"+id+"/labels/"+s.labelID(t, bob, models.LabelSent), bob, nil)
	assert.Equal(t, fiber.StatusBadRequest, r.status)

	carol := s.do(t, "POST", "/api/login", "", fiber.Map{"username": "carol", "password": "correct horse"}).body["token"].(string)
	r = s.do(t, "DELETE", "/api/mails/"+id, carol, nil)
	assert.Equal(t, fiber.StatusForbidden, r.status)

	require.Equal(t, fiber.StatusOK, s.do(t, "DELETE", "/api/mails/"+id, bob, nil).status)
	assert.Contains(t, mailIDs(t, s.do(t, "GET", "/api/mails?view=trash", bob, nil)), id)
	require.Equal(t, fiber.StatusOK, s.do(t, "DELETE", "/api/mails/"+id, bob, nil).status)

	r = s.do(t, "GET", "/api/mails/"+id, alice, nil)
	assert.Equal(t, fiber.StatusNotFound, r.status)
}

func TestLabelRoutes(t *testing.T) {
	s := newTestServer(t)
	alice := s.signup(t, "alice")

	r := s.do(t, "POST", "/api/labels", alice, fiber.Map{"name": "Work", "color": "#ff0000"})
	require.Equal(t, fiber.StatusCreated, r.status, r.body)
	id := r.body["label"].(map[string]interface{})["id"].(string)
	assert.Equal(t, "#FF0000", r.body["label"].(map[string]interface{})["color"])

	r = s.do(t, "POST", "/api/labels", alice, fiber.Map{"name": "work"}, "Accept-Language", "ja")
	assert.Equal(t, fiber.StatusBadRequest, r.status)
	assert.Equal(t, "VALIDATION", r.body["kind"])
	assert.Equal(t, "リクエストが不正です", r.body["title"])

	r = s.do(t, "PATCH", "/api/labels/"+s.labelID(t, alice, models.LabelInbox), alice, fiber.Map{"name": "Box"})
	assert.Equal(t, fiber.StatusBadRequest, r.status)

	r = s.do(t, "PATCH", "/api/labels/"+id, alice, fiber.Map{"name": "Projects"})
	require.Equal(t, fiber.StatusOK, r.status)
	assert.Equal(t, "Projects", r.body["label"].(map[string]interface{})["name"])

	require.Equal(t, fiber.StatusOK, s.do(t, "DELETE", "/api/labels/"+id, alice, nil).status)
	r = s.do(t, "GET", "/api/mails?view=projects", alice, nil)
	assert.Equal(t, fiber.StatusNotFound, r.status)
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t)
	r := s.do(t, "GET", "/nowhere", "", nil)
	assert.Equal(t, fiber.StatusNotFound, r.status)
	assert.Equal(t, "NOT_FOUND", r.body["kind"])
}

func TestNotificationsReachOnlyTheirUser(t *testing.T) {
	hub := NewNotificationHandler()
	id, bobCh := hub.subscribe("bob")
	_, aliceCh := hub.subscribe("alice")
	assert.Equal(t, 1, hub.Subscribers("bob"))

	hub.NotifyNewMail("bob", &models.Mail{ID: "m1", From: "alice", Title: "hi"})

	select {
	case n := <-bobCh:
		assert.Equal(t, "new_mail", n.Type)
		assert.Equal(t, "m1", n.Data["mail_id"])
		assert.NotEmpty(t, n.ID)
	case <-time.After(time.Second):
		t.Fatal("no notification delivered")
	}
	assert.Empty(t, aliceCh)

	hub.unsubscribe("bob", id)
	assert.Zero(t, hub.Subscribers("bob"))
	hub.NotifyMailDeleted("bob", "m1")
}

func TestTrashAttachThatRemovesMail(t *testing.T) {
	s := newTestServer(t)
	alice := s.signup(t, "alice")
	bob := s.signup(t, "bob")

	r := s.do(t, "POST", "/api/mails", alice, fiber.Map{"to": []string{"bob"}, "title": "t", "body": "b"})
	require.Equal(t, fiber.StatusCreated, r.status)
	id := r.body["mail"].(map[string]interface{})["id"].(string)
	require.Equal(t, fiber.StatusOK, s.do(t, "DELETE", "/api/mails/"+id, alice, nil).status)

	r = s.do(t, "PUT", "/api/mails/"+id+"/labels/"+s.labelID(t, bob, models.LabelTrash), bob, nil)
	require.Equal(t, fiber.StatusOK, r.status, r.body)
	assert.Equal(t, true, r.body["deleted"])
	assert.NotContains(t, r.body, "mail")

	assert.Equal(t, fiber.StatusNotFound, s.do(t, "GET", "/api/mails/"+id, bob, nil).status)
}

func TestRequestDeadlineCancelsBlacklistCalls(t *testing.T) {
	bl := &memBlacklist{listed: make(map[string]bool), hang: true}
	s := newTestServerWith(t, bl, spam.FailClosed, 100*time.Millisecond)
	alice := s.signup(t, "alice")
	s.signup(t, "bob")

	start := time.Now()
	r := s.do(t, "POST", "/api/mails", alice, fiber.Map{
		"to": []string{"bob"}, "title": "t", "body": "see slow.example.com",
	})
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, fiber.StatusBadGateway, r.status)
	assert.Equal(t, "NETWORK", r.body["kind"])

	assert.Empty(t, mailIDs(t, s.do(t, "GET", "/api/mails", alice, nil)))
}
