package controllers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"BookAI/middleware"
	"BookAI/models"
	"BookAI/pkg/cache"
	"BookAI/pkg/config"
	"BookAI/pkg/outbox"
	svc "BookAI/pkg/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.ChatSession{}, &models.ChatMessage{}, &models.PendingMessage{},
		&models.Ebook{}, &models.Product{}, &models.Post{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func TestOpenSessionSeedsGreeting(t *testing.T) {
	db := newTestDB(t)
	store := svc.NewRemoteStoreAt("", "")
	ob := outbox.New(db, store)

	r := gin.New()
	r.GET("/sessions", OpenSession(db, store, ob))

	w := doJSON(t, r, http.MethodGet, "/sessions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		SessionToken string `json:"session_token"`
		Theme        string `json:"theme"`
		Messages     []struct {
			Sender string `json:"sender"`
			Text   string `json:"text"`
		} `json:"messages"`
	}
	decode(t, w, &resp)
	if resp.SessionToken == "" {
		t.Fatalf("expected a minted session token")
	}
	if resp.Theme != "light" {
		t.Fatalf("expected default theme light, got %q", resp.Theme)
	}
	if len(resp.Messages) != 1 || resp.Messages[0].Sender != "bot" {
		t.Fatalf("expected a single bot greeting, got %+v", resp.Messages)
	}
	if resp.Messages[0].Text != svc.GreetingText {
		t.Fatalf("unexpected greeting text %q", resp.Messages[0].Text)
	}

	// reopening the same session must not seed a second greeting
	w = doJSON(t, r, http.MethodGet, "/sessions?session_token="+resp.SessionToken, nil)
	var resp2 struct {
		Messages []json.RawMessage `json:"messages"`
	}
	decode(t, w, &resp2)
	if len(resp2.Messages) != 1 {
		t.Fatalf("expected greeting seeded once, got %d messages", len(resp2.Messages))
	}
}

func TestOpenSessionPrefersRemoteHistory(t *testing.T) {
	db := newTestDB(t)
	token := uuid.NewString()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"messages":[
			{"id":"r1","role":"user","message":"hi","created_at":"2026-08-01T10:00:00Z"},
			{"id":"r2","role":"bot","message":"hello","created_at":"2026-08-01T10:00:05Z"}
		]}`))
	}))
	defer srv.Close()
	store := svc.NewRemoteStoreAt(srv.URL, "")
	ob := outbox.New(db, store)

	// local has the remote-confirmed row plus one unconfirmed row
	for _, m := range []models.ChatMessage{
		{SessionToken: token, Sender: "user", Text: "hi", ClientMessageID: uuid.NewString(), Timestamp: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)},
		{SessionToken: token, Sender: "user", Text: "are you there?", ClientMessageID: uuid.NewString(), Pending: true, Timestamp: time.Date(2026, 8, 1, 10, 0, 10, 0, time.UTC)},
	} {
		if err := db.Create(&m).Error; err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}

	r := gin.New()
	r.GET("/sessions", OpenSession(db, store, ob))

	w := doJSON(t, r, http.MethodGet, "/sessions?session_token="+token, nil)
	var resp struct {
		Messages []struct {
			Sender string `json:"sender"`
			Text   string `json:"text"`
		} `json:"messages"`
	}
	decode(t, w, &resp)
	if len(resp.Messages) != 3 {
		t.Fatalf("expected merged history of 3, got %+v", resp.Messages)
	}
	if resp.Messages[0].Text != "hi" || resp.Messages[1].Text != "hello" || resp.Messages[2].Text != "are you there?" {
		t.Fatalf("unexpected merge order: %+v", resp.Messages)
	}
}

func TestMergeHistoryDeduplicates(t *testing.T) {
	remote := []svc.RemoteMessage{
		{ID: "r1", Role: "user", Message: "hi", CreatedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)},
	}
	local := []models.ChatMessage{
		{SessionToken: "t", Sender: "user", Text: "hi", Timestamp: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)},
		{SessionToken: "t", Sender: "bot", Text: "hello", Timestamp: time.Date(2026, 8, 1, 10, 0, 2, 0, time.UTC)},
	}
	out := mergeHistory(remote, local)
	if len(out) != 2 {
		t.Fatalf("expected 2 rows after dedupe, got %d", len(out))
	}
	if out[0]["id"] != "r1" {
		t.Fatalf("expected the remote copy kept, got %v", out[0])
	}
}

func TestPostMessageIdempotent(t *testing.T) {
	db := newTestDB(t)
	ob := outbox.New(db, svc.NewRemoteStoreAt("", ""))

	r := gin.New()
	r.POST("/messages", PostMessage(db, ob))

	body := gin.H{"role": "user", "message": "hello", "clientMessageId": "cm-1"}
	w := doJSON(t, r, http.MethodPost, "/messages", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodPost, "/messages", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for duplicate clientMessageId, got %d", w.Code)
	}
	var n int64
	db.Model(&models.ChatMessage{}).Where("client_message_id = ?", "cm-1").Count(&n)
	if n != 1 {
		t.Fatalf("expected one stored row, got %d", n)
	}
}

func TestPostMessageRejectsBadRole(t *testing.T) {
	db := newTestDB(t)
	ob := outbox.New(db, svc.NewRemoteStoreAt("", ""))

	r := gin.New()
	r.POST("/messages", PostMessage(db, ob))

	w := doJSON(t, r, http.MethodPost, "/messages", gin.H{"role": "admin", "message": "hello"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad role, got %d", w.Code)
	}
}

func TestPostMessageFlagsPermanentRejection(t *testing.T) {
	config.PendingBackoffMS = 1
	db := newTestDB(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()
	ob := outbox.New(db, svc.NewRemoteStoreAt(srv.URL, ""))

	r := gin.New()
	r.POST("/messages", PostMessage(db, ob))

	w := doJSON(t, r, http.MethodPost, "/messages", gin.H{"role": "user", "message": "hello"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Pending        bool `json:"pending"`
		RemoteRejected bool `json:"remote_rejected"`
	}
	decode(t, w, &resp)
	if resp.Pending || !resp.RemoteRejected {
		t.Fatalf("expected remote_rejected without pending, got %+v", resp)
	}
	var n int64
	db.Model(&models.PendingMessage{}).Count(&n)
	if n != 0 {
		t.Fatalf("permanent rejection must not be queued, got %d rows", n)
	}
}

func TestClearMessagesDeletesLocalAndRemote(t *testing.T) {
	db := newTestDB(t)
	var remoteDeleted string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			remoteDeleted = r.URL.Query().Get("session_token")
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	store := svc.NewRemoteStoreAt(srv.URL, "")

	token := uuid.NewString()
	db.Create(&models.ChatMessage{SessionToken: token, Sender: "user", Text: "hi", ClientMessageID: uuid.NewString(), Timestamp: time.Now()})
	db.Create(&models.PendingMessage{SessionToken: token, Role: "user", Message: "hi", ClientMessageID: uuid.NewString(), SentAt: time.Now()})

	r := gin.New()
	r.DELETE("/messages", ClearMessages(db, store))

	w := doJSON(t, r, http.MethodDelete, "/messages?session_token="+token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var msgs, pend int64
	db.Model(&models.ChatMessage{}).Where("session_token = ?", token).Count(&msgs)
	db.Model(&models.PendingMessage{}).Where("session_token = ?", token).Count(&pend)
	if msgs != 0 || pend != 0 {
		t.Fatalf("expected local rows gone, msgs=%d pend=%d", msgs, pend)
	}
	if remoteDeleted != token {
		t.Fatalf("expected remote delete for %s, got %q", token, remoteDeleted)
	}
}

func TestAssociateRewritesToCanonicalToken(t *testing.T) {
	db := newTestDB(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/associate") {
			w.Write([]byte(`{"canonical_token":"canon-1"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()
	store := svc.NewRemoteStoreAt(srv.URL, "")
	ob := outbox.New(db, store)

	sess := models.ChatSession{SessionToken: "anon-1", Theme: "light"}
	if err := db.Create(&sess).Error; err != nil {
		t.Fatalf("seed session: %v", err)
	}
	db.Create(&models.ChatMessage{SessionToken: "anon-1", Sender: "user", Text: "hi", ClientMessageID: uuid.NewString(), Timestamp: time.Now()})

	r := gin.New()
	r.POST("/associate", func(c *gin.Context) {
		c.Set(middleware.ContextUserIDKey, "42")
		c.Set(middleware.ContextJTIKey, uuid.NewString())
	}, Associate(db, store, ob))

	w := doJSON(t, r, http.MethodPost, "/associate", gin.H{"session_token": "anon-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		CanonicalToken string `json:"canonical_token"`
	}
	decode(t, w, &resp)
	if resp.CanonicalToken != "canon-1" {
		t.Fatalf("expected canonical token, got %q", resp.CanonicalToken)
	}

	var updated models.ChatSession
	if err := db.Where("session_token = ?", "canon-1").First(&updated).Error; err != nil {
		t.Fatalf("expected session row moved to canonical token: %v", err)
	}
	if updated.UserID == nil || *updated.UserID != 42 {
		t.Fatalf("expected user id recorded, got %v", updated.UserID)
	}
	var n int64
	db.Model(&models.ChatMessage{}).Where("session_token = ?", "canon-1").Count(&n)
	if n != 1 {
		t.Fatalf("expected message rows moved to canonical token, got %d", n)
	}
}

func TestAssociateRejectsMismatchedUser(t *testing.T) {
	db := newTestDB(t)
	store := svc.NewRemoteStoreAt("", "")
	ob := outbox.New(db, store)

	r := gin.New()
	r.POST("/associate", func(c *gin.Context) {
		c.Set(middleware.ContextUserIDKey, "42")
	}, Associate(db, store, ob))

	other := uint(7)
	w := doJSON(t, r, http.MethodPost, "/associate", gin.H{"session_token": "anon-1", "user_id": other})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for mismatched user_id, got %d", w.Code)
	}
}

func TestThemeRoundTrip(t *testing.T) {
	db := newTestDB(t)

	r := gin.New()
	r.GET("/theme", GetTheme(db))
	r.PUT("/theme", SetTheme(db))

	w := doJSON(t, r, http.MethodGet, "/theme", nil)
	var created struct {
		SessionToken string `json:"session_token"`
		Theme        string `json:"theme"`
	}
	decode(t, w, &created)
	if created.Theme != "light" {
		t.Fatalf("expected default light, got %q", created.Theme)
	}

	w = doJSON(t, r, http.MethodPut, "/theme", gin.H{"session_token": created.SessionToken, "theme": "dark"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/theme?session_token="+created.SessionToken, nil)
	var got struct {
		Theme string `json:"theme"`
	}
	decode(t, w, &got)
	if got.Theme != "dark" {
		t.Fatalf("expected dark after update, got %q", got.Theme)
	}

	w = doJSON(t, r, http.MethodPut, "/theme", gin.H{"session_token": created.SessionToken, "theme": "neon"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid theme, got %d", w.Code)
	}
}

func TestChatStreamsAnswerAndPersists(t *testing.T) {
	config.TypingTickMS = 1
	db := newTestDB(t)
	store := svc.NewRemoteStoreAt("", "")
	ob := outbox.New(db, store)
	a := svc.NewAssistant(nil, svc.NewToolRegistry(db)) // nil model falls back locally

	token := uuid.NewString()
	db.Create(&models.ChatSession{SessionToken: token, Theme: "light"})

	r := gin.New()
	r.POST("/chat", Chat(db, a, ob))

	w := doJSON(t, r, http.MethodPost, "/chat", gin.H{"session_token": token, "message": "how do I pay " + uuid.NewString()})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	for _, event := range []string{"event: user_saved", "event: delta", "event: done"} {
		if !strings.Contains(body, event) {
			t.Fatalf("expected %q in stream, got:\n%s", event, body)
		}
	}

	var userN, botN int64
	db.Model(&models.ChatMessage{}).Where("session_token = ? AND sender = ?", token, "user").Count(&userN)
	db.Model(&models.ChatMessage{}).Where("session_token = ? AND sender = ?", token, "bot").Count(&botN)
	if userN != 1 || botN != 1 {
		t.Fatalf("expected user and bot rows persisted, user=%d bot=%d", userN, botN)
	}
}

func TestChatRejectsDuplicateMessage(t *testing.T) {
	config.TypingTickMS = 1
	db := newTestDB(t)
	store := svc.NewRemoteStoreAt("", "")
	ob := outbox.New(db, store)
	a := svc.NewAssistant(nil, svc.NewToolRegistry(db))

	token := uuid.NewString()
	db.Create(&models.ChatSession{SessionToken: token, Theme: "light"})

	r := gin.New()
	r.POST("/chat", Chat(db, a, ob))

	text := "same thing twice " + uuid.NewString()
	if w := doJSON(t, r, http.MethodPost, "/chat", gin.H{"session_token": token, "message": text}); w.Code != http.StatusOK {
		t.Fatalf("first send: expected 200, got %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodPost, "/chat", gin.H{"session_token": token, "message": text}); w.Code != http.StatusTooManyRequests {
		t.Fatalf("duplicate send: expected 429, got %d", w.Code)
	}
}

func TestChatServesCachedAnswer(t *testing.T) {
	config.TypingTickMS = 1
	db := newTestDB(t)
	store := svc.NewRemoteStoreAt("", "")
	ob := outbox.New(db, store)
	a := svc.NewAssistant(nil, svc.NewToolRegistry(db))

	token := uuid.NewString()
	db.Create(&models.ChatSession{SessionToken: token, Theme: "light"})
	text := "what is your refund policy " + uuid.NewString()
	cache.Default().SetAnswer(answerCacheKey(token, text), "Refunds within 14 days.", cache.StatusCompleted, time.Minute)

	r := gin.New()
	r.POST("/chat", Chat(db, a, ob))

	w := doJSON(t, r, http.MethodPost, "/chat", gin.H{"session_token": token, "message": text})
	if !strings.Contains(w.Body.String(), "Refunds within 14 days.") {
		t.Fatalf("expected cached answer streamed, got:\n%s", w.Body.String())
	}
}
