package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestDuplicateGuard(t *testing.T) {
	// speed up TTL for test
	SetDuplicateTTL(50 * time.Millisecond)
	token := "sess-123"
	text := "Hello"

	// First call should allow
	if ok := DuplicateGuard(token, text); !ok {
		t.Fatalf("expected first call to pass duplicate guard")
	}
	// Immediate repeat should block
	if ok := DuplicateGuard(token, text); ok {
		t.Fatalf("expected immediate duplicate to be blocked")
	}
	// Different text should pass even within TTL
	if ok := DuplicateGuard(token, text+"!"); !ok {
		t.Fatalf("expected different text to pass within TTL")
	}
	// After TTL, same text should pass
	time.Sleep(70 * time.Millisecond)
	if ok := DuplicateGuard(token, text); !ok {
		t.Fatalf("expected same text to pass after TTL")
	}
}

func TestRateLimitExhaustsBucket(t *testing.T) {
	gin.SetMode(gin.TestMode)
	// long window so the bucket cannot refill during the test
	SetRateLimitConfig(time.Hour, 2, 2)

	r := gin.New()
	r.GET("/x", RateLimit(), func(c *gin.Context) { c.Status(http.StatusOK) })

	get := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x?session_token=rl-bucket", nil))
		return w
	}

	for i := 0; i < 2; i++ {
		if w := get(); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
	}
	w := get()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once the bucket is empty, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header on 429")
	}
}

func TestRateLimitKeysOnBodyToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	SetRateLimitConfig(time.Hour, 2, 2)

	r := gin.New()
	r.POST("/chat", RateLimit(), func(c *gin.Context) {
		// the middleware peeked at the body; the handler must still see it
		var body struct {
			SessionToken string `json:"session_token"`
			Message      string `json:"message"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || body.Message == "" {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "message is required"})
			return
		}
		c.Status(http.StatusOK)
	})

	post := func(token string) *httptest.ResponseRecorder {
		payload := `{"session_token": "` + token + `", "message": "hi"}`
		req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 2; i++ {
		if w := post("rl-body-a"); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d: %s", i+1, w.Code, w.Body.String())
		}
	}
	if w := post("rl-body-a"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for the exhausted session, got %d", w.Code)
	}
	// a different session from the same IP is not affected
	if w := post("rl-body-b"); w.Code != http.StatusOK {
		t.Fatalf("expected other session unaffected, got %d", w.Code)
	}
}

func TestAcquireSessionSlot(t *testing.T) {
	SetRateLimitConfig(10*time.Second, 5, 1)
	token := "sess-slot"

	release := AcquireSessionSlot(token)

	acquired := make(chan struct{})
	go func() {
		r2 := AcquireSessionSlot(token)
		close(acquired)
		r2()
	}()

	select {
	case <-acquired:
		t.Fatalf("expected second acquire to block while slot is held")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatalf("expected second acquire to proceed after release")
	}
}
