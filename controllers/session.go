package controllers

import (
	"context"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"BookAI/middleware"
	"BookAI/models"
	"BookAI/pkg/cache"
	"BookAI/pkg/config"
	"BookAI/pkg/outbox"
	svc "BookAI/pkg/services"
	tokenstore "BookAI/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ensureSession loads or creates the session row for a token. An empty
// token mints a fresh one.
func ensureSession(db *gorm.DB, token string) (models.ChatSession, bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		sess := models.ChatSession{SessionToken: uuid.NewString(), Theme: "light"}
		if err := db.Create(&sess).Error; err != nil {
			return models.ChatSession{}, false, err
		}
		return sess, true, nil
	}
	var sess models.ChatSession
	err := db.Where("session_token = ?", token).First(&sess).Error
	if err == nil {
		return sess, false, nil
	}
	if err != gorm.ErrRecordNotFound {
		return models.ChatSession{}, false, err
	}
	sess = models.ChatSession{SessionToken: token, Theme: "light"}
	if err := db.Create(&sess).Error; err != nil {
		return models.ChatSession{}, false, err
	}
	return sess, true, nil
}

func localHistory(db *gorm.DB, token string) ([]models.ChatMessage, error) {
	var msgs []models.ChatMessage
	err := db.Where("session_token = ?", token).
		Order("timestamp ASC, id ASC").
		Limit(config.HistoryLimit).
		Find(&msgs).Error
	return msgs, err
}

func messageJSON(m models.ChatMessage) gin.H {
	return gin.H{
		"id":        m.ID,
		"sender":    m.Sender,
		"text":      m.Text,
		"timestamp": m.Timestamp,
		"pending":   m.Pending,
	}
}

// OpenSession loads a conversation: local history plus the remote copy,
// preferring remote when it has content, seeding a greeting when both are
// empty. Remote failures fall back silently to local-only.
func OpenSession(db *gorm.DB, store *svc.RemoteStore, ob *outbox.Outbox) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, _, err := ensureSession(db, c.Query("session_token"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "db error"})
			return
		}

		local, err := localHistory(db, sess.SessionToken)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "db error"})
			return
		}

		var remote []svc.RemoteMessage
		if store.Enabled() {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
			remote, err = store.FetchHistory(ctx, sess.SessionToken)
			cancel()
			if err != nil {
				// silent fallback to local-only history
				log.Printf("[session] remote history fetch failed: %v", err)
				remote = nil
			}
		}

		messages := mergeHistory(remote, local)
		if len(messages) == 0 {
			greeting := models.ChatMessage{
				SessionToken:    sess.SessionToken,
				Sender:          "bot",
				Text:            svc.GreetingText,
				ClientMessageID: uuid.NewString(),
				Timestamp:       time.Now(),
			}
			if err := db.Create(&greeting).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"msg": "db error"})
				return
			}
			go func(p svc.MessagePayload) {
				_, _ = ob.Send(context.Background(), p)
			}(payloadFor(greeting))
			messages = []gin.H{messageJSON(greeting)}
		}

		c.JSON(http.StatusOK, gin.H{
			"session_token": sess.SessionToken,
			"theme":         sess.Theme,
			"pending":       ob.PendingCount(sess.SessionToken),
			"messages":      messages,
		})
	}
}

// mergeHistory prefers the remote copy and appends local rows the remote
// store has not confirmed yet (matched on sender+text), sorted by time.
func mergeHistory(remote []svc.RemoteMessage, local []models.ChatMessage) []gin.H {
	if len(remote) == 0 {
		out := make([]gin.H, 0, len(local))
		for _, m := range local {
			out = append(out, messageJSON(m))
		}
		return out
	}

	type row struct {
		h  gin.H
		ts time.Time
	}
	seen := map[string]bool{}
	rows := make([]row, 0, len(remote)+len(local))
	for _, m := range remote {
		sender := m.Role
		if sender != "user" {
			sender = "bot"
		}
		seen[sender+"\x00"+m.Message] = true
		rows = append(rows, row{
			h:  gin.H{"id": m.ID, "sender": sender, "text": m.Message, "timestamp": m.CreatedAt, "pending": false},
			ts: m.CreatedAt,
		})
	}
	for _, m := range local {
		if seen[m.Sender+"\x00"+m.Text] {
			continue
		}
		rows = append(rows, row{h: messageJSON(m), ts: m.Timestamp})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].ts.Before(rows[j].ts) })

	if len(rows) > config.HistoryLimit {
		rows = rows[len(rows)-config.HistoryLimit:]
	}
	out := make([]gin.H, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.h)
	}
	return out
}

// ClearMessages deletes the conversation locally and remotely and resets
// any queued pending items for the session.
func ClearMessages(db *gorm.DB, store *svc.RemoteStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.Query("session_token"))
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "session_token is required"})
			return
		}

		if err := db.Unscoped().Where("session_token = ?", token).Delete(&models.ChatMessage{}).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to clear conversation"})
			return
		}
		if err := db.Unscoped().Where("session_token = ?", token).Delete(&models.PendingMessage{}).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to clear pending queue"})
			return
		}

		if store.Enabled() {
			if err := store.DeleteSession(c.Request.Context(), token); err != nil {
				// local clear already happened; remote rows will be orphaned
				log.Printf("[session] remote delete failed for %s: %v", token, err)
			}
		}

		c.JSON(http.StatusOK, gin.H{"msg": "conversation cleared"})
	}
}

// Associate reconciles an anonymous session with the authenticated user.
// On a canonical token from the remote store, all local rows move to it and
// the pending queue is drained under the new token.
func Associate(db *gorm.DB, store *svc.RemoteStore, ob *outbox.Outbox) gin.HandlerFunc {
	return func(c *gin.Context) {
		uidRaw, _ := c.Get(middleware.ContextUserIDKey)
		uidStr, _ := uidRaw.(string)

		var body struct {
			SessionToken string `json:"session_token"`
			UserID       *uint  `json:"user_id"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.SessionToken) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "session_token is required"})
			return
		}
		uid := parseUint(uidStr)
		if body.UserID != nil && *body.UserID != uid {
			c.JSON(http.StatusForbidden, gin.H{"msg": "user_id does not match token subject"})
			return
		}

		var sess models.ChatSession
		if err := db.Where("session_token = ?", body.SessionToken).First(&sess).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"msg": "session not found"})
			return
		}

		canonical := sess.SessionToken
		if store.Enabled() {
			tok, err := store.Associate(c.Request.Context(), sess.SessionToken, uid)
			if err != nil {
				log.Printf("[session] associate failed: %v", err)
				c.JSON(http.StatusBadGateway, gin.H{"msg": "session store unavailable"})
				return
			}
			canonical = tok
		}

		old := sess.SessionToken
		updates := map[string]any{"user_id": uid, "canonical_token": canonical, "session_token": canonical}
		if err := db.Model(&sess).Updates(updates).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "db error"})
			return
		}
		if canonical != old {
			if err := db.Model(&models.ChatMessage{}).
				Where("session_token = ?", old).
				Update("session_token", canonical).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"msg": "db error"})
				return
			}
			if err := ob.RewriteToken(c.Request.Context(), old, canonical); err != nil {
				log.Printf("[session] pending rewrite failed: %v", err)
			}
		} else {
			// same token; still retry anything queued now that we're online
			if _, err := ob.RetryPending(c.Request.Context()); err != nil {
				log.Printf("[session] pending retry failed: %v", err)
			}
		}

		c.JSON(http.StatusOK, gin.H{"canonical_token": canonical})
	}
}

// GetTheme returns the chat's light/dark preference for a session.
func GetTheme(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, _, err := ensureSession(db, c.Query("session_token"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "db error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"session_token": sess.SessionToken, "theme": sess.Theme})
	}
}

// SetTheme stores the chat's light/dark preference.
func SetTheme(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			SessionToken string `json:"session_token"`
			Theme        string `json:"theme"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "invalid request"})
			return
		}
		theme := strings.ToLower(strings.TrimSpace(body.Theme))
		if theme != "light" && theme != "dark" {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "theme must be 'light' or 'dark'"})
			return
		}
		sess, _, err := ensureSession(db, body.SessionToken)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "db error"})
			return
		}
		if err := db.Model(&sess).Update("theme", theme).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "db error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"session_token": sess.SessionToken, "theme": theme})
	}
}

// Logout revokes the presented token's jti so a stolen widget token cannot
// keep calling associate.
func Logout() gin.HandlerFunc {
	return func(c *gin.Context) {
		jtiRaw, _ := c.Get(middleware.ContextJTIKey)
		jti, _ := jtiRaw.(string)
		tokenstore.RevokeUntil(jti, time.Time{})
		c.JSON(http.StatusOK, gin.H{"msg": "logged out"})
	}
}

func parseUint(s string) uint {
	var n uint
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + uint(r-'0')
	}
	return n
}

func payloadFor(m models.ChatMessage) svc.MessagePayload {
	return svc.MessagePayload{
		SessionToken:    m.SessionToken,
		Role:            m.Sender,
		Message:         m.Text,
		CreatedAt:       m.Timestamp,
		ClientMessageID: m.ClientMessageID,
	}
}

// answerCacheKey is shared by the SSE and websocket paths.
func answerCacheKey(sessionToken, text string) string {
	return cache.KeyFromStrings("chat-final", sessionToken, strings.ToLower(strings.TrimSpace(text)))
}
