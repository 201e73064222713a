package controllers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"BookAI/middleware"
	"BookAI/models"
	"BookAI/pkg/cache"
	"BookAI/pkg/config"
	"BookAI/pkg/outbox"
	svc "BookAI/pkg/services"
	utils "BookAI/pkg/utills"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var chatStatuses = []string{
	"Checking our catalog…",
	"Searching titles…",
	"Thinking…",
	"Writing your answer…",
}

// modelHistory converts recent local rows into model turns; long texts are
// clipped so a pasted page doesn't blow the prompt.
func modelHistory(db *gorm.DB, token string, exceptID uint) []svc.ChatMessage {
	var rows []models.ChatMessage
	if err := db.Where("session_token = ? AND id <> ?", token, exceptID).
		Order("timestamp ASC, id ASC").Find(&rows).Error; err != nil {
		return nil
	}
	var history []svc.ChatMessage
	for _, m := range rows {
		role := "user"
		if strings.ToLower(m.Sender) == "bot" {
			role = "model"
		}
		history = append(history, svc.ChatMessage{Role: role, Text: utils.Truncate(m.Text, 200)})
	}
	if len(history) > 6 {
		history = history[len(history)-6:]
	}
	return history
}

// Chat answers one user turn over SSE.
// Events:
//   - user_saved (once) with the stored user message id
//   - status (while the dispatcher is working) with a rotating label
//   - delta (multiple) with typewriter chunks of the answer
//   - done (once); {stopped: true} when the client went away mid-reveal
func Chat(db *gorm.DB, a *svc.Assistant, ob *outbox.Outbox) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			SessionToken string `json:"session_token"`
			Message      string `json:"message"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Message) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "message is required"})
			return
		}

		sess, _, err := ensureSession(db, body.SessionToken)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "db error"})
			return
		}
		if !middleware.DuplicateGuard(sess.SessionToken, body.Message) {
			c.JSON(http.StatusTooManyRequests, gin.H{"msg": "duplicate message"})
			return
		}
		release := middleware.AcquireSessionSlot(sess.SessionToken)
		defer release()

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no") // nginx buffering off

		flusher, ok := c.Writer.(http.Flusher)
		if !ok {
			c.String(http.StatusInternalServerError, "streaming unsupported")
			return
		}

		// save user message and mirror it through the pending-safe path
		userMsg := models.ChatMessage{
			SessionToken:    sess.SessionToken,
			Sender:          "user",
			Text:            body.Message,
			ClientMessageID: uuid.NewString(),
			Timestamp:       time.Now(),
		}
		if err := db.Create(&userMsg).Error; err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		userQueued, _ := ob.Send(c.Request.Context(), payloadFor(userMsg))

		emit := func(event, data string) {
			fmt.Fprintf(c.Writer, "event: %s\n", event)
			fmt.Fprintf(c.Writer, "data: %s\n\n", strings.ReplaceAll(data, "\n", "\\n"))
			flusher.Flush()
		}
		emit("user_saved", fmt.Sprintf(`{"session_token": %q, "message_id": %d, "pending": %v}`,
			sess.SessionToken, userMsg.ID, userQueued))

		// answer: cache first, else run the dispatcher with rotating status
		ck := answerCacheKey(sess.SessionToken, body.Message)
		answer, fromCache := cache.Default().GetAnswer(ck)
		if !fromCache {
			history := modelHistory(db, sess.SessionToken, userMsg.ID)
			resultCh := make(chan string, 1)
			go func() {
				resultCh <- a.Answer(c.Request.Context(), history, body.Message)
			}()

			statusTick := time.NewTicker(900 * time.Millisecond)
			i := 0
			emit("status", chatStatuses[0])
		waitLoop:
			for {
				select {
				case answer = <-resultCh:
					break waitLoop
				case <-statusTick.C:
					i = (i + 1) % len(chatStatuses)
					emit("status", chatStatuses[i])
				case <-c.Request.Context().Done():
					statusTick.Stop()
					return
				}
			}
			statusTick.Stop()
		}

		completed := revealSSE(c, flusher, answer)

		if completed {
			botMsg := models.ChatMessage{
				SessionToken:    sess.SessionToken,
				Sender:          "bot",
				Text:            answer,
				ClientMessageID: uuid.NewString(),
				Timestamp:       time.Now(),
			}
			if err := db.Create(&botMsg).Error; err == nil {
				_, _ = ob.Send(c.Request.Context(), payloadFor(botMsg))
			}
			cache.Default().SetAnswer(ck, answer, cache.StatusCompleted, time.Duration(config.ChatCacheTTLSeconds)*time.Second)
			emit("done", `{"ok": true}`)
			return
		}
		// client went away mid-reveal; the partial answer is discarded
		cache.Default().SetAnswer(ck, answer, cache.StatusCanceled, 0)
	}
}

// revealSSE streams the answer chunk by chunk at the typing interval.
// Returns false when the client disconnected before the reveal finished.
func revealSSE(c *gin.Context, flusher http.Flusher, answer string) bool {
	chunkSize := config.TypingChunkRunes
	if chunkSize <= 0 {
		chunkSize = 28
	}
	tick := time.Duration(config.TypingTickMS) * time.Millisecond
	if tick <= 0 {
		tick = 12 * time.Millisecond
	}

	runes := []rune(answer)
	for i := 0; i < len(runes); i += chunkSize {
		select {
		case <-c.Request.Context().Done():
			return false
		default:
		}
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.ReplaceAll(string(runes[i:end]), "\n", "\\n")
		fmt.Fprintf(c.Writer, "event: delta\n")
		fmt.Fprintf(c.Writer, "data: %s\n\n", chunk)
		flusher.Flush()
		time.Sleep(tick)
	}
	return true
}
