package controllers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"BookAI/middleware"
	"BookAI/models"
	"BookAI/pkg/cache"
	"BookAI/pkg/config"
	"BookAI/pkg/outbox"
	svc "BookAI/pkg/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS handled at HTTP level; allow WS here
		return true
	},
}

type wsStartPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ChatWS handles WebSocket chat streaming for the support widget.
// Client protocol (JSON messages):
//
//	-> {type: "start", message: string}
//	<- {type: "ready", session_token: string}
//	<- {type: "user_saved", message_id: number, pending: bool}
//	<- {type: "delta", data: string}
//	<- {type: "done", ok: true, stopped?: true}
//	<- {type: "error", error: string}
//
// A -> {type: "stop"} frame cancels the reveal; only one reveal runs per
// connection at a time.
func ChatWS(db *gorm.DB, a *svc.Assistant, ob *outbox.Outbox) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, _, err := ensureSession(db, c.Query("session_token"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "db error"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("[ws] upgrade error: %v", err)
			return
		}
		defer conn.Close()

		// Setup read limits and pong handler for keepalive
		conn.SetReadLimit(1 << 20) // 1MB
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		})

		_ = conn.WriteJSON(gin.H{"type": "ready", "session_token": sess.SessionToken})

		// Read exactly one start message per connection
		_, msgBytes, err := conn.ReadMessage()
		if err != nil {
			log.Printf("[ws] read message error: %v", err)
			return
		}
		var start wsStartPayload
		if err := json.Unmarshal(msgBytes, &start); err != nil || strings.ToLower(start.Type) != "start" || strings.TrimSpace(start.Message) == "" {
			_ = conn.WriteJSON(gin.H{"type": "error", "error": "invalid start payload"})
			return
		}

		if !middleware.DuplicateGuard(sess.SessionToken, start.Message) {
			_ = conn.WriteJSON(gin.H{"type": "error", "error": "duplicate message"})
			return
		}
		release := middleware.AcquireSessionSlot(sess.SessionToken)
		defer release()

		// Save user message and mirror it
		userMsg := models.ChatMessage{
			SessionToken:    sess.SessionToken,
			Sender:          "user",
			Text:            start.Message,
			ClientMessageID: uuid.NewString(),
			Timestamp:       time.Now(),
		}
		if err := db.Create(&userMsg).Error; err != nil {
			_ = conn.WriteJSON(gin.H{"type": "error", "error": "failed to save message"})
			return
		}
		userQueued, _ := ob.Send(c.Request.Context(), payloadFor(userMsg))
		_ = conn.WriteJSON(gin.H{"type": "user_saved", "message_id": userMsg.ID, "pending": userQueued})

		// Context timeout with cancel we can trigger on stop
		parentCtx, cancelTimeout := context.WithTimeout(c.Request.Context(), 75*time.Second)
		ctx, cancel := context.WithCancel(parentCtx)
		defer func() {
			cancel()
			cancelTimeout()
		}()

		// Reader goroutine to listen for {type:"stop"}
		stopCh := make(chan struct{})
		go func() {
			for {
				if err := conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
					return
				}
				mt, msg, err := conn.ReadMessage()
				if err != nil {
					return
				}
				if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
					continue
				}
				var obj struct {
					Type string `json:"type"`
				}
				_ = json.Unmarshal(msg, &obj)
				if strings.ToLower(strings.TrimSpace(obj.Type)) == "stop" {
					select {
					case <-stopCh:
						// already stopped
					default:
						close(stopCh)
					}
					return
				}
			}
		}()

		isStopped := func() bool {
			select {
			case <-stopCh:
				return true
			default:
				return false
			}
		}

		// Cache check first, else run the dispatcher
		ck := answerCacheKey(sess.SessionToken, start.Message)
		answer, fromCache := cache.Default().GetAnswer(ck)
		if !fromCache {
			history := modelHistory(db, sess.SessionToken, userMsg.ID)
			answer = a.Answer(ctx, history, start.Message)
		}

		// Typewriter reveal, cancellable via stop
		completed := revealWS(conn, answer, isStopped)
		if isStopped() {
			cancel()
		}

		if completed {
			botMsg := models.ChatMessage{
				SessionToken:    sess.SessionToken,
				Sender:          "bot",
				Text:            answer,
				ClientMessageID: uuid.NewString(),
				Timestamp:       time.Now(),
			}
			if err := db.Create(&botMsg).Error; err == nil {
				_, _ = ob.Send(context.Background(), payloadFor(botMsg))
			}
			cache.Default().SetAnswer(ck, answer, cache.StatusCompleted, time.Duration(config.ChatCacheTTLSeconds)*time.Second)
			_ = conn.WriteJSON(gin.H{"type": "done", "ok": true})
			return
		}

		// stopped mid-reveal; the partial answer is discarded, not persisted
		cache.Default().SetAnswer(ck, answer, cache.StatusCanceled, 0)
		_ = conn.WriteJSON(gin.H{"type": "done", "ok": true, "stopped": true})
	}
}

// revealWS streams the answer in rune chunks, preserving whitespace and
// newlines. Returns false when stopped before the reveal finished.
func revealWS(conn *websocket.Conn, answer string, isStopped func() bool) bool {
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
		if isStopped() {
			return false
		}
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		if err := conn.WriteJSON(gin.H{"type": "delta", "data": string(runes[i:end])}); err != nil {
			return false
		}
		time.Sleep(tick)
	}
	return true
}
