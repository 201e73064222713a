package controllers

import (
	"net/http"
	"strings"
	"time"

	"BookAI/models"
	"BookAI/pkg/outbox"
	svc "BookAI/pkg/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PostMessage persists one message locally and mirrors it to the remote
// store through the pending-safe path. Re-sending the same clientMessageId
// is a no-op that returns the stored row.
func PostMessage(db *gorm.DB, ob *outbox.Outbox) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			SessionToken    string     `json:"session_token"`
			Role            string     `json:"role"`
			Message         string     `json:"message"`
			CreatedAt       *time.Time `json:"created_at"`
			ClientMessageID string     `json:"clientMessageId"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Message) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "message is required"})
			return
		}
		role := strings.ToLower(strings.TrimSpace(body.Role))
		if role != "user" && role != "bot" {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "role must be 'user' or 'bot'"})
			return
		}

		sess, _, err := ensureSession(db, body.SessionToken)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "db error"})
			return
		}

		clientID := strings.TrimSpace(body.ClientMessageID)
		if clientID == "" {
			clientID = uuid.NewString()
		}

		// idempotent per clientMessageId
		var existing models.ChatMessage
		if err := db.Where("client_message_id = ?", clientID).First(&existing).Error; err == nil {
			c.JSON(http.StatusOK, gin.H{
				"id":              existing.ID,
				"clientMessageId": existing.ClientMessageID,
				"pending":         existing.Pending,
			})
			return
		} else if err != gorm.ErrRecordNotFound {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "db error"})
			return
		}

		ts := time.Now()
		if body.CreatedAt != nil {
			ts = *body.CreatedAt
		}
		msg := models.ChatMessage{
			SessionToken:    sess.SessionToken,
			Sender:          role,
			Text:            body.Message,
			ClientMessageID: clientID,
			Timestamp:       ts,
		}
		if err := db.Create(&msg).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to save message"})
			return
		}

		queued, err := ob.Send(c.Request.Context(), payloadFor(msg))
		if err != nil && svc.IsPermanent(err) {
			// stored locally; the remote store refused it for good
			c.JSON(http.StatusCreated, gin.H{
				"id":              msg.ID,
				"clientMessageId": msg.ClientMessageID,
				"pending":         false,
				"remote_rejected": true,
			})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"id":              msg.ID,
			"clientMessageId": msg.ClientMessageID,
			"pending":         queued,
		})
	}
}

// RetryPending is the client-triggered drain: the widget calls it from its
// browser "online" event handler.
func RetryPending(ob *outbox.Outbox) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := ob.RetryPending(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "retry failed", "retried": n})
			return
		}
		c.JSON(http.StatusOK, gin.H{"retried": n})
	}
}
