package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"BookAI/pkg/outbox"
	svc "BookAI/pkg/services"

	catalogRoutes "BookAI/routes/catalog"
	supportRoutes "BookAI/routes/support"
)

func RegisterRoutes(r *gin.Engine, db *gorm.DB, a *svc.Assistant, tools *svc.ToolRegistry, store *svc.RemoteStore, ob *outbox.Outbox) {
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "customer-support chat backend running"})
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	supportRoutes.Register(r, db, a, store, ob)
	catalogRoutes.Register(r, tools)
}
