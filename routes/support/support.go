package support

import (
	"BookAI/controllers"
	"BookAI/middleware"
	"BookAI/pkg/outbox"
	svc "BookAI/pkg/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func Register(r *gin.Engine, db *gorm.DB, a *svc.Assistant, store *svc.RemoteStore, ob *outbox.Outbox) {
	g := r.Group("/api/customer-support")
	g.Use(middleware.RateLimit())

	g.GET("/sessions", controllers.OpenSession(db, store, ob))
	g.POST("/messages", controllers.PostMessage(db, ob))
	g.DELETE("/messages", controllers.ClearMessages(db, store))
	g.POST("/retry", controllers.RetryPending(ob))
	g.GET("/theme", controllers.GetTheme(db))
	g.PUT("/theme", controllers.SetTheme(db))
	g.POST("/chat", controllers.Chat(db, a, ob))

	// associate needs the externally issued user token
	protected := g.Group("/")
	protected.Use(middleware.AuthMiddleware())
	protected.POST("/associate", controllers.Associate(db, store, ob))
	protected.POST("/logout", controllers.Logout())

	// websocket transport lives outside the group; no rate-limit middleware
	// on the upgrade request itself
	r.GET("/ws/customer-support", controllers.ChatWS(db, a, ob))
}
