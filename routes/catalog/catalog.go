package catalog

import (
	"BookAI/controllers"
	svc "BookAI/pkg/services"

	"github.com/gin-gonic/gin"
)

func Register(r *gin.Engine, tools *svc.ToolRegistry) {
	g := r.Group("/api/catalog")

	g.GET("/inventory", controllers.SearchInventory(tools))
	g.GET("/availability", controllers.CheckAvailability(tools))
	g.GET("/ebooks", controllers.LookupEbooks(tools))
	g.GET("/similar", controllers.SimilarTitles(tools))
	g.GET("/recommendations", controllers.Recommendations(tools))
	g.GET("/posts", controllers.LookupPosts(tools))
}
