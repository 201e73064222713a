package controllers

import (
	"net/http"
	"strings"

	svc "BookAI/pkg/services"

	"github.com/gin-gonic/gin"
)

// Catalog lookup endpoints: the same read-only tools the assistant calls,
// exposed to the storefront UI. All take a free-text query and return
// capped lists.

func requireQuery(c *gin.Context, key string) (string, bool) {
	q := strings.TrimSpace(c.Query(key))
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"msg": key + " is required"})
		return "", false
	}
	return q, true
}

func SearchInventory(tools *svc.ToolRegistry) gin.HandlerFunc {
	return func(c *gin.Context) {
		q, ok := requireQuery(c, "q")
		if !ok {
			return
		}
		c.JSON(http.StatusOK, tools.SearchInventory(c.Request.Context(), q))
	}
}

func CheckAvailability(tools *svc.ToolRegistry) gin.HandlerFunc {
	return func(c *gin.Context) {
		q, ok := requireQuery(c, "name")
		if !ok {
			return
		}
		res := tools.Call(c.Request.Context(), svc.ToolCall{
			Name: "check_product_availability",
			Args: map[string]any{"name": q},
		})
		c.JSON(http.StatusOK, res.Data)
	}
}

func LookupEbooks(tools *svc.ToolRegistry) gin.HandlerFunc {
	return func(c *gin.Context) {
		q, ok := requireQuery(c, "q")
		if !ok {
			return
		}
		res := tools.Call(c.Request.Context(), svc.ToolCall{
			Name: "lookup_ebook",
			Args: map[string]any{"title": q},
		})
		c.JSON(http.StatusOK, res.Data)
	}
}

func SimilarTitles(tools *svc.ToolRegistry) gin.HandlerFunc {
	return func(c *gin.Context) {
		q, ok := requireQuery(c, "title")
		if !ok {
			return
		}
		res := tools.Call(c.Request.Context(), svc.ToolCall{
			Name: "find_similar_titles",
			Args: map[string]any{"title": q},
		})
		c.JSON(http.StatusOK, res.Data)
	}
}

func Recommendations(tools *svc.ToolRegistry) gin.HandlerFunc {
	return func(c *gin.Context) {
		res := tools.Call(c.Request.Context(), svc.ToolCall{
			Name: "get_recommendations",
			Args: map[string]any{"category": strings.TrimSpace(c.Query("category"))},
		})
		c.JSON(http.StatusOK, res.Data)
	}
}

func LookupPosts(tools *svc.ToolRegistry) gin.HandlerFunc {
	return func(c *gin.Context) {
		q, ok := requireQuery(c, "q")
		if !ok {
			return
		}
		res := tools.Call(c.Request.Context(), svc.ToolCall{
			Name: "lookup_post",
			Args: map[string]any{"query": q},
		})
		c.JSON(http.StatusOK, res.Data)
	}
}
