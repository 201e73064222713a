package services

import (
	"context"
	"fmt"
	"strings"

	"BookAI/models"
	"BookAI/pkg/config"

	"gorm.io/gorm"
)

// ToolHandler executes one read-only lookup. Handlers never have side
// effects; a failed lookup is reported as an {error: ...} object, which the
// dispatcher treats as a normal result for the model to narrate.
type ToolHandler func(ctx context.Context, args map[string]any) map[string]any

// ToolRegistry maps tool names to typed handlers. Keeping the table in one
// place gives the dispatcher compile-time coverage instead of a name switch.
type ToolRegistry struct {
	db       *gorm.DB
	limit    int
	handlers map[string]ToolHandler
	decls    []ToolDecl
}

func NewToolRegistry(db *gorm.DB) *ToolRegistry {
	r := &ToolRegistry{db: db, limit: config.ToolResultLimit}
	if r.limit <= 0 {
		r.limit = 6
	}
	r.handlers = map[string]ToolHandler{
		"search_inventory":           r.searchInventory,
		"check_product_availability": r.checkProductAvailability,
		"find_similar_titles":        r.findSimilarTitles,
		"get_recommendations":        r.getRecommendations,
		"lookup_ebook":               r.lookupEbook,
		"lookup_post":                r.lookupPost,
	}
	r.decls = []ToolDecl{
		{
			Name:        "search_inventory",
			Description: "Search the store inventory (physical products and e-books) by free-text query on name, title or author.",
			Params:      queryParams("query", "Free-text search, e.g. a book title or author name."),
		},
		{
			Name:        "check_product_availability",
			Description: "Check whether a named product or e-book is currently available for purchase.",
			Params:      queryParams("name", "Product or e-book name to check."),
		},
		{
			Name:        "find_similar_titles",
			Description: "Find e-books similar to a given title (same category or overlapping title words).",
			Params:      queryParams("title", "The title to find similar e-books for."),
		},
		{
			Name:        "get_recommendations",
			Description: "Recommend recent e-books, optionally restricted to a category.",
			Params: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"category": map[string]any{"type": "string", "description": "Optional category filter, e.g. fiction."},
				},
			},
		},
		{
			Name:        "lookup_ebook",
			Description: "Look up e-books by title.",
			Params:      queryParams("title", "E-book title, full or partial."),
		},
		{
			Name:        "lookup_post",
			Description: "Look up published blog posts and articles by free-text query.",
			Params:      queryParams("query", "Free-text search over post titles and excerpts."),
		},
	}
	return r
}

func queryParams(name, desc string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			name: map[string]any{"type": "string", "description": desc},
		},
		"required": []string{name},
	}
}

// Declarations returns the tool set advertised to the model.
func (r *ToolRegistry) Declarations() []ToolDecl { return r.decls }

// Call dispatches one tool call. Unknown names come back as an error object,
// never as a Go error.
func (r *ToolRegistry) Call(ctx context.Context, call ToolCall) ToolResult {
	h, ok := r.handlers[call.Name]
	if !ok {
		return ToolResult{Name: call.Name, Data: map[string]any{"error": fmt.Sprintf("unknown tool: %s", call.Name)}}
	}
	return ToolResult{Name: call.Name, Data: h(ctx, call.Args)}
}

// SearchInventory is the proactive-path entry used by the dispatcher before
// it involves the model, and by the catalog HTTP endpoints.
func (r *ToolRegistry) SearchInventory(ctx context.Context, query string) map[string]any {
	return r.searchInventory(ctx, map[string]any{"query": query})
}

func strArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

func likePattern(s string) string {
	return "%" + strings.ToLower(s) + "%"
}

func (r *ToolRegistry) searchInventory(ctx context.Context, args map[string]any) map[string]any {
	q := strArg(args, "query")
	if q == "" {
		return map[string]any{"error": "query is required"}
	}
	p := likePattern(q)

	var ebooks []models.Ebook
	if err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Where("LOWER(title) LIKE ? OR LOWER(author) LIKE ?", p, p).
		Limit(r.limit).Find(&ebooks).Error; err != nil {
		return map[string]any{"error": "inventory lookup failed"}
	}

	var products []models.Product
	if err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Where("LOWER(name) LIKE ?", p).
		Limit(r.limit).Find(&products).Error; err != nil {
		return map[string]any{"error": "inventory lookup failed"}
	}

	if len(ebooks) == 0 && len(products) == 0 {
		return map[string]any{"message": fmt.Sprintf("no inventory matches for %q", q)}
	}
	out := map[string]any{}
	if len(ebooks) > 0 {
		out["ebooks"] = ebookMaps(ebooks)
	}
	if len(products) > 0 {
		out["products"] = productMaps(products)
	}
	return out
}

func (r *ToolRegistry) checkProductAvailability(ctx context.Context, args map[string]any) map[string]any {
	name := strArg(args, "name")
	if name == "" {
		return map[string]any{"error": "name is required"}
	}
	p := likePattern(name)

	var prod models.Product
	if err := r.db.WithContext(ctx).
		Where("active = ? AND LOWER(name) LIKE ?", true, p).
		First(&prod).Error; err == nil {
		m := productMap(prod)
		m["in_stock"] = prod.InStock()
		return map[string]any{"product": m}
	}

	var eb models.Ebook
	if err := r.db.WithContext(ctx).
		Where("active = ? AND LOWER(title) LIKE ?", true, p).
		First(&eb).Error; err == nil {
		m := ebookMap(eb)
		m["available"] = true
		return map[string]any{"ebook": m}
	}

	return map[string]any{"message": fmt.Sprintf("nothing named %q is available right now", name)}
}

func (r *ToolRegistry) findSimilarTitles(ctx context.Context, args map[string]any) map[string]any {
	title := strArg(args, "title")
	if title == "" {
		return map[string]any{"error": "title is required"}
	}

	// take category of the best match, then pull siblings; fall back to
	// matching any significant title word
	var seed models.Ebook
	seedErr := r.db.WithContext(ctx).
		Where("active = ? AND LOWER(title) LIKE ?", true, likePattern(title)).
		First(&seed).Error

	var ebooks []models.Ebook
	if seedErr == nil && seed.Category != "" {
		if err := r.db.WithContext(ctx).
			Where("active = ? AND category = ? AND id <> ?", true, seed.Category, seed.ID).
			Limit(r.limit).Find(&ebooks).Error; err != nil {
			return map[string]any{"error": "similar-title lookup failed"}
		}
	}
	if len(ebooks) == 0 {
		tx := r.db.WithContext(ctx).Where("active = ?", true)
		var or []string
		var vals []any
		for _, w := range strings.Fields(strings.ToLower(title)) {
			if len(w) < 4 {
				continue
			}
			or = append(or, "LOWER(title) LIKE ?")
			vals = append(vals, likePattern(w))
		}
		if len(or) == 0 {
			return map[string]any{"message": fmt.Sprintf("no similar titles for %q", title)}
		}
		if err := tx.Where(strings.Join(or, " OR "), vals...).Limit(r.limit).Find(&ebooks).Error; err != nil {
			return map[string]any{"error": "similar-title lookup failed"}
		}
	}
	if len(ebooks) == 0 {
		return map[string]any{"message": fmt.Sprintf("no similar titles for %q", title)}
	}
	return map[string]any{"ebooks": ebookMaps(ebooks)}
}

func (r *ToolRegistry) getRecommendations(ctx context.Context, args map[string]any) map[string]any {
	category := strArg(args, "category")
	tx := r.db.WithContext(ctx).Where("active = ?", true)
	if category != "" {
		tx = tx.Where("LOWER(category) = ?", strings.ToLower(category))
	}
	var ebooks []models.Ebook
	if err := tx.Order("created_at DESC").Limit(r.limit).Find(&ebooks).Error; err != nil {
		return map[string]any{"error": "recommendation lookup failed"}
	}
	if len(ebooks) == 0 {
		return map[string]any{"message": "no recommendations available"}
	}
	return map[string]any{"ebooks": ebookMaps(ebooks)}
}

func (r *ToolRegistry) lookupEbook(ctx context.Context, args map[string]any) map[string]any {
	title := strArg(args, "title")
	if title == "" {
		return map[string]any{"error": "title is required"}
	}
	var ebooks []models.Ebook
	if err := r.db.WithContext(ctx).
		Where("active = ? AND LOWER(title) LIKE ?", true, likePattern(title)).
		Limit(r.limit).Find(&ebooks).Error; err != nil {
		return map[string]any{"error": "ebook lookup failed"}
	}
	if len(ebooks) == 0 {
		return map[string]any{"message": fmt.Sprintf("no ebook titled %q", title)}
	}
	return map[string]any{"ebooks": ebookMaps(ebooks)}
}

func (r *ToolRegistry) lookupPost(ctx context.Context, args map[string]any) map[string]any {
	q := strArg(args, "query")
	if q == "" {
		return map[string]any{"error": "query is required"}
	}
	p := likePattern(q)
	var posts []models.Post
	if err := r.db.WithContext(ctx).
		Where("published = ?", true).
		Where("LOWER(title) LIKE ? OR LOWER(excerpt) LIKE ?", p, p).
		Limit(r.limit).Find(&posts).Error; err != nil {
		return map[string]any{"error": "post lookup failed"}
	}
	if len(posts) == 0 {
		return map[string]any{"message": fmt.Sprintf("no posts match %q", q)}
	}
	out := make([]map[string]any, 0, len(posts))
	for _, post := range posts {
		out = append(out, map[string]any{
			"title":   post.Title,
			"excerpt": post.Excerpt,
			"link":    "/posts/" + post.Slug,
		})
	}
	return map[string]any{"posts": out}
}

func ebookMap(e models.Ebook) map[string]any {
	return map[string]any{
		"title":  e.Title,
		"author": e.Author,
		"price":  e.PriceLabel(),
		"format": e.Format,
		"link":   "/products/ebooks",
	}
}

func ebookMaps(ebooks []models.Ebook) []map[string]any {
	out := make([]map[string]any, 0, len(ebooks))
	for _, e := range ebooks {
		out = append(out, ebookMap(e))
	}
	return out
}

func productMap(p models.Product) map[string]any {
	return map[string]any{
		"name":     p.Name,
		"category": p.Category,
		"price":    "$" + p.Price.StringFixed(2),
		"stock":    p.Stock,
		"link":     "/products",
	}
}

func productMaps(products []models.Product) []map[string]any {
	out := make([]map[string]any, 0, len(products))
	for _, p := range products {
		out = append(out, productMap(p))
	}
	return out
}
