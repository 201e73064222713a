package main

import (
	"context"
	"log"
	"time"

	"BookAI/middleware"
	"BookAI/models"
	"BookAI/pkg/cache"
	"BookAI/pkg/config"
	"BookAI/pkg/outbox"
	svc "BookAI/pkg/services"
	"BookAI/routes"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openDB() (*gorm.DB, error) {
	switch config.DBDriver {
	case "mysql":
		return gorm.Open(mysql.Open(config.DBDSN), &gorm.Config{})
	default:
		return gorm.Open(sqlite.Open(config.DBDSN), &gorm.Config{})
	}
}

func main() {
	// config init via package init()

	db, err := openDB()
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	// auto-migrate
	if err := db.AutoMigrate(
		&models.ChatSession{}, &models.ChatMessage{}, &models.PendingMessage{},
		&models.Product{}, &models.Ebook{}, &models.Post{},
	); err != nil {
		log.Fatalf("failed migrate: %v", err)
	}

	// apply tunables
	middleware.SetRateLimitConfig(
		time.Duration(config.RateLimitWindowSeconds)*time.Second,
		config.RateLimitCapacity,
		config.SessionConcurrencyLimit,
	)
	middleware.SetDuplicateTTL(time.Duration(config.DuplicateWindowSeconds) * time.Second)
	cache.SetMaxItems(config.ChatCacheMaxItems)

	// services
	gemini := svc.NewGeminiService()
	tools := svc.NewToolRegistry(db)
	assistant := svc.NewAssistant(gemini, tools)
	store := svc.NewRemoteStore()
	ob := outbox.New(db, store)
	go ob.Watch(context.Background())

	r := gin.Default()

	// CORS configuration
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000", "http://127.0.0.1:3000", "http://localhost:5173", "http://127.0.0.1:5173"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With", "X-Session-Token"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.RegisterRoutes(r, db, assistant, tools, store, ob)
	r.Run(":" + config.Port)
}
