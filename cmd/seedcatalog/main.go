package main

import (
	"log"

	"BookAI/models"
	"BookAI/pkg/config"

	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// seedcatalog loads a demo catalog so the assistant's tools have something
// to find. Safe to run repeatedly; rows are matched by name/title/slug.

func price(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		log.Fatalf("bad price %q: %v", s, err)
	}
	return d
}

func main() {
	var (
		db  *gorm.DB
		err error
	)
	switch config.DBDriver {
	case "mysql":
		db, err = gorm.Open(mysql.Open(config.DBDSN), &gorm.Config{})
	default:
		db, err = gorm.Open(sqlite.Open(config.DBDSN), &gorm.Config{})
	}
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	if err := db.AutoMigrate(&models.Product{}, &models.Ebook{}, &models.Post{}); err != nil {
		log.Fatalf("failed migrate: %v", err)
	}

	ebooks := []models.Ebook{
		{Title: "Things Fall Apart", Author: "Chinua Achebe", Category: "fiction", Free: true, Format: "epub", Active: true},
		{Title: "Purple Hibiscus", Author: "Chimamanda Ngozi Adichie", Category: "fiction", Price: price("7.99"), Format: "epub", Active: true},
		{Title: "Half of a Yellow Sun", Author: "Chimamanda Ngozi Adichie", Category: "fiction", Price: price("9.99"), Format: "pdf", Active: true},
		{Title: "The Joys of Motherhood", Author: "Buchi Emecheta", Category: "fiction", Price: price("6.49"), Format: "epub", Active: true},
		{Title: "Business Accounting Basics", Author: "A. Okafor", Category: "business", Price: price("12.00"), Format: "pdf", Active: true},
		{Title: "Out of Print Sample", Author: "Unknown", Category: "fiction", Price: price("1.00"), Format: "pdf", Active: false},
	}
	for _, e := range ebooks {
		var existing models.Ebook
		if err := db.Where("title = ?", e.Title).First(&existing).Error; err == gorm.ErrRecordNotFound {
			if err := db.Create(&e).Error; err != nil {
				log.Fatalf("seed ebook %q: %v", e.Title, err)
			}
		}
	}

	products := []models.Product{
		{Name: "Hardcover Notebook A5", Category: "stationery", Price: price("4.50"), Stock: 120, Active: true},
		{Name: "Leather Bookmark Set", Category: "stationery", Price: price("3.00"), Stock: 45, Active: true},
		{Name: "Things Fall Apart (Paperback)", Category: "books", Price: price("11.99"), Stock: 18, Active: true},
		{Name: "Reading Lamp Mini", Category: "accessories", Price: price("15.00"), Stock: 0, Active: true},
	}
	for _, p := range products {
		var existing models.Product
		if err := db.Where("name = ?", p.Name).First(&existing).Error; err == gorm.ErrRecordNotFound {
			if err := db.Create(&p).Error; err != nil {
				log.Fatalf("seed product %q: %v", p.Name, err)
			}
		}
	}

	posts := []models.Post{
		{Title: "How to redeem a free e-book", Slug: "redeem-free-ebook", Excerpt: "Step-by-step guide to claiming free titles.", Published: true},
		{Title: "Five African classics to start with", Slug: "five-african-classics", Excerpt: "Our staff picks for first-time readers.", Published: true},
		{Title: "Draft: holiday sale plan", Slug: "holiday-sale-draft", Excerpt: "internal", Published: false},
	}
	for _, p := range posts {
		var existing models.Post
		if err := db.Where("slug = ?", p.Slug).First(&existing).Error; err == gorm.ErrRecordNotFound {
			if err := db.Create(&p).Error; err != nil {
				log.Fatalf("seed post %q: %v", p.Slug, err)
			}
		}
	}

	var ne, np, npo int64
	db.Model(&models.Ebook{}).Count(&ne)
	db.Model(&models.Product{}).Count(&np)
	db.Model(&models.Post{}).Count(&npo)
	log.Printf("[seed] catalog ready: %d ebooks, %d products, %d posts", ne, np, npo)
}
