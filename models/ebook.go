package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Ebook struct {
	gorm.Model
	Title       string          `gorm:"size:200;not null;index"`
	Author      string          `gorm:"size:120"`
	Description string          `gorm:"type:text"`
	Category    string          `gorm:"size:80;index"`
	Price       decimal.Decimal `gorm:"type:decimal(12,2)"`
	Free        bool            `gorm:"not null;default:false"`
	Format      string          `gorm:"size:20"` // pdf, epub
	// no column default: gorm drops zero-valued fields that have one, so an
	// inactive record would be stored active
	Active bool `gorm:"not null;index"`
}

// PriceLabel renders the price the way the storefront shows it.
func (e *Ebook) PriceLabel() string {
	if e.Free || e.Price.IsZero() {
		return "Free"
	}
	return "$" + e.Price.StringFixed(2)
}
