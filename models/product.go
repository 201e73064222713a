package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Product struct {
	gorm.Model
	Name        string          `gorm:"size:200;not null;index"`
	Description string          `gorm:"type:text"`
	Category    string          `gorm:"size:80;index"`
	Price       decimal.Decimal `gorm:"type:decimal(12,2)"`
	Stock       int             `gorm:"not null;default:0"`
	// no column default: gorm drops zero-valued fields that have one, so an
	// inactive record would be stored active
	Active bool `gorm:"not null;index"`
}

// InStock reports whether the product can currently be sold.
func (p *Product) InStock() bool {
	return p.Active && p.Stock > 0
}
