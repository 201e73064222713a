package models

import "gorm.io/gorm"

type Post struct {
	gorm.Model
	Title     string `gorm:"size:200;not null;index"`
	Slug      string `gorm:"size:220;uniqueIndex"`
	Excerpt   string `gorm:"type:text"`
	Body      string `gorm:"type:text"`
	Published bool   `gorm:"not null;default:false;index"`
}
