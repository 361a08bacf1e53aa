package models

import "gorm.io/gorm"

// EmailCategory is a user-defined classification bucket.
type EmailCategory struct {
	gorm.Model
	UserID uint   `gorm:"not null;index" json:"user_id"`
	Name   string `gorm:"not null" json:"name"`
	Color  string `json:"color,omitempty"`
}

// ClassificationRule assigns a category to inbound messages whose content
// matches its condition set. Lower Priority wins; first match assigns.
type ClassificationRule struct {
	gorm.Model
	UserID     uint `gorm:"not null;index" json:"user_id"`
	CategoryID uint `gorm:"not null;index" json:"category_id"`

	Conditions ConditionSet `gorm:"type:jsonb;serializer:json" json:"conditions"`
	Priority   int          `gorm:"default:0" json:"priority"`
	IsActive   bool         `gorm:"default:true" json:"is_active"`

	// Relations
	Category EmailCategory `json:"-"`
}
