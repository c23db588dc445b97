package models

// SiteStat is a named counter, e.g. the visitor count shown on the home page.
type SiteStat struct {
	ID    uint   `gorm:"primaryKey"`
	Key   string `gorm:"uniqueIndex;size:50;not null"`
	Value int64  `gorm:"not null;default:0"`
}

const VisitorCountKey = "visitor_count"
