package storage

import "gorm.io/gorm"

// BackendOverlay is a runtime edit to frontend.backends made through the
// admin worker-management surface. It is layered on top of the static JSON
// config's backend list at process start; the JSON file itself is never
// rewritten.
type BackendOverlay struct {
	ID         string `gorm:"primaryKey"`
	ConfigJSON string
	DeletedAt  gorm.DeletedAt `gorm:"index"`
}

// TableName specifies the table name for BackendOverlay
func (BackendOverlay) TableName() string {
	return "backend_overlays"
}

// DailyStat tracks per-day download byte and file counts for the admin
// analytics view.
type DailyStat struct {
	Date  string `gorm:"primaryKey"` // Format: "YYYY-MM-DD"
	Bytes int64  `gorm:"default:0"`
	Files int64  `gorm:"default:0"`
}

// TableName specifies the table name for DailyStat
func (DailyStat) TableName() string {
	return "daily_stats"
}
