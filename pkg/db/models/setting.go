package models

import "time"

// Setting is one key/value row in the configuration store. Secret values are
// never returned by the public settings surface.
type Setting struct {
	Key       string    `gorm:"column:key;primaryKey"`
	Value     string    `gorm:"column:value;not null"`
	Secret    bool      `gorm:"column:secret;not null;default:false"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
