package models

import (
	"time"
)

// EEPROMImage 掉电存储镜像（数据库介质使用）
type EEPROMImage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:64;not null" json:"name"`
	Data      []byte    `gorm:"not null" json:"data"`
	Commits   uint64    `gorm:"default:0" json:"commits"` // 提交次数，用于观察写入磨损
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (EEPROMImage) TableName() string {
	return "eeprom_images"
}
