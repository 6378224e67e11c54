package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// JournalKind 流水类型
type JournalKind string

const (
	JournalKindCoin      JournalKind = "coin"      // 投币
	JournalKindAdjust    JournalKind = "adjust"    // 手动调整
	JournalKindRejected  JournalKind = "rejected"  // 被拒绝的扣减
	JournalKindMilestone JournalKind = "milestone" // 跨越里程碑
	JournalKindMotor     JournalKind = "motor"     // 电机序列完成
)

// JSONData 用于存储JSON格式的数据
type JSONData map[string]interface{}

// Value 实现 driver.Valuer 接口
func (j JSONData) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan 实现 sql.Scanner 接口
func (j *JSONData) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		strVal, ok := value.(string)
		if !ok {
			return nil
		}
		bytes = []byte(strVal)
	}
	return json.Unmarshal(bytes, j)
}

// JournalEntry 账本流水
type JournalEntry struct {
	ID         uint        `gorm:"primaryKey" json:"id"`
	EntryID    string      `gorm:"uniqueIndex;size:36;not null" json:"entry_id"`
	Kind       JournalKind `gorm:"size:16;index;not null" json:"kind"`
	Delta      int64       `json:"delta"`
	TotalAfter uint32      `json:"total_after"`
	Source     string      `gorm:"size:32" json:"source"` // 面额名称、按键或API
	Meta       JSONData    `gorm:"type:text" json:"meta,omitempty"`
	OccurredAt time.Time   `gorm:"index" json:"occurred_at"`
	CreatedAt  time.Time   `json:"created_at"`
}

// TableName 指定表名
func (JournalEntry) TableName() string {
	return "journal_entries"
}
