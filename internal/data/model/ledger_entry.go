package model

import (
	"time"
)

// LedgerEntry 账本流水表（只追加，不更新不删除）
type LedgerEntry struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	UID       string    `gorm:"column:uid;type:varchar(64);not null;uniqueIndex:uk_uid_job_op,priority:1"`
	JobID     string    `gorm:"type:varchar(64);not null;uniqueIndex:uk_uid_job_op,priority:2"`
	Operation string    `gorm:"type:varchar(16);not null;uniqueIndex:uk_uid_job_op,priority:3"` // HOLD/CAPTURE/RELEASE
	Amount    int64     `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName 指定表名
func (LedgerEntry) TableName() string {
	return "ledger_entry"
}
