package model

import (
	"time"
)

// Session 套餐会话表
type Session struct {
	SessionID             string    `gorm:"primaryKey;type:varchar(36)"`
	UID                   string    `gorm:"column:uid;type:varchar(64);not null;index"`
	PackID                string    `gorm:"type:varchar(32);not null"`
	TakesLimit            int32     `gorm:"not null;default:0"`
	TakesUsed             int32     `gorm:"not null;default:0"`
	HDLimit               int32     `gorm:"column:hd_limit;not null;default:0"`
	HDUsed                int32     `gorm:"column:hd_used;not null;default:0"`
	Status                string    `gorm:"type:varchar(16);not null;default:'active';index:idx_status_activity,priority:1"` // active/completed/upgraded/abandoned
	UpgradedFromSessionID string    `gorm:"type:varchar(36);index"`
	CreditStars           int64     `gorm:"not null;default:0"`
	TotalSteps            int32     `gorm:"not null;default:0"`
	CurrentStep           int32     `gorm:"not null;default:0"`
	LastActivityAt        time.Time `gorm:"index:idx_status_activity,priority:2"`
	CreatedAt             time.Time `gorm:"autoCreateTime"`
	UpdatedAt             time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Session) TableName() string {
	return "session"
}

// Take 会话内的生成记录
type Take struct {
	TakeID    string    `gorm:"primaryKey;type:varchar(36)"`
	SessionID string    `gorm:"type:varchar(36);not null;index"`
	UID       string    `gorm:"column:uid;type:varchar(64);not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName 指定表名
func (Take) TableName() string {
	return "take"
}
