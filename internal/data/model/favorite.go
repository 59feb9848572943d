package model

import (
	"time"
)

// Favorite 收藏表（HD 交付权益）
type Favorite struct {
	FavoriteID    string     `gorm:"primaryKey;type:varchar(36)"`
	UID           string     `gorm:"column:uid;type:varchar(64);not null;index"`
	SessionID     string     `gorm:"type:varchar(36);not null;index"`
	TakeID        string     `gorm:"type:varchar(36);not null"`
	Variant       string     `gorm:"type:varchar(32)"`
	HDStatus      string     `gorm:"column:hd_status;type:varchar(16);not null;default:'none';index:idx_hd_status_updated,priority:1"` // none/rendering/delivered
	ArtifactRef   string     `gorm:"type:varchar(255)"`
	CompensatedAt *time.Time `gorm:"default:null"`
	CreatedAt     time.Time  `gorm:"autoCreateTime"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime;index:idx_hd_status_updated,priority:2"`
}

// TableName 指定表名
func (Favorite) TableName() string {
	return "favorite"
}

// CompensationLog 补偿审计表（只追加）
type CompensationLog struct {
	CompensationLogID string    `gorm:"primaryKey;type:varchar(36)"`
	UID               string    `gorm:"column:uid;type:varchar(64);not null;index"`
	FavoriteID        string    `gorm:"type:varchar(36);not null;index"`
	SessionID         string    `gorm:"type:varchar(36)"`
	Reason            string    `gorm:"type:varchar(32);not null"` // sla_breach/permanent_failure/user_report
	CompType          string    `gorm:"type:varchar(32);not null"` // hd_return/manual_review
	Amount            int64     `gorm:"not null;default:0"`
	CorrelationID     string    `gorm:"type:varchar(64)"`
	CreatedAt         time.Time `gorm:"autoCreateTime"`
}

// TableName 指定表名
func (CompensationLog) TableName() string {
	return "compensation_log"
}
