package model

import (
	"time"
)

// ReferralBonus 推荐奖励表
type ReferralBonus struct {
	ReferralBonusID string     `gorm:"primaryKey;type:varchar(36)"`
	ReferrerUID     string     `gorm:"column:referrer_uid;type:varchar(64);not null;index:idx_referrer_created,priority:1"`
	ReferralUID     string     `gorm:"column:referral_uid;type:varchar(64);not null"`
	PaymentID       string     `gorm:"type:varchar(64);not null;uniqueIndex"`
	PackStars       int64      `gorm:"not null;default:0"`
	HDCreditsAmount int64      `gorm:"column:hd_credits_amount;not null;default:0"`
	Status          string     `gorm:"type:varchar(16);not null;default:'pending';index:idx_status_available,priority:1"` // pending/available/spent/revoked
	CreatedAt       time.Time  `gorm:"index:idx_referrer_created,priority:2"`
	AvailableAt     time.Time  `gorm:"index:idx_status_available,priority:2"`
	SpentAt         *time.Time `gorm:"default:null"`
	RevokedAt       *time.Time `gorm:"default:null"`
	RevokeReason    string     `gorm:"type:varchar(64)"`
}

// TableName 指定表名
func (ReferralBonus) TableName() string {
	return "referral_bonus"
}
