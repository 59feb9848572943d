package model

import (
	"time"
)

// UserBalance 用户余额表（所有额度桶共用一行，修改时必须持有行锁）
type UserBalance struct {
	UserBalanceID     string    `gorm:"primaryKey;type:varchar(36)"`
	UID               string    `gorm:"column:uid;uniqueIndex;type:varchar(64);not null"`
	Role              string    `gorm:"type:varchar(16);not null;default:'user'"`
	CreditBalance     int64     `gorm:"not null;default:0"`
	HDPaidBalance     int64     `gorm:"column:hd_paid_balance;not null;default:0"`
	HDPromoBalance    int64     `gorm:"column:hd_promo_balance;not null;default:0"`
	ReferralPending   int64     `gorm:"not null;default:0"`
	ReferralAvailable int64     `gorm:"not null;default:0"`
	ReferralDebt      int64     `gorm:"not null;default:0"`
	CreatedAt         time.Time `gorm:"autoCreateTime"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (UserBalance) TableName() string {
	return "user_balance"
}
