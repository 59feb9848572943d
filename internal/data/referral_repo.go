package data

import (
	"context"
	"errors"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// referralRepo 推荐奖励数据访问
// 所有余额移动都在推荐人余额行锁内完成，与账本操作共用同一串行化点
type referralRepo struct {
	data *Data
	log  *log.Helper
}

// NewReferralRepo 创建推荐奖励 repo（返回 biz.ReferralRepo 接口）
func NewReferralRepo(data *Data, logger log.Logger) biz.ReferralRepo {
	return &referralRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func (r *referralRepo) GetBonus(ctx context.Context, bonusID string) (*biz.ReferralBonus, error) {
	return findBonus(r.data.db.WithContext(ctx), "referral_bonus_id = ?", bonusID)
}

func (r *referralRepo) GetBonusByPaymentID(ctx context.Context, paymentID string) (*biz.ReferralBonus, error) {
	b, err := findBonus(r.data.db.WithContext(ctx), "payment_id = ?", paymentID)
	if isMissingTable(err) {
		return nil, nil
	}
	return b, err
}

func findBonus(tx *gorm.DB, query string, arg interface{}) (*biz.ReferralBonus, error) {
	var m model.ReferralBonus
	if err := tx.Where(query, arg).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toBizBonus(&m), nil
}

func countBonusesSince(tx *gorm.DB, referrerID string, since time.Time) (int64, error) {
	var count int64
	err := tx.Model(&model.ReferralBonus{}).
		Where("referrer_uid = ? AND created_at >= ?", referrerID, since).
		Count(&count).Error
	return count, err
}

func (r *referralRepo) CountBonusesSince(ctx context.Context, referrerID string, since time.Time) (int64, error) {
	count, err := countBonusesSince(r.data.db.WithContext(ctx), referrerID, since)
	if isMissingTable(err) {
		return 0, nil
	}
	return count, err
}

// CreateBonus 在推荐人行锁内校验频率并插入 pending 奖励
func (r *referralRepo) CreateBonus(ctx context.Context, b *biz.ReferralBonus, limits biz.BonusLimits) (*biz.ReferralBonus, bool, error) {
	var (
		result   *biz.ReferralBonus
		inserted bool
	)
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := ensureUser(tx, b.ReferrerUID); err != nil {
			return err
		}

		existing, err := findBonus(tx, "payment_id = ?", b.PaymentID)
		if err != nil {
			return err
		}
		if existing != nil {
			result = existing
			return nil
		}

		// 反作弊：最近一小时的创建数达到日上限
		hourly, err := countBonusesSince(tx, b.ReferrerUID, limits.HourStart)
		if err != nil {
			return err
		}
		if limits.Daily > 0 && hourly >= limits.Daily {
			return biz.ErrFlaggedForReview
		}
		daily, err := countBonusesSince(tx, b.ReferrerUID, limits.DayStart)
		if err != nil {
			return err
		}
		if limits.Daily > 0 && daily >= limits.Daily {
			return biz.ErrLimitExceeded
		}
		monthly, err := countBonusesSince(tx, b.ReferrerUID, limits.MonthStart)
		if err != nil {
			return err
		}
		if limits.Monthly > 0 && monthly >= limits.Monthly {
			return biz.ErrLimitExceeded
		}

		m := fromBizBonus(b)
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(m)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			existing, err := findBonus(tx, "payment_id = ?", b.PaymentID)
			if err != nil {
				return err
			}
			result = existing
			return nil
		}

		if err := tx.Model(&model.UserBalance{}).
			Where("uid = ?", b.ReferrerUID).
			Update("referral_pending", gorm.Expr("referral_pending + ?", b.HDCreditsAmount)).Error; err != nil {
			return err
		}
		result = toBizBonus(m)
		inserted = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if inserted {
		r.invalidate(ctx, b.ReferrerUID)
	}
	return result, inserted, nil
}

// ListDuePending 到期待转可用的奖励 ID
func (r *referralRepo) ListDuePending(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := r.data.db.WithContext(ctx).Model(&model.ReferralBonus{}).
		Where("status = ? AND available_at <= ?", string(biz.BonusPending), now).
		Order("available_at ASC").
		Limit(limit).
		Pluck("referral_bonus_id", &ids).Error
	if err != nil {
		if isMissingTable(err) {
			r.log.Warnf("referral_bonus table missing, skip bonus promotion")
			return nil, nil
		}
		return nil, err
	}
	return ids, nil
}

// lockBonus 先锁推荐人余额行，再锁奖励行（固定加锁顺序）
func lockBonus(tx *gorm.DB, query string, arg interface{}) (*model.ReferralBonus, *model.UserBalance, error) {
	var peek model.ReferralBonus
	if err := tx.Where(query, arg).First(&peek).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, biz.ErrNotFound
		}
		return nil, nil, err
	}
	ub, err := ensureUser(tx, peek.ReferrerUID)
	if err != nil {
		return nil, nil, err
	}
	var m model.ReferralBonus
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("referral_bonus_id = ?", peek.ReferralBonusID).
		First(&m).Error; err != nil {
		return nil, nil, err
	}
	return &m, ub, nil
}

// PromoteBonus pending -> available，referral_pending 转入 referral_available
func (r *referralRepo) PromoteBonus(ctx context.Context, bonusID string, now time.Time) (*biz.ReferralBonus, bool, error) {
	var promoted *model.ReferralBonus
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, ub, err := lockBonus(tx, "referral_bonus_id = ?", bonusID)
		if err != nil {
			return err
		}
		if m.Status != string(biz.BonusPending) || m.AvailableAt.After(now) {
			return nil
		}
		res := tx.Model(&model.ReferralBonus{}).
			Where("referral_bonus_id = ? AND status = ?", m.ReferralBonusID, string(biz.BonusPending)).
			Update("status", string(biz.BonusAvailable))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := tx.Model(&model.UserBalance{}).
			Where("uid = ?", ub.UID).
			Updates(map[string]interface{}{
				"referral_pending":   max(ub.ReferralPending-m.HDCreditsAmount, 0),
				"referral_available": ub.ReferralAvailable + m.HDCreditsAmount,
			}).Error; err != nil {
			return err
		}
		m.Status = string(biz.BonusAvailable)
		promoted = m
		return nil
	})
	if errors.Is(err, biz.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil || promoted == nil {
		return nil, false, err
	}
	r.invalidate(ctx, promoted.ReferrerUID)
	return toBizBonus(promoted), true, nil
}

// SpendCredits 有欠款或可用额度不足时拒绝
func (r *referralRepo) SpendCredits(ctx context.Context, userID string, amount int64) (bool, error) {
	spent := false
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ub, err := lockUser(tx, userID)
		if err != nil || ub == nil {
			return err
		}
		if ub.ReferralDebt > 0 || ub.ReferralAvailable < amount {
			return nil
		}
		res := tx.Model(&model.UserBalance{}).
			Where("uid = ? AND referral_debt = 0 AND referral_available >= ?", userID, amount).
			Update("referral_available", gorm.Expr("referral_available - ?", amount))
		if res.Error != nil {
			return res.Error
		}
		spent = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	if spent {
		r.invalidate(ctx, userID)
	}
	return spent, nil
}

// MarkSpent available -> spent（只记状态，不移动余额）
func (r *referralRepo) MarkSpent(ctx context.Context, bonusID string, now time.Time) (bool, error) {
	res := r.data.db.WithContext(ctx).Model(&model.ReferralBonus{}).
		Where("referral_bonus_id = ? AND status = ?", bonusID, string(biz.BonusAvailable)).
		Updates(map[string]interface{}{
			"status":   string(biz.BonusSpent),
			"spent_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// RevokeByPayment 按原状态回收额度：pending 扣 pending，available 扣 available（不足部分计欠款），spent 计欠款
func (r *referralRepo) RevokeByPayment(ctx context.Context, paymentID, reason string, now time.Time) (*biz.ReferralBonus, biz.BonusStatus, error) {
	var (
		revoked *model.ReferralBonus
		before  biz.BonusStatus
	)
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, ub, err := lockBonus(tx, "payment_id = ?", paymentID)
		if err != nil {
			return err
		}
		before = biz.BonusStatus(m.Status)
		if !before.CanTransition(biz.BonusRevoked) {
			return biz.ErrInvalidTransition
		}

		res := tx.Model(&model.ReferralBonus{}).
			Where("referral_bonus_id = ? AND status = ?", m.ReferralBonusID, m.Status).
			Updates(map[string]interface{}{
				"status":        string(biz.BonusRevoked),
				"revoked_at":    now,
				"revoke_reason": reason,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return biz.ErrInvalidTransition
		}

		amount := m.HDCreditsAmount
		updates := map[string]interface{}{}
		switch before {
		case biz.BonusPending:
			updates["referral_pending"] = max(ub.ReferralPending-amount, 0)
		case biz.BonusAvailable:
			take := min(ub.ReferralAvailable, amount)
			updates["referral_available"] = ub.ReferralAvailable - take
			if shortfall := amount - take; shortfall > 0 {
				updates["referral_debt"] = ub.ReferralDebt + shortfall
			}
		case biz.BonusSpent:
			updates["referral_debt"] = ub.ReferralDebt + amount
		}
		if err := tx.Model(&model.UserBalance{}).Where("uid = ?", ub.UID).Updates(updates).Error; err != nil {
			return err
		}

		m.Status = string(biz.BonusRevoked)
		m.RevokedAt = &now
		m.RevokeReason = reason
		revoked = m
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	r.invalidate(ctx, revoked.ReferrerUID)
	return toBizBonus(revoked), before, nil
}

// Freeze available -> pending，available_at 推迟，额度退回 pending
// 可用余额不足整笔奖励时返回 ErrInsufficientBalance
func (r *referralRepo) Freeze(ctx context.Context, bonusID string, until time.Time) (bool, error) {
	var frozen *model.ReferralBonus
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, ub, err := lockBonus(tx, "referral_bonus_id = ?", bonusID)
		if err != nil {
			return err
		}
		if m.Status != string(biz.BonusAvailable) {
			return nil
		}
		// 已被部分花掉的奖励不能整笔退回 pending，只能走撤销计欠款
		if ub.ReferralAvailable < m.HDCreditsAmount {
			return biz.ErrInsufficientBalance
		}
		res := tx.Model(&model.ReferralBonus{}).
			Where("referral_bonus_id = ? AND status = ?", m.ReferralBonusID, string(biz.BonusAvailable)).
			Updates(map[string]interface{}{
				"status":       string(biz.BonusPending),
				"available_at": until,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := tx.Model(&model.UserBalance{}).
			Where("uid = ?", ub.UID).
			Updates(map[string]interface{}{
				"referral_available": ub.ReferralAvailable - m.HDCreditsAmount,
				"referral_pending":   ub.ReferralPending + m.HDCreditsAmount,
			}).Error; err != nil {
			return err
		}
		frozen = m
		return nil
	})
	if err != nil || frozen == nil {
		return false, err
	}
	r.invalidate(ctx, frozen.ReferrerUID)
	return true, nil
}

// ClearDebt 清偿欠款，返回剩余欠款
func (r *referralRepo) ClearDebt(ctx context.Context, userID string, amount int64) (int64, error) {
	var remaining int64
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ub, err := lockUser(tx, userID)
		if err != nil {
			return err
		}
		if ub == nil {
			return biz.ErrNotFound
		}
		remaining = max(ub.ReferralDebt-amount, 0)
		return tx.Model(&model.UserBalance{}).
			Where("uid = ?", userID).
			Update("referral_debt", remaining).Error
	})
	if err != nil {
		return 0, err
	}
	r.invalidate(ctx, userID)
	return remaining, nil
}

func (r *referralRepo) ListBonuses(ctx context.Context, referrerID string) ([]*biz.ReferralBonus, error) {
	var rows []*model.ReferralBonus
	if err := r.data.db.WithContext(ctx).
		Where("referrer_uid = ?", referrerID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		if isMissingTable(err) {
			return nil, nil
		}
		return nil, err
	}
	bonuses := make([]*biz.ReferralBonus, 0, len(rows))
	for _, m := range rows {
		bonuses = append(bonuses, toBizBonus(m))
	}
	return bonuses, nil
}

func (r *referralRepo) invalidate(ctx context.Context, userID string) {
	if err := r.data.invalidateBalance(userID); err != nil {
		r.log.WithContext(ctx).Warnf("failed to invalidate balance cache: user_id=%s, error=%v", userID, err)
	}
}

func fromBizBonus(b *biz.ReferralBonus) *model.ReferralBonus {
	return &model.ReferralBonus{
		ReferralBonusID: b.ID,
		ReferrerUID:     b.ReferrerUID,
		ReferralUID:     b.ReferralUID,
		PaymentID:       b.PaymentID,
		PackStars:       b.PackStars,
		HDCreditsAmount: b.HDCreditsAmount,
		Status:          string(b.Status),
		CreatedAt:       b.CreatedAt,
		AvailableAt:     b.AvailableAt,
		SpentAt:         b.SpentAt,
		RevokedAt:       b.RevokedAt,
		RevokeReason:    b.RevokeReason,
	}
}

func toBizBonus(m *model.ReferralBonus) *biz.ReferralBonus {
	return &biz.ReferralBonus{
		ID:              m.ReferralBonusID,
		ReferrerUID:     m.ReferrerUID,
		ReferralUID:     m.ReferralUID,
		PaymentID:       m.PaymentID,
		PackStars:       m.PackStars,
		HDCreditsAmount: m.HDCreditsAmount,
		Status:          biz.BonusStatus(m.Status),
		CreatedAt:       m.CreatedAt,
		AvailableAt:     m.AvailableAt,
		SpentAt:         m.SpentAt,
		RevokedAt:       m.RevokedAt,
		RevokeReason:    m.RevokeReason,
	}
}
