package biz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"credit-service/internal/constants"
	"credit-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// Payment 支付方传入的合格购买信息
type Payment struct {
	ID        string
	ProductID string
	Amount    int64 // Stars
}

// ReferralBonus 推荐奖励
type ReferralBonus struct {
	ID              string
	ReferrerUID     string
	ReferralUID     string
	PaymentID       string
	PackStars       int64
	HDCreditsAmount int64
	Status          BonusStatus
	CreatedAt       time.Time
	AvailableAt     time.Time
	SpentAt         *time.Time
	RevokedAt       *time.Time
	RevokeReason    string
}

// BonusLimits 创建奖励时在推荐人行锁内校验的频率限制
type BonusLimits struct {
	Daily      int64
	Monthly    int64
	HourStart  time.Time
	DayStart   time.Time
	MonthStart time.Time
}

// Notifier 对外通知接口，通知失败不回滚状态
type Notifier interface {
	Notify(ctx context.Context, userID, message string) error
}

// ReferralRepo 推荐奖励数据层接口（定义在 biz 层）
type ReferralRepo interface {
	GetBonus(ctx context.Context, bonusID string) (*ReferralBonus, error)
	GetBonusByPaymentID(ctx context.Context, paymentID string) (*ReferralBonus, error)
	CountBonusesSince(ctx context.Context, referrerID string, since time.Time) (int64, error)
	// CreateBonus 插入 pending 奖励并累加 referral_pending；payment_id 已存在时返回已有记录
	CreateBonus(ctx context.Context, b *ReferralBonus, limits BonusLimits) (*ReferralBonus, bool, error)
	ListDuePending(ctx context.Context, now time.Time, limit int) ([]string, error)
	PromoteBonus(ctx context.Context, bonusID string, now time.Time) (*ReferralBonus, bool, error)
	SpendCredits(ctx context.Context, userID string, amount int64) (bool, error)
	MarkSpent(ctx context.Context, bonusID string, now time.Time) (bool, error)
	// RevokeByPayment 返回撤销前的状态
	RevokeByPayment(ctx context.Context, paymentID, reason string, now time.Time) (*ReferralBonus, BonusStatus, error)
	Freeze(ctx context.Context, bonusID string, until time.Time) (bool, error)
	ClearDebt(ctx context.Context, userID string, amount int64) (int64, error)
	ListBonuses(ctx context.Context, referrerID string) ([]*ReferralBonus, error)
}

// ReferralUseCase 推荐奖励状态机
type ReferralUseCase struct {
	repo     ReferralRepo
	notifier Notifier
	conf     *LedgerConfig
	log      *log.Helper
	metrics  *metrics.LedgerMetrics
	now      func() time.Time
}

// NewReferralUseCase 创建推荐奖励 UseCase
func NewReferralUseCase(repo ReferralRepo, notifier Notifier, conf *LedgerConfig, logger log.Logger) *ReferralUseCase {
	return &ReferralUseCase{
		repo:     repo,
		notifier: notifier,
		conf:     conf,
		log:      log.NewHelper(logger),
		metrics:  metrics.GetMetrics(),
		now:      time.Now,
	}
}

// CalcBonus 按阶梯计算奖励
func (uc *ReferralUseCase) CalcBonus(stars int64) int64 {
	return uc.conf.Referral.CalcBonus(stars)
}

// Qualifies 单张解锁和低于门槛的支付不产生奖励
func (uc *ReferralUseCase) Qualifies(payment *Payment) bool {
	if payment == nil || payment.ID == "" {
		return false
	}
	if payment.ProductID == constants.ProductIDUnlock {
		return false
	}
	return payment.Amount >= uc.conf.Referral.MinQualifyingStars && uc.CalcBonus(payment.Amount) > 0
}

// CreateBonus 合格购买后为推荐人创建 pending 奖励
// 不合格返回 (nil, nil)；超限返回 ErrLimitExceeded；反作弊命中返回 ErrFlaggedForReview
func (uc *ReferralUseCase) CreateBonus(ctx context.Context, referrerID, referralID string, payment *Payment) (*ReferralBonus, error) {
	if referrerID == "" || referralID == "" || referrerID == referralID || !uc.Qualifies(payment) {
		uc.reject("not_qualified")
		return nil, nil
	}

	// 幂等：同一支付只产生一次奖励
	existing, err := uc.repo.GetBonusByPaymentID(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		uc.log.Infof("Bonus already created: payment_id=%s, bonus_id=%s", payment.ID, existing.ID)
		return existing, nil
	}

	now := uc.now()
	amount := uc.CalcBonus(payment.Amount)
	bonus := &ReferralBonus{
		ID:              uuid.New().String(),
		ReferrerUID:     referrerID,
		ReferralUID:     referralID,
		PaymentID:       payment.ID,
		PackStars:       payment.Amount,
		HDCreditsAmount: amount,
		Status:          BonusPending,
		CreatedAt:       now,
		AvailableAt:     now.Add(uc.conf.Referral.Hold),
	}
	created, inserted, err := uc.repo.CreateBonus(ctx, bonus, uc.limits(now))
	if err != nil {
		switch {
		case errors.Is(err, ErrFlaggedForReview):
			uc.reject("flagged")
			uc.log.Warnw(
				"event", "referral_flagged_for_review",
				"referrer_id", referrerID,
				"referral_id", referralID,
				"payment_id", payment.ID,
			)
		case errors.Is(err, ErrLimitExceeded):
			uc.reject("limit")
			uc.log.Infof("Bonus limit exceeded: referrer_id=%s, payment_id=%s", referrerID, payment.ID)
		default:
			uc.log.Errorf("CreateBonus failed: referrer_id=%s, payment_id=%s, error=%v", referrerID, payment.ID, err)
		}
		return nil, err
	}
	if inserted {
		uc.transitioned("", BonusPending)
		uc.log.Infow(
			"event", "referral_bonus_created",
			"bonus_id", created.ID,
			"referrer_id", referrerID,
			"referral_id", referralID,
			"payment_id", payment.ID,
			"pack_stars", payment.Amount,
			"amount", amount,
			"available_at", created.AvailableAt,
		)
	}
	return created, nil
}

// CheckAnomaly 最近一小时创建数达到日上限视为异常
func (uc *ReferralUseCase) CheckAnomaly(ctx context.Context, referrerID string) (bool, error) {
	count, err := uc.repo.CountBonusesSince(ctx, referrerID, uc.now().Add(-time.Hour))
	if err != nil {
		return false, err
	}
	return count >= uc.conf.Referral.DailyLimit, nil
}

// ProcessPending 将到期的 pending 奖励转为 available，每条独立提交
func (uc *ReferralUseCase) ProcessPending(ctx context.Context) (int, error) {
	now := uc.now()
	ids, err := uc.repo.ListDuePending(ctx, now, uc.conf.Referral.BatchSize)
	if err != nil {
		return 0, err
	}
	promoted := 0
	for _, id := range ids {
		bonus, ok, err := uc.repo.PromoteBonus(ctx, id, now)
		if err != nil {
			uc.log.Errorf("PromoteBonus failed: bonus_id=%s, error=%v", id, err)
			continue
		}
		if !ok {
			continue
		}
		promoted++
		uc.transitioned(BonusPending, BonusAvailable)
		uc.log.Infow(
			"event", "referral_bonus_available",
			"bonus_id", bonus.ID,
			"referrer_id", bonus.ReferrerUID,
			"amount", bonus.HDCreditsAmount,
			"status_before", BonusPending,
			"status_after", BonusAvailable,
		)
		uc.notify(ctx, bonus.ReferrerUID, fmt.Sprintf("Your referral bonus of %d HD credits is now available", bonus.HDCreditsAmount))
	}
	return promoted, nil
}

// SpendCredits 花费推荐额度；存在欠款时一律拒绝
func (uc *ReferralUseCase) SpendCredits(ctx context.Context, userID string, amount int64) (bool, error) {
	if userID == "" || amount <= 0 {
		return false, ErrInvalidArgument
	}
	ok, err := uc.repo.SpendCredits(ctx, userID, amount)
	if err != nil {
		return false, err
	}
	uc.log.Infof("SpendCredits: user_id=%s, amount=%d, applied=%v", userID, amount, ok)
	return ok, nil
}

// MarkSpent 记账：available -> spent，不移动余额
func (uc *ReferralUseCase) MarkSpent(ctx context.Context, bonusID string) (bool, error) {
	ok, err := uc.repo.MarkSpent(ctx, bonusID, uc.now())
	if err != nil {
		return false, err
	}
	if ok {
		uc.transitioned(BonusAvailable, BonusSpent)
	}
	return ok, nil
}

// RevokeBonusByPayment 退款撤销奖励；已花费的奖励记为欠款
func (uc *ReferralUseCase) RevokeBonusByPayment(ctx context.Context, paymentID, reason string) (bool, error) {
	if paymentID == "" {
		return false, ErrInvalidArgument
	}
	if reason == "" {
		reason = constants.RevokeReasonRefund
	}
	bonus, before, err := uc.repo.RevokeByPayment(ctx, paymentID, reason, uc.now())
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition) {
			uc.log.Infof("RevokeBonusByPayment skipped: payment_id=%s, reason=%v", paymentID, err)
			return false, nil
		}
		return false, err
	}
	uc.transitioned(before, BonusRevoked)
	if before == BonusSpent && uc.metrics != nil {
		uc.metrics.ReferralDebtTotal.Add(float64(bonus.HDCreditsAmount))
	}
	uc.log.Infow(
		"event", "referral_bonus_revoked",
		"bonus_id", bonus.ID,
		"referrer_id", bonus.ReferrerUID,
		"payment_id", paymentID,
		"amount", bonus.HDCreditsAmount,
		"status_before", before,
		"status_after", BonusRevoked,
		"reason", reason,
		"debt_recorded", before == BonusSpent,
	)
	return true, nil
}

// FreezeBonus 人工审核：available -> pending，并将 available_at 推到远期
func (uc *ReferralUseCase) FreezeBonus(ctx context.Context, bonusID string) (bool, error) {
	ok, err := uc.repo.Freeze(ctx, bonusID, uc.now().Add(constants.FrozenHoldDuration))
	if err != nil {
		return false, err
	}
	if ok {
		uc.transitioned(BonusAvailable, BonusPending)
		uc.log.Warnw("event", "referral_bonus_frozen", "bonus_id", bonusID)
	}
	return ok, nil
}

// ClearDebt 运维清偿欠款，返回剩余欠款
func (uc *ReferralUseCase) ClearDebt(ctx context.Context, userID string, amount int64) (int64, error) {
	if userID == "" || amount <= 0 {
		return 0, ErrInvalidArgument
	}
	remaining, err := uc.repo.ClearDebt(ctx, userID, amount)
	if err != nil {
		return 0, err
	}
	uc.log.Infow("event", "referral_debt_cleared", "user_id", userID, "amount", amount, "remaining", remaining)
	return remaining, nil
}

// GetBonus 获取奖励
func (uc *ReferralUseCase) GetBonus(ctx context.Context, bonusID string) (*ReferralBonus, error) {
	b, err := uc.repo.GetBonus(ctx, bonusID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrNotFound
	}
	return b, nil
}

// ListBonuses 推荐人的奖励列表
func (uc *ReferralUseCase) ListBonuses(ctx context.Context, referrerID string) ([]*ReferralBonus, error) {
	return uc.repo.ListBonuses(ctx, referrerID)
}

func (uc *ReferralUseCase) limits(now time.Time) BonusLimits {
	return BonusLimits{
		Daily:      uc.conf.Referral.DailyLimit,
		Monthly:    uc.conf.Referral.MonthlyLimit,
		HourStart:  now.Add(-time.Hour),
		DayStart:   time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()),
		MonthStart: time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()),
	}
}

func (uc *ReferralUseCase) notify(ctx context.Context, userID, message string) {
	if uc.notifier == nil {
		return
	}
	if err := uc.notifier.Notify(ctx, userID, message); err != nil {
		if uc.metrics != nil {
			uc.metrics.NotifyFailedTotal.Inc()
		}
		uc.log.Warnf("Notify failed: user_id=%s, error=%v", userID, err)
	}
}

func (uc *ReferralUseCase) transitioned(from, to BonusStatus) {
	if uc.metrics != nil {
		uc.metrics.BonusTransitionTotal.WithLabelValues(string(from), string(to)).Inc()
	}
}

func (uc *ReferralUseCase) reject(reason string) {
	if uc.metrics != nil {
		uc.metrics.BonusRejectedTotal.WithLabelValues(reason).Inc()
	}
}
