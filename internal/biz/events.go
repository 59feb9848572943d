package biz

import (
	"context"
	"errors"

	"credit-service/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
)

// LedgerEvent 异步生命周期事件（RocketMQ 消息体）
type LedgerEvent struct {
	Type          string `json:"type"`
	UserID        string `json:"user_id"`
	JobID         string `json:"job_id,omitempty"`
	Amount        int64  `json:"amount,omitempty"`
	FavoriteID    string `json:"favorite_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	ReferrerID    string `json:"referrer_id,omitempty"`
	PaymentID     string `json:"payment_id,omitempty"`
	ProductID     string `json:"product_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// EventUseCase 将生命周期事件分发到对应的账本操作
// 所有操作本身幂等，消息重投不会重复记账
type EventUseCase struct {
	ledger   *LedgerUseCase
	favorite *FavoriteUseCase
	referral *ReferralUseCase
	log      *log.Helper
}

// NewEventUseCase 创建事件分发 UseCase
func NewEventUseCase(ledger *LedgerUseCase, favorite *FavoriteUseCase, referral *ReferralUseCase, logger log.Logger) *EventUseCase {
	return &EventUseCase{
		ledger:   ledger,
		favorite: favorite,
		referral: referral,
		log:      log.NewHelper(logger),
	}
}

// Handle 处理单个事件
// 返回 error 表示需要重试；业务拒绝（余额不足、超限等）直接确认消费
func (uc *EventUseCase) Handle(ctx context.Context, e *LedgerEvent) error {
	var err error
	switch e.Type {
	case constants.EventJobSucceeded:
		err = uc.ledger.Capture(ctx, e.UserID, e.JobID, e.Amount)
	case constants.EventJobFailed:
		err = uc.ledger.Release(ctx, e.UserID, e.JobID, e.Amount)
	case constants.EventHDFailed:
		_, err = uc.favorite.AutoCompensateOnFail(ctx, e.FavoriteID, e.CorrelationID)
	case constants.EventPaymentRefunded:
		_, err = uc.referral.RevokeBonusByPayment(ctx, e.PaymentID, e.Reason)
	case constants.EventPaymentSucceeded:
		if e.ReferrerID == "" {
			return nil
		}
		_, err = uc.referral.CreateBonus(ctx, e.ReferrerID, e.UserID, &Payment{
			ID:        e.PaymentID,
			ProductID: e.ProductID,
			Amount:    e.Amount,
		})
	default:
		uc.log.Warnf("Unknown event type: %s", e.Type)
		return nil
	}
	if IsRejection(err) {
		uc.log.Infof("Event rejected: type=%s, user_id=%s, error=%v", e.Type, e.UserID, err)
		return nil
	}
	return err
}

// IsRejection 业务拒绝类错误，重试不会改变结果
func IsRejection(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range []error{ErrInsufficientBalance, ErrLimitExceeded, ErrFlaggedForReview, ErrInvalidArgument, ErrInvalidTransition, ErrNotFound} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
