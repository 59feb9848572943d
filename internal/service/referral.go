package service

import (
	"context"
	"time"

	"credit-service/internal/biz"
	creditErrors "credit-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

type CreateBonusRequest struct {
	ReferrerID string `json:"referrer_id"`
	ReferralID string `json:"referral_id"`
	PaymentID  string `json:"payment_id"`
	ProductID  string `json:"product_id"`
	Amount     int64  `json:"amount"` // Stars
}

type BonusReply struct {
	BonusID         string     `json:"bonus_id"`
	ReferrerID      string     `json:"referrer_id"`
	ReferralID      string     `json:"referral_id"`
	PaymentID       string     `json:"payment_id"`
	PackStars       int64      `json:"pack_stars"`
	HDCreditsAmount int64      `json:"hd_credits_amount"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	AvailableAt     time.Time  `json:"available_at"`
	SpentAt         *time.Time `json:"spent_at,omitempty"`
	RevokedAt       *time.Time `json:"revoked_at,omitempty"`
	RevokeReason    string     `json:"revoke_reason,omitempty"`
}

type CreateBonusReply struct {
	Qualified bool        `json:"qualified"`
	Bonus     *BonusReply `json:"bonus,omitempty"`
}

type BonusRequest struct {
	BonusID string `json:"bonus_id"`
}

type RevokeBonusRequest struct {
	PaymentID string `json:"payment_id"`
	Reason    string `json:"reason"`
}

type SpendCreditsRequest struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
}

type ClearDebtRequest struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
}

type ClearDebtReply struct {
	RemainingDebt int64 `json:"remaining_debt"`
}

type ListBonusesRequest struct {
	ReferrerID string `json:"referrer_id"`
}

type ListBonusesReply struct {
	Bonuses []*BonusReply `json:"bonuses"`
}

type AnomalyReply struct {
	Flagged bool `json:"flagged"`
}

// ReferralService 推荐奖励服务
type ReferralService struct {
	uc  *biz.ReferralUseCase
	log *log.Helper
}

// NewReferralService 创建 ReferralService
func NewReferralService(uc *biz.ReferralUseCase, logger log.Logger) *ReferralService {
	return &ReferralService{
		uc:  uc,
		log: log.NewHelper(logger),
	}
}

// CreateBonus 合格购买后创建奖励
func (s *ReferralService) CreateBonus(ctx context.Context, req *CreateBonusRequest) (*CreateBonusReply, error) {
	b, err := s.uc.CreateBonus(ctx, req.ReferrerID, req.ReferralID, &biz.Payment{
		ID:        req.PaymentID,
		ProductID: req.ProductID,
		Amount:    req.Amount,
	})
	if err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeBonusCreateFailed)
	}
	if b == nil {
		return &CreateBonusReply{Qualified: false}, nil
	}
	return &CreateBonusReply{Qualified: true, Bonus: toBonusReply(b)}, nil
}

func (s *ReferralService) GetBonus(ctx context.Context, req *BonusRequest) (*BonusReply, error) {
	b, err := s.uc.GetBonus(ctx, req.BonusID)
	if err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeBonusUpdateFailed)
	}
	return toBonusReply(b), nil
}

func (s *ReferralService) ListBonuses(ctx context.Context, req *ListBonusesRequest) (*ListBonusesReply, error) {
	bonuses, err := s.uc.ListBonuses(ctx, req.ReferrerID)
	if err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeBonusUpdateFailed)
	}
	reply := &ListBonusesReply{Bonuses: make([]*BonusReply, 0, len(bonuses))}
	for _, b := range bonuses {
		reply.Bonuses = append(reply.Bonuses, toBonusReply(b))
	}
	return reply, nil
}

func (s *ReferralService) SpendCredits(ctx context.Context, req *SpendCreditsRequest) (*ApplyReply, error) {
	ok, err := s.uc.SpendCredits(ctx, req.UserID, req.Amount)
	if err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeReferralSpendFailed)
	}
	return &ApplyReply{Applied: ok}, nil
}

func (s *ReferralService) MarkSpent(ctx context.Context, req *BonusRequest) (*ApplyReply, error) {
	ok, err := s.uc.MarkSpent(ctx, req.BonusID)
	if err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeBonusUpdateFailed)
	}
	return &ApplyReply{Applied: ok}, nil
}

// RevokeBonus 退款撤销
func (s *ReferralService) RevokeBonus(ctx context.Context, req *RevokeBonusRequest) (*ApplyReply, error) {
	ok, err := s.uc.RevokeBonusByPayment(ctx, req.PaymentID, req.Reason)
	if err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeBonusUpdateFailed)
	}
	return &ApplyReply{Applied: ok}, nil
}

// FreezeBonus 人工冻结
func (s *ReferralService) FreezeBonus(ctx context.Context, req *BonusRequest) (*ApplyReply, error) {
	ok, err := s.uc.FreezeBonus(ctx, req.BonusID)
	if err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeBonusUpdateFailed)
	}
	return &ApplyReply{Applied: ok}, nil
}

func (s *ReferralService) CheckAnomaly(ctx context.Context, req *ListBonusesRequest) (*AnomalyReply, error) {
	flagged, err := s.uc.CheckAnomaly(ctx, req.ReferrerID)
	if err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeBonusUpdateFailed)
	}
	return &AnomalyReply{Flagged: flagged}, nil
}

// ClearDebt 运维清偿欠款
func (s *ReferralService) ClearDebt(ctx context.Context, req *ClearDebtRequest) (*ClearDebtReply, error) {
	remaining, err := s.uc.ClearDebt(ctx, req.UserID, req.Amount)
	if err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeBonusUpdateFailed)
	}
	return &ClearDebtReply{RemainingDebt: remaining}, nil
}

func toBonusReply(b *biz.ReferralBonus) *BonusReply {
	return &BonusReply{
		BonusID:         b.ID,
		ReferrerID:      b.ReferrerUID,
		ReferralID:      b.ReferralUID,
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
