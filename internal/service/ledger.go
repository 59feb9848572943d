package service

import (
	"context"
	"time"

	"credit-service/internal/biz"
	creditErrors "credit-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

type HoldRequest struct {
	UserID string `json:"user_id"`
	JobID  string `json:"job_id"`
	Amount int64  `json:"amount"`
}

type HoldReply struct {
	Success bool   `json:"success"`
	Result  string `json:"result"` // applied/noop/bypassed
}

type SettleRequest struct {
	UserID string `json:"user_id"`
	JobID  string `json:"job_id"`
	Amount int64  `json:"amount"`
}

type SettleReply struct {
	Success bool `json:"success"`
}

type GetBalanceRequest struct {
	UserID string `json:"user_id"`
}

type BalanceReply struct {
	UserID            string    `json:"user_id"`
	Role              string    `json:"role"`
	CreditBalance     int64     `json:"credit_balance"`
	HDPaidBalance     int64     `json:"hd_paid_balance"`
	HDPromoBalance    int64     `json:"hd_promo_balance"`
	ReferralPending   int64     `json:"referral_pending"`
	ReferralAvailable int64     `json:"referral_available"`
	ReferralDebt      int64     `json:"referral_debt"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type ListEntriesRequest struct {
	UserID string `json:"user_id"`
	JobID  string `json:"job_id"`
}

type LedgerEntry struct {
	ID        int64     `json:"id"`
	JobID     string    `json:"job_id"`
	Operation string    `json:"operation"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

type ListEntriesReply struct {
	Entries []*LedgerEntry `json:"entries"`
}

type CreditTokensRequest struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
}

type GrantHDRequest struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
	Promo  bool   `json:"promo"`
}

type SpendHDRequest struct {
	UserID string `json:"user_id"`
}

type SpendHDReply struct {
	Bucket string `json:"bucket"`
}

type SetRoleRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// LedgerService 账本服务（面向生成调度与支付方）
type LedgerService struct {
	uc  *biz.LedgerUseCase
	log *log.Helper
}

// NewLedgerService 创建 LedgerService
func NewLedgerService(uc *biz.LedgerUseCase, logger log.Logger) *LedgerService {
	return &LedgerService{
		uc:  uc,
		log: log.NewHelper(logger),
	}
}

// Hold 任务准入预扣
func (s *LedgerService) Hold(ctx context.Context, req *HoldRequest) (*HoldReply, error) {
	outcome, err := s.uc.Hold(ctx, req.UserID, req.JobID, req.Amount)
	if err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeLedgerHoldFailed)
	}
	return &HoldReply{Success: true, Result: outcome.String()}, nil
}

// Capture 任务成功
func (s *LedgerService) Capture(ctx context.Context, req *SettleRequest) (*SettleReply, error) {
	if err := s.uc.Capture(ctx, req.UserID, req.JobID, req.Amount); err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeLedgerSettleFailed)
	}
	return &SettleReply{Success: true}, nil
}

// Release 任务失败
func (s *LedgerService) Release(ctx context.Context, req *SettleRequest) (*SettleReply, error) {
	if err := s.uc.Release(ctx, req.UserID, req.JobID, req.Amount); err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeLedgerSettleFailed)
	}
	return &SettleReply{Success: true}, nil
}

// GetBalance 查询余额
func (s *LedgerService) GetBalance(ctx context.Context, req *GetBalanceRequest) (*BalanceReply, error) {
	b, err := s.uc.GetBalance(ctx, req.UserID)
	if err != nil {
		s.log.Errorf("GetBalance failed: %v", err)
		return nil, wrapError(ctx, err, creditErrors.ErrCodeBalanceGetFailed)
	}
	return &BalanceReply{
		UserID:            b.UID,
		Role:              b.Role,
		CreditBalance:     b.CreditBalance,
		HDPaidBalance:     b.HDPaidBalance,
		HDPromoBalance:    b.HDPromoBalance,
		ReferralPending:   b.ReferralPending,
		ReferralAvailable: b.ReferralAvailable,
		ReferralDebt:      b.ReferralDebt,
		UpdatedAt:         b.UpdatedAt,
	}, nil
}

// ListEntries 查询流水
func (s *LedgerService) ListEntries(ctx context.Context, req *ListEntriesRequest) (*ListEntriesReply, error) {
	entries, err := s.uc.ListEntries(ctx, req.UserID, req.JobID)
	if err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeLedgerListFailed)
	}
	reply := &ListEntriesReply{Entries: make([]*LedgerEntry, 0, len(entries))}
	for _, e := range entries {
		reply.Entries = append(reply.Entries, &LedgerEntry{
			ID:        e.ID,
			JobID:     e.JobID,
			Operation: e.Operation,
			Amount:    e.Amount,
			CreatedAt: e.CreatedAt,
		})
	}
	return reply, nil
}

// CreditTokens 支付成功充值
func (s *LedgerService) CreditTokens(ctx context.Context, req *CreditTokensRequest) (*SettleReply, error) {
	if err := s.uc.CreditTokens(ctx, req.UserID, req.Amount); err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeBalanceUpdateFailed)
	}
	return &SettleReply{Success: true}, nil
}

// GrantHD 发放 HD 额度
func (s *LedgerService) GrantHD(ctx context.Context, req *GrantHDRequest) (*SettleReply, error) {
	if err := s.uc.GrantHD(ctx, req.UserID, req.Amount, req.Promo); err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeBalanceUpdateFailed)
	}
	return &SettleReply{Success: true}, nil
}

// SpendHD 消费 HD 额度
func (s *LedgerService) SpendHD(ctx context.Context, req *SpendHDRequest) (*SpendHDReply, error) {
	bucket, err := s.uc.SpendHD(ctx, req.UserID)
	if err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeBalanceUpdateFailed)
	}
	return &SpendHDReply{Bucket: bucket}, nil
}

// SetRole 设置角色
func (s *LedgerService) SetRole(ctx context.Context, req *SetRoleRequest) (*SettleReply, error) {
	if err := s.uc.SetRole(ctx, req.UserID, req.Role); err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeBalanceUpdateFailed)
	}
	return &SettleReply{Success: true}, nil
}
