package service

import (
	"context"
	"time"

	"credit-service/internal/biz"
	creditErrors "credit-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

type CreateSessionRequest struct {
	UserID string `json:"user_id"`
	PackID string `json:"pack_id"`
}

type SessionRequest struct {
	SessionID string `json:"session_id"`
}

type UpgradeSessionRequest struct {
	SessionID   string `json:"session_id"`
	NewPackID   string `json:"new_pack_id"`
	CreditStars int64  `json:"credit_stars"`
}

type SessionReply struct {
	SessionID             string    `json:"session_id"`
	UserID                string    `json:"user_id"`
	PackID                string    `json:"pack_id"`
	Status                string    `json:"status"`
	TakesLimit            int32     `json:"takes_limit"`
	TakesUsed             int32     `json:"takes_used"`
	HDLimit               int32     `json:"hd_limit"`
	HDUsed                int32     `json:"hd_used"`
	UpgradedFromSessionID string    `json:"upgraded_from_session_id,omitempty"`
	TotalSteps            int32     `json:"total_steps"`
	CurrentStep           int32     `json:"current_step"`
	LastActivityAt        time.Time `json:"last_activity_at"`
}

type QuotaReply struct {
	Allowed bool `json:"allowed"`
}

type TakeReply struct {
	TakeID    string    `json:"take_id"`
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

type ListTakesReply struct {
	Takes []*TakeReply `json:"takes"`
}

// SessionService 会话额度服务
type SessionService struct {
	uc  *biz.QuotaUseCase
	log *log.Helper
}

// NewSessionService 创建 SessionService
func NewSessionService(uc *biz.QuotaUseCase, logger log.Logger) *SessionService {
	return &SessionService{
		uc:  uc,
		log: log.NewHelper(logger),
	}
}

func (s *SessionService) CreateSession(ctx context.Context, req *CreateSessionRequest) (*SessionReply, error) {
	sess, err := s.uc.CreateSession(ctx, req.UserID, req.PackID)
	if err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeSessionCreateFailed)
	}
	return toSessionReply(sess), nil
}

func (s *SessionService) GetSession(ctx context.Context, req *SessionRequest) (*SessionReply, error) {
	sess, err := s.uc.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeSessionGetFailed)
	}
	return toSessionReply(sess), nil
}

// Consume 占用生成额度
func (s *SessionService) Consume(ctx context.Context, req *SessionRequest) (*QuotaReply, error) {
	ok, err := s.uc.Consume(ctx, req.SessionID)
	if err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeQuotaUpdateFailed)
	}
	return &QuotaReply{Allowed: ok}, nil
}

// Return 归还生成额度
func (s *SessionService) Return(ctx context.Context, req *SessionRequest) (*QuotaReply, error) {
	if err := s.uc.Return(ctx, req.SessionID); err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeQuotaUpdateFailed)
	}
	return &QuotaReply{Allowed: true}, nil
}

func (s *SessionService) ConsumeHD(ctx context.Context, req *SessionRequest) (*QuotaReply, error) {
	ok, err := s.uc.ConsumeHD(ctx, req.SessionID)
	if err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeQuotaUpdateFailed)
	}
	return &QuotaReply{Allowed: ok}, nil
}

func (s *SessionService) ReturnHD(ctx context.Context, req *SessionRequest) (*QuotaReply, error) {
	if err := s.uc.ReturnHD(ctx, req.SessionID); err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeQuotaUpdateFailed)
	}
	return &QuotaReply{Allowed: true}, nil
}

// Upgrade 升级套餐
func (s *SessionService) Upgrade(ctx context.Context, req *UpgradeSessionRequest) (*SessionReply, error) {
	sess, err := s.uc.Upgrade(ctx, req.SessionID, req.NewPackID, req.CreditStars)
	if err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeSessionUpgradeFailed)
	}
	return toSessionReply(sess), nil
}

func (s *SessionService) RecordTake(ctx context.Context, req *SessionRequest) (*TakeReply, error) {
	take, err := s.uc.RecordTake(ctx, req.SessionID)
	if err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeQuotaUpdateFailed)
	}
	return &TakeReply{TakeID: take.ID, SessionID: take.SessionID, CreatedAt: take.CreatedAt}, nil
}

func (s *SessionService) ListTakes(ctx context.Context, req *SessionRequest) (*ListTakesReply, error) {
	takes, err := s.uc.ListTakes(ctx, req.SessionID)
	if err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeSessionGetFailed)
	}
	reply := &ListTakesReply{Takes: make([]*TakeReply, 0, len(takes))}
	for _, t := range takes {
		reply.Takes = append(reply.Takes, &TakeReply{TakeID: t.ID, SessionID: t.SessionID, CreatedAt: t.CreatedAt})
	}
	return reply, nil
}

// AdvanceStep 合集前进一步
func (s *SessionService) AdvanceStep(ctx context.Context, req *SessionRequest) (*QuotaReply, error) {
	ok, err := s.uc.AdvanceStep(ctx, req.SessionID)
	if err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeQuotaUpdateFailed)
	}
	return &QuotaReply{Allowed: ok}, nil
}

func (s *SessionService) Complete(ctx context.Context, req *SessionRequest) (*QuotaReply, error) {
	if err := s.uc.Complete(ctx, req.SessionID); err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeQuotaUpdateFailed)
	}
	return &QuotaReply{Allowed: true}, nil
}

// Abandon 用户主动放弃合集
func (s *SessionService) Abandon(ctx context.Context, req *SessionRequest) (*QuotaReply, error) {
	if err := s.uc.Abandon(ctx, req.SessionID); err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeQuotaUpdateFailed)
	}
	return &QuotaReply{Allowed: true}, nil
}

func toSessionReply(s *biz.Session) *SessionReply {
	return &SessionReply{
		SessionID:             s.ID,
		UserID:                s.UID,
		PackID:                s.PackID,
		Status:                string(s.Status),
		TakesLimit:            s.TakesLimit,
		TakesUsed:             s.TakesUsed,
		HDLimit:               s.HDLimit,
		HDUsed:                s.HDUsed,
		UpgradedFromSessionID: s.UpgradedFromSessionID,
		TotalSteps:            s.TotalSteps,
		CurrentStep:           s.CurrentStep,
		LastActivityAt:        s.LastActivityAt,
	}
}
