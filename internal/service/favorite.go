package service

import (
	"context"
	"time"

	"credit-service/internal/biz"
	creditErrors "credit-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

type CreateFavoriteRequest struct {
	SessionID string `json:"session_id"`
	TakeID    string `json:"take_id"`
	Variant   string `json:"variant"`
}

type FavoriteRequest struct {
	FavoriteID    string `json:"favorite_id"`
	ArtifactRef   string `json:"artifact_ref,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type FavoriteReply struct {
	FavoriteID    string     `json:"favorite_id"`
	UserID        string     `json:"user_id"`
	SessionID     string     `json:"session_id"`
	TakeID        string     `json:"take_id"`
	Variant       string     `json:"variant"`
	HDStatus      string     `json:"hd_status"`
	ArtifactRef   string     `json:"artifact_ref,omitempty"`
	CompensatedAt *time.Time `json:"compensated_at,omitempty"`
}

type ApplyReply struct {
	Applied bool `json:"applied"`
}

type ReportProblemRequest struct {
	UserID        string `json:"user_id"`
	FavoriteID    string `json:"favorite_id"`
	CorrelationID string `json:"correlation_id"`
}

type CompensationReply struct {
	ID            string    `json:"id"`
	FavoriteID    string    `json:"favorite_id"`
	SessionID     string    `json:"session_id"`
	Reason        string    `json:"reason"`
	CompType      string    `json:"comp_type"`
	Amount        int64     `json:"amount"`
	CorrelationID string    `json:"correlation_id"`
	CreatedAt     time.Time `json:"created_at"`
}

type ListCompensationsRequest struct {
	UserID string `json:"user_id"`
}

type ListCompensationsReply struct {
	Compensations []*CompensationReply `json:"compensations"`
}

// FavoriteService 收藏权益与补偿服务
type FavoriteService struct {
	uc  *biz.FavoriteUseCase
	log *log.Helper
}

// NewFavoriteService 创建 FavoriteService
func NewFavoriteService(uc *biz.FavoriteUseCase, logger log.Logger) *FavoriteService {
	return &FavoriteService{
		uc:  uc,
		log: log.NewHelper(logger),
	}
}

func (s *FavoriteService) CreateFavorite(ctx context.Context, req *CreateFavoriteRequest) (*FavoriteReply, error) {
	f, err := s.uc.CreateFavorite(ctx, req.SessionID, req.TakeID, req.Variant)
	if err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeFavoriteCreateFailed)
	}
	return toFavoriteReply(f), nil
}

func (s *FavoriteService) GetFavorite(ctx context.Context, req *FavoriteRequest) (*FavoriteReply, error) {
	f, err := s.uc.GetFavorite(ctx, req.FavoriteID)
	if err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeFavoriteUpdateFailed)
	}
	return toFavoriteReply(f), nil
}

func (s *FavoriteService) MarkRendering(ctx context.Context, req *FavoriteRequest) (*ApplyReply, error) {
	ok, err := s.uc.MarkRendering(ctx, req.FavoriteID)
	if err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeFavoriteUpdateFailed)
	}
	return &ApplyReply{Applied: ok}, nil
}

func (s *FavoriteService) MarkDelivered(ctx context.Context, req *FavoriteRequest) (*ApplyReply, error) {
	ok, err := s.uc.MarkDelivered(ctx, req.FavoriteID, req.ArtifactRef)
	if err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeFavoriteUpdateFailed)
	}
	return &ApplyReply{Applied: ok}, nil
}

func (s *FavoriteService) ResetOnFailure(ctx context.Context, req *FavoriteRequest) (*ApplyReply, error) {
	if err := s.uc.ResetOnFailure(ctx, req.FavoriteID); err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeFavoriteUpdateFailed)
	}
	return &ApplyReply{Applied: true}, nil
}

// CheckSLA 超过 SLA 时补偿
func (s *FavoriteService) CheckSLA(ctx context.Context, req *FavoriteRequest) (*ApplyReply, error) {
	ok, err := s.uc.CheckAndCompensateSLA(ctx, req.FavoriteID)
	if err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeCompensateFailed)
	}
	return &ApplyReply{Applied: ok}, nil
}

// CompensateOnFail 渲染永久失败
func (s *FavoriteService) CompensateOnFail(ctx context.Context, req *FavoriteRequest) (*ApplyReply, error) {
	ok, err := s.uc.AutoCompensateOnFail(ctx, req.FavoriteID, req.CorrelationID)
	if err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeCompensateFailed)
	}
	return &ApplyReply{Applied: ok}, nil
}

// ReportProblem 用户反馈（人工审核）
func (s *FavoriteService) ReportProblem(ctx context.Context, req *ReportProblemRequest) (*CompensationReply, error) {
	entry, err := s.uc.ReportProblem(ctx, req.UserID, req.FavoriteID, req.CorrelationID)
	if err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeCompensateFailed)
	}
	return toCompensationReply(entry), nil
}

func (s *FavoriteService) ListCompensations(ctx context.Context, req *ListCompensationsRequest) (*ListCompensationsReply, error) {
	logs, err := s.uc.ListCompensations(ctx, req.UserID)
	if err != nil {
		return nil, wrapError(ctx, err, creditErrors.ErrCodeCompensateFailed)
	}
	reply := &ListCompensationsReply{Compensations: make([]*CompensationReply, 0, len(logs))}
	for _, l := range logs {
		reply.Compensations = append(reply.Compensations, toCompensationReply(l))
	}
	return reply, nil
}

func toFavoriteReply(f *biz.Favorite) *FavoriteReply {
	return &FavoriteReply{
		FavoriteID:    f.ID,
		UserID:        f.UID,
		SessionID:     f.SessionID,
		TakeID:        f.TakeID,
		Variant:       f.Variant,
		HDStatus:      string(f.HDStatus),
		ArtifactRef:   f.ArtifactRef,
		CompensatedAt: f.CompensatedAt,
	}
}

func toCompensationReply(l *biz.CompensationLog) *CompensationReply {
	return &CompensationReply{
		ID:            l.ID,
		FavoriteID:    l.FavoriteID,
		SessionID:     l.SessionID,
		Reason:        l.Reason,
		CompType:      l.CompType,
		Amount:        l.Amount,
		CorrelationID: l.CorrelationID,
		CreatedAt:     l.CreatedAt,
	}
}
