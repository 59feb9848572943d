package biz

import (
	"context"
	"time"

	"credit-service/internal/constants"
	"credit-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// Favorite 用户选中的作品及其 HD 交付权益
type Favorite struct {
	ID            string
	UID           string
	SessionID     string
	TakeID        string
	Variant       string
	HDStatus      HDStatus
	ArtifactRef   string
	CompensatedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CompensationLog 补偿审计记录（只追加）
type CompensationLog struct {
	ID            string
	UID           string
	FavoriteID    string
	SessionID     string
	Reason        string
	CompType      string
	Amount        int64
	CorrelationID string
	CreatedAt     time.Time
}

// CompensationRequest 补偿请求
// MinElapsed > 0 时要求 now - updated_at >= MinElapsed（SLA 触发）
type CompensationRequest struct {
	FavoriteID    string
	Reason        string
	CorrelationID string
	MinElapsed    time.Duration
	Now           time.Time
}

// FavoriteRepo 收藏权益数据层接口（定义在 biz 层）
type FavoriteRepo interface {
	CreateFavorite(ctx context.Context, f *Favorite) error
	GetFavorite(ctx context.Context, favoriteID string) (*Favorite, error)
	MarkRendering(ctx context.Context, favoriteID string) (bool, error)
	MarkDelivered(ctx context.Context, favoriteID, artifactRef string) (bool, error)
	ResetOnFailure(ctx context.Context, favoriteID string) (bool, error)
	// Compensate 单事务：重置状态、写 compensated_at、归还 HD、追加补偿记录；前置条件不满足返回 nil
	Compensate(ctx context.Context, req *CompensationRequest) (*CompensationLog, error)
	CreateCompensationLog(ctx context.Context, l *CompensationLog) error
	ListCompensations(ctx context.Context, userID string) ([]*CompensationLog, error)
	ListStuckRendering(ctx context.Context, updatedBefore time.Time, limit int) ([]*Favorite, error)
}

// FavoriteUseCase 收藏权益与补偿业务逻辑
type FavoriteUseCase struct {
	repo     FavoriteRepo
	sessions SessionRepo
	conf     *LedgerConfig
	log      *log.Helper
	metrics  *metrics.LedgerMetrics
	now      func() time.Time
}

// NewFavoriteUseCase 创建收藏权益 UseCase
func NewFavoriteUseCase(repo FavoriteRepo, sessions SessionRepo, conf *LedgerConfig, logger log.Logger) *FavoriteUseCase {
	return &FavoriteUseCase{
		repo:     repo,
		sessions: sessions,
		conf:     conf,
		log:      log.NewHelper(logger),
		metrics:  metrics.GetMetrics(),
		now:      time.Now,
	}
}

// CreateFavorite 用户选中某个作品
func (uc *FavoriteUseCase) CreateFavorite(ctx context.Context, sessionID, takeID, variant string) (*Favorite, error) {
	if sessionID == "" || takeID == "" {
		return nil, ErrInvalidArgument
	}
	s, err := uc.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrNotFound
	}
	f := &Favorite{
		ID:        uuid.New().String(),
		UID:       s.UID,
		SessionID: sessionID,
		TakeID:    takeID,
		Variant:   variant,
		HDStatus:  HDNone,
	}
	if err := uc.repo.CreateFavorite(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

// GetFavorite 获取收藏
func (uc *FavoriteUseCase) GetFavorite(ctx context.Context, favoriteID string) (*Favorite, error) {
	f, err := uc.repo.GetFavorite(ctx, favoriteID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, ErrNotFound
	}
	return f, nil
}

// MarkRendering 开始渲染；已在渲染或已交付时返回 false
func (uc *FavoriteUseCase) MarkRendering(ctx context.Context, favoriteID string) (bool, error) {
	ok, err := uc.repo.MarkRendering(ctx, favoriteID)
	if err != nil {
		return false, err
	}
	uc.log.Infof("MarkRendering: favorite_id=%s, applied=%v", favoriteID, ok)
	return ok, nil
}

// MarkDelivered 交付完成（幂等）
func (uc *FavoriteUseCase) MarkDelivered(ctx context.Context, favoriteID, artifactRef string) (bool, error) {
	ok, err := uc.repo.MarkDelivered(ctx, favoriteID, artifactRef)
	if err != nil {
		return false, err
	}
	uc.log.Infof("MarkDelivered: favorite_id=%s, artifact=%s, ok=%v", favoriteID, artifactRef, ok)
	return ok, nil
}

// ResetOnFailure 渲染失败后回到 none；delivered 不回退
func (uc *FavoriteUseCase) ResetOnFailure(ctx context.Context, favoriteID string) error {
	ok, err := uc.repo.ResetOnFailure(ctx, favoriteID)
	if err != nil {
		return err
	}
	uc.log.Infof("ResetOnFailure: favorite_id=%s, applied=%v", favoriteID, ok)
	return nil
}

// CheckAndCompensateSLA 渲染超过套餐 SLA 时自动补偿，每个收藏最多补偿一次
func (uc *FavoriteUseCase) CheckAndCompensateSLA(ctx context.Context, favoriteID string) (bool, error) {
	f, err := uc.repo.GetFavorite(ctx, favoriteID)
	if err != nil {
		return false, err
	}
	if f == nil || f.CompensatedAt != nil || f.HDStatus != HDRendering {
		return false, nil
	}
	sla := uc.conf.DefaultSLA
	if s, err := uc.sessions.GetSession(ctx, f.SessionID); err != nil {
		return false, err
	} else if s != nil {
		sla = uc.conf.SLAFor(s.PackID)
	}
	now := uc.now()
	if now.Sub(f.UpdatedAt) < sla {
		return false, nil
	}
	return uc.compensate(ctx, &CompensationRequest{
		FavoriteID: favoriteID,
		Reason:     constants.CompReasonSLABreach,
		MinElapsed: sla,
		Now:        now,
	})
}

// AutoCompensateOnFail 渲染永久失败时自动补偿
func (uc *FavoriteUseCase) AutoCompensateOnFail(ctx context.Context, favoriteID, correlationID string) (bool, error) {
	return uc.compensate(ctx, &CompensationRequest{
		FavoriteID:    favoriteID,
		Reason:        constants.CompReasonPermanentFailure,
		CorrelationID: correlationID,
		Now:           uc.now(),
	})
}

func (uc *FavoriteUseCase) compensate(ctx context.Context, req *CompensationRequest) (bool, error) {
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.New().String()
	}
	entry, err := uc.repo.Compensate(ctx, req)
	if err != nil {
		uc.log.Errorf("Compensate failed: favorite_id=%s, reason=%s, error=%v", req.FavoriteID, req.Reason, err)
		return false, err
	}
	if entry == nil {
		return false, nil
	}
	if uc.metrics != nil {
		uc.metrics.CompensationTotal.WithLabelValues(entry.Reason, entry.CompType).Inc()
	}
	uc.log.Infow(
		"event", "compensation_issued",
		"user_id", entry.UID,
		"favorite_id", entry.FavoriteID,
		"session_id", entry.SessionID,
		"reason", entry.Reason,
		"comp_type", entry.CompType,
		"amount", entry.Amount,
		"correlation_id", entry.CorrelationID,
		"hd_status_before", HDRendering,
		"hd_status_after", HDNone,
	)
	return true, nil
}

// ReportProblem 用户反馈问题，仅记录人工审核，不自动补偿
func (uc *FavoriteUseCase) ReportProblem(ctx context.Context, userID, favoriteID, correlationID string) (*CompensationLog, error) {
	f, err := uc.GetFavorite(ctx, favoriteID)
	if err != nil {
		return nil, err
	}
	if f.UID != userID {
		return nil, ErrNotFound
	}
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	entry := &CompensationLog{
		ID:            uuid.New().String(),
		UID:           userID,
		FavoriteID:    favoriteID,
		SessionID:     f.SessionID,
		Reason:        constants.CompReasonUserReport,
		CompType:      constants.CompTypeManualReview,
		Amount:        0,
		CorrelationID: correlationID,
	}
	if err := uc.repo.CreateCompensationLog(ctx, entry); err != nil {
		return nil, err
	}
	uc.log.Infow(
		"event", "problem_reported",
		"user_id", userID,
		"favorite_id", favoriteID,
		"hd_status", f.HDStatus,
		"correlation_id", correlationID,
	)
	return entry, nil
}

// ListCompensations 查询用户的补偿记录
func (uc *FavoriteUseCase) ListCompensations(ctx context.Context, userID string) ([]*CompensationLog, error) {
	return uc.repo.ListCompensations(ctx, userID)
}
