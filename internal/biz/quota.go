package biz

import (
	"context"
	"time"

	"credit-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// Session 购买的套餐会话（有限次数的生成额度）
type Session struct {
	ID                    string
	UID                   string
	PackID                string
	TakesLimit            int32
	TakesUsed             int32
	HDLimit               int32
	HDUsed                int32
	Status                SessionStatus
	UpgradedFromSessionID string
	CreditStars           int64
	TotalSteps            int32 // >0 表示多步合集
	CurrentStep           int32
	LastActivityAt        time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// IsPlaylist 是否为多步合集会话
func (s *Session) IsPlaylist() bool {
	return s.TotalSteps > 0
}

// Take 会话内的一次生成
type Take struct {
	ID        string
	SessionID string
	UID       string
	CreatedAt time.Time
}

// SessionRepo 会话额度数据层接口（定义在 biz 层）
// Consume/Return 使用条件更新实现，禁止先查后改
type SessionRepo interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	ConsumeTake(ctx context.Context, sessionID string) (bool, error)
	ReturnTake(ctx context.Context, sessionID string) (bool, error)
	ConsumeHD(ctx context.Context, sessionID string) (bool, error)
	ReturnHD(ctx context.Context, sessionID string) (bool, error)
	Upgrade(ctx context.Context, oldSessionID string, next *Session) (*Session, error)
	RecordTake(ctx context.Context, take *Take) error
	ListTakes(ctx context.Context, sessionID string) ([]*Take, error)
	AdvanceStep(ctx context.Context, sessionID string) (bool, error)
	TransitionStatus(ctx context.Context, sessionID string, from, to SessionStatus) (bool, error)
	ListAbandonedCandidates(ctx context.Context, idleBefore time.Time, limit int) ([]*Session, error)
	// MarkAbandoned 仍 active、仍未走完且 idleBefore 之后无活动时才标记 abandoned
	MarkAbandoned(ctx context.Context, sessionID string, idleBefore time.Time) (bool, error)
}

// QuotaUseCase 会话额度业务逻辑
type QuotaUseCase struct {
	repo    SessionRepo
	conf    *LedgerConfig
	log     *log.Helper
	metrics *metrics.LedgerMetrics
}

// NewQuotaUseCase 创建会话额度 UseCase
func NewQuotaUseCase(repo SessionRepo, conf *LedgerConfig, logger log.Logger) *QuotaUseCase {
	return &QuotaUseCase{
		repo:    repo,
		conf:    conf,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}
}

// CreateSession 购买套餐后创建会话
func (uc *QuotaUseCase) CreateSession(ctx context.Context, userID, packID string) (*Session, error) {
	pack, ok := uc.conf.Pack(packID)
	if userID == "" || !ok {
		return nil, ErrInvalidArgument
	}
	s := &Session{
		ID:          uuid.New().String(),
		UID:         userID,
		PackID:      packID,
		TakesLimit:  pack.TakesLimit,
		HDLimit:     pack.HDLimit,
		Status:      SessionActive,
		TotalSteps:  pack.PlaylistSteps,
		CurrentStep: 0,
	}
	if err := uc.repo.CreateSession(ctx, s); err != nil {
		uc.log.Errorf("CreateSession failed: user_id=%s, pack_id=%s, error=%v", userID, packID, err)
		return nil, err
	}
	uc.log.Infof("Session created: session_id=%s, user_id=%s, pack_id=%s, takes_limit=%d, hd_limit=%d",
		s.ID, userID, packID, s.TakesLimit, s.HDLimit)
	return s, nil
}

// GetSession 获取会话
func (uc *QuotaUseCase) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	s, err := uc.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrNotFound
	}
	return s, nil
}

// Consume 占用一次生成额度；返回 false 时调用方不得继续执行
func (uc *QuotaUseCase) Consume(ctx context.Context, sessionID string) (bool, error) {
	ok, err := uc.repo.ConsumeTake(ctx, sessionID)
	uc.observe("take", "consume", ok, err)
	return ok, err
}

// Return 生成失败后归还一次额度
func (uc *QuotaUseCase) Return(ctx context.Context, sessionID string) error {
	ok, err := uc.repo.ReturnTake(ctx, sessionID)
	uc.observe("take", "return", ok, err)
	if err == nil && !ok {
		uc.log.Warnf("Return take ignored: session_id=%s, takes_used already 0", sessionID)
	}
	return err
}

// ConsumeHD 占用一次 HD 额度
func (uc *QuotaUseCase) ConsumeHD(ctx context.Context, sessionID string) (bool, error) {
	ok, err := uc.repo.ConsumeHD(ctx, sessionID)
	uc.observe("hd", "consume", ok, err)
	return ok, err
}

// ReturnHD 归还一次 HD 额度
func (uc *QuotaUseCase) ReturnHD(ctx context.Context, sessionID string) error {
	ok, err := uc.repo.ReturnHD(ctx, sessionID)
	uc.observe("hd", "return", ok, err)
	return err
}

// Upgrade 升级套餐：旧会话标记 upgraded，新会话继承用量并接管所有 Take
func (uc *QuotaUseCase) Upgrade(ctx context.Context, oldSessionID, newPackID string, creditStars int64) (*Session, error) {
	pack, ok := uc.conf.Pack(newPackID)
	if !ok || creditStars < 0 {
		return nil, ErrInvalidArgument
	}
	next := &Session{
		ID:          uuid.New().String(),
		PackID:      newPackID,
		TakesLimit:  pack.TakesLimit,
		HDLimit:     pack.HDLimit,
		Status:      SessionActive,
		CreditStars: creditStars,
		TotalSteps:  pack.PlaylistSteps,
	}
	s, err := uc.repo.Upgrade(ctx, oldSessionID, next)
	if err != nil {
		uc.log.Errorf("Upgrade failed: session_id=%s, new_pack_id=%s, error=%v", oldSessionID, newPackID, err)
		return nil, err
	}
	uc.log.Infof("Session upgraded: from=%s, to=%s, pack_id=%s, credit_stars=%d, takes_used=%d/%d",
		oldSessionID, s.ID, newPackID, creditStars, s.TakesUsed, s.TakesLimit)
	return s, nil
}

// RecordTake 记录一次生成
func (uc *QuotaUseCase) RecordTake(ctx context.Context, sessionID string) (*Take, error) {
	s, err := uc.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	take := &Take{
		ID:        uuid.New().String(),
		SessionID: s.ID,
		UID:       s.UID,
	}
	if err := uc.repo.RecordTake(ctx, take); err != nil {
		return nil, err
	}
	return take, nil
}

// ListTakes 查询会话下的 Take
func (uc *QuotaUseCase) ListTakes(ctx context.Context, sessionID string) ([]*Take, error) {
	return uc.repo.ListTakes(ctx, sessionID)
}

// AdvanceStep 合集前进一步，同时刷新活跃时间
func (uc *QuotaUseCase) AdvanceStep(ctx context.Context, sessionID string) (bool, error) {
	return uc.repo.AdvanceStep(ctx, sessionID)
}

// Complete 会话正常结束
func (uc *QuotaUseCase) Complete(ctx context.Context, sessionID string) error {
	return uc.transition(ctx, sessionID, SessionActive, SessionCompleted)
}

// Abandon 会话标记为放弃
func (uc *QuotaUseCase) Abandon(ctx context.Context, sessionID string) error {
	return uc.transition(ctx, sessionID, SessionActive, SessionAbandoned)
}

func (uc *QuotaUseCase) transition(ctx context.Context, sessionID string, from, to SessionStatus) error {
	if !from.CanTransition(to) {
		return ErrInvalidTransition
	}
	ok, err := uc.repo.TransitionStatus(ctx, sessionID, from, to)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidTransition
	}
	uc.log.Infof("Session status changed: session_id=%s, from=%s, to=%s", sessionID, from, to)
	return nil
}

func (uc *QuotaUseCase) observe(unit, operation string, ok bool, err error) {
	if uc.metrics == nil {
		return
	}
	result := "rejected"
	switch {
	case err != nil:
		result = "error"
	case ok:
		result = "applied"
	}
	uc.metrics.QuotaOpTotal.WithLabelValues(unit, operation, result).Inc()
}
