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

// sessionRepo 会话额度数据访问
// 计数器只通过带条件的 UPDATE 修改，RowsAffected=0 即拒绝
type sessionRepo struct {
	data *Data
	log  *log.Helper
}

// NewSessionRepo 创建会话 repo（返回 biz.SessionRepo 接口）
func NewSessionRepo(data *Data, logger log.Logger) biz.SessionRepo {
	return &sessionRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func (r *sessionRepo) CreateSession(ctx context.Context, s *biz.Session) error {
	now := time.Now()
	m := fromBizSession(s)
	m.LastActivityAt = now
	if err := r.data.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	s.LastActivityAt = m.LastActivityAt
	s.CreatedAt = m.CreatedAt
	s.UpdatedAt = m.UpdatedAt
	return nil
}

func (r *sessionRepo) GetSession(ctx context.Context, sessionID string) (*biz.Session, error) {
	var m model.Session
	if err := r.data.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toBizSession(&m), nil
}

// ConsumeTake takes_used < takes_limit 且会话 active 时 +1
func (r *sessionRepo) ConsumeTake(ctx context.Context, sessionID string) (bool, error) {
	return r.conditional(ctx, sessionID, "takes_used < takes_limit AND status = ?", []interface{}{string(biz.SessionActive)},
		map[string]interface{}{
			"takes_used":       gorm.Expr("takes_used + 1"),
			"last_activity_at": time.Now(),
		})
}

// ReturnTake takes_used > 0 时 -1
func (r *sessionRepo) ReturnTake(ctx context.Context, sessionID string) (bool, error) {
	return r.conditional(ctx, sessionID, "takes_used > 0", nil,
		map[string]interface{}{"takes_used": gorm.Expr("takes_used - 1")})
}

func (r *sessionRepo) ConsumeHD(ctx context.Context, sessionID string) (bool, error) {
	return r.conditional(ctx, sessionID, "hd_used < hd_limit AND status = ?", []interface{}{string(biz.SessionActive)},
		map[string]interface{}{
			"hd_used":          gorm.Expr("hd_used + 1"),
			"last_activity_at": time.Now(),
		})
}

func (r *sessionRepo) ReturnHD(ctx context.Context, sessionID string) (bool, error) {
	return returnHD(r.data.db.WithContext(ctx), sessionID)
}

// returnHD 可在外部事务内调用（补偿）
func returnHD(tx *gorm.DB, sessionID string) (bool, error) {
	result := tx.Model(&model.Session{}).
		Where("session_id = ? AND hd_used > 0", sessionID).
		Update("hd_used", gorm.Expr("hd_used - 1"))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *sessionRepo) conditional(ctx context.Context, sessionID, cond string, args []interface{}, updates map[string]interface{}) (bool, error) {
	result := r.data.db.WithContext(ctx).Model(&model.Session{}).
		Where("session_id = ?", sessionID).
		Where(cond, args...).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Upgrade 单事务：旧会话 active -> upgraded，新会话继承用量，Take 与收藏全部迁移
func (r *sessionRepo) Upgrade(ctx context.Context, oldSessionID string, next *biz.Session) (*biz.Session, error) {
	var created *model.Session
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var old model.Session
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("session_id = ?", oldSessionID).
			First(&old).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return biz.ErrNotFound
		}
		if err != nil {
			return err
		}
		if !biz.SessionStatus(old.Status).CanTransition(biz.SessionUpgraded) {
			return biz.ErrInvalidTransition
		}

		result := tx.Model(&model.Session{}).
			Where("session_id = ? AND status = ?", oldSessionID, string(biz.SessionActive)).
			Update("status", string(biz.SessionUpgraded))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return biz.ErrInvalidTransition
		}

		now := time.Now()
		m := fromBizSession(next)
		m.UID = old.UID
		m.UpgradedFromSessionID = old.SessionID
		m.TakesUsed = min(old.TakesUsed, m.TakesLimit)
		m.HDUsed = min(old.HDUsed, m.HDLimit)
		m.CurrentStep = min(old.CurrentStep, m.TotalSteps)
		m.LastActivityAt = now
		if err := tx.Create(m).Error; err != nil {
			return err
		}

		if err := tx.Model(&model.Take{}).
			Where("session_id = ?", oldSessionID).
			Update("session_id", m.SessionID).Error; err != nil {
			return err
		}
		// hd_used 已迁到新会话，收藏的补偿也必须退回新会话
		if err := tx.Model(&model.Favorite{}).
			Where("session_id = ?", oldSessionID).
			Update("session_id", m.SessionID).Error; err != nil {
			return err
		}
		created = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toBizSession(created), nil
}

func (r *sessionRepo) RecordTake(ctx context.Context, take *biz.Take) error {
	m := &model.Take{
		TakeID:    take.ID,
		SessionID: take.SessionID,
		UID:       take.UID,
	}
	if err := r.data.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	take.CreatedAt = m.CreatedAt
	return nil
}

func (r *sessionRepo) ListTakes(ctx context.Context, sessionID string) ([]*biz.Take, error) {
	var rows []*model.Take
	if err := r.data.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	takes := make([]*biz.Take, 0, len(rows))
	for _, m := range rows {
		takes = append(takes, &biz.Take{
			ID:        m.TakeID,
			SessionID: m.SessionID,
			UID:       m.UID,
			CreatedAt: m.CreatedAt,
		})
	}
	return takes, nil
}

// AdvanceStep 合集前进一步（current_step < total_steps）
func (r *sessionRepo) AdvanceStep(ctx context.Context, sessionID string) (bool, error) {
	return r.conditional(ctx, sessionID, "current_step < total_steps AND status = ?", []interface{}{string(biz.SessionActive)},
		map[string]interface{}{
			"current_step":     gorm.Expr("current_step + 1"),
			"last_activity_at": time.Now(),
		})
}

func (r *sessionRepo) TransitionStatus(ctx context.Context, sessionID string, from, to biz.SessionStatus) (bool, error) {
	if !from.CanTransition(to) {
		return false, biz.ErrInvalidTransition
	}
	return r.conditional(ctx, sessionID, "status = ?", []interface{}{string(from)},
		map[string]interface{}{"status": string(to)})
}

// ListAbandonedCandidates 长时间无活动且未走完的 active 合集
func (r *sessionRepo) ListAbandonedCandidates(ctx context.Context, idleBefore time.Time, limit int) ([]*biz.Session, error) {
	var rows []*model.Session
	err := r.data.db.WithContext(ctx).
		Where("status = ? AND total_steps > 0 AND current_step < total_steps AND last_activity_at < ?",
			string(biz.SessionActive), idleBefore).
		Order("last_activity_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		if isMissingTable(err) {
			r.log.Warnf("session table missing, skip abandoned sweep")
			return nil, nil
		}
		return nil, err
	}
	sessions := make([]*biz.Session, 0, len(rows))
	for _, m := range rows {
		sessions = append(sessions, toBizSession(m))
	}
	return sessions, nil
}

// MarkAbandoned 条件更新时重新校验空闲与进度，扫描后有新活动的会话不受影响
func (r *sessionRepo) MarkAbandoned(ctx context.Context, sessionID string, idleBefore time.Time) (bool, error) {
	return r.conditional(ctx, sessionID,
		"status = ? AND total_steps > 0 AND current_step < total_steps AND last_activity_at < ?",
		[]interface{}{string(biz.SessionActive), idleBefore},
		map[string]interface{}{"status": string(biz.SessionAbandoned)})
}

func fromBizSession(s *biz.Session) *model.Session {
	return &model.Session{
		SessionID:             s.ID,
		UID:                   s.UID,
		PackID:                s.PackID,
		TakesLimit:            s.TakesLimit,
		TakesUsed:             s.TakesUsed,
		HDLimit:               s.HDLimit,
		HDUsed:                s.HDUsed,
		Status:                string(s.Status),
		UpgradedFromSessionID: s.UpgradedFromSessionID,
		CreditStars:           s.CreditStars,
		TotalSteps:            s.TotalSteps,
		CurrentStep:           s.CurrentStep,
		LastActivityAt:        s.LastActivityAt,
	}
}

func toBizSession(m *model.Session) *biz.Session {
	return &biz.Session{
		ID:                    m.SessionID,
		UID:                   m.UID,
		PackID:                m.PackID,
		TakesLimit:            m.TakesLimit,
		TakesUsed:             m.TakesUsed,
		HDLimit:               m.HDLimit,
		HDUsed:                m.HDUsed,
		Status:                biz.SessionStatus(m.Status),
		UpgradedFromSessionID: m.UpgradedFromSessionID,
		CreditStars:           m.CreditStars,
		TotalSteps:            m.TotalSteps,
		CurrentStep:           m.CurrentStep,
		LastActivityAt:        m.LastActivityAt,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
}
