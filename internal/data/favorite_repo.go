package data

import (
	"context"
	"errors"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/constants"
	"credit-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// favoriteRepo 收藏权益与补偿记录数据访问
type favoriteRepo struct {
	data *Data
	log  *log.Helper
}

// NewFavoriteRepo 创建收藏 repo（返回 biz.FavoriteRepo 接口）
func NewFavoriteRepo(data *Data, logger log.Logger) biz.FavoriteRepo {
	return &favoriteRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func (r *favoriteRepo) CreateFavorite(ctx context.Context, f *biz.Favorite) error {
	m := &model.Favorite{
		FavoriteID: f.ID,
		UID:        f.UID,
		SessionID:  f.SessionID,
		TakeID:     f.TakeID,
		Variant:    f.Variant,
		HDStatus:   string(f.HDStatus),
	}
	if err := r.data.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	f.CreatedAt = m.CreatedAt
	f.UpdatedAt = m.UpdatedAt
	return nil
}

func (r *favoriteRepo) GetFavorite(ctx context.Context, favoriteID string) (*biz.Favorite, error) {
	var m model.Favorite
	if err := r.data.db.WithContext(ctx).Where("favorite_id = ?", favoriteID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toBizFavorite(&m), nil
}

// MarkRendering none -> rendering
func (r *favoriteRepo) MarkRendering(ctx context.Context, favoriteID string) (bool, error) {
	return r.transition(ctx, favoriteID, biz.HDNone, biz.HDRendering)
}

// MarkDelivered rendering -> delivered；已交付视为成功，none（未开始或已回退）拒绝
func (r *favoriteRepo) MarkDelivered(ctx context.Context, favoriteID, artifactRef string) (bool, error) {
	result := r.data.db.WithContext(ctx).Model(&model.Favorite{}).
		Where("favorite_id = ? AND hd_status = ?", favoriteID, string(biz.HDRendering)).
		Updates(map[string]interface{}{
			"hd_status":    string(biz.HDDelivered),
			"artifact_ref": artifactRef,
			"updated_at":   time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 1 {
		return true, nil
	}
	f, err := r.GetFavorite(ctx, favoriteID)
	if err != nil {
		return false, err
	}
	if f == nil {
		return false, biz.ErrNotFound
	}
	return f.HDStatus == biz.HDDelivered, nil
}

// ResetOnFailure rendering -> none；delivered 保持不变
func (r *favoriteRepo) ResetOnFailure(ctx context.Context, favoriteID string) (bool, error) {
	return r.transition(ctx, favoriteID, biz.HDRendering, biz.HDNone)
}

func (r *favoriteRepo) transition(ctx context.Context, favoriteID string, from, to biz.HDStatus) (bool, error) {
	if !from.CanTransition(to) {
		return false, biz.ErrInvalidTransition
	}
	result := r.data.db.WithContext(ctx).Model(&model.Favorite{}).
		Where("favorite_id = ? AND hd_status = ?", favoriteID, string(from)).
		Updates(map[string]interface{}{
			"hd_status":  string(to),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Compensate 单事务完成补偿；compensated_at 保证每个收藏只补偿一次
func (r *favoriteRepo) Compensate(ctx context.Context, req *biz.CompensationRequest) (*biz.CompensationLog, error) {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	var entry *model.CompensationLog
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var f model.Favorite
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("favorite_id = ?", req.FavoriteID).
			First(&f).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if f.CompensatedAt != nil || f.HDStatus != string(biz.HDRendering) {
			return nil
		}
		if req.MinElapsed > 0 && now.Sub(f.UpdatedAt) < req.MinElapsed {
			return nil
		}

		result := tx.Model(&model.Favorite{}).
			Where("favorite_id = ? AND hd_status = ? AND compensated_at IS NULL", f.FavoriteID, string(biz.HDRendering)).
			Updates(map[string]interface{}{
				"hd_status":      string(biz.HDNone),
				"compensated_at": now,
				"updated_at":     now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		returned, err := returnHD(tx, f.SessionID)
		if err != nil {
			return err
		}
		if !returned {
			r.log.Warnf("Compensate: hd_used already 0, session_id=%s, favorite_id=%s", f.SessionID, f.FavoriteID)
		}

		entry = &model.CompensationLog{
			CompensationLogID: uuid.New().String(),
			UID:               f.UID,
			FavoriteID:        f.FavoriteID,
			SessionID:         f.SessionID,
			Reason:            req.Reason,
			CompType:          constants.CompTypeHDReturn,
			Amount:            1,
			CorrelationID:     req.CorrelationID,
		}
		return tx.Create(entry).Error
	})
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	return toBizCompensation(entry), nil
}

func (r *favoriteRepo) CreateCompensationLog(ctx context.Context, l *biz.CompensationLog) error {
	m := &model.CompensationLog{
		CompensationLogID: l.ID,
		UID:               l.UID,
		FavoriteID:        l.FavoriteID,
		SessionID:         l.SessionID,
		Reason:            l.Reason,
		CompType:          l.CompType,
		Amount:            l.Amount,
		CorrelationID:     l.CorrelationID,
	}
	if err := r.data.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	l.CreatedAt = m.CreatedAt
	return nil
}

func (r *favoriteRepo) ListCompensations(ctx context.Context, userID string) ([]*biz.CompensationLog, error) {
	var rows []*model.CompensationLog
	if err := r.data.db.WithContext(ctx).
		Where("uid = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		if isMissingTable(err) {
			return nil, nil
		}
		return nil, err
	}
	logs := make([]*biz.CompensationLog, 0, len(rows))
	for _, m := range rows {
		logs = append(logs, toBizCompensation(m))
	}
	return logs, nil
}

// ListStuckRendering 查询 updated_at 早于截止时间仍在 rendering 的收藏
func (r *favoriteRepo) ListStuckRendering(ctx context.Context, updatedBefore time.Time, limit int) ([]*biz.Favorite, error) {
	var rows []*model.Favorite
	err := r.data.db.WithContext(ctx).
		Where("hd_status = ? AND updated_at < ?", string(biz.HDRendering), updatedBefore).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		if isMissingTable(err) {
			r.log.Warnf("favorite table missing, skip stuck rendering sweep")
			return nil, nil
		}
		return nil, err
	}
	favorites := make([]*biz.Favorite, 0, len(rows))
	for _, m := range rows {
		favorites = append(favorites, toBizFavorite(m))
	}
	return favorites, nil
}

func toBizFavorite(m *model.Favorite) *biz.Favorite {
	return &biz.Favorite{
		ID:            m.FavoriteID,
		UID:           m.UID,
		SessionID:     m.SessionID,
		TakeID:        m.TakeID,
		Variant:       m.Variant,
		HDStatus:      biz.HDStatus(m.HDStatus),
		ArtifactRef:   m.ArtifactRef,
		CompensatedAt: m.CompensatedAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func toBizCompensation(m *model.CompensationLog) *biz.CompensationLog {
	return &biz.CompensationLog{
		ID:            m.CompensationLogID,
		UID:           m.UID,
		FavoriteID:    m.FavoriteID,
		SessionID:     m.SessionID,
		Reason:        m.Reason,
		CompType:      m.CompType,
		Amount:        m.Amount,
		CorrelationID: m.CorrelationID,
		CreatedAt:     m.CreatedAt,
	}
}
