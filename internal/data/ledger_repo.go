package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"credit-service/internal/biz"
	"credit-service/internal/constants"
	"credit-service/internal/data/model"
	"credit-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// errEntryExists 并发重放时唯一索引冲突，回滚本次事务
var errEntryExists = errors.New("ledger entry already exists")

// ledgerRepo 账本与余额数据访问，余额行是唯一的串行化点
type ledgerRepo struct {
	data    *Data
	log     *log.Helper
	metrics *metrics.LedgerMetrics
}

// NewLedgerRepo 创建账本 repo（返回 biz.LedgerRepo 接口）
func NewLedgerRepo(data *Data, logger log.Logger) biz.LedgerRepo {
	return &ledgerRepo{
		data:    data,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}
}

// lockUser 锁定用户余额行，不存在返回 nil
func lockUser(tx *gorm.DB, userID string) (*model.UserBalance, error) {
	var m model.UserBalance
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("uid = ?", userID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ensureUser 确保余额行存在并加锁
func ensureUser(tx *gorm.DB, userID string) (*model.UserBalance, error) {
	m := &model.UserBalance{
		UserBalanceID: uuid.New().String(),
		UID:           userID,
		Role:          constants.RoleUser,
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(m).Error; err != nil {
		return nil, err
	}
	return lockUser(tx, userID)
}

func findEntries(tx *gorm.DB, userID, jobID string) (map[string]*model.LedgerEntry, error) {
	var entries []*model.LedgerEntry
	if err := tx.Where("uid = ? AND job_id = ?", userID, jobID).Find(&entries).Error; err != nil {
		return nil, err
	}
	byOp := make(map[string]*model.LedgerEntry, len(entries))
	for _, e := range entries {
		byOp[e.Operation] = e
	}
	return byOp, nil
}

func insertEntry(tx *gorm.DB, userID, jobID, operation string, amount int64) error {
	result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.LedgerEntry{
		UID:       userID,
		JobID:     jobID,
		Operation: operation,
		Amount:    amount,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errEntryExists
	}
	return nil
}

// Hold 锁定余额行后检查并扣减，同一事务写入 HOLD 流水
func (r *ledgerRepo) Hold(ctx context.Context, userID, jobID string, amount int64, moderatorBypass bool) (biz.HoldOutcome, error) {
	outcome := biz.HoldApplied
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ub, err := lockUser(tx, userID)
		if err != nil {
			return err
		}
		if ub == nil {
			return biz.ErrInsufficientBalance
		}
		if moderatorBypass && ub.Role == constants.RoleModerator {
			outcome = biz.HoldBypassed
			return nil
		}

		entries, err := findEntries(tx, userID, jobID)
		if err != nil {
			return err
		}
		if _, ok := entries[constants.LedgerOpHold]; ok {
			outcome = biz.HoldAlreadyApplied
			return nil
		}

		if ub.CreditBalance < amount {
			return biz.ErrInsufficientBalance
		}
		result := tx.Model(&model.UserBalance{}).
			Where("uid = ? AND credit_balance >= ?", userID, amount).
			Update("credit_balance", gorm.Expr("credit_balance - ?", amount))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return biz.ErrInsufficientBalance
		}
		return insertEntry(tx, userID, jobID, constants.LedgerOpHold, amount)
	})
	if errors.Is(err, errEntryExists) {
		return biz.HoldAlreadyApplied, nil
	}
	if err != nil {
		return 0, err
	}
	if outcome == biz.HoldApplied {
		r.invalidate(ctx, userID)
	}
	return outcome, nil
}

// Capture 仅写 CAPTURE 流水，不修改余额
// 持有用户行锁，与 Release 串行
func (r *ledgerRepo) Capture(ctx context.Context, userID, jobID string, amount int64) (bool, error) {
	applied := false
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ub, err := lockUser(tx, userID)
		if err != nil || ub == nil {
			return err
		}
		entries, err := findEntries(tx, userID, jobID)
		if err != nil {
			return err
		}
		hold, held := entries[constants.LedgerOpHold]
		if !held || entries[constants.LedgerOpCapture] != nil || entries[constants.LedgerOpRelease] != nil {
			return nil
		}
		if amount <= 0 {
			amount = hold.Amount
		}
		if err := insertEntry(tx, userID, jobID, constants.LedgerOpCapture, amount); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if errors.Is(err, errEntryExists) {
		return false, nil
	}
	return applied, err
}

// Release 退回预扣额度并写 RELEASE 流水；已 Capture 或已 Release 时为空操作
// 返回实际退回的额度，空操作返回 0；amount<=0 或超过预扣时按预扣额度退回
func (r *ledgerRepo) Release(ctx context.Context, userID, jobID string, amount int64) (int64, error) {
	var refunded int64
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ub, err := lockUser(tx, userID)
		if err != nil || ub == nil {
			return err
		}
		entries, err := findEntries(tx, userID, jobID)
		if err != nil {
			return err
		}
		hold, held := entries[constants.LedgerOpHold]
		if !held || entries[constants.LedgerOpCapture] != nil || entries[constants.LedgerOpRelease] != nil {
			return nil
		}
		if amount <= 0 || amount > hold.Amount {
			amount = hold.Amount
		}
		if err := tx.Model(&model.UserBalance{}).
			Where("uid = ?", userID).
			Update("credit_balance", gorm.Expr("credit_balance + ?", amount)).Error; err != nil {
			return err
		}
		if err := insertEntry(tx, userID, jobID, constants.LedgerOpRelease, amount); err != nil {
			return err
		}
		refunded = amount
		return nil
	})
	if errors.Is(err, errEntryExists) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if refunded > 0 {
		r.invalidate(ctx, userID)
	}
	return refunded, nil
}

// ListEntries 查询任务流水，jobID 为空时返回用户全部流水
func (r *ledgerRepo) ListEntries(ctx context.Context, userID, jobID string) ([]*biz.LedgerEntry, error) {
	query := r.data.db.WithContext(ctx).Where("uid = ?", userID)
	if jobID != "" {
		query = query.Where("job_id = ?", jobID)
	}
	var rows []*model.LedgerEntry
	if err := query.Order("id ASC").Find(&rows).Error; err != nil {
		if isMissingTable(err) {
			return nil, nil
		}
		return nil, err
	}
	entries := make([]*biz.LedgerEntry, 0, len(rows))
	for _, m := range rows {
		entries = append(entries, &biz.LedgerEntry{
			ID:        m.ID,
			UID:       m.UID,
			JobID:     m.JobID,
			Operation: m.Operation,
			Amount:    m.Amount,
			CreatedAt: m.CreatedAt,
		})
	}
	return entries, nil
}

// GetUserBalance 获取用户余额（Redis 读穿缓存）
func (r *ledgerRepo) GetUserBalance(ctx context.Context, userID string) (*biz.UserBalance, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID is required")
	}

	// 先尝试从 Redis 获取
	balanceKey := constants.RedisKeyBalance + userID
	if r.data.rdb != nil {
		cacheCtx, cancel := context.WithTimeout(ctx, constants.CacheOpTimeout)
		raw, err := r.data.rdb.Get(cacheCtx, balanceKey).Bytes()
		cancel()
		if err == nil {
			var cached biz.UserBalance
			if err := json.Unmarshal(raw, &cached); err == nil {
				r.cacheResult("hit")
				return &cached, nil
			}
		}
		r.cacheResult("miss")
	}

	// 读库前记录版本号，读库期间发生失效则放弃回填
	version, versionErr := int64(0), error(nil)
	if r.data.rdb != nil {
		cacheCtx, cancel := context.WithTimeout(ctx, constants.CacheOpTimeout)
		version, versionErr = r.data.balanceVersion(cacheCtx, userID)
		cancel()
	}

	// 缓存未命中，从数据库查询
	var m model.UserBalance
	if err := r.data.db.WithContext(ctx).Where("uid = ?", userID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 用户不存在，返回 nil 而不是错误（业务层会处理为余额 0）
			return nil, nil
		}
		r.log.Errorf("GetUserBalance failed: userID=%s, error=%v", userID, err)
		return nil, fmt.Errorf("failed to query user balance from database: %w", err)
	}
	result := toBizBalance(&m)

	if r.data.rdb != nil && versionErr == nil {
		if raw, err := json.Marshal(result); err == nil {
			cacheCtx, cancel := context.WithTimeout(context.Background(), constants.CacheOpTimeout)
			defer cancel()
			filled, err := r.data.fillBalance(cacheCtx, userID, version, raw)
			if err != nil {
				// 缓存更新失败不影响主流程
				r.log.Warnf("failed to update balance cache: user_id=%s, error=%v", userID, err)
			} else if !filled {
				r.cacheResult("stale_skip")
			}
		}
	}
	return result, nil
}

// CreditTokens 充值生成额度（不存在则创建）
func (r *ledgerRepo) CreditTokens(ctx context.Context, userID string, amount int64) error {
	return r.mutate(ctx, userID, func(tx *gorm.DB, ub *model.UserBalance) error {
		return tx.Model(&model.UserBalance{}).
			Where("uid = ?", userID).
			Update("credit_balance", gorm.Expr("credit_balance + ?", amount)).Error
	})
}

// GrantHD 发放 HD 额度
func (r *ledgerRepo) GrantHD(ctx context.Context, userID string, amount int64, promo bool) error {
	column := "hd_paid_balance"
	if promo {
		column = "hd_promo_balance"
	}
	return r.mutate(ctx, userID, func(tx *gorm.DB, ub *model.UserBalance) error {
		return tx.Model(&model.UserBalance{}).
			Where("uid = ?", userID).
			Update(column, gorm.Expr(column+" + ?", amount)).Error
	})
}

// SpendHD 优先扣减赠送桶
func (r *ledgerRepo) SpendHD(ctx context.Context, userID string) (string, error) {
	var bucket string
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ub, err := lockUser(tx, userID)
		if err != nil {
			return err
		}
		var column string
		switch {
		case ub == nil:
			return biz.ErrInsufficientBalance
		case ub.HDPromoBalance > 0:
			bucket, column = constants.HDBucketPromo, "hd_promo_balance"
		case ub.HDPaidBalance > 0:
			bucket, column = constants.HDBucketPaid, "hd_paid_balance"
		default:
			return biz.ErrInsufficientBalance
		}
		result := tx.Model(&model.UserBalance{}).
			Where("uid = ? AND "+column+" > 0", userID).
			Update(column, gorm.Expr(column+" - 1"))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return biz.ErrInsufficientBalance
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	r.invalidate(ctx, userID)
	return bucket, nil
}

// SetRole 设置用户角色
func (r *ledgerRepo) SetRole(ctx context.Context, userID, role string) error {
	return r.mutate(ctx, userID, func(tx *gorm.DB, ub *model.UserBalance) error {
		return tx.Model(&model.UserBalance{}).Where("uid = ?", userID).Update("role", role).Error
	})
}

// mutate 在用户行锁内执行修改，提交后失效缓存
func (r *ledgerRepo) mutate(ctx context.Context, userID string, fn func(tx *gorm.DB, ub *model.UserBalance) error) error {
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ub, err := ensureUser(tx, userID)
		if err != nil {
			return err
		}
		return fn(tx, ub)
	})
	if err != nil {
		return err
	}
	r.invalidate(ctx, userID)
	return nil
}

func (r *ledgerRepo) invalidate(ctx context.Context, userID string) {
	if err := r.data.invalidateBalance(userID); err != nil {
		r.log.WithContext(ctx).Warnf("failed to invalidate balance cache: user_id=%s, error=%v", userID, err)
	}
}

func (r *ledgerRepo) cacheResult(result string) {
	if r.metrics != nil {
		r.metrics.BalanceCacheTotal.WithLabelValues(result).Inc()
	}
}

func toBizBalance(m *model.UserBalance) *biz.UserBalance {
	return &biz.UserBalance{
		UID:               m.UID,
		Role:              m.Role,
		CreditBalance:     m.CreditBalance,
		HDPaidBalance:     m.HDPaidBalance,
		HDPromoBalance:    m.HDPromoBalance,
		ReferralPending:   m.ReferralPending,
		ReferralAvailable: m.ReferralAvailable,
		ReferralDebt:      m.ReferralDebt,
		UpdatedAt:         m.UpdatedAt,
	}
}
