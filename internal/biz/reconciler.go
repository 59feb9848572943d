package biz

import (
	"context"
	"time"

	"credit-service/internal/constants"
	"credit-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// SweepLocker 巡检互斥锁，避免多个 cron 副本重复执行
// ok=false 表示锁已被占用，本次跳过
type SweepLocker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (unlock func(), ok bool, err error)
}

// SweepResult 单次巡检结果
type SweepResult struct {
	Sweep     string
	Scanned   int
	Processed int
	Failed    int
	Skipped   bool
}

// ReconcilerUseCase 巡检：修复卡住的渲染、标记放弃的合集、到期奖励转可用
type ReconcilerUseCase struct {
	favorites FavoriteRepo
	sessions  SessionRepo
	favUC     *FavoriteUseCase
	referral  *ReferralUseCase
	locker    SweepLocker
	conf      *LedgerConfig
	log       *log.Helper
	metrics   *metrics.LedgerMetrics
	now       func() time.Time
}

// NewReconcilerUseCase 创建巡检 UseCase
func NewReconcilerUseCase(
	favorites FavoriteRepo,
	sessions SessionRepo,
	favUC *FavoriteUseCase,
	referral *ReferralUseCase,
	locker SweepLocker,
	conf *LedgerConfig,
	logger log.Logger,
) *ReconcilerUseCase {
	return &ReconcilerUseCase{
		favorites: favorites,
		sessions:  sessions,
		favUC:     favUC,
		referral:  referral,
		locker:    locker,
		conf:      conf,
		log:       log.NewHelper(logger),
		metrics:   metrics.GetMetrics(),
		now:       time.Now,
	}
}

// RunSweep 按名称执行巡检，持锁期间运行
func (uc *ReconcilerUseCase) RunSweep(ctx context.Context, name string, lockTTL time.Duration) (*SweepResult, error) {
	var run func(context.Context) (*SweepResult, error)
	switch name {
	case constants.SweepStuckRendering:
		run = uc.SweepStuckRendering
	case constants.SweepAbandoned:
		run = uc.SweepAbandoned
	case constants.SweepBonusPromotion:
		run = uc.PromotePendingBonuses
	default:
		return nil, ErrInvalidArgument
	}

	if uc.locker != nil {
		unlock, ok, err := uc.locker.TryLock(ctx, name, lockTTL)
		if err != nil {
			uc.recordRun(name, "failed")
			return nil, err
		}
		if !ok {
			uc.log.Infof("Sweep skipped, lock held by another instance: sweep=%s", name)
			uc.recordRun(name, "skipped")
			return &SweepResult{Sweep: name, Skipped: true}, nil
		}
		defer unlock()
	}

	startTime := time.Now()
	result, err := run(ctx)
	if uc.metrics != nil {
		uc.metrics.SweepDuration.WithLabelValues(name).Observe(time.Since(startTime).Seconds())
	}
	if err != nil {
		uc.recordRun(name, "failed")
		uc.log.Errorf("Sweep failed: sweep=%s, error=%v", name, err)
		return nil, err
	}
	uc.recordRun(name, "success")
	uc.log.Infof("Sweep finished: sweep=%s, scanned=%d, processed=%d, failed=%d, duration=%v",
		name, result.Scanned, result.Processed, result.Failed, time.Since(startTime))
	return result, nil
}

// SweepStuckRendering 修复超时仍在 rendering 的收藏
// 合集会话先尝试 SLA 补偿，不满足时回退为 none；其他会话直接回退
func (uc *ReconcilerUseCase) SweepStuckRendering(ctx context.Context) (*SweepResult, error) {
	result := &SweepResult{Sweep: constants.SweepStuckRendering}
	cutoff := uc.now().Add(-uc.conf.Watchdog.StaleAfter)
	stuck, err := uc.favorites.ListStuckRendering(ctx, cutoff, uc.conf.Watchdog.BatchSize)
	if err != nil {
		return nil, err
	}
	result.Scanned = len(stuck)

	for _, f := range stuck {
		action, err := uc.repairFavorite(ctx, f)
		if err != nil {
			result.Failed++
			uc.rows(result.Sweep, "failed")
			uc.log.Errorf("Repair stuck favorite failed: favorite_id=%s, error=%v", f.ID, err)
			continue
		}
		result.Processed++
		uc.rows(result.Sweep, action)
	}
	return result, nil
}

func (uc *ReconcilerUseCase) repairFavorite(ctx context.Context, f *Favorite) (string, error) {
	session, err := uc.sessions.GetSession(ctx, f.SessionID)
	if err != nil {
		return "", err
	}
	if session != nil && session.IsPlaylist() {
		compensated, err := uc.favUC.CheckAndCompensateSLA(ctx, f.ID)
		if err != nil {
			return "", err
		}
		if compensated {
			return "compensated", nil
		}
	}
	if err := uc.favUC.ResetOnFailure(ctx, f.ID); err != nil {
		return "", err
	}
	uc.log.Infow(
		"event", "stuck_rendering_reset",
		"favorite_id", f.ID,
		"session_id", f.SessionID,
		"user_id", f.UID,
		"stale_since", f.UpdatedAt,
	)
	return "reset", nil
}

// SweepAbandoned 长时间无活动的未完成合集标记为 abandoned，并记录流失的步骤
func (uc *ReconcilerUseCase) SweepAbandoned(ctx context.Context) (*SweepResult, error) {
	result := &SweepResult{Sweep: constants.SweepAbandoned}
	cutoff := uc.now().Add(-uc.conf.Watchdog.AbandonedAfter)
	sessions, err := uc.sessions.ListAbandonedCandidates(ctx, cutoff, uc.conf.Watchdog.BatchSize)
	if err != nil {
		return nil, err
	}
	result.Scanned = len(sessions)

	for _, s := range sessions {
		ok, err := uc.sessions.MarkAbandoned(ctx, s.ID, cutoff)
		if err != nil {
			result.Failed++
			uc.rows(result.Sweep, "failed")
			uc.log.Errorf("Mark session abandoned failed: session_id=%s, error=%v", s.ID, err)
			continue
		}
		if !ok {
			// 扫描之后有新活动或已结束
			uc.rows(result.Sweep, "skipped")
			continue
		}
		result.Processed++
		uc.rows(result.Sweep, "abandoned")
		uc.log.Infow(
			"event", "collection_abandoned",
			"session_id", s.ID,
			"user_id", s.UID,
			"pack_id", s.PackID,
			"drop_off_step", s.CurrentStep,
			"total_steps", s.TotalSteps,
			"last_activity_at", s.LastActivityAt,
		)
	}
	return result, nil
}

// PromotePendingBonuses 到期奖励转为 available
func (uc *ReconcilerUseCase) PromotePendingBonuses(ctx context.Context) (*SweepResult, error) {
	promoted, err := uc.referral.ProcessPending(ctx)
	if err != nil {
		return nil, err
	}
	if uc.metrics != nil && promoted > 0 {
		uc.metrics.SweepRowsTotal.WithLabelValues(constants.SweepBonusPromotion, "promoted").Add(float64(promoted))
	}
	return &SweepResult{Sweep: constants.SweepBonusPromotion, Scanned: promoted, Processed: promoted}, nil
}

func (uc *ReconcilerUseCase) recordRun(sweep, result string) {
	if uc.metrics != nil {
		uc.metrics.SweepRunTotal.WithLabelValues(sweep, result).Inc()
	}
}

func (uc *ReconcilerUseCase) rows(sweep, action string) {
	if uc.metrics != nil {
		uc.metrics.SweepRowsTotal.WithLabelValues(sweep, action).Inc()
	}
}
