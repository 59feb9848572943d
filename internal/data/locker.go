package data

import (
	"context"
	"errors"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/constants"
	"credit-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redsync/redsync/v4"
)

// sweepLocker 基于 redsync 的巡检互斥锁
type sweepLocker struct {
	sync    *redsync.Redsync
	log     *log.Helper
	metrics *metrics.LedgerMetrics
}

// NewSweepLocker 创建巡检锁；没有 Redis 时不加锁（单实例部署）
func NewSweepLocker(sync *redsync.Redsync, logger log.Logger) biz.SweepLocker {
	return &sweepLocker{
		sync:    sync,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}
}

// TryLock 只尝试一次，锁被占用时返回 ok=false
func (l *sweepLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	if l.sync == nil {
		return func() {}, true, nil
	}
	mutex := l.sync.NewMutex(constants.RedisKeySweepLock+name,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
	)
	if err := mutex.TryLockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			l.record("busy")
			return nil, false, nil
		}
		l.record("failed")
		l.log.Errorf("Failed to acquire sweep lock: name=%s, error=%v", name, err)
		return nil, false, err
	}
	l.record("success")
	unlock := func() {
		if ok, err := mutex.Unlock(); !ok || err != nil {
			l.log.Warnf("Failed to unlock sweep lock: name=%s, error=%v", name, err)
		}
	}
	return unlock, true, nil
}

func (l *sweepLocker) record(result string) {
	if l.metrics != nil {
		l.metrics.LockAcquireTotal.WithLabelValues(result).Inc()
	}
}
