package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LedgerMetrics 账本服务指标
type LedgerMetrics struct {
	// 账本相关指标
	LedgerOpTotal    *prometheus.CounterVec   // Hold/Capture/Release 次数（按操作、结果）
	LedgerOpDuration *prometheus.HistogramVec // 账本操作耗时
	LedgerOpAmount   *prometheus.CounterVec   // 实际变动的额度（按操作）

	// 配额相关指标
	QuotaOpTotal *prometheus.CounterVec // Consume/Return 次数（按类型、操作、结果）

	// 补偿相关指标
	CompensationTotal *prometheus.CounterVec // 补偿次数（按原因、类型）

	// 推荐奖励相关指标
	BonusTransitionTotal *prometheus.CounterVec // 状态迁移（from, to）
	BonusRejectedTotal   *prometheus.CounterVec // 拒绝创建（按原因）
	ReferralDebtTotal    prometheus.Counter     // 撤销已花费奖励产生的欠款

	// 巡检相关指标
	SweepRunTotal     *prometheus.CounterVec   // 巡检执行次数（按任务、结果）
	SweepRowsTotal    *prometheus.CounterVec   // 巡检处理行数（按任务、动作）
	SweepDuration     *prometheus.HistogramVec // 巡检耗时
	NotifyFailedTotal prometheus.Counter       // 通知失败次数

	// 分布式锁相关指标
	LockAcquireTotal *prometheus.CounterVec // 锁获取总数（按结果）

	// 缓存相关指标
	BalanceCacheTotal *prometheus.CounterVec // 余额缓存命中（hit/miss）
}

// NewLedgerMetrics 创建账本服务指标
func NewLedgerMetrics() *LedgerMetrics {
	return &LedgerMetrics{
		LedgerOpTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_ledger_operation_total",
				Help: "Total number of ledger operations",
			},
			[]string{"operation", "result"}, // result: applied/noop/bypassed/insufficient/error
		),
		LedgerOpDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "credit_ledger_operation_duration_seconds",
				Help:    "Duration of ledger operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		LedgerOpAmount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_ledger_operation_amount_total",
				Help: "Total credits moved by applied ledger operations",
			},
			[]string{"operation"},
		),

		QuotaOpTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_quota_operation_total",
				Help: "Total number of session quota operations",
			},
			[]string{"unit", "operation", "result"}, // unit: take/hd
		),

		CompensationTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_compensation_total",
				Help: "Total number of issued compensations",
			},
			[]string{"reason", "type"},
		),

		BonusTransitionTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_referral_bonus_transition_total",
				Help: "Total number of referral bonus status transitions",
			},
			[]string{"from", "to"},
		),
		BonusRejectedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_referral_bonus_rejected_total",
				Help: "Total number of rejected referral bonuses",
			},
			[]string{"reason"}, // reason: limit/flagged/not_qualified
		),
		ReferralDebtTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "credit_referral_debt_total",
				Help: "Total referral debt recorded by revoking spent bonuses",
			},
		),

		SweepRunTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_sweep_run_total",
				Help: "Total number of reconciliation sweeps",
			},
			[]string{"sweep", "result"}, // result: success/failed/skipped
		),
		SweepRowsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_sweep_rows_total",
				Help: "Total number of rows handled by reconciliation sweeps",
			},
			[]string{"sweep", "action"},
		),
		SweepDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "credit_sweep_duration_seconds",
				Help:    "Duration of reconciliation sweeps",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"sweep"},
		),
		NotifyFailedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "credit_notify_failed_total",
				Help: "Total number of failed user notifications",
			},
		),

		LockAcquireTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_lock_acquire_total",
				Help: "Total number of lock acquisition attempts",
			},
			[]string{"result"}, // result: success/busy/failed
		),

		BalanceCacheTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_balance_cache_total",
				Help: "Balance cache lookups",
			},
			[]string{"result"}, // result: hit/miss
		),
	}
}

// 全局指标实例（promauto 注册到默认 registry，只能创建一次）
var (
	defaultMetrics *LedgerMetrics
	initOnce       sync.Once
)

// InitMetrics 初始化全局指标
func InitMetrics() {
	initOnce.Do(func() {
		defaultMetrics = NewLedgerMetrics()
	})
}

// GetMetrics 获取全局指标实例
func GetMetrics() *LedgerMetrics {
	InitMetrics()
	return defaultMetrics
}
