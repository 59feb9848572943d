package constants

import "time"

// Redis Key 前缀常量
const (
	// RedisKeyBalance 余额缓存 key 前缀
	RedisKeyBalance = "credit:balance:"
	// RedisKeyBalanceVersion 余额缓存版本号，每次失效递增
	RedisKeyBalanceVersion = "credit:balance:ver:"
	// RedisKeySweepLock 巡检任务锁 key 前缀
	RedisKeySweepLock = "credit:sweep:lock:"
)

// 缓存过期时间
const (
	// BalanceCacheTTL 余额缓存有效期
	BalanceCacheTTL = 5 * time.Minute
	// CacheOpTimeout 缓存读写超时
	CacheOpTimeout = 1 * time.Second
)

// 账本操作类型
const (
	LedgerOpHold    = "HOLD"
	LedgerOpCapture = "CAPTURE"
	LedgerOpRelease = "RELEASE"
)

// 账本操作结果（用于指标）
const (
	LedgerResultApplied      = "applied"
	LedgerResultNoop         = "noop"
	LedgerResultBypassed     = "bypassed"
	LedgerResultInsufficient = "insufficient"
	LedgerResultError        = "error"
)

// 用户角色
const (
	RoleUser      = "user"
	RoleModerator = "moderator"
)

// 补偿原因
const (
	CompReasonSLABreach        = "sla_breach"
	CompReasonPermanentFailure = "permanent_failure"
	CompReasonUserReport       = "user_report"
)

// 补偿类型
const (
	CompTypeHDReturn     = "hd_return"
	CompTypeManualReview = "manual_review"
)

// 推荐奖励相关
const (
	// ProductIDUnlock 单张解锁商品，不参与推荐奖励
	ProductIDUnlock = "unlock"
	// FrozenHoldDuration 人工冻结时 available_at 推迟的时长
	FrozenHoldDuration = 100 * 365 * 24 * time.Hour
	// RevokeReasonRefund 退款撤销
	RevokeReasonRefund = "refund"
)

// 巡检任务名称
const (
	SweepStuckRendering = "stuck_rendering"
	SweepAbandoned      = "abandoned_collection"
	SweepBonusPromotion = "bonus_promotion"
)

// HD 扣减来源
const (
	HDBucketPromo = "promo"
	HDBucketPaid  = "paid"
)

// 默认策略值
const (
	DefaultSLAMinutes      = 10
	DefaultStaleAfter      = 10 * time.Minute
	DefaultAbandonedAfter  = 24 * time.Hour
	DefaultSweepBatchSize  = 500
	DefaultBonusBatchSize  = 200
	DefaultBonusHoldHours  = 72
	DefaultReferralDaily   = 5
	DefaultReferralMonthly = 30
)

// MQ 事件类型
const (
	EventJobSucceeded     = "job.succeeded"
	EventJobFailed        = "job.failed"
	EventHDFailed         = "hd.failed"
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentRefunded  = "payment.refunded"
)
