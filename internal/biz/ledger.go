package biz

import (
	"context"
	"errors"
	"time"

	"credit-service/internal/constants"
	"credit-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// UserBalance 用户余额聚合（唯一的热点共享资源）
type UserBalance struct {
	UID               string
	Role              string
	CreditBalance     int64
	HDPaidBalance     int64
	HDPromoBalance    int64
	ReferralPending   int64
	ReferralAvailable int64
	ReferralDebt      int64
	UpdatedAt         time.Time
}

// LedgerEntry 账本流水，(uid, job_id, operation) 唯一
type LedgerEntry struct {
	ID        int64
	UID       string
	JobID     string
	Operation string
	Amount    int64
	CreatedAt time.Time
}

// HoldOutcome Hold 的结果
type HoldOutcome int

const (
	HoldApplied        HoldOutcome = iota // 首次扣减
	HoldAlreadyApplied                    // 重放，未重复扣减
	HoldBypassed                          // 版主豁免，未写流水
)

func (o HoldOutcome) String() string {
	switch o {
	case HoldApplied:
		return constants.LedgerResultApplied
	case HoldAlreadyApplied:
		return constants.LedgerResultNoop
	case HoldBypassed:
		return constants.LedgerResultBypassed
	default:
		return "unknown"
	}
}

// LedgerRepo 账本/余额数据层接口（定义在 biz 层）
// 每个方法对应一个事务：锁行、读取、修改、写入、提交
type LedgerRepo interface {
	Hold(ctx context.Context, userID, jobID string, amount int64, moderatorBypass bool) (HoldOutcome, error)
	Capture(ctx context.Context, userID, jobID string, amount int64) (bool, error)
	// Release 返回实际退回的额度，空操作为 0
	Release(ctx context.Context, userID, jobID string, amount int64) (int64, error)
	ListEntries(ctx context.Context, userID, jobID string) ([]*LedgerEntry, error)

	GetUserBalance(ctx context.Context, userID string) (*UserBalance, error)
	CreditTokens(ctx context.Context, userID string, amount int64) error
	GrantHD(ctx context.Context, userID string, amount int64, promo bool) error
	SpendHD(ctx context.Context, userID string) (string, error)
	SetRole(ctx context.Context, userID, role string) error
}

// LedgerUseCase 额度账本业务逻辑（Hold/Capture/Release 三段式）
type LedgerUseCase struct {
	repo    LedgerRepo
	conf    *LedgerConfig
	log     *log.Helper
	metrics *metrics.LedgerMetrics
}

// NewLedgerUseCase 创建账本 UseCase
func NewLedgerUseCase(repo LedgerRepo, conf *LedgerConfig, logger log.Logger) *LedgerUseCase {
	return &LedgerUseCase{
		repo:    repo,
		conf:    conf,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}
}

// Hold 任务准入时预扣额度，同一 (user, job) 重复调用只扣一次
func (uc *LedgerUseCase) Hold(ctx context.Context, userID, jobID string, amount int64) (HoldOutcome, error) {
	if userID == "" || jobID == "" || amount <= 0 {
		return 0, ErrInvalidArgument
	}
	startTime := time.Now()
	outcome, err := uc.repo.Hold(ctx, userID, jobID, amount, uc.conf.ModeratorBypass)
	uc.observe(constants.LedgerOpHold, startTime, amount, outcome.String(), err)
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			uc.log.Infof("Hold rejected: user_id=%s, job_id=%s, amount=%d, reason=insufficient_balance", userID, jobID, amount)
		} else {
			uc.log.Errorf("Hold failed: user_id=%s, job_id=%s, amount=%d, error=%v", userID, jobID, amount, err)
		}
		return 0, err
	}
	uc.log.Infof("Hold %s: user_id=%s, job_id=%s, amount=%d", outcome, userID, jobID, amount)
	return outcome, nil
}

// Capture 任务成功后确认扣减，不改变余额
func (uc *LedgerUseCase) Capture(ctx context.Context, userID, jobID string, amount int64) error {
	if userID == "" || jobID == "" {
		return ErrInvalidArgument
	}
	startTime := time.Now()
	applied, err := uc.repo.Capture(ctx, userID, jobID, amount)
	uc.observe(constants.LedgerOpCapture, startTime, 0, resultOf(applied), err)
	if err != nil {
		uc.log.Errorf("Capture failed: user_id=%s, job_id=%s, error=%v", userID, jobID, err)
		return err
	}
	uc.log.Infof("Capture %s: user_id=%s, job_id=%s, amount=%d", resultOf(applied), userID, jobID, amount)
	return nil
}

// Release 任务失败后退回预扣额度
func (uc *LedgerUseCase) Release(ctx context.Context, userID, jobID string, amount int64) error {
	if userID == "" || jobID == "" || amount < 0 {
		return ErrInvalidArgument
	}
	startTime := time.Now()
	refunded, err := uc.repo.Release(ctx, userID, jobID, amount)
	applied := refunded > 0
	uc.observe(constants.LedgerOpRelease, startTime, refunded, resultOf(applied), err)
	if err != nil {
		uc.log.Errorf("Release failed: user_id=%s, job_id=%s, error=%v", userID, jobID, err)
		return err
	}
	uc.log.Infof("Release %s: user_id=%s, job_id=%s, requested=%d, refunded=%d", resultOf(applied), userID, jobID, amount, refunded)
	return nil
}

// ListEntries 查询某个任务的流水
func (uc *LedgerUseCase) ListEntries(ctx context.Context, userID, jobID string) ([]*LedgerEntry, error) {
	return uc.repo.ListEntries(ctx, userID, jobID)
}

// GetBalance 获取余额（不存在时返回全 0）
func (uc *LedgerUseCase) GetBalance(ctx context.Context, userID string) (*UserBalance, error) {
	balance, err := uc.repo.GetUserBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		balance = &UserBalance{UID: userID, Role: constants.RoleUser}
	}
	return balance, nil
}

// CreditTokens 支付成功后充值生成额度（支付方共享同一余额行）
func (uc *LedgerUseCase) CreditTokens(ctx context.Context, userID string, amount int64) error {
	if userID == "" || amount <= 0 {
		return ErrInvalidArgument
	}
	if err := uc.repo.CreditTokens(ctx, userID, amount); err != nil {
		uc.log.Errorf("CreditTokens failed: user_id=%s, amount=%d, error=%v", userID, amount, err)
		return err
	}
	uc.log.Infof("CreditTokens: user_id=%s, amount=%d", userID, amount)
	return nil
}

// GrantHD 发放 HD 额度（promo=true 为赠送桶）
func (uc *LedgerUseCase) GrantHD(ctx context.Context, userID string, amount int64, promo bool) error {
	if userID == "" || amount <= 0 {
		return ErrInvalidArgument
	}
	if err := uc.repo.GrantHD(ctx, userID, amount, promo); err != nil {
		uc.log.Errorf("GrantHD failed: user_id=%s, amount=%d, promo=%v, error=%v", userID, amount, promo, err)
		return err
	}
	uc.log.Infof("GrantHD: user_id=%s, amount=%d, promo=%v", userID, amount, promo)
	return nil
}

// SpendHD 消费一个 HD 额度，优先使用赠送桶，返回扣减的桶
func (uc *LedgerUseCase) SpendHD(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", ErrInvalidArgument
	}
	bucket, err := uc.repo.SpendHD(ctx, userID)
	if err != nil {
		return "", err
	}
	uc.log.Infof("SpendHD: user_id=%s, bucket=%s", userID, bucket)
	return bucket, nil
}

// SetRole 设置用户角色（运维入口）
func (uc *LedgerUseCase) SetRole(ctx context.Context, userID, role string) error {
	if userID == "" || (role != constants.RoleUser && role != constants.RoleModerator) {
		return ErrInvalidArgument
	}
	return uc.repo.SetRole(ctx, userID, role)
}

func (uc *LedgerUseCase) observe(operation string, startTime time.Time, amount int64, result string, err error) {
	if uc.metrics == nil {
		return
	}
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		result = constants.LedgerResultInsufficient
	case err != nil:
		result = constants.LedgerResultError
	}
	uc.metrics.LedgerOpTotal.WithLabelValues(operation, result).Inc()
	uc.metrics.LedgerOpDuration.WithLabelValues(operation).Observe(time.Since(startTime).Seconds())
	if err == nil && amount > 0 && result == constants.LedgerResultApplied {
		uc.metrics.LedgerOpAmount.WithLabelValues(operation).Add(float64(amount))
	}
}

func resultOf(applied bool) string {
	if applied {
		return constants.LedgerResultApplied
	}
	return constants.LedgerResultNoop
}
