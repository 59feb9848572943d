package biz

import (
	"github.com/go-kratos/kratos/v2/errors"
)

// 领域错误（调用方通过 errors.Is 判断）
// 幂等重放不属于错误：重复的 Hold/Capture/Release/补偿 直接返回成功语义
var (
	// ErrInsufficientBalance 余额不足，未产生任何副作用
	ErrInsufficientBalance = errors.BadRequest("INSUFFICIENT_BALANCE", "insufficient balance")
	// ErrNotFound 引用的实体不存在
	ErrNotFound = errors.NotFound("NOT_FOUND", "entity not found")
	// ErrLimitExceeded 推荐奖励日/月上限
	ErrLimitExceeded = errors.New(429, "LIMIT_EXCEEDED", "referral bonus limit exceeded")
	// ErrFlaggedForReview 反作弊命中，等待人工审核
	ErrFlaggedForReview = errors.Forbidden("FLAGGED_FOR_REVIEW", "referrer flagged for manual review")
	// ErrInvalidTransition 非法状态迁移
	ErrInvalidTransition = errors.Conflict("INVALID_TRANSITION", "invalid state transition")
	// ErrInvalidArgument 参数不合法
	ErrInvalidArgument = errors.BadRequest("INVALID_ARGUMENT", "invalid argument")
)
