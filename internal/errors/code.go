package errors

import (
	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	i18nPkg "github.com/gaoyong06/go-pkg/middleware/i18n"
)

func init() {
	// 初始化全局错误管理器（使用项目特定的配置）
	pkgErrors.InitGlobalErrorManager("i18n", i18nPkg.Language)
}

// Credit Service 错误码定义
// 错误码格式：SSMMEE (6位数字)
//   SS: 服务标识，Credit 固定为 19
//   MM: 模块标识，按业务划分
//   EE: 模块内错误序号
//
// 模块划分：
//   00: 通用模块（复用 go-pkg 通用错误码）
//   01: 账本/余额模块
//   02: 会话额度模块
//   03: 收藏/补偿模块
//   04: 推荐奖励模块
//   05: 巡检模块
//   06-99: 预留扩展

// 账本/余额模块错误码 (190100-190199)
const (
	// ErrCodeBalanceGetFailed 获取余额失败
	ErrCodeBalanceGetFailed = 190101
	// ErrCodeBalanceUpdateFailed 余额更新失败
	ErrCodeBalanceUpdateFailed = 190102
	// ErrCodeLedgerHoldFailed 预扣失败
	ErrCodeLedgerHoldFailed = 190103
	// ErrCodeLedgerSettleFailed 确认/退回失败
	ErrCodeLedgerSettleFailed = 190104
	// ErrCodeLedgerListFailed 查询流水失败
	ErrCodeLedgerListFailed = 190105
)

// 会话额度模块错误码 (190200-190299)
const (
	// ErrCodeSessionCreateFailed 创建会话失败
	ErrCodeSessionCreateFailed = 190201
	// ErrCodeSessionGetFailed 获取会话失败
	ErrCodeSessionGetFailed = 190202
	// ErrCodeQuotaUpdateFailed 额度更新失败
	ErrCodeQuotaUpdateFailed = 190203
	// ErrCodeSessionUpgradeFailed 升级会话失败
	ErrCodeSessionUpgradeFailed = 190204
)

// 收藏/补偿模块错误码 (190300-190399)
const (
	// ErrCodeFavoriteCreateFailed 创建收藏失败
	ErrCodeFavoriteCreateFailed = 190301
	// ErrCodeFavoriteUpdateFailed 更新收藏状态失败
	ErrCodeFavoriteUpdateFailed = 190302
	// ErrCodeCompensateFailed 补偿失败
	ErrCodeCompensateFailed = 190303
)

// 推荐奖励模块错误码 (190400-190499)
const (
	// ErrCodeBonusCreateFailed 创建奖励失败
	ErrCodeBonusCreateFailed = 190401
	// ErrCodeBonusUpdateFailed 更新奖励失败
	ErrCodeBonusUpdateFailed = 190402
	// ErrCodeReferralSpendFailed 花费推荐额度失败
	ErrCodeReferralSpendFailed = 190403
)

// 巡检模块错误码 (190500-190599)
const (
	// ErrCodeSweepFailed 巡检执行失败
	ErrCodeSweepFailed = 190501
)
