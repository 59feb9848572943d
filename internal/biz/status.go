package biz

// SessionStatus 会话状态
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionUpgraded  SessionStatus = "upgraded"
	SessionAbandoned SessionStatus = "abandoned"
)

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionActive: {SessionCompleted, SessionUpgraded, SessionAbandoned},
}

// CanTransition 终态不可再迁移
func (s SessionStatus) CanTransition(to SessionStatus) bool {
	return allowed(sessionTransitions[s], to)
}

// HDStatus 收藏的高清交付状态
type HDStatus string

const (
	HDNone      HDStatus = "none"
	HDRendering HDStatus = "rendering"
	HDDelivered HDStatus = "delivered"
)

// delivered 是粘性状态，只能从 rendering 进入
var hdTransitions = map[HDStatus][]HDStatus{
	HDNone:      {HDRendering},
	HDRendering: {HDDelivered, HDNone},
}

func (s HDStatus) CanTransition(to HDStatus) bool {
	return allowed(hdTransitions[s], to)
}

// BonusStatus 推荐奖励状态
type BonusStatus string

const (
	BonusPending   BonusStatus = "pending"
	BonusAvailable BonusStatus = "available"
	BonusSpent     BonusStatus = "spent"
	BonusRevoked   BonusStatus = "revoked"
)

// available -> pending 仅用于人工冻结；spent 不能回到 available
var bonusTransitions = map[BonusStatus][]BonusStatus{
	BonusPending:   {BonusAvailable, BonusRevoked},
	BonusAvailable: {BonusSpent, BonusRevoked, BonusPending},
	BonusSpent:     {BonusRevoked},
}

func (s BonusStatus) CanTransition(to BonusStatus) bool {
	return allowed(bonusTransitions[s], to)
}

func allowed[T ~string](targets []T, to T) bool {
	for _, t := range targets {
		if t == to {
			return true
		}
	}
	return false
}
